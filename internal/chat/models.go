package chat

import (
	"strconv"
	"time"
)

type Room struct {
	ID           string     `gorm:"primaryKey;size:26" json:"id"`
	Slug         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"slug"`
	Name         string     `gorm:"type:varchar(100);not null" json:"name"`
	Description  string     `gorm:"type:varchar(255)" json:"description,omitempty"`
	CreatedBy    uint64     `gorm:"index" json:"created_by"`
	MessageCount int64      `gorm:"not null;default:0" json:"message_count"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Room) TableName() string { return "rooms" }

type RoomMember struct {
	RoomID    string `gorm:"primaryKey;size:26"`
	UserID    uint64 `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (RoomMember) TableName() string { return "room_members" }

// Message is immutable once written except for ReplyCount, which grows by
// one for every accepted reply.
type Message struct {
	ID     string `gorm:"primaryKey;size:26" json:"id"`
	RoomID string `gorm:"size:26;not null;uniqueIndex:uniq_room_seq,priority:1;index:uniq_msg_correlation,unique,priority:1" json:"room_id"`
	Seq    int64  `gorm:"not null;uniqueIndex:uniq_room_seq,priority:2" json:"seq"`

	SenderID    uint64 `gorm:"not null;index:uniq_msg_correlation,unique,priority:2" json:"sender_id"`
	SenderLabel string `gorm:"type:varchar(64);not null" json:"sender_label"`
	Text        string `gorm:"type:text;not null" json:"text"`

	ParentID   *string `gorm:"size:26;index" json:"parent_id,omitempty"`
	ReplyCount int     `gorm:"not null;default:0" json:"reply_count"`
	IsSystem   bool    `gorm:"not null;default:false" json:"is_system"`

	// client-generated, lets a resend be acknowledged without a new write
	CorrelationID *string `gorm:"type:varchar(128);index:uniq_msg_correlation,unique,priority:3" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Payload converts m to its wire shape.
func (m Message) Payload() MessagePayload {
	p := MessagePayload{
		ID:              m.ID,
		RoomID:          m.RoomID,
		SenderID:        strconv.FormatUint(m.SenderID, 10),
		SenderLabel:     m.SenderLabel,
		Text:            m.Text,
		Seq:             m.Seq,
		CreatedAt:       m.CreatedAt.UTC(),
		ReplyCount:      m.ReplyCount,
		IsSystemMessage: m.IsSystem,
	}
	if m.ParentID != nil {
		p.ParentID = *m.ParentID
	}
	return p
}

func payloads(msgs []Message) []MessagePayload {
	out := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Payload())
	}
	return out
}
