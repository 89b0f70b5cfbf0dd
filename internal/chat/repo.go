package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Rooms

func (r *Repo) CreateRoom(ctx context.Context, room *Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

// EnsureRoom inserts room unless a room with the same slug exists.
func (r *Repo) EnsureRoom(ctx context.Context, room *Room) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "slug"}}, DoNothing: true}).
		Create(room).Error
}

func (r *Repo) GetRoomByID(ctx context.Context, id string) (*Room, error) {
	var room Room
	if err := r.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *Repo) GetRoomBySlug(ctx context.Context, slug string) (*Room, error) {
	var room Room
	if err := r.db.WithContext(ctx).First(&room, "slug = ?", slug).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *Repo) ListRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *Repo) AddMember(ctx context.Context, roomID string, userID uint64) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&RoomMember{RoomID: roomID, UserID: userID}).Error
}

func (r *Repo) IsMember(ctx context.Context, roomID string, userID uint64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).Model(&RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *Repo) CountMembers(ctx context.Context, roomID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&RoomMember{}).Where("room_id = ?", roomID).Count(&cnt).Error
	return cnt, err
}

// RecordRoomActivity bumps the message counter and the last activity time.
func (r *Repo) RecordRoomActivity(ctx context.Context, roomID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Room{}).
		Where("id = ?", roomID).
		Updates(map[string]any{
			"message_count":  gorm.Expr("message_count + ?", 1),
			"last_active_at": at,
		}).Error
}

// Messages

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// InsertReply bumps the parent's reply count and inserts m in one
// transaction. The parent must live in the same room.
func (r *Repo) InsertReply(ctx context.Context, m *Message) error {
	if m.ParentID == nil {
		return r.InsertMessage(ctx, m)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Message{}).
			Where("id = ? AND room_id = ?", *m.ParentID, m.RoomID).
			Update("reply_count", gorm.Expr("reply_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrParentNotFound
		}
		return tx.Create(m).Error
	})
}

func (r *Repo) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) GetMessageInRoom(ctx context.Context, roomID, id string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("id = ? AND room_id = ?", id, roomID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// FindByCorrelation returns the message a sender already stored under
// correlationID, or gorm.ErrRecordNotFound.
func (r *Repo) FindByCorrelation(ctx context.Context, roomID string, senderID uint64, correlationID string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("room_id = ? AND sender_id = ? AND correlation_id = ?", roomID, senderID, correlationID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListRecentMessagesDesc returns the newest messages of a room in DESC seq order.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListMessagesBeforeSeq returns up to limit messages with seq < beforeSeq,
// newest first.
func (r *Repo) ListMessagesBeforeSeq(ctx context.Context, roomID string, beforeSeq int64, limit int) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("room_id = ? AND seq < ?", roomID, beforeSeq).
		Order("seq DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListMessagesAfterSeq returns every message with seq > afterSeq in ASC seq order.
func (r *Repo) ListMessagesAfterSeq(ctx context.Context, roomID string, afterSeq int64) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("room_id = ? AND seq > ?", roomID, afterSeq).
		Order("seq ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) CountMessages(ctx context.Context, roomID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&Message{}).Where("room_id = ?", roomID).Count(&cnt).Error
	return cnt, err
}

type roomMaxSeq struct {
	RoomID string
	MaxSeq int64
}

// MaxSeqByRoom returns the highest persisted seq of every room that has
// at least one message.
func (r *Repo) MaxSeqByRoom(ctx context.Context) (map[string]int64, error) {
	var rows []roomMaxSeq
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Select("room_id, MAX(seq) AS max_seq").
		Group("room_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.RoomID] = row.MaxSeq
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
