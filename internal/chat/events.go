package chat

import "time"

// Wire event names.
const (
	EventIdentify      = "identify"
	EventIdentified    = "identified"
	EventIdentifyError = "identify_error"

	EventRoomJoin     = "room.join"
	EventRoomJoined   = "room.joined"
	EventRoomLeave    = "room.leave"
	EventRoomLeft     = "room.left"
	EventRoomPresence = "room.presence"

	EventMessageSend = "message.send"
	EventMessageNew  = "message.new"
	EventMessageAck  = "message.ack"

	EventTypingStart  = "typing.start"
	EventTypingStop   = "typing.stop"
	EventTypingUpdate = "typing.update"

	EventRecoveryRequest = "recovery.request"
	EventRecoveryBatch   = "recovery.batch"

	EventError = "error"
)

// Event is one outbound frame on a connection.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type MessagePayload struct {
	ID              string    `json:"id"`
	RoomID          string    `json:"roomId"`
	SenderID        string    `json:"senderId"`
	SenderLabel     string    `json:"senderLabel"`
	Text            string    `json:"text"`
	Seq             int64     `json:"seq"`
	CreatedAt       time.Time `json:"createdAt"`
	ParentID        string    `json:"parentId,omitempty"`
	ReplyCount      int       `json:"replyCount,omitempty"`
	IsSystemMessage bool      `json:"isSystemMessage,omitempty"`
}

type IdentifiedPayload struct {
	UserID string `json:"userId"`
	Label  string `json:"label,omitempty"`
}

type IdentifyErrorPayload struct {
	Reason string `json:"reason"`
}

type JoinedPayload struct {
	RoomID  string           `json:"roomId"`
	Backlog []MessagePayload `json:"backlog"`
}

type LeftPayload struct {
	RoomID string `json:"roomId"`
}

type PresencePayload struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

type NewMessagePayload struct {
	Message MessagePayload `json:"message"`
	Seq     int64          `json:"seq"`
}

type AckPayload struct {
	CorrelationID string `json:"correlationId"`
	RealID        string `json:"realId"`
	Seq           int64  `json:"seq"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type RecoveryBatchPayload struct {
	RoomID   string           `json:"roomId"`
	Messages []MessagePayload `json:"messages"`
	FromSeq  int64            `json:"fromSeq"`
	ToSeq    int64            `json:"toSeq"`
}

type ErrorPayload struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
}
