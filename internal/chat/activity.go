package chat

import (
	"context"
	"time"
)

// MessageCreated is emitted after a message has been committed.
type MessageCreated struct {
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	Seq       int64     `json:"seq"`
	SenderID  uint64    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivitySink receives MessageCreated events outside the room lock.
type ActivitySink interface {
	MessageCreated(ctx context.Context, ev MessageCreated) error
}

// ActivityRecorder keeps the room counters in the database up to date.
type ActivityRecorder struct {
	repo *Repo
}

func NewActivityRecorder(repo *Repo) *ActivityRecorder {
	return &ActivityRecorder{repo: repo}
}

func (a *ActivityRecorder) MessageCreated(ctx context.Context, ev MessageCreated) error {
	return a.repo.RecordRoomActivity(ctx, ev.RoomID, ev.CreatedAt)
}
