package chat

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/echoroom/internal/identity"
	"github.com/suPer8Hu/echoroom/internal/metrics"
	"github.com/suPer8Hu/echoroom/internal/tracing"
)

// RecoveryBatch holds the messages a client missed, ascending by seq.
type RecoveryBatch struct {
	RoomID   string
	Messages []Message
	FromSeq  int64
	ToSeq    int64
}

func (b *RecoveryBatch) Event() Event {
	return Event{
		Type: EventRecoveryBatch,
		Data: RecoveryBatchPayload{
			RoomID:   b.RoomID,
			Messages: payloads(b.Messages),
			FromSeq:  b.FromSeq,
			ToSeq:    b.ToSeq,
		},
	}
}

// Recover returns every message of the room with seq > lastSeen, or nil
// when there is nothing newer. It reads from the store only, so repeating
// the same request yields the same batch until new messages arrive.
func (s *Service) Recover(ctx context.Context, sender *identity.Identity, roomRef string, lastSeen int64) (*RecoveryBatch, error) {
	ctx, span := tracing.StartSpan(ctx, "chat.Recover")
	defer span.End()

	if sender == nil {
		metrics.RecoveryRequests.WithLabelValues("rejected").Inc()
		return nil, ErrNotAuthenticated
	}
	if lastSeen < 0 {
		lastSeen = 0
	}
	roomID, err := s.resolve(ctx, roomRef)
	if err != nil {
		metrics.RecoveryRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	msgs, err := s.repo.ListMessagesAfterSeq(ctx, roomID, lastSeen)
	if err != nil {
		metrics.RecoveryRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if len(msgs) == 0 {
		metrics.RecoveryRequests.WithLabelValues("empty").Inc()
		return nil, nil
	}

	metrics.RecoveryRequests.WithLabelValues("ok").Inc()
	metrics.RecoveredMessages.Add(float64(len(msgs)))
	s.logger.Debug().
		Str("room_id", roomID).
		Int64("from_seq", lastSeen).
		Int("count", len(msgs)).
		Msg("recovery batch")

	return &RecoveryBatch{
		RoomID:   roomID,
		Messages: msgs,
		FromSeq:  lastSeen,
		ToSeq:    msgs[len(msgs)-1].Seq,
	}, nil
}
