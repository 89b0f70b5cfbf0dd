package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/suPer8Hu/echoroom/internal/common"
	"github.com/suPer8Hu/echoroom/internal/identity"
	"github.com/suPer8Hu/echoroom/internal/metrics"
	"github.com/suPer8Hu/echoroom/internal/tracing"
)

const maxCorrelationIDLen = 128

// BacklogCache keeps the most recent messages of warm rooms. All writes
// happen while the room is held by the Allocator; Append and Replace are
// no-ops for rooms that were never filled.
type BacklogCache interface {
	// Recent returns up to limit newest messages in ascending seq order;
	// ok is false on a cold room.
	Recent(ctx context.Context, roomID string, limit int) (msgs []Message, ok bool, err error)
	Fill(ctx context.Context, roomID string, msgs []Message) error
	Append(ctx context.Context, m Message) error
	Replace(ctx context.Context, m Message) error
	Invalidate(ctx context.Context, roomID string) error
}

// Poster appends messages through the ordered write path.
type Poster interface {
	Append(ctx context.Context, req AppendRequest) (*Message, error)
}

// Seeder populates a room that has no messages yet.
type Seeder interface {
	Seed(ctx context.Context, roomID string, poster Poster) error
}

type Options struct {
	BacklogSize   int
	MaxTextLength int

	Cache    BacklogCache
	Activity ActivitySink
	Seeder   Seeder
	Logger   zerolog.Logger
}

type Service struct {
	repo     *Repo
	rooms    *Resolver
	seq      *Allocator
	hub      *Hub
	cache    BacklogCache
	activity ActivitySink
	seeder   Seeder
	logger   zerolog.Logger

	backlogSize   int
	maxTextLength int

	seeding singleflight.Group
	// rooms whose cached backlog may be missing messages
	stale sync.Map
}

func NewService(repo *Repo, rooms *Resolver, seq *Allocator, hub *Hub, opts Options) *Service {
	if opts.BacklogSize <= 0 || opts.BacklogSize > 500 {
		opts.BacklogSize = 50
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = 4096
	}
	return &Service{
		repo:          repo,
		rooms:         rooms,
		seq:           seq,
		hub:           hub,
		cache:         opts.Cache,
		activity:      opts.Activity,
		seeder:        opts.Seeder,
		logger:        opts.Logger,
		backlogSize:   opts.BacklogSize,
		maxTextLength: opts.MaxTextLength,
	}
}

func (s *Service) Hub() *Hub { return s.hub }

func (s *Service) Resolver() *Resolver { return s.rooms }

type SendRequest struct {
	RoomRef       string
	Text          string
	CorrelationID string
	ParentID      string
}

type SendResult struct {
	Message *Message
	// Duplicate is set when CorrelationID matched an already stored
	// message; nothing was written or broadcast.
	Duplicate bool
}

// SendMessage validates, sequences, persists and fans out a message from
// sender. The caller acknowledges the correlation id.
func (s *Service) SendMessage(ctx context.Context, sender *identity.Identity, req SendRequest) (*SendResult, error) {
	ctx, span := tracing.StartSpan(ctx, "chat.SendMessage")
	defer span.End()

	res, err := s.sendMessage(ctx, sender, req)
	switch {
	case err != nil:
		metrics.MessagesSubmitted.WithLabelValues(resultLabel(err)).Inc()
		span.RecordError(err)
	case res.Duplicate:
		metrics.MessagesSubmitted.WithLabelValues("duplicate").Inc()
	default:
		metrics.MessagesSubmitted.WithLabelValues("ok").Inc()
		span.SetAttributes(attribute.String("room_id", res.Message.RoomID), attribute.Int64("seq", res.Message.Seq))
	}
	return res, err
}

func (s *Service) sendMessage(ctx context.Context, sender *identity.Identity, req SendRequest) (*SendResult, error) {
	if sender == nil {
		return nil, ErrNotAuthenticated
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", ErrValidation)
	}
	if utf8.RuneCountInString(text) > s.maxTextLength {
		return nil, fmt.Errorf("%w: text longer than %d characters", ErrValidation, s.maxTextLength)
	}
	if len(req.CorrelationID) > maxCorrelationIDLen {
		return nil, fmt.Errorf("%w: correlation id too long", ErrValidation)
	}

	roomID, err := s.resolve(ctx, req.RoomRef)
	if err != nil {
		return nil, err
	}

	if req.CorrelationID != "" {
		if existing, err := s.repo.FindByCorrelation(ctx, roomID, sender.UserID, req.CorrelationID); err == nil {
			return &SendResult{Message: existing, Duplicate: true}, nil
		} else if !isNotFound(err) {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	m, err := s.Append(ctx, AppendRequest{
		RoomID:        roomID,
		Sender:        *sender,
		Text:          text,
		ParentID:      strings.TrimSpace(req.ParentID),
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		// two resends racing on the same correlation id: the loser
		// acknowledges the winner's message
		if req.CorrelationID != "" && errors.Is(err, ErrPersistence) {
			if existing, ferr := s.repo.FindByCorrelation(ctx, roomID, sender.UserID, req.CorrelationID); ferr == nil {
				return &SendResult{Message: existing, Duplicate: true}, nil
			}
		}
		return nil, err
	}
	return &SendResult{Message: m}, nil
}

type AppendRequest struct {
	RoomID        string
	Sender        identity.Identity
	Text          string
	ParentID      string
	CorrelationID string
	System        bool
	// CreatedAt defaults to now.
	CreatedAt time.Time
}

// Append writes a message to an already resolved room. The sequence number
// is issued, the row (and the parent's reply count) committed, the backlog
// cache updated and the message broadcast while the room is held, so every
// subscriber observes message.new events in sequence order.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*Message, error) {
	if req.ParentID != "" {
		if _, err := s.repo.GetMessageInRoom(ctx, req.RoomID, req.ParentID); err != nil {
			if isNotFound(err) {
				return nil, ErrParentNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	m := &Message{
		ID:          id,
		RoomID:      req.RoomID,
		SenderID:    req.Sender.UserID,
		SenderLabel: req.Sender.Label,
		Text:        req.Text,
		IsSystem:    req.System,
		CreatedAt:   createdAt.UTC(),
	}
	if req.ParentID != "" {
		pid := req.ParentID
		m.ParentID = &pid
	}
	if req.CorrelationID != "" {
		cid := req.CorrelationID
		m.CorrelationID = &cid
	}

	_, err = s.seq.WithNext(req.RoomID, func(seq int64) error {
		start := time.Now()
		m.Seq = seq
		if err := s.repo.InsertReply(ctx, m); err != nil {
			return err
		}
		metrics.PersistLatency.Observe(time.Since(start).Seconds())

		s.cacheAppend(ctx, m)
		s.hub.Broadcast(m.RoomID, Event{
			Type: EventMessageNew,
			Data: NewMessagePayload{Message: m.Payload(), Seq: seq},
		}, "")
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", req.RoomID).Int64("seq", m.Seq).Msg("message not stored")
		if errors.Is(err, ErrNotBootstrapped) || errors.Is(err, ErrParentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if s.activity != nil {
		ev := MessageCreated{
			MessageID: m.ID,
			RoomID:    m.RoomID,
			Seq:       m.Seq,
			SenderID:  m.SenderID,
			CreatedAt: m.CreatedAt,
		}
		if err := s.activity.MessageCreated(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("message_id", m.ID).Msg("record room activity failed")
		}
	}
	return m, nil
}

// cacheAppend runs with the room held.
func (s *Service) cacheAppend(ctx context.Context, m *Message) {
	if s.cache == nil {
		return
	}
	if _, stale := s.stale.Load(m.RoomID); stale {
		return
	}
	err := s.cache.Append(ctx, *m)
	if err == nil && m.ParentID != nil {
		var parent *Message
		parent, err = s.repo.GetMessage(ctx, *m.ParentID)
		if err == nil {
			err = s.cache.Replace(ctx, *parent)
		}
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", m.RoomID).Msg("backlog cache update failed, invalidating")
		s.invalidate(ctx, m.RoomID)
	}
}

// invalidate evicts a room from the cache. If the eviction fails the room is
// marked stale and backlog reads go to the database until an eviction
// succeeds.
func (s *Service) invalidate(ctx context.Context, roomID string) {
	if err := s.cache.Invalidate(ctx, roomID); err != nil {
		s.logger.Error().Err(err).Str("room_id", roomID).Msg("backlog cache invalidate failed, bypassing cache")
		s.stale.Store(roomID, struct{}{})
	}
}

// cacheUsable retries the pending eviction of a stale room. Runs with the
// room held.
func (s *Service) cacheUsable(ctx context.Context, roomID string) bool {
	if s.cache == nil {
		return false
	}
	if _, stale := s.stale.Load(roomID); !stale {
		return true
	}
	if err := s.cache.Invalidate(ctx, roomID); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("stale backlog cache still not evicted")
		return false
	}
	s.stale.Delete(roomID)
	return true
}

// Join subscribes sub to the room and sends it the backlog, then tells
// every subscriber the new presence count. It returns the canonical room id.
func (s *Service) Join(ctx context.Context, sub Subscriber, sender *identity.Identity, roomRef string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "chat.Join")
	defer span.End()

	if sender == nil {
		return "", ErrNotAuthenticated
	}
	roomID, err := s.resolve(ctx, roomRef)
	if err != nil {
		return "", err
	}

	s.ensureSeeded(ctx, roomID)

	if err := s.repo.AddMember(ctx, roomID, sender.UserID); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Uint64("user_id", sender.UserID).Msg("record membership failed")
	}

	err = s.seq.Hold(roomID, func(int64) error {
		backlog, err := s.backlogLocked(ctx, roomID)
		if err != nil {
			return err
		}
		count := s.hub.Subscribe(sub, roomID)
		sub.Send(Event{Type: EventRoomJoined, Data: JoinedPayload{RoomID: roomID, Backlog: payloads(backlog)}})
		s.hub.Broadcast(roomID, presenceEvent(roomID, count), "")
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotBootstrapped) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return roomID, nil
}

// Leave unsubscribes sub and notifies the remaining subscribers.
func (s *Service) Leave(ctx context.Context, sub Subscriber, roomRef string) (string, error) {
	roomID, err := s.resolve(ctx, roomRef)
	if err != nil {
		return "", err
	}
	err = s.seq.Hold(roomID, func(int64) error {
		count, was := s.hub.Unsubscribe(sub.ID(), roomID)
		sub.Send(Event{Type: EventRoomLeft, Data: LeftPayload{RoomID: roomID}})
		if was {
			s.hub.Broadcast(roomID, presenceEvent(roomID, count), "")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// Disconnect drops every subscription of sub and updates presence in the
// rooms it was in.
func (s *Service) Disconnect(sub Subscriber) {
	for _, roomID := range s.hub.Drop(sub.ID()) {
		err := s.seq.Hold(roomID, func(int64) error {
			s.hub.Broadcast(roomID, presenceEvent(roomID, s.hub.Count(roomID)), "")
			return nil
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("room_id", roomID).Msg("presence update after disconnect failed")
		}
	}
}

// Typing relays a typing indicator to everyone else in the room. Indicators
// from connections not subscribed to the room are dropped.
func (s *Service) Typing(ctx context.Context, sub Subscriber, sender *identity.Identity, roomRef string, isTyping bool) error {
	if sender == nil {
		return ErrNotAuthenticated
	}
	roomID, err := s.resolve(ctx, roomRef)
	if err != nil {
		return err
	}
	if !s.hub.IsSubscribed(sub.ID(), roomID) {
		return nil
	}
	s.hub.Broadcast(roomID, Event{
		Type: EventTypingUpdate,
		Data: TypingPayload{RoomID: roomID, UserID: sender.String(), IsTyping: isTyping},
	}, sub.ID())
	return nil
}

// Backlog returns the most recent messages of a room, oldest first.
func (s *Service) Backlog(ctx context.Context, roomRef string) ([]Message, error) {
	roomID, err := s.resolve(ctx, roomRef)
	if err != nil {
		return nil, err
	}
	var out []Message
	err = s.seq.Hold(roomID, func(int64) error {
		var err error
		out, err = s.backlogLocked(ctx, roomID)
		return err
	})
	return out, err
}

// backlogLocked runs with the room held.
func (s *Service) backlogLocked(ctx context.Context, roomID string) ([]Message, error) {
	useCache := s.cacheUsable(ctx, roomID)
	if s.cache != nil && !useCache {
		metrics.BacklogCache.WithLabelValues("bypass").Inc()
	}
	if useCache {
		msgs, ok, err := s.cache.Recent(ctx, roomID, s.backlogSize)
		switch {
		case err != nil:
			metrics.BacklogCache.WithLabelValues("error").Inc()
			s.logger.Warn().Err(err).Str("room_id", roomID).Msg("backlog cache read failed")
		case ok:
			metrics.BacklogCache.WithLabelValues("hit").Inc()
			return msgs, nil
		default:
			metrics.BacklogCache.WithLabelValues("miss").Inc()
		}
	}

	desc, err := s.repo.ListRecentMessagesDesc(ctx, roomID, s.backlogSize)
	if err != nil {
		return nil, err
	}
	asc := reverse(desc)

	if useCache {
		if err := s.cache.Fill(ctx, roomID, asc); err != nil {
			s.logger.Warn().Err(err).Str("room_id", roomID).Msg("backlog cache fill failed")
			s.invalidate(ctx, roomID)
		}
	}
	return asc, nil
}

// History pages backwards through a room: up to limit messages older than
// beforeID (or the newest when beforeID is empty or unknown), oldest first.
func (s *Service) History(ctx context.Context, roomRef, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	roomID, err := s.resolve(ctx, roomRef)
	if err != nil {
		return nil, err
	}

	var desc []Message
	if beforeID != "" {
		before, err := s.repo.GetMessageInRoom(ctx, roomID, beforeID)
		switch {
		case err == nil:
			desc, err = s.repo.ListMessagesBeforeSeq(ctx, roomID, before.Seq, limit)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
			}
			return reverse(desc), nil
		case !isNotFound(err):
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	desc, err = s.repo.ListRecentMessagesDesc(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return reverse(desc), nil
}

func (s *Service) ensureSeeded(ctx context.Context, roomID string) {
	if s.seeder == nil {
		return
	}
	_, _, _ = s.seeding.Do(roomID, func() (any, error) {
		n, err := s.repo.CountMessages(ctx, roomID)
		if err != nil || n > 0 {
			return nil, err
		}
		if err := s.seeder.Seed(ctx, roomID, s); err != nil {
			s.logger.Error().Err(err).Str("room_id", roomID).Msg("seeding room failed")
			return nil, err
		}
		s.logger.Info().Str("room_id", roomID).Msg("seeded empty room")
		return nil, nil
	})
}

func (s *Service) resolve(ctx context.Context, ref string) (string, error) {
	roomID, err := s.rooms.ResolveID(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return roomID, nil
}

func presenceEvent(roomID string, count int) Event {
	return Event{Type: EventRoomPresence, Data: PresencePayload{RoomID: roomID, Count: count}}
}

func reverse(desc []Message) []Message {
	out := make([]Message, len(desc))
	for i := range desc {
		out[len(desc)-1-i] = desc[i]
	}
	return out
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrParentNotFound):
		return "parent_not_found"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
