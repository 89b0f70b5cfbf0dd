// Package redisstore caches the recent backlog of active rooms in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/echoroom/internal/chat"
)

const defaultTTL = 24 * time.Hour

// Store implements chat.BacklogCache. Each room has a sorted set of
// messages scored by seq and a marker key that is present once the set
// holds the room's true tail.
type Store struct {
	client   *redis.Client
	capacity int
	ttl      time.Duration
}

var _ chat.BacklogCache = (*Store)(nil)

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func New(client *redis.Client, capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = 50
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, capacity: capacity, ttl: ttl}
}

func backlogKey(roomID string) string { return fmt.Sprintf("echoroom:room:%s:backlog", roomID) }

func warmKey(roomID string) string { return fmt.Sprintf("echoroom:room:%s:warm", roomID) }

func (s *Store) warm(ctx context.Context, roomID string) (bool, error) {
	n, err := s.client.Exists(ctx, warmKey(roomID)).Result()
	return n > 0, err
}

func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]chat.Message, bool, error) {
	ok, err := s.warm(ctx, roomID)
	if err != nil || !ok {
		return nil, false, err
	}
	if limit <= 0 || limit > s.capacity {
		limit = s.capacity
	}

	raw, err := s.client.ZRange(ctx, backlogKey(roomID), -int64(limit), -1).Result()
	if err != nil {
		return nil, false, err
	}
	msgs := make([]chat.Message, 0, len(raw))
	for _, data := range raw {
		var m chat.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, false, fmt.Errorf("decode cached message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, true, nil
}

func (s *Store) Fill(ctx context.Context, roomID string, msgs []chat.Message) error {
	members := make([]redis.Z, 0, len(msgs))
	for _, m := range msgs {
		z, err := member(m)
		if err != nil {
			return err
		}
		members = append(members, z)
	}

	key := backlogKey(roomID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
			pipe.ZRemRangeByRank(ctx, key, 0, -int64(s.capacity)-1)
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.Set(ctx, warmKey(roomID), "1", s.ttl)
		return nil
	})
	return err
}

func (s *Store) Append(ctx context.Context, m chat.Message) error {
	ok, err := s.warm(ctx, m.RoomID)
	if err != nil || !ok {
		return err
	}
	z, err := member(m)
	if err != nil {
		return err
	}

	key := backlogKey(m.RoomID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, z)
		pipe.ZRemRangeByRank(ctx, key, 0, -int64(s.capacity)-1)
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, warmKey(m.RoomID), s.ttl)
		return nil
	})
	return err
}

// Replace swaps the cached copy of m if it is still in the window.
func (s *Store) Replace(ctx context.Context, m chat.Message) error {
	key := backlogKey(m.RoomID)
	score := strconv.FormatInt(m.Seq, 10)

	n, err := s.client.ZCount(ctx, key, score, score).Result()
	if err != nil || n == 0 {
		return err
	}
	z, err := member(m)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, score, score)
		pipe.ZAdd(ctx, key, z)
		return nil
	})
	return err
}

func (s *Store) Invalidate(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, warmKey(roomID), backlogKey(roomID)).Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func member(m chat.Message) (redis.Z, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return redis.Z{}, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return redis.Z{Score: float64(m.Seq), Member: string(data)}, nil
}
