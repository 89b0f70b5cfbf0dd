package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxSeqSource reports the highest persisted sequence number per room.
type MaxSeqSource interface {
	MaxSeqByRoom(ctx context.Context) (map[string]int64, error)
}

type roomCounter struct {
	mu  sync.Mutex
	seq int64
}

// Allocator is the single authority for per-room sequence numbers.
//
// Each room has its own mutex. WithNext holds it across allocation and the
// caller's write, so within a room messages are persisted (and fanned out)
// in exactly the order their sequence numbers were issued, while different
// rooms never wait on each other. Counters only move forward: a failed
// write leaves a gap and is never reused.
type Allocator struct {
	mu    sync.Mutex
	rooms map[string]*roomCounter
	ready atomic.Bool
}

func NewAllocator() *Allocator {
	return &Allocator{rooms: make(map[string]*roomCounter)}
}

// Bootstrap loads each room's persisted maximum. Allocation is refused
// until it has succeeded once.
func (a *Allocator) Bootstrap(ctx context.Context, src MaxSeqSource) error {
	maxes, err := src.MaxSeqByRoom(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap sequences: %w", err)
	}
	for roomID, seq := range maxes {
		rc := a.counter(roomID)
		rc.mu.Lock()
		if seq > rc.seq {
			rc.seq = seq
		}
		rc.mu.Unlock()
	}
	a.ready.Store(true)
	return nil
}

func (a *Allocator) Ready() bool { return a.ready.Load() }

// counter returns the room's counter, creating it at zero on first use.
func (a *Allocator) counter(roomID string) *roomCounter {
	a.mu.Lock()
	defer a.mu.Unlock()
	rc, ok := a.rooms[roomID]
	if !ok {
		rc = &roomCounter{}
		a.rooms[roomID] = rc
	}
	return rc
}

// Next issues the next sequence number for roomID.
func (a *Allocator) Next(roomID string) (int64, error) {
	return a.WithNext(roomID, nil)
}

// WithNext issues the next sequence number and runs write with it while
// the room stays locked. The number is consumed even if write fails.
func (a *Allocator) WithNext(roomID string, write func(seq int64) error) (int64, error) {
	if !a.ready.Load() {
		return 0, ErrNotBootstrapped
	}
	rc := a.counter(roomID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.seq++
	seq := rc.seq
	if write == nil {
		return seq, nil
	}
	return seq, write(seq)
}

// Hold runs fn with the room locked and no number issued. fn sees the
// highest sequence issued so far.
func (a *Allocator) Hold(roomID string, fn func(current int64) error) error {
	if !a.ready.Load() {
		return ErrNotBootstrapped
	}
	rc := a.counter(roomID)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return fn(rc.seq)
}

// Current returns the highest sequence issued for roomID.
func (a *Allocator) Current(roomID string) int64 {
	rc := a.counter(roomID)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.seq
}
