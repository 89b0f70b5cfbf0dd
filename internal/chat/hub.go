package chat

import (
	"sort"
	"sync"

	"github.com/suPer8Hu/echoroom/internal/metrics"
)

// Subscriber is a connection that can receive events. Send must not block:
// it returns false when the event was dropped.
type Subscriber interface {
	ID() string
	Send(ev Event) bool
}

// Hub tracks which connections are subscribed to which rooms.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber // room id -> conn id -> subscriber
	conns map[string]map[string]struct{}   // conn id -> room ids
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]Subscriber),
		conns: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds sub to roomID and returns the room's subscriber count.
func (h *Hub) Subscribe(sub Subscriber, roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[string]Subscriber)
		h.rooms[roomID] = subs
	}
	if _, dup := subs[sub.ID()]; !dup {
		metrics.RoomSubscriptions.Inc()
	}
	subs[sub.ID()] = sub

	rooms, ok := h.conns[sub.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		h.conns[sub.ID()] = rooms
	}
	rooms[roomID] = struct{}{}
	return len(subs)
}

// Unsubscribe removes the relation and returns the remaining count and
// whether the connection had been subscribed.
func (h *Hub) Unsubscribe(connID, roomID string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ok := h.removeLocked(connID, roomID)
	return len(h.rooms[roomID]), ok
}

func (h *Hub) removeLocked(connID, roomID string) bool {
	subs, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := subs[connID]; !ok {
		return false
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}
	if rooms, ok := h.conns[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.conns, connID)
		}
	}
	metrics.RoomSubscriptions.Dec()
	return true
}

// Drop removes every subscription of connID and returns the rooms it left.
func (h *Hub) Drop(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	left := make([]string, 0, len(h.conns[connID]))
	for roomID := range h.conns[connID] {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		h.removeLocked(connID, roomID)
	}
	sort.Strings(left)
	return left
}

// Broadcast sends ev to every subscriber of roomID except exceptConnID and
// returns how many accepted it. Slow subscribers lose the event.
func (h *Hub) Broadcast(roomID string, ev Event, exceptConnID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, sub := range h.rooms[roomID] {
		if id == exceptConnID {
			continue
		}
		if sub.Send(ev) {
			delivered++
		} else {
			metrics.BroadcastDropped.Inc()
		}
	}
	return delivered
}

func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) IsSubscribed(connID, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][connID]
	return ok
}

// Rooms lists the rooms connID is subscribed to, sorted.
func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.conns[connID]))
	for roomID := range h.conns[connID] {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}
