package chat

import "testing"

type fullSub struct{ id string }

func (f fullSub) ID() string {
	return f.id
}

func (f fullSub) Send(Event) bool {
	return false
}

func TestHub_SubscribeCountsAndBroadcast(t *testing.T) {
	h := NewHub()
	a, b := newFakeSub("a"), newFakeSub("b")

	if n := h.Subscribe(a, "r1"); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	if n := h.Subscribe(a, "r1"); n != 1 {
		t.Fatalf("subscribing twice should not double count, got %d", n)
	}
	h.Subscribe(b, "r1")
	h.Subscribe(a, "r2")

	if got := h.Broadcast("r1", Event{Type: "x"}, "a"); got != 1 {
		t.Fatalf("expected delivery to 1 subscriber, got %d", got)
	}
	if len(a.ofType("x")) != 0 || len(b.ofType("x")) != 1 {
		t.Fatalf("except filter not honored")
	}

	if rooms := h.Rooms("a"); len(rooms) != 2 || rooms[0] != "r1" || rooms[1] != "r2" {
		t.Fatalf("unexpected rooms: %v", rooms)
	}
}

func TestHub_UnsubscribeAndDrop(t *testing.T) {
	h := NewHub()
	a, b := newFakeSub("a"), newFakeSub("b")
	h.Subscribe(a, "r1")
	h.Subscribe(b, "r1")
	h.Subscribe(a, "r2")

	if n, ok := h.Unsubscribe("b", "r1"); !ok || n != 1 {
		t.Fatalf("got n=%d ok=%v", n, ok)
	}
	if _, ok := h.Unsubscribe("b", "r1"); ok {
		t.Fatalf("second unsubscribe should report false")
	}

	left := h.Drop("a")
	if len(left) != 2 || left[0] != "r1" || left[1] != "r2" {
		t.Fatalf("unexpected rooms left: %v", left)
	}
	if h.Count("r1") != 0 || h.Count("r2") != 0 || h.IsSubscribed("a", "r1") {
		t.Fatalf("drop should remove every subscription")
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	fast := newFakeSub("fast")
	h.Subscribe(fullSub{id: "slow"}, "r1")
	h.Subscribe(fast, "r1")

	if got := h.Broadcast("r1", Event{Type: "x"}, ""); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	if len(fast.ofType("x")) != 1 {
		t.Fatalf("fast subscriber missed the event")
	}
}
