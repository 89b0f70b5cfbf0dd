package socket

import (
	"sync"

	"github.com/google/uuid"

	"github.com/suPer8Hu/echoroom/internal/chat"
	"github.com/suPer8Hu/echoroom/internal/identity"
)

const sendBuffer = 256

// Conn is one client connection as seen by the chat core. It implements
// chat.Subscriber and identity.Bindable.
type Conn struct {
	id   string
	send chan chat.Event

	mu     sync.Mutex
	closed bool
	ident  *identity.Identity
}

var (
	_ chat.Subscriber   = (*Conn)(nil)
	_ identity.Bindable = (*Conn)(nil)
)

func newConn() *Conn {
	return &Conn{id: uuid.NewString(), send: make(chan chat.Event, sendBuffer)}
}

func (c *Conn) ID() string { return c.id }

// Send queues ev for the writer without blocking.
func (c *Conn) Send(ev chat.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Conn) Identity() (identity.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ident == nil {
		return identity.Identity{}, false
	}
	return *c.ident, true
}

func (c *Conn) BindIdentity(id identity.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ident != nil {
		return false
	}
	c.ident = &id
	return true
}

// sender returns the bound identity or nil for an anonymous connection.
func (c *Conn) sender() *identity.Identity {
	id, ok := c.Identity()
	if !ok {
		return nil
	}
	return &id
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
