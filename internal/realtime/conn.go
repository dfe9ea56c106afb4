package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/taskpulse/taskpulse/internal/models"
)

// Transport is the wire side of one client connection. WriteEvent and Ping are only
// called from the connection's writer goroutine; Close may be called once from anywhere.
type Transport interface {
	WriteEvent(ev models.Event) error
	Ping() error
	Close(code int, reason string) error
}

// State is a connection's lifecycle position. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is one live client connection.
type Conn struct {
	id              string
	userID          string
	authenticatedAt time.Time
	transport       Transport

	state atomic.Int32
	send  chan models.Event
	done  chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newConn(t Transport, buffer int) *Conn {
	return &Conn{
		id:        uuid.New().String(),
		transport: t,
		send:      make(chan models.Event, buffer),
		done:      make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user, empty before admission.
func (c *Conn) UserID() string { return c.userID }

// AuthenticatedAt returns when the connection was admitted.
func (c *Conn) AuthenticatedAt() time.Time { return c.authenticatedAt }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) authenticate(userID string) bool {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated)) {
		return false
	}
	c.userID = userID
	c.authenticatedAt = time.Now().UTC()
	return true
}

// enqueue never blocks.
func (c *Conn) enqueue(ev models.Event) error {
	if c.State() != StateAuthenticated {
		return ErrConnClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// markClosed moves the connection to Closed and records the close frame the writer
// should send. Returns false if it was already closed.
func (c *Conn) markClosed(code int, reason string) bool {
	closed := false
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.state.Store(int32(StateClosed))
		close(c.done)
		closed = true
	})
	return closed
}
