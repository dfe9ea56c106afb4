// Package realtime tracks authenticated client connections and pushes events to them.
package realtime

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/models"
)

const closeGoingAway = 1001

// Options tunes a Hub.
type Options struct {
	// SendBuffer bounds each connection's outbound queue.
	SendBuffer int
	// PingInterval is how often the writer pings the client; zero disables pings.
	PingInterval time.Duration
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// Hub is the connection registry and the event delivery service. Each connection
// gets its own bounded queue and writer goroutine, so a slow client only ever
// stalls itself.
type Hub struct {
	verifier auth.Verifier
	opts     Options

	mu     sync.RWMutex
	conns  map[string]*Conn
	users  map[string]map[string]*Conn
	closed bool

	wg        sync.WaitGroup
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(v auth.Verifier, opts Options) *Hub {
	if opts.SendBuffer < 1 {
		opts.SendBuffer = 64
	}
	return &Hub{
		verifier: v,
		opts:     opts,
		conns:    make(map[string]*Conn),
		users:    make(map[string]map[string]*Conn),
	}
}

// Admit verifies token and registers the connection. On any verification failure
// the transport is closed with CloseAuthFailed and an *auth.AuthError is returned;
// nothing is registered.
func (h *Hub) Admit(ctx context.Context, token string, t Transport) (*Conn, error) {
	c := newConn(t, h.opts.SendBuffer)

	user, err := h.verifier.Verify(ctx, token)
	if err != nil {
		c.markClosed(CloseAuthFailed, "authentication error")
		t.Close(CloseAuthFailed, "authentication error")
		var authErr *auth.AuthError
		if !errors.As(err, &authErr) {
			err = &auth.AuthError{Err: err}
		}
		return nil, err
	}

	if !h.attach(c, user.ID) {
		return nil, ErrConnClosed
	}
	log.Printf("Connection %s admitted for user %s", c.id, user.ID)
	return c, nil
}

// Register adds an already authenticated transport for userID and returns the
// connection id. After Close it closes t instead and returns "".
func (h *Hub) Register(userID string, t Transport) string {
	c := newConn(t, h.opts.SendBuffer)
	if !h.attach(c, userID) {
		return ""
	}
	return c.id
}

func (h *Hub) attach(c *Conn, userID string) bool {
	c.authenticate(userID)
	// The queue is empty and has room, so ready is always the first frame.
	c.send <- models.Event{Kind: models.EventReady, Target: userID}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.markClosed(closeGoingAway, "server shutting down")
		c.transport.Close(closeGoingAway, "server shutting down")
		return false
	}
	h.conns[c.id] = c
	set := h.users[userID]
	if set == nil {
		set = make(map[string]*Conn)
		h.users[userID] = set
	}
	set[c.id] = c
	h.wg.Add(1)
	h.mu.Unlock()

	go h.writeLoop(c)
	return true
}

// Unregister removes a connection. Unknown or already removed ids are ignored.
func (h *Hub) Unregister(connID string) {
	h.remove(connID, CloseNormal, "")
}

func (h *Hub) remove(connID string, code int, reason string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
		if set := h.users[c.userID]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(h.users, c.userID)
			}
		}
	}
	h.mu.Unlock()

	if ok && c.markClosed(code, reason) {
		log.Printf("Connection %s for user %s closed", connID, c.userID)
	}
}

// ConnectionsFor returns the ids of userID's live connections, possibly none.
func (h *Hub) ConnectionsFor(userID string) []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.users[userID]))
	for id := range h.users[userID] {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Notify pushes ev to every live connection of userID. With no connections the
// event is dropped.
func (h *Hub) Notify(userID string, ev models.Event) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, ev)
	}
}

// Broadcast pushes ev to every live connection.
func (h *Hub) Broadcast(ev models.Event) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, ev)
	}
}

func (h *Hub) deliver(c *Conn, ev models.Event) {
	if err := c.enqueue(ev); err != nil && !errors.Is(err, ErrConnClosed) {
		h.fail(c, ev.Kind, err)
	}
}

func (h *Hub) fail(c *Conn, kind models.EventKind, err error) {
	h.dropped.Add(1)
	log.Printf("realtime: %v", &DeliveryError{ConnID: c.id, UserID: c.userID, Kind: kind, Err: err})
	h.remove(c.id, CloseSlowConsumer, "delivery failed")
}

// writeLoop is the only goroutine writing to c's transport.
func (h *Hub) writeLoop(c *Conn) {
	defer h.wg.Done()

	var ping <-chan time.Time
	if h.opts.PingInterval > 0 {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.done:
			c.transport.Close(c.closeCode, c.closeReason)
			return
		case ev := <-c.send:
			if c.State() == StateClosed {
				c.transport.Close(c.closeCode, c.closeReason)
				return
			}
			if err := c.transport.WriteEvent(ev); err != nil {
				h.fail(c, ev.Kind, err)
				c.transport.Close(c.closeCode, c.closeReason)
				return
			}
			h.delivered.Add(1)
		case <-ping:
			if err := c.transport.Ping(); err != nil {
				h.fail(c, "ping", err)
				c.transport.Close(c.closeCode, c.closeReason)
				return
			}
		}
	}
}

// Stats returns connection counts and delivery counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Connections: len(h.conns),
		Users:       len(h.users),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close disconnects every client and waits for the writers to exit. Later
// admissions are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Conn)
	h.users = make(map[string]map[string]*Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.markClosed(closeGoingAway, "server shutting down")
	}
	h.wg.Wait()
	log.Println("Realtime hub stopped")
}
