package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskpulse/taskpulse/internal/models"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/reconcile"
)

// Status reports the stream's connection state.
type Status struct {
	Connected bool
	Attempt   int
	Err       error
}

// StreamOptions tunes a Stream. Callbacks run on the stream goroutines and must
// not block.
type StreamOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	OnStatus   func(Status)
	OnChange   func()
}

// Stream keeps a reconcile.Store in sync with the server. Each connection waits
// for the ready frame, then fetches the REST baseline while pushed events buffer
// in the store.
type Stream struct {
	client *Client
	store  *reconcile.Store
	opts   StreamOptions
	dialer *websocket.Dialer
}

// NewStream creates a stream feeding s.
func NewStream(c *Client, s *reconcile.Store, opts StreamOptions) *Stream {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Stream{
		client: c,
		store:  s,
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: DefaultClientTimeout},
	}
}

// Run connects and reconnects until ctx is done or the server rejects the token.
func (st *Stream) Run(ctx context.Context) error {
	backoff := st.opts.MinBackoff
	for attempt := 1; ; attempt++ {
		hydrated, err := st.session(ctx)
		st.store.Reset()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrUnauthorized) {
			st.status(Status{Attempt: attempt, Err: err})
			return err
		}
		if hydrated {
			backoff = st.opts.MinBackoff
		}
		log.Printf("Stream disconnected: %v (retrying in %s)", err, backoff)
		st.status(Status{Attempt: attempt, Err: err})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > st.opts.MaxBackoff {
			backoff = st.opts.MaxBackoff
		}
	}
}

// session runs one connection. It reports whether the store was hydrated.
func (st *Stream) session(ctx context.Context) (bool, error) {
	conn, _, err := st.dialer.DialContext(ctx, wsURL(st.client.BaseURL()), http.Header{})
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(realtime.Handshake{Token: st.client.Token()}); err != nil {
		return false, fmt.Errorf("send handshake: %w", err)
	}

	var ready models.Event
	if err := conn.ReadJSON(&ready); err != nil {
		return false, closeErr(err)
	}
	if ready.Kind != models.EventReady {
		return false, fmt.Errorf("expected ready frame, got %s", ready.Kind)
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			var ev models.Event
			if err := conn.ReadJSON(&ev); err != nil {
				readErr <- closeErr(err)
				return
			}
			if err := st.store.Apply(ev); err != nil {
				log.Printf("Stream: dropping %s event: %v", ev.Kind, err)
				continue
			}
			st.changed()
		}
	}()

	if err := st.hydrate(ctx); err != nil {
		conn.Close()
		<-readErr
		return false, err
	}
	st.status(Status{Connected: true})
	st.changed()

	return true, <-readErr
}

func (st *Stream) hydrate(ctx context.Context) error {
	tasks, err := st.client.ListTasks(ctx, TaskQuery{})
	if err != nil {
		return fmt.Errorf("fetch tasks: %w", err)
	}
	notes, err := st.client.ListNotifications(ctx)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}
	st.store.Hydrate(tasks)
	st.store.HydrateNotifications(notes)
	return nil
}

func (st *Stream) status(s Status) {
	if st.opts.OnStatus != nil {
		st.opts.OnStatus(s)
	}
}

func (st *Stream) changed() {
	if st.opts.OnChange != nil {
		st.opts.OnChange()
	}
}

// closeErr maps an auth close frame to ErrUnauthorized.
func closeErr(err error) error {
	if websocket.IsCloseError(err, realtime.CloseAuthFailed) {
		return ErrUnauthorized
	}
	return err
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
	return base + "/ws"
}
