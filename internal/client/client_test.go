package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskpulse/taskpulse/internal/api"
	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/models"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/reconcile"
	"github.com/taskpulse/taskpulse/internal/store"
)

const testSecret = "test-secret"

type testServer struct {
	url   string
	hub   *realtime.Hub
	store *store.SQLiteStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	verifier := auth.NewJWTVerifier(testSecret, "", st)
	hub := realtime.NewHub(verifier, realtime.Options{SendBuffer: 64})
	ws := realtime.NewWSHandler(hub, realtime.WSConfig{HandshakeTimeout: time.Second})
	srv := api.NewServer(api.NewService(st, hub, nil), verifier, hub, ws, "")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		st.Close()
	})
	return &testServer{url: ts.URL, hub: hub, store: st}
}

func (s *testServer) user(t *testing.T, name string, role models.Role) (*models.User, string) {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com", Role: role}
	if err := s.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{UserID: u.ID}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return u, tok
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func ptr[T any](v T) *T { return &v }

func TestClientTaskLifecycle(t *testing.T) {
	srv := newTestServer(t)
	_, tok := srv.user(t, "ada", models.RoleMember)
	c := New(srv.url, tok)
	ctx := context.Background()

	created, err := c.CreateTask(ctx, api.TaskInput{
		Title:   ptr("Write docs"),
		DueDate: ptr(time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	done, err := c.SetStatus(ctx, created.ID, models.TaskStatusCompleted)
	if err != nil || done.Status != models.TaskStatusCompleted || done.Version != 2 {
		t.Fatalf("SetStatus: %+v %v", done, err)
	}

	tasks, err := c.ListTasks(ctx, TaskQuery{Status: "completed"})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("ListTasks: %d %v", len(tasks), err)
	}

	if err := c.DeleteTask(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	_, err = c.GetTask(ctx, created.ID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("Expected 404 APIError, got %v", err)
	}
}

func TestClientPreferences(t *testing.T) {
	srv := newTestServer(t)
	_, tok := srv.user(t, "ada", models.RoleMember)
	c := New(srv.url, tok)
	ctx := context.Background()

	p, err := c.UpdatePreferences(ctx, map[string]any{"dashboard": map[string]any{"defaultView": "overdue"}})
	if err != nil || p.Dashboard.DefaultView != models.ViewOverdue || !p.Dashboard.ShowCompletedTasks {
		t.Fatalf("UpdatePreferences: %+v %v", p, err)
	}

	_, err = c.UpdatePreferences(ctx, map[string]any{"dashboard": map[string]any{"defaultView": "mine"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("Expected 400 APIError, got %v", err)
	}

	if p, err = c.ResetPreferences(ctx); err != nil || p.Dashboard.DefaultView != models.ViewAll {
		t.Errorf("ResetPreferences: %+v %v", p, err)
	}
	if p, err = c.GetPreferences(ctx); err != nil || p.Dashboard.DefaultView != models.ViewAll {
		t.Errorf("GetPreferences: %+v %v", p, err)
	}
}

func TestClientUnauthorized(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.url, "bad-token")

	if _, err := c.ListTasks(context.Background(), TaskQuery{}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}

	h, err := c.Health(context.Background())
	if err != nil || !h.OK {
		t.Errorf("Health should not need auth: %+v %v", h, err)
	}
}

func TestStreamHydratesAndFollowsPushes(t *testing.T) {
	srv := newTestServer(t)
	_, tok := srv.user(t, "ada", models.RoleMember)
	c := New(srv.url, tok)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	existing, err := c.CreateTask(ctx, api.TaskInput{Title: ptr("Existing"), DueDate: ptr(time.Now())})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	rs := reconcile.New()
	stream := NewStream(c, rs, StreamOptions{MinBackoff: 20 * time.Millisecond})
	errc := make(chan error, 1)
	go func() { errc <- stream.Run(ctx) }()

	waitFor(t, "hydration", func() bool {
		_, ok := rs.Task(existing.ID)
		return rs.Hydrated() && ok
	})

	pushed, _ := c.CreateTask(ctx, api.TaskInput{Title: ptr("Pushed"), DueDate: ptr(time.Now())})
	waitFor(t, "pushed task", func() bool {
		_, ok := rs.Task(pushed.ID)
		return ok
	})

	c.TestNotification(ctx, "", "")
	waitFor(t, "notification", func() bool { return rs.UnreadCount() == 1 })

	c.DeleteTask(ctx, existing.ID)
	waitFor(t, "delete", func() bool {
		_, ok := rs.Task(existing.ID)
		return !ok
	})

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stream did not stop")
	}
}

func TestStreamHydratesEveryTask(t *testing.T) {
	srv := newTestServer(t)
	u, tok := srv.user(t, "ada", models.RoleMember)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 520
	for i := 0; i < total; i++ {
		task := &models.Task{Title: fmt.Sprintf("Task %d", i), CreatedBy: u.ID, DueDate: time.Now()}
		if err := srv.store.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}

	rs := reconcile.New()
	connected := make(chan struct{}, 1)
	stream := NewStream(New(srv.url, tok), rs, StreamOptions{OnStatus: func(s Status) {
		if s.Connected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	}})
	go stream.Run(ctx)

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("Stream never connected")
	}
	if n := len(rs.Tasks()); n != total {
		t.Errorf("Expected hydrated store to hold %d tasks, got %d", total, n)
	}
}

func TestStreamReconnectsAndRehydrates(t *testing.T) {
	srv := newTestServer(t)
	u, tok := srv.user(t, "ada", models.RoleMember)
	c := New(srv.url, tok)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rs := reconcile.New()
	stream := NewStream(c, rs, StreamOptions{MinBackoff: 200 * time.Millisecond})
	go stream.Run(ctx)

	waitFor(t, "first connection", func() bool {
		return rs.Hydrated() && len(srv.hub.ConnectionsFor(u.ID)) == 1
	})

	// Drop the connection and change data while the client is away.
	for _, id := range srv.hub.ConnectionsFor(u.ID) {
		srv.hub.Unregister(id)
	}
	missed, _ := c.CreateTask(ctx, api.TaskInput{Title: ptr("Created while away"), DueDate: ptr(time.Now())})

	waitFor(t, "re-hydrated baseline", func() bool {
		_, ok := rs.Task(missed.ID)
		return rs.Hydrated() && ok
	})
}

func TestStreamStopsOnBadToken(t *testing.T) {
	srv := newTestServer(t)
	stream := NewStream(New(srv.url, "bad-token"), reconcile.New(), StreamOptions{})

	errc := make(chan error, 1)
	go func() { errc <- stream.Run(context.Background()) }()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Expected ErrUnauthorized, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stream kept retrying a rejected token")
	}
}

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080": "ws://localhost:8080/ws",
		"https://tasks.example": "wss://tasks.example/ws",
		"ws://already.example":  "ws://already.example/ws",
	}
	for in, want := range cases {
		if got := wsURL(in); got != want {
			t.Errorf("wsURL(%s) = %s, want %s", in, got, want)
		}
	}
}
