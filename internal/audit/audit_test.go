package audit

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/taskpulse/taskpulse/internal/models"
)

type mockWriter struct {
	logs []*models.AuditLog
	err  error
}

func (m *mockWriter) WriteAuditLog(_ context.Context, l *models.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, l)
	return nil
}

func TestRecord(t *testing.T) {
	w := &mockWriter{}
	rec := NewRecorder(w)

	r := httptest.NewRequest("POST", "/api/tasks", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	r.Header.Set("User-Agent", "taskpulse-cli")

	l := rec.Record(context.Background(), r, Entry{
		UserID: "u1", Action: ActionCreate, EntityType: EntityTask, EntityID: "t1",
		Details: map[string]any{"title": "Standup"},
	})
	if l == nil || len(w.logs) != 1 {
		t.Fatalf("Expected one entry, got %d", len(w.logs))
	}
	if l.IPAddress != "10.0.0.7" || l.UserAgent != "taskpulse-cli" {
		t.Errorf("Unexpected request metadata: %+v", l)
	}
}

func TestRecordForwardedFor(t *testing.T) {
	w := &mockWriter{}
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	l := NewRecorder(w).Record(context.Background(), r, Entry{UserID: "u1", Action: ActionDelete, EntityType: EntityTask})
	if l.IPAddress != "203.0.113.9" {
		t.Errorf("Expected first forwarded hop, got %q", l.IPAddress)
	}
}

func TestRecordFailureIsSwallowed(t *testing.T) {
	w := &mockWriter{err: errors.New("disk full")}
	if l := NewRecorder(w).Record(context.Background(), nil, Entry{Action: ActionUpdate}); l != nil {
		t.Errorf("Expected nil entry on failure, got %+v", l)
	}
}
