// Package audit records successful user actions for later review.
package audit

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/taskpulse/taskpulse/internal/models"
)

// Actions.
const (
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionDelete       = "delete"
	ActionAssign       = "assign"
	ActionStatusChange = "status_change"
	ActionLogin        = "login"
	ActionLogout       = "logout"
	ActionRegister     = "register"
)

// Entity types.
const (
	EntityTask         = "task"
	EntityUser         = "user"
	EntityNotification = "notification"
	EntitySystem       = "system"
)

// Writer is the store method the recorder needs.
type Writer interface {
	WriteAuditLog(ctx context.Context, l *models.AuditLog) error
}

// Recorder writes audit entries. A failed write is logged and never surfaces to the
// caller whose action already succeeded.
type Recorder struct {
	store Writer
}

// NewRecorder creates a recorder over w.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{store: w}
}

// Entry describes one action.
type Entry struct {
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]any
}

// Record writes e, taking client address and user agent from r when non-nil.
func (rec *Recorder) Record(ctx context.Context, r *http.Request, e Entry) *models.AuditLog {
	l := &models.AuditLog{
		User:       e.UserID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Details:    e.Details,
	}
	if r != nil {
		l.IPAddress = clientIP(r)
		l.UserAgent = r.UserAgent()
	}
	if err := rec.store.WriteAuditLog(ctx, l); err != nil {
		log.Printf("audit: failed to record %s %s %s: %v", e.Action, e.EntityType, e.EntityID, err)
		return nil
	}
	return l
}

// clientIP prefers the first X-Forwarded-For hop, then the connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
