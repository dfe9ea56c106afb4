package realtime

import (
	"errors"
	"fmt"

	"github.com/taskpulse/taskpulse/internal/models"
)

// Sentinel errors.
var (
	ErrQueueFull  = errors.New("outbound queue full")
	ErrConnClosed = errors.New("connection closed")
)

// Close codes sent to clients.
const (
	CloseAuthFailed   = 4401
	CloseNormal       = 1000
	CloseSlowConsumer = 1013
)

// DeliveryError describes a push that could not reach one connection. It is logged
// and swallowed; the connection is dropped.
type DeliveryError struct {
	ConnID string
	UserID string
	Kind   models.EventKind
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to conn %s (user %s): %v", e.Kind, e.ConnID, e.UserID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
