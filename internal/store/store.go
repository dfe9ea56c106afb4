// Package store provides persistence for taskpulse: a SQLite backend for single-node
// deployments and a PostgreSQL backend selected by configuration.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/taskpulse/taskpulse/internal/models"
)

// Sentinel errors returned by every backend.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateUser = errors.New("user with this email already exists")
)

// TaskFilter narrows ListTasks. Empty fields do not filter. A zero Limit returns
// every match; Offset only applies together with a positive Limit.
type TaskFilter struct {
	Status     string
	Priority   string
	AssignedTo string
	CreatedBy  string
	Search     string
	Limit      int
	Offset     int
}

// Store is the persistence contract used by the API, the recurring generator and the
// auth verifier.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	// Tasks. CreateTask and UpdateTask fill ID, timestamps and Version on t.
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	// DeleteTask removes the task and every notification referencing it.
	DeleteTask(ctx context.Context, id string) error

	// Recurring generation
	ListRecurringTemplates(ctx context.Context) ([]models.Task, error)
	// CreateRecurringInstance stores t as the instance of templateID for occurrenceDate
	// (YYYY-MM-DD). It returns false without writing anything when that occurrence
	// already exists.
	CreateRecurringInstance(ctx context.Context, templateID, occurrenceDate string, t *models.Task) (bool, error)

	// Notifications
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error)
	ClearNotifications(ctx context.Context, userID string) (int64, error)

	// Audit
	WriteAuditLog(ctx context.Context, l *models.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error)

	// Preferences. GetPreferences returns ErrNotFound when the user has none stored.
	GetPreferences(ctx context.Context, userID string) (*models.Preferences, error)
	SavePreferences(ctx context.Context, p *models.Preferences) error
	DeletePreferences(ctx context.Context, userID string) error

	// Job markers. GetJobRun returns nil, nil when the job never ran.
	GetJobRun(ctx context.Context, job string) (*models.JobRun, error)
	SaveJobRun(ctx context.Context, run models.JobRun) error
}

// Open returns the backend named by driver.
func Open(ctx context.Context, driver, path, url string) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLiteStore(path)
	case "postgres":
		return NewPgStore(ctx, url)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// PreferenceReader is the part of Store that notification senders consult.
type PreferenceReader interface {
	GetPreferences(ctx context.Context, userID string) (*models.Preferences, error)
}

// PreferencesFor returns userID's stored preferences, or the defaults when none are
// stored or they cannot be read. Read failures are logged.
func PreferencesFor(ctx context.Context, r PreferenceReader, userID string) models.Preferences {
	p, err := r.GetPreferences(ctx, userID)
	if err == nil {
		return *p
	}
	if !errors.Is(err, ErrNotFound) {
		log.Printf("Using default preferences for user %s: %v", userID, err)
	}
	return models.DefaultPreferences(userID)
}

const defaultListLimit = 500

// taskPage orders a task listing and applies f's paging.
func taskPage(f TaskFilter) string {
	clause := " ORDER BY t.updated_at DESC, t.id"
	if f.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, max(f.Offset, 0))
	}
	return clause
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PgStore)(nil)
)
