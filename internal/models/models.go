// Package models defines the core domain types for taskpulse.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus represents the workflow state of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusReview, TaskStatusCompleted:
		return true
	}
	return false
}

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// RecurrencePattern says how often a recurring template is instantiated.
// The zero value means "no pattern" and encodes as JSON null.
type RecurrencePattern string

const (
	RecurNone    RecurrencePattern = ""
	RecurDaily   RecurrencePattern = "daily"
	RecurWeekly  RecurrencePattern = "weekly"
	RecurMonthly RecurrencePattern = "monthly"
)

// Valid reports whether p is a known pattern (including none).
func (p RecurrencePattern) Valid() bool {
	switch p {
	case RecurNone, RecurDaily, RecurWeekly, RecurMonthly:
		return true
	}
	return false
}

// MarshalJSON encodes RecurNone as null.
func (p RecurrencePattern) MarshalJSON() ([]byte, error) {
	if p == RecurNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(p))
}

// UnmarshalJSON accepts null or a string.
func (p *RecurrencePattern) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = RecurNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = RecurrencePattern(s)
	return nil
}

// UserRef is the denormalized display record embedded in task payloads.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Task is the authoritative, server-owned unit of work.
type Task struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Status           TaskStatus        `json:"status"`
	Priority         Priority          `json:"priority"`
	DueDate          time.Time         `json:"dueDate"`
	AssignedTo       string            `json:"assignedTo,omitempty"`
	CreatedBy        string            `json:"createdBy"`
	IsRecurring      bool              `json:"isRecurring"`
	RecurringPattern RecurrencePattern `json:"recurringPattern"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`

	// Version starts at 1 and increases on every persisted mutation.
	Version int64 `json:"version"`

	AssignedUser *UserRef `json:"assignedUser,omitempty"`
	Creator      *UserRef `json:"creator,omitempty"`
}

// Validate checks field enums and the recurrence invariant.
func (t *Task) Validate() error {
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	if !t.RecurringPattern.Valid() {
		return fmt.Errorf("invalid recurring pattern %q", t.RecurringPattern)
	}
	if !t.IsRecurring && t.RecurringPattern != RecurNone {
		return fmt.Errorf("recurring pattern %q set on a non-recurring task", t.RecurringPattern)
	}
	if t.IsRecurring && t.RecurringPattern == RecurNone {
		return fmt.Errorf("recurring task needs a pattern")
	}
	return nil
}

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationTaskAssigned  NotificationType = "task_assigned"
	NotificationTaskUpdated   NotificationType = "task_updated"
	NotificationTaskCompleted NotificationType = "task_completed"
	NotificationTaskOverdue   NotificationType = "task_overdue"
	NotificationSystem        NotificationType = "system"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTaskAssigned, NotificationTaskUpdated, NotificationTaskCompleted,
		NotificationTaskOverdue, NotificationSystem:
		return true
	}
	return false
}

// Notification is a message addressed to one user.
type Notification struct {
	ID          string           `json:"id"`
	User        string           `json:"user"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Type        NotificationType `json:"type"`
	Read        bool             `json:"read"`
	RelatedTask string           `json:"relatedTask,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Role grants permissions on other users' tasks.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleMember
}

// CanManage reports whether the role may modify tasks it did not create.
func (r Role) CanManage() bool {
	return r == RoleAdmin || r == RoleManager
}

// User is a team member.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ref returns the display record for u.
func (u *User) Ref() *UserRef {
	if u == nil {
		return nil
	}
	return &UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}

// AuditLog records a successful user action. Details is an open key/value map.
type AuditLog struct {
	ID         string         `json:"id"`
	User       string         `json:"user"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	Details    map[string]any `json:"details"`
	Timestamp  time.Time      `json:"timestamp"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
}

// JobRun is the persisted marker of a periodic job's last completed run.
type JobRun struct {
	Job         string    `json:"job" db:"job"`
	LastRunDate string    `json:"last_run_date" db:"last_run_date"` // YYYY-MM-DD
	Scanned     int       `json:"scanned" db:"scanned"`
	Created     int       `json:"created" db:"created"`
	Failed      int       `json:"failed" db:"failed"`
	FinishedAt  time.Time `json:"finished_at" db:"finished_at"`
}
