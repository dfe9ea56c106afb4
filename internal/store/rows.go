package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskpulse/taskpulse/internal/models"
)

// taskSelect joins the assignee and creator so every read carries their display
// records. Both backends accept it unchanged.
const taskSelect = `
SELECT t.id, t.title, t.description, t.status, t.priority, t.due_date,
       t.assigned_to, t.created_by, t.is_recurring, t.recurring_pattern,
       t.version, t.created_at, t.updated_at,
       au.name AS assignee_name, au.email AS assignee_email,
       cu.name AS creator_name, cu.email AS creator_email
FROM tasks t
LEFT JOIN users au ON au.id = t.assigned_to
LEFT JOIN users cu ON cu.id = t.created_by`

const notificationSelect = `
SELECT id, user_id, title, message, type, read, related_task, timestamp
FROM notifications`

type taskRow struct {
	ID               string    `db:"id"`
	Title            string    `db:"title"`
	Description      string    `db:"description"`
	Status           string    `db:"status"`
	Priority         string    `db:"priority"`
	DueDate          time.Time `db:"due_date"`
	AssignedTo       string    `db:"assigned_to"`
	CreatedBy        string    `db:"created_by"`
	IsRecurring      bool      `db:"is_recurring"`
	RecurringPattern string    `db:"recurring_pattern"`
	Version          int64     `db:"version"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
	AssigneeName     *string   `db:"assignee_name"`
	AssigneeEmail    *string   `db:"assignee_email"`
	CreatorName      *string   `db:"creator_name"`
	CreatorEmail     *string   `db:"creator_email"`
}

func (r taskRow) toTask() models.Task {
	t := models.Task{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		Status:           models.TaskStatus(r.Status),
		Priority:         models.Priority(r.Priority),
		DueDate:          r.DueDate.UTC(),
		AssignedTo:       r.AssignedTo,
		CreatedBy:        r.CreatedBy,
		IsRecurring:      r.IsRecurring,
		RecurringPattern: models.RecurrencePattern(r.RecurringPattern),
		Version:          r.Version,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if r.AssignedTo != "" && r.AssigneeName != nil {
		t.AssignedUser = &models.UserRef{ID: r.AssignedTo, Name: *r.AssigneeName, Email: deref(r.AssigneeEmail)}
	}
	if r.CreatorName != nil {
		t.Creator = &models.UserRef{ID: r.CreatedBy, Name: *r.CreatorName, Email: deref(r.CreatorEmail)}
	}
	return t
}

func toTasks(rows []taskRow) []models.Task {
	tasks := make([]models.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.toTask())
	}
	return tasks
}

type userRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) toUser() models.User {
	return models.User{ID: r.ID, Name: r.Name, Email: r.Email, Role: models.Role(r.Role), CreatedAt: r.CreatedAt.UTC()}
}

type notificationRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Title       string    `db:"title"`
	Message     string    `db:"message"`
	Type        string    `db:"type"`
	Read        bool      `db:"read"`
	RelatedTask string    `db:"related_task"`
	Timestamp   time.Time `db:"timestamp"`
}

func (r notificationRow) toNotification() models.Notification {
	return models.Notification{
		ID:          r.ID,
		User:        r.UserID,
		Title:       r.Title,
		Message:     r.Message,
		Type:        models.NotificationType(r.Type),
		Read:        r.Read,
		RelatedTask: r.RelatedTask,
		Timestamp:   r.Timestamp.UTC(),
	}
}

func toNotifications(rows []notificationRow) []models.Notification {
	out := make([]models.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toNotification())
	}
	return out
}

type auditRow struct {
	ID         string    `db:"id"`
	UserID     string    `db:"user_id"`
	Action     string    `db:"action"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Details    string    `db:"details"`
	IPAddress  string    `db:"ip_address"`
	UserAgent  string    `db:"user_agent"`
	Timestamp  time.Time `db:"timestamp"`
}

func toAuditLogs(rows []auditRow) ([]models.AuditLog, error) {
	out := make([]models.AuditLog, 0, len(rows))
	for _, r := range rows {
		l := models.AuditLog{
			ID:         r.ID,
			User:       r.UserID,
			Action:     r.Action,
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			IPAddress:  r.IPAddress,
			UserAgent:  r.UserAgent,
			Timestamp:  r.Timestamp.UTC(),
		}
		if r.Details != "" {
			if err := json.Unmarshal([]byte(r.Details), &l.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details %s: %w", r.ID, err)
			}
		}
		out = append(out, l)
	}
	return out, nil
}

func prepareUser(u *models.User) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = models.RoleMember
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
}

// prepareTask fills identity, defaults and timestamps for a new row.
func prepareTask(t *models.Task) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusTodo
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1
}

func prepareNotification(n *models.Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Type == "" {
		n.Type = models.NotificationSystem
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	n.Timestamp = n.Timestamp.UTC()
}

func prepareAuditLog(l *models.AuditLog) (string, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	l.Timestamp = l.Timestamp.UTC()
	return jsonText(l.Details)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type preferencesRow struct {
	UserID    string    `db:"user_id"`
	Settings  string    `db:"settings"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r preferencesRow) toPreferences() (*models.Preferences, error) {
	p := models.DefaultPreferences(r.UserID)
	if err := json.Unmarshal([]byte(r.Settings), &p); err != nil {
		return nil, fmt.Errorf("decode preferences for %s: %w", r.UserID, err)
	}
	p.User = r.UserID
	p.CreatedAt = r.CreatedAt.UTC()
	p.UpdatedAt = r.UpdatedAt.UTC()
	return &p, nil
}

// preparePreferences stamps p and returns the settings document to store.
func preparePreferences(p *models.Preferences) (string, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = now
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode preferences: %w", err)
	}
	return string(b), nil
}
