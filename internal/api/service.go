// Package api provides the REST API and service layer for taskpulse.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/taskpulse/taskpulse/internal/audit"
	"github.com/taskpulse/taskpulse/internal/models"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/recurring"
	"github.com/taskpulse/taskpulse/internal/store"
)

const notificationListLimit = 50

// Service provides the task and notification business logic. Every successful
// mutation is persisted first and then pushed; a failed push never fails the call.
type Service struct {
	store     store.Store
	pub       realtime.Publisher
	audit     *audit.Recorder
	generator *recurring.Generator
}

// NewService creates a new service. gen may be nil when recurring generation is off.
func NewService(s store.Store, pub realtime.Publisher, gen *recurring.Generator) *Service {
	if pub == nil {
		pub = realtime.Discard
	}
	return &Service{
		store:     s,
		pub:       pub,
		audit:     audit.NewRecorder(s),
		generator: gen,
	}
}

// TaskInput carries create and update fields. Nil fields are left unchanged on
// update and defaulted on create.
type TaskInput struct {
	Title            *string                   `json:"title"`
	Description      *string                   `json:"description"`
	Status           *models.TaskStatus        `json:"status"`
	Priority         *models.Priority          `json:"priority"`
	DueDate          *time.Time                `json:"dueDate"`
	AssignedTo       *string                   `json:"assignedTo"`
	IsRecurring      *bool                     `json:"isRecurring"`
	RecurringPattern *models.RecurrencePattern `json:"recurringPattern"`
}

func (in TaskInput) apply(t *models.Task) {
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Status != nil {
		t.Status = *in.Status
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.DueDate != nil {
		t.DueDate = *in.DueDate
	}
	if in.AssignedTo != nil {
		t.AssignedTo = *in.AssignedTo
	}
	if in.IsRecurring != nil {
		t.IsRecurring = *in.IsRecurring
		if !t.IsRecurring {
			t.RecurringPattern = models.RecurNone
		}
	}
	if in.RecurringPattern != nil && t.IsRecurring {
		t.RecurringPattern = *in.RecurringPattern
	}
}

// --- Task Operations ---

// ListTasks returns tasks matching f, most recently updated first.
func (s *Service) ListTasks(ctx context.Context, f store.TaskFilter) ([]models.Task, error) {
	return s.store.ListTasks(ctx, f)
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// CreateTask creates a task owned by actor and notifies its assignee.
func (s *Service) CreateTask(ctx context.Context, actor *models.User, in TaskInput) (*models.Task, error) {
	t := &models.Task{
		Status:    models.TaskStatusTodo,
		Priority:  models.PriorityMedium,
		CreatedBy: actor.ID,
	}
	in.apply(t)
	if t.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: dueDate is required", ErrInvalidInput)
	}
	if err := s.validate(ctx, t); err != nil {
		return nil, err
	}

	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.record(ctx, audit.Entry{
		UserID: actor.ID, Action: audit.ActionCreate, EntityType: audit.EntityTask, EntityID: t.ID,
		Details: map[string]any{"title": t.Title, "assignedTo": t.AssignedTo},
	})

	s.pub.BroadcastTaskUpdate(t)
	if t.AssignedTo != "" {
		s.notify(ctx, &models.Notification{
			User:        t.AssignedTo,
			Title:       "New Task Assigned",
			Message:     "You have been assigned a new task: " + t.Title,
			Type:        models.NotificationTaskAssigned,
			RelatedTask: t.ID,
		})
		s.pub.SendTaskAssignment(t.AssignedTo, t)
	}
	return t, nil
}

// UpdateTask applies in to task id. Only the creator or a manager may update.
func (s *Service) UpdateTask(ctx context.Context, actor *models.User, id string, in TaskInput) (*models.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canModify(actor, t) {
		return nil, ErrForbidden
	}

	before := *t
	in.apply(t)
	if err := s.validate(ctx, t); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, s.mapStoreErr(err)
	}

	assigneeChanged := t.AssignedTo != "" && t.AssignedTo != before.AssignedTo
	s.record(ctx, audit.Entry{
		UserID: actor.ID, Action: audit.ActionUpdate, EntityType: audit.EntityTask, EntityID: t.ID,
		Details: changes(&before, t),
	})
	if assigneeChanged {
		s.record(ctx, audit.Entry{
			UserID: actor.ID, Action: audit.ActionAssign, EntityType: audit.EntityTask, EntityID: t.ID,
			Details: map[string]any{"from": before.AssignedTo, "to": t.AssignedTo},
		})
	}

	s.pub.BroadcastTaskUpdate(t)
	if assigneeChanged {
		s.notify(ctx, &models.Notification{
			User:        t.AssignedTo,
			Title:       "Task Assigned",
			Message:     "You have been assigned to the task: " + t.Title,
			Type:        models.NotificationTaskAssigned,
			RelatedTask: t.ID,
		})
		s.pub.SendTaskAssignment(t.AssignedTo, t)
	}
	if before.Status != models.TaskStatusCompleted && t.Status == models.TaskStatusCompleted {
		s.notifyCompleted(ctx, t)
	}
	return t, nil
}

// UpdateTaskStatus changes only the status. Any authenticated user may do this.
func (s *Service) UpdateTaskStatus(ctx context.Context, actor *models.User, id string, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrInvalidInput, status)
	}
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	prev := t.Status
	t.Status = status
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, s.mapStoreErr(err)
	}

	s.record(ctx, audit.Entry{
		UserID: actor.ID, Action: audit.ActionStatusChange, EntityType: audit.EntityTask, EntityID: t.ID,
		Details: map[string]any{"from": string(prev), "to": string(status)},
	})
	s.pub.BroadcastTaskUpdate(t)
	if prev != models.TaskStatusCompleted && status == models.TaskStatusCompleted {
		s.notifyCompleted(ctx, t)
	}
	return t, nil
}

// DeleteTask removes a task and its notifications. Only the creator or a manager may delete.
func (s *Service) DeleteTask(ctx context.Context, actor *models.User, id string) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !canModify(actor, t) {
		return ErrForbidden
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return s.mapStoreErr(err)
	}

	s.record(ctx, audit.Entry{
		UserID: actor.ID, Action: audit.ActionDelete, EntityType: audit.EntityTask, EntityID: id,
		Details: map[string]any{"title": t.Title},
	})
	s.pub.BroadcastTaskDelete(id)
	return nil
}

func (s *Service) notifyCompleted(ctx context.Context, t *models.Task) {
	s.notify(ctx, &models.Notification{
		User:        t.CreatedBy,
		Title:       "Task Completed",
		Message:     fmt.Sprintf("The task %q has been marked as completed", t.Title),
		Type:        models.NotificationTaskCompleted,
		RelatedTask: t.ID,
	})
}

// validate checks enums, the recurrence invariant and that the assignee exists.
func (s *Service) validate(ctx context.Context, t *models.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if t.AssignedTo == "" {
		return nil
	}
	if _, err := s.store.GetUser(ctx, t.AssignedTo); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown assignee %s", ErrInvalidInput, t.AssignedTo)
		}
		return err
	}
	return nil
}

func (s *Service) mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrTaskNotFound
	}
	return err
}

func canModify(actor *models.User, t *models.Task) bool {
	return actor.ID == t.CreatedBy || actor.Role.CanManage()
}

// changes lists the fields that differ between two versions of a task.
func changes(before, after *models.Task) map[string]any {
	var fields []string
	if before.Title != after.Title {
		fields = append(fields, "title")
	}
	if before.Description != after.Description {
		fields = append(fields, "description")
	}
	if before.Status != after.Status {
		fields = append(fields, "status")
	}
	if before.Priority != after.Priority {
		fields = append(fields, "priority")
	}
	if !before.DueDate.Equal(after.DueDate) {
		fields = append(fields, "dueDate")
	}
	if before.AssignedTo != after.AssignedTo {
		fields = append(fields, "assignedTo")
	}
	if before.IsRecurring != after.IsRecurring || before.RecurringPattern != after.RecurringPattern {
		fields = append(fields, "recurring")
	}
	return map[string]any{"fields": fields, "version": after.Version}
}

// --- Notification Operations ---

// ListNotifications returns actor's newest notifications.
func (s *Service) ListNotifications(ctx context.Context, actor *models.User) ([]models.Notification, error) {
	return s.store.ListNotifications(ctx, actor.ID, notificationListLimit)
}

// MarkNotificationRead marks one of actor's notifications as read and pushes the
// new state to actor's other connections.
func (s *Service) MarkNotificationRead(ctx context.Context, actor *models.User, id string) (*models.Notification, error) {
	n, err := s.store.GetNotification(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	if n.User != actor.ID {
		return nil, ErrForbidden
	}

	n, err = s.store.MarkNotificationRead(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	s.pub.SendNotification(n)
	return n, nil
}

// ClearNotifications deletes all of actor's notifications.
func (s *Service) ClearNotifications(ctx context.Context, actor *models.User) (int64, error) {
	n, err := s.store.ClearNotifications(ctx, actor.ID)
	if err != nil {
		return 0, err
	}
	s.record(ctx, audit.Entry{
		UserID: actor.ID, Action: audit.ActionDelete, EntityType: audit.EntityNotification,
		Details: map[string]any{"cleared": n},
	})
	return n, nil
}

// CreateTestNotification stores and pushes a system notification to actor.
func (s *Service) CreateTestNotification(ctx context.Context, actor *models.User, title, message string) (*models.Notification, error) {
	if title == "" {
		title = "Test Notification"
	}
	if message == "" {
		message = "This is a test notification"
	}
	n := &models.Notification{User: actor.ID, Title: title, Message: message, Type: models.NotificationSystem}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	s.pub.SendNotification(n)
	return n, nil
}

// notify persists n and pushes it, honoring the recipient's notification
// preferences. Failures are logged only.
func (s *Service) notify(ctx context.Context, n *models.Notification) {
	prefs := store.PreferencesFor(ctx, s.store, n.User)
	if !prefs.WantsInApp(n.Type) {
		return
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		log.Printf("Failed to store notification for user %s: %v", n.User, err)
		return
	}
	if prefs.WantsPush() {
		s.pub.SendNotification(n)
	}
}

// --- Preferences ---

// GetPreferences returns actor's preferences, storing the defaults on first use.
func (s *Service) GetPreferences(ctx context.Context, actor *models.User) (*models.Preferences, error) {
	p, err := s.store.GetPreferences(ctx, actor.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	def := models.DefaultPreferences(actor.ID)
	if err := s.store.SavePreferences(ctx, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// UpdatePreferences merges the JSON document patch into actor's preferences.
// Fields absent from patch keep their current values.
func (s *Service) UpdatePreferences(ctx context.Context, actor *models.User, patch []byte) (*models.Preferences, error) {
	p, err := s.GetPreferences(ctx, actor)
	if err != nil {
		return nil, err
	}
	user, created := p.User, p.CreatedAt
	if err := json.Unmarshal(patch, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p.User, p.CreatedAt = user, created
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.store.SavePreferences(ctx, p); err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{
		UserID: actor.ID, Action: audit.ActionUpdate, EntityType: audit.EntityUser, EntityID: actor.ID,
		Details: map[string]any{"preferences": "updated"},
	})
	return p, nil
}

// ResetPreferences replaces actor's preferences with the defaults.
func (s *Service) ResetPreferences(ctx context.Context, actor *models.User) (*models.Preferences, error) {
	if err := s.store.DeletePreferences(ctx, actor.ID); err != nil {
		return nil, err
	}
	def := models.DefaultPreferences(actor.ID)
	if err := s.store.SavePreferences(ctx, &def); err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{
		UserID: actor.ID, Action: audit.ActionUpdate, EntityType: audit.EntityUser, EntityID: actor.ID,
		Details: map[string]any{"preferences": "reset"},
	})
	return &def, nil
}

// --- Audit and Jobs ---

// ListAuditLogs returns the newest audit entries. Admin only.
func (s *Service) ListAuditLogs(ctx context.Context, actor *models.User, limit int) ([]models.AuditLog, error) {
	if actor.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.store.ListAuditLogs(ctx, limit)
}

// RunRecurring runs the recurring generator now. Managers and admins only.
func (s *Service) RunRecurring(ctx context.Context, actor *models.User) (recurring.Result, error) {
	if !actor.Role.CanManage() {
		return recurring.Result{}, ErrForbidden
	}
	if s.generator == nil {
		return recurring.Result{}, ErrRecurringDisabled
	}
	res, err := s.generator.Run(ctx, time.Now())
	if err != nil {
		return res, err
	}
	s.record(ctx, audit.Entry{
		UserID: actor.ID, Action: audit.ActionCreate, EntityType: audit.EntitySystem,
		Details: map[string]any{"job": recurring.JobName, "date": res.Date, "created": res.Created},
	})
	return res, nil
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type requestKey struct{}

func withRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// record writes an audit entry, adding the HTTP method and path when the call came
// through the server.
func (s *Service) record(ctx context.Context, e audit.Entry) {
	r, _ := ctx.Value(requestKey{}).(*http.Request)
	if r != nil {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details["method"] = r.Method
		e.Details["path"] = r.URL.Path
	}
	s.audit.Record(ctx, r, e)
}
