package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/taskpulse/taskpulse/internal/models"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs pending migrations.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection also keeps
	// the pragmas below and ":memory:" databases stable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) runMigrations() error {
	current := 0

	var tables int
	err := s.db.Get(&tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// --- Users ---

// CreateUser inserts u, assigning an ID when empty.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	prepareUser(u)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, string(u.Role), u.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateUser
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns the user with the given id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, email, role, created_at FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u := row.toUser()
	return &u, nil
}

// ListUsers returns every user ordered by name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, name, email, role, created_at FROM users ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]models.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

// --- Tasks ---

// CreateTask inserts t with version 1.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *models.Task) error {
	prepareTask(t)
	if err := insertTaskSQLite(ctx, s.db, t); err != nil {
		return err
	}
	return s.fillTaskRefs(ctx, t)
}

// GetTask returns the task with its assignee and creator display records.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, taskSelect+` WHERE t.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	t := row.toTask()
	return &t, nil
}

// ListTasks returns tasks matching f, most recently updated first.
func (s *SQLiteStore) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	var conditions []string
	var args []interface{}

	if f.Status != "" {
		conditions = append(conditions, "t.status = ?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		conditions = append(conditions, "t.priority = ?")
		args = append(args, f.Priority)
	}
	if f.AssignedTo != "" {
		conditions = append(conditions, "t.assigned_to = ?")
		args = append(args, f.AssignedTo)
	}
	if f.CreatedBy != "" {
		conditions = append(conditions, "t.created_by = ?")
		args = append(args, f.CreatedBy)
	}
	if f.Search != "" {
		conditions = append(conditions, "(t.title LIKE ? OR t.description LIKE ?)")
		q := "%" + f.Search + "%"
		args = append(args, q, q)
	}

	query := taskSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += taskPage(f)

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return toTasks(rows), nil
}

// UpdateTask writes every mutable field of t and bumps its version.
func (s *SQLiteStore) UpdateTask(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = time.Now().UTC()
	err := s.db.GetContext(ctx, &t.Version, `
		UPDATE tasks SET
			title = ?, description = ?, status = ?, priority = ?, due_date = ?,
			assigned_to = ?, is_recurring = ?, recurring_pattern = ?,
			updated_at = ?, version = version + 1
		WHERE id = ?
		RETURNING version`,
		t.Title, t.Description, string(t.Status), string(t.Priority), t.DueDate.UTC(),
		t.AssignedTo, boolToInt(t.IsRecurring), string(t.RecurringPattern),
		t.UpdatedAt, t.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	return s.fillTaskRefs(ctx, t)
}

// DeleteTask removes the task and its notifications in one transaction.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE related_task = ?`, id); err != nil {
		return fmt.Errorf("delete notifications for task %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ListRecurringTemplates returns every task flagged recurring with a pattern.
func (s *SQLiteStore) ListRecurringTemplates(ctx context.Context) ([]models.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows,
		taskSelect+` WHERE t.is_recurring = 1 AND t.recurring_pattern != '' ORDER BY t.created_at`)
	if err != nil {
		return nil, fmt.Errorf("list recurring templates: %w", err)
	}
	return toTasks(rows), nil
}

// CreateRecurringInstance claims (templateID, occurrenceDate) and inserts t in the same
// transaction.
func (s *SQLiteStore) CreateRecurringInstance(ctx context.Context, templateID, occurrenceDate string, t *models.Task) (bool, error) {
	prepareTask(t)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO recurring_occurrences (template_id, occurrence_date, task_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (template_id, occurrence_date) DO NOTHING`,
		templateID, occurrenceDate, t.ID, t.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("claim occurrence %s/%s: %w", templateID, occurrenceDate, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := insertTaskSQLite(ctx, tx, t); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit occurrence: %w", err)
	}
	// The occurrence is committed; missing display refs must not read as a failed insert.
	if err := s.fillTaskRefs(ctx, t); err != nil {
		log.Printf("Failed to load refs for recurring instance %s: %v", t.ID, err)
	}
	return true, nil
}

func insertTaskSQLite(ctx context.Context, db sqlx.ExecerContext, t *models.Task) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, title, description, status, priority, due_date,
			assigned_to, created_by, is_recurring, recurring_pattern,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.DueDate.UTC(),
		t.AssignedTo, t.CreatedBy, boolToInt(t.IsRecurring), string(t.RecurringPattern),
		t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// fillTaskRefs reloads the denormalized user records after a write.
func (s *SQLiteStore) fillTaskRefs(ctx context.Context, t *models.Task) error {
	got, err := s.GetTask(ctx, t.ID)
	if err != nil {
		return err
	}
	t.AssignedUser = got.AssignedUser
	t.Creator = got.Creator
	return nil
}

// --- Notifications ---

// CreateNotification inserts n, assigning an ID and timestamp when empty.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	prepareNotification(n)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, read, related_task, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.User, n.Title, n.Message, string(n.Type), boolToInt(n.Read), n.RelatedTask, n.Timestamp)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotification returns a single notification.
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row, notificationSelect+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	n := row.toNotification()
	return &n, nil
}

// ListNotifications returns the newest notifications for userID.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	var rows []notificationRow
	err := s.db.SelectContext(ctx, &rows,
		notificationSelect+` WHERE user_id = ? ORDER BY timestamp DESC LIMIT ?`,
		userID, clampLimit(limit, defaultListLimit))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return toNotifications(rows), nil
}

// MarkNotificationRead sets read and returns the updated notification.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("mark notification %s read: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetNotification(ctx, id)
}

// ClearNotifications deletes every notification owned by userID.
func (s *SQLiteStore) ClearNotifications(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Audit ---

// WriteAuditLog appends an audit entry.
func (s *SQLiteStore) WriteAuditLog(ctx context.Context, l *models.AuditLog) error {
	details, err := prepareAuditLog(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, details, ip_address, user_agent, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.User, l.Action, l.EntityType, l.EntityID, details, l.IPAddress, l.UserAgent, l.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns the newest audit entries first.
func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, action, entity_type, entity_id, details, ip_address, user_agent, timestamp
		FROM audit_logs ORDER BY timestamp DESC LIMIT ?`, clampLimit(limit, defaultListLimit))
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return toAuditLogs(rows)
}

// --- Preferences ---

// GetPreferences returns userID's stored preferences or ErrNotFound.
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (*models.Preferences, error) {
	var row preferencesRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, settings, created_at, updated_at
		FROM user_preferences WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences %s: %w", userID, err)
	}
	return row.toPreferences()
}

// SavePreferences upserts p, keeping the original creation time.
func (s *SQLiteStore) SavePreferences(ctx context.Context, p *models.Preferences) error {
	settings, err := preparePreferences(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			settings = excluded.settings,
			updated_at = excluded.updated_at`,
		p.User, settings, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save preferences %s: %w", p.User, err)
	}
	return nil
}

// DeletePreferences removes userID's stored preferences, if any.
func (s *SQLiteStore) DeletePreferences(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_preferences WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete preferences %s: %w", userID, err)
	}
	return nil
}

// --- Job runs ---

// GetJobRun returns the last recorded run of job, or nil if none exists.
func (s *SQLiteStore) GetJobRun(ctx context.Context, job string) (*models.JobRun, error) {
	var run models.JobRun
	err := s.db.GetContext(ctx, &run, `
		SELECT job, last_run_date, scanned, created, failed, finished_at
		FROM job_runs WHERE job = ?`, job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job run %s: %w", job, err)
	}
	return &run, nil
}

// SaveJobRun upserts the marker for run.Job.
func (s *SQLiteStore) SaveJobRun(ctx context.Context, run models.JobRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (job, last_run_date, scanned, created, failed, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job) DO UPDATE SET
			last_run_date = excluded.last_run_date,
			scanned = excluded.scanned,
			created = excluded.created,
			failed = excluded.failed,
			finished_at = excluded.finished_at`,
		run.Job, run.LastRunDate, run.Scanned, run.Created, run.Failed, run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("save job run %s: %w", run.Job, err)
	}
	return nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// jsonText is shared by both backends for the audit details column.
func jsonText(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal audit details: %w", err)
	}
	return string(b), nil
}
