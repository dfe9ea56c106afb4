package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskpulse/taskpulse/internal/models"
)

// PgStore implements Store on PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore connects to url and runs pending migrations.
func NewPgStore(ctx context.Context, url string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PgStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// EnsureSchema applies every migration newer than the recorded schema version.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	current := 0
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass('schema_version') IS NOT NULL`).Scan(&exists); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if exists {
		if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range pgMigrations {
		if m.version <= current {
			continue
		}
		if _, err := s.pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks a pooled connection.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// pgTime drops precision postgres cannot store so values round-trip exactly.
func pgTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// rebind turns "?" placeholders into "$n".
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- Users ---

func (s *PgStore) CreateUser(ctx context.Context, u *models.User) error {
	prepareUser(u)
	u.CreatedAt = pgTime(u.CreatedAt)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, role, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Name, u.Email, string(u.Role), u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateUser
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PgStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	rows, _ := s.pool.Query(ctx, `SELECT id, name, email, role, created_at FROM users WHERE id = $1`, id)
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[userRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u := row.toUser()
	return &u, nil
}

func (s *PgStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, _ := s.pool.Query(ctx, `SELECT id, name, email, role, created_at FROM users ORDER BY name`)
	urows, err := pgx.CollectRows(rows, pgx.RowToStructByName[userRow])
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := make([]models.User, 0, len(urows))
	for _, r := range urows {
		users = append(users, r.toUser())
	}
	return users, nil
}

// --- Tasks ---

func (s *PgStore) CreateTask(ctx context.Context, t *models.Task) error {
	prepareTask(t)
	t.CreatedAt, t.UpdatedAt = pgTime(t.CreatedAt), pgTime(t.UpdatedAt)
	if err := insertTaskPg(ctx, s.pool, t); err != nil {
		return err
	}
	return s.fillTaskRefs(ctx, t)
}

func (s *PgStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	rows, _ := s.pool.Query(ctx, taskSelect+` WHERE t.id = $1`, id)
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[taskRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	t := row.toTask()
	return &t, nil
}

func (s *PgStore) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	var conditions []string
	var args []any

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
		conditions = append(conditions, "(t.title ILIKE ? OR t.description ILIKE ?)")
		q := "%" + f.Search + "%"
		args = append(args, q, q)
	}

	query := taskSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += taskPage(f)

	rows, _ := s.pool.Query(ctx, rebind(query), args...)
	trows, err := pgx.CollectRows(rows, pgx.RowToStructByName[taskRow])
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return toTasks(trows), nil
}

func (s *PgStore) UpdateTask(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = pgTime(time.Now())
	err := s.pool.QueryRow(ctx, `
		UPDATE tasks SET
			title = $1, description = $2, status = $3, priority = $4, due_date = $5,
			assigned_to = $6, is_recurring = $7, recurring_pattern = $8,
			updated_at = $9, version = version + 1
		WHERE id = $10
		RETURNING version`,
		t.Title, t.Description, string(t.Status), string(t.Priority), pgTime(t.DueDate),
		t.AssignedTo, t.IsRecurring, string(t.RecurringPattern),
		t.UpdatedAt, t.ID).Scan(&t.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	return s.fillTaskRefs(ctx, t)
}

func (s *PgStore) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM notifications WHERE related_task = $1`, id); err != nil {
		return fmt.Errorf("delete notifications for task %s: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *PgStore) ListRecurringTemplates(ctx context.Context) ([]models.Task, error) {
	rows, _ := s.pool.Query(ctx,
		taskSelect+` WHERE t.is_recurring AND t.recurring_pattern != '' ORDER BY t.created_at`)
	trows, err := pgx.CollectRows(rows, pgx.RowToStructByName[taskRow])
	if err != nil {
		return nil, fmt.Errorf("list recurring templates: %w", err)
	}
	return toTasks(trows), nil
}

func (s *PgStore) CreateRecurringInstance(ctx context.Context, templateID, occurrenceDate string, t *models.Task) (bool, error) {
	prepareTask(t)
	t.CreatedAt, t.UpdatedAt = pgTime(t.CreatedAt), pgTime(t.UpdatedAt)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO recurring_occurrences (template_id, occurrence_date, task_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (template_id, occurrence_date) DO NOTHING`,
		templateID, occurrenceDate, t.ID, t.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("claim occurrence %s/%s: %w", templateID, occurrenceDate, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := insertTaskPg(ctx, tx, t); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit occurrence: %w", err)
	}
	// The occurrence is committed; missing display refs must not read as a failed insert.
	if err := s.fillTaskRefs(ctx, t); err != nil {
		log.Printf("Failed to load refs for recurring instance %s: %v", t.ID, err)
	}
	return true, nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertTaskPg(ctx context.Context, db pgExecer, t *models.Task) error {
	_, err := db.Exec(ctx, `
		INSERT INTO tasks (
			id, title, description, status, priority, due_date,
			assigned_to, created_by, is_recurring, recurring_pattern,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), pgTime(t.DueDate),
		t.AssignedTo, t.CreatedBy, t.IsRecurring, string(t.RecurringPattern),
		t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PgStore) fillTaskRefs(ctx context.Context, t *models.Task) error {
	got, err := s.GetTask(ctx, t.ID)
	if err != nil {
		return err
	}
	t.AssignedUser = got.AssignedUser
	t.Creator = got.Creator
	return nil
}

// --- Notifications ---

func (s *PgStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	prepareNotification(n)
	n.Timestamp = pgTime(n.Timestamp)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, read, related_task, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.User, n.Title, n.Message, string(n.Type), n.Read, n.RelatedTask, n.Timestamp)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PgStore) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	rows, _ := s.pool.Query(ctx, notificationSelect+` WHERE id = $1`, id)
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[notificationRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	n := row.toNotification()
	return &n, nil
}

func (s *PgStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	rows, _ := s.pool.Query(ctx,
		notificationSelect+` WHERE user_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		userID, clampLimit(limit, defaultListLimit))
	nrows, err := pgx.CollectRows(rows, pgx.RowToStructByName[notificationRow])
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return toNotifications(nrows), nil
}

func (s *PgStore) MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("mark notification %s read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetNotification(ctx, id)
}

func (s *PgStore) ClearNotifications(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Audit ---

func (s *PgStore) WriteAuditLog(ctx context.Context, l *models.AuditLog) error {
	details, err := prepareAuditLog(l)
	if err != nil {
		return err
	}
	l.Timestamp = pgTime(l.Timestamp)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, details, ip_address, user_agent, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)`,
		l.ID, l.User, l.Action, l.EntityType, l.EntityID, details, l.IPAddress, l.UserAgent, l.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PgStore) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	rows, _ := s.pool.Query(ctx, `
		SELECT id, user_id, action, entity_type, entity_id, details::text AS details,
		       ip_address, user_agent, timestamp
		FROM audit_logs ORDER BY timestamp DESC LIMIT $1`, clampLimit(limit, defaultListLimit))
	arows, err := pgx.CollectRows(rows, pgx.RowToStructByName[auditRow])
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return toAuditLogs(arows)
}

// --- Preferences ---

func (s *PgStore) GetPreferences(ctx context.Context, userID string) (*models.Preferences, error) {
	rows, _ := s.pool.Query(ctx, `
		SELECT user_id, settings::text AS settings, created_at, updated_at
		FROM user_preferences WHERE user_id = $1`, userID)
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[preferencesRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences %s: %w", userID, err)
	}
	return row.toPreferences()
}

func (s *PgStore) SavePreferences(ctx context.Context, p *models.Preferences) error {
	settings, err := preparePreferences(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_preferences (user_id, settings, created_at, updated_at)
		VALUES ($1, $2::jsonb, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at`,
		p.User, settings, pgTime(p.CreatedAt), pgTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save preferences %s: %w", p.User, err)
	}
	return nil
}

func (s *PgStore) DeletePreferences(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM user_preferences WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete preferences %s: %w", userID, err)
	}
	return nil
}

// --- Job runs ---

func (s *PgStore) GetJobRun(ctx context.Context, job string) (*models.JobRun, error) {
	rows, _ := s.pool.Query(ctx, `
		SELECT job, last_run_date, scanned, created, failed, finished_at
		FROM job_runs WHERE job = $1`, job)
	run, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[models.JobRun])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job run %s: %w", job, err)
	}
	return &run, nil
}

func (s *PgStore) SaveJobRun(ctx context.Context, run models.JobRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (job, last_run_date, scanned, created, failed, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job) DO UPDATE SET
			last_run_date = EXCLUDED.last_run_date,
			scanned = EXCLUDED.scanned,
			created = EXCLUDED.created,
			failed = EXCLUDED.failed,
			finished_at = EXCLUDED.finished_at`,
		run.Job, run.LastRunDate, run.Scanned, run.Created, run.Failed, pgTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("save job run %s: %w", run.Job, err)
	}
	return nil
}
