package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/models"
	"github.com/taskpulse/taskpulse/internal/recurring"
	"github.com/taskpulse/taskpulse/internal/store"
)

const testSecret = "test-secret"

// mockPublisher records pushed events by kind.
type mockPublisher struct {
	mu     sync.Mutex
	events []string
	notes  []models.Notification
}

func (m *mockPublisher) add(ev string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockPublisher) SendNotification(n *models.Notification) {
	m.mu.Lock()
	m.notes = append(m.notes, *n)
	m.mu.Unlock()
	m.add("notification:" + n.User)
}

func (m *mockPublisher) BroadcastTaskUpdate(t *models.Task) { m.add("task-updated:" + t.ID) }

func (m *mockPublisher) BroadcastTaskDelete(id string) { m.add("task-deleted:" + id) }

func (m *mockPublisher) SendTaskAssignment(userID string, t *models.Task) {
	m.add("task-assigned:" + userID + ":" + t.ID)
}

func (m *mockPublisher) has(ev string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e == ev {
			return true
		}
	}
	return false
}

type testEnv struct {
	store   *store.SQLiteStore
	pub     *mockPublisher
	handler http.Handler
	users   map[models.Role]*models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &testEnv{store: st, pub: &mockPublisher{}, users: map[models.Role]*models.User{}}
	for _, role := range []models.Role{models.RoleAdmin, models.RoleManager, models.RoleMember} {
		u := &models.User{Name: string(role), Email: string(role) + "@example.com", Role: role}
		if err := st.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
		env.users[role] = u
	}

	gen := recurring.NewGenerator(st, env.pub, recurring.Options{Location: time.UTC})
	svc := NewService(st, env.pub, gen)
	srv := NewServer(svc, auth.NewJWTVerifier(testSecret, "", st), nil, nil, "127.0.0.1:0")
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) newUser(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com", Role: models.RoleMember}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func token(t *testing.T, u *models.User) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{UserID: u.ID}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

// do sends a request as u (nil for anonymous) and decodes the response into out.
func (e *testEnv) do(t *testing.T, u *models.User, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, u))
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	if out != nil && w.Code < 300 {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return w.Code
}

func (e *testEnv) createTask(t *testing.T, u *models.User, body map[string]any) models.Task {
	t.Helper()
	if _, ok := body["dueDate"]; !ok {
		body["dueDate"] = "2024-03-05T17:00:00Z"
	}
	var task models.Task
	if code := e.do(t, u, http.MethodPost, "/api/tasks", body, &task); code != http.StatusCreated {
		t.Fatalf("Expected 201 creating task, got %d", code)
	}
	return task
}

func TestHealthEndpoint_OK(t *testing.T) {
	env := newTestEnv(t)

	var health HealthResponse
	if code := env.do(t, nil, http.MethodGet, "/health", nil, &health); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if !health.OK || health.DB != "ok" {
		t.Errorf("Unexpected health %+v", health)
	}
	if health.Version == "" || health.Time == "" {
		t.Error("Expected version and time to be set")
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	env := newTestEnv(t)
	env.store.Close()

	if code := env.do(t, nil, http.MethodGet, "/health", nil, nil); code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", code)
	}
}

func TestRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)

	if code := env.do(t, nil, http.MethodGet, "/api/tasks", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for malformed token, got %d", w.Code)
	}

	ghost := &models.User{ID: "ghost"}
	if code := env.do(t, ghost, http.MethodGet, "/api/tasks", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown user, got %d", code)
	}
}

func TestCreateTaskNotifiesAssignee(t *testing.T) {
	env := newTestEnv(t)
	creator := env.users[models.RoleMember]
	assignee := env.newUser(t, "bo")

	task := env.createTask(t, creator, map[string]any{"title": "Write report", "assignedTo": assignee.ID})

	if task.CreatedBy != creator.ID || task.Version != 1 || task.Status != models.TaskStatusTodo {
		t.Errorf("Unexpected task %+v", task)
	}
	if task.AssignedUser == nil || task.AssignedUser.Name != "bo" {
		t.Errorf("Expected assignee display record, got %+v", task.AssignedUser)
	}

	var notes []models.Notification
	env.do(t, assignee, http.MethodGet, "/api/notifications", nil, &notes)
	if len(notes) != 1 || notes[0].Title != "New Task Assigned" ||
		notes[0].Message != "You have been assigned a new task: Write report" || notes[0].RelatedTask != task.ID {
		t.Errorf("Unexpected notifications %+v", notes)
	}

	for _, ev := range []string{
		"task-updated:" + task.ID,
		"notification:" + assignee.ID,
		"task-assigned:" + assignee.ID + ":" + task.ID,
	} {
		if !env.pub.has(ev) {
			t.Errorf("Expected pushed event %s, got %v", ev, env.pub.events)
		}
	}

	logs, _ := env.store.ListAuditLogs(context.Background(), 10)
	if len(logs) != 1 || logs[0].Action != "create" || logs[0].Details["method"] != "POST" {
		t.Errorf("Expected create audit entry, got %+v", logs)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	u := env.users[models.RoleMember]

	cases := []map[string]any{
		{"title": "", "dueDate": "2024-03-05T17:00:00Z"},
		{"title": "no due"},
		{"title": "bad status", "dueDate": "2024-03-05T17:00:00Z", "status": "done"},
		{"title": "recurring", "dueDate": "2024-03-05T17:00:00Z", "isRecurring": true},
		{"title": "ghost", "dueDate": "2024-03-05T17:00:00Z", "assignedTo": "nobody"},
	}
	for i, body := range cases {
		if code := env.do(t, u, http.MethodPost, "/api/tasks", body, nil); code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, code)
		}
	}
}

func TestUpdateTaskPermissionsAndNotifications(t *testing.T) {
	env := newTestEnv(t)
	creator := env.users[models.RoleMember]
	other := env.newUser(t, "other")
	manager := env.users[models.RoleManager]

	task := env.createTask(t, creator, map[string]any{"title": "Plan"})

	if code := env.do(t, other, http.MethodPut, "/api/tasks/"+task.ID, map[string]any{"title": "Hijack"}, nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-creator, got %d", code)
	}

	var updated models.Task
	code := env.do(t, manager, http.MethodPut, "/api/tasks/"+task.ID, map[string]any{"assignedTo": other.ID}, &updated)
	if code != http.StatusOK {
		t.Fatalf("Expected 200 for manager, got %d", code)
	}
	if updated.Version != 2 || updated.Title != "Plan" || updated.AssignedTo != other.ID {
		t.Errorf("Unexpected update %+v", updated)
	}

	var notes []models.Notification
	env.do(t, other, http.MethodGet, "/api/notifications", nil, &notes)
	if len(notes) != 1 || notes[0].Title != "Task Assigned" || notes[0].Message != "You have been assigned to the task: Plan" {
		t.Errorf("Expected assignment notification, got %+v", notes)
	}

	// Same assignee again: no new notification.
	env.do(t, creator, http.MethodPut, "/api/tasks/"+task.ID, map[string]any{"assignedTo": other.ID, "status": "completed"}, nil)
	notes = nil
	env.do(t, other, http.MethodGet, "/api/notifications", nil, &notes)
	if len(notes) != 1 {
		t.Errorf("Unchanged assignee should not be notified again, got %d", len(notes))
	}

	var creatorNotes []models.Notification
	env.do(t, creator, http.MethodGet, "/api/notifications", nil, &creatorNotes)
	if len(creatorNotes) != 1 || creatorNotes[0].Type != models.NotificationTaskCompleted {
		t.Errorf("Expected completion notification for creator, got %+v", creatorNotes)
	}

	if code := env.do(t, creator, http.MethodPut, "/api/tasks/missing", map[string]any{"title": "x"}, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", code)
	}
}

func TestPatchStatusCompletes(t *testing.T) {
	env := newTestEnv(t)
	creator := env.users[models.RoleMember]
	worker := env.newUser(t, "worker")
	task := env.createTask(t, creator, map[string]any{"title": "Ship"})

	var got models.Task
	if code := env.do(t, worker, http.MethodPatch, "/api/tasks/"+task.ID, map[string]any{"status": "completed"}, &got); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if got.Status != models.TaskStatusCompleted || got.Version != 2 {
		t.Errorf("Unexpected task %+v", got)
	}
	env.do(t, worker, http.MethodPatch, "/api/tasks/"+task.ID, map[string]any{"status": "completed"}, nil)

	var notes []models.Notification
	env.do(t, creator, http.MethodGet, "/api/notifications", nil, &notes)
	if len(notes) != 1 {
		t.Fatalf("Expected exactly one completion notification, got %d", len(notes))
	}
	if want := fmt.Sprintf("The task %q has been marked as completed", "Ship"); notes[0].Message != want {
		t.Errorf("Expected %q, got %q", want, notes[0].Message)
	}

	if code := env.do(t, worker, http.MethodPatch, "/api/tasks/"+task.ID, map[string]any{"status": "done"}, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid status, got %d", code)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	env := newTestEnv(t)
	creator := env.users[models.RoleMember]
	assignee := env.newUser(t, "bo")
	task := env.createTask(t, creator, map[string]any{"title": "Temp", "assignedTo": assignee.ID})

	if code := env.do(t, assignee, http.MethodDelete, "/api/tasks/"+task.ID, nil, nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for assignee, got %d", code)
	}
	if code := env.do(t, creator, http.MethodDelete, "/api/tasks/"+task.ID, nil, nil); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if code := env.do(t, creator, http.MethodGet, "/api/tasks/"+task.ID, nil, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", code)
	}

	var notes []models.Notification
	env.do(t, assignee, http.MethodGet, "/api/notifications", nil, &notes)
	if len(notes) != 0 {
		t.Errorf("Expected related notifications removed, got %d", len(notes))
	}
	if !env.pub.has("task-deleted:" + task.ID) {
		t.Error("Expected task-deleted push")
	}
}

func TestListTasksFilters(t *testing.T) {
	env := newTestEnv(t)
	u := env.users[models.RoleMember]
	env.createTask(t, u, map[string]any{"title": "Alpha report", "priority": "high"})
	env.createTask(t, u, map[string]any{"title": "Beta", "priority": "low"})

	var tasks []models.Task
	env.do(t, u, http.MethodGet, "/api/tasks?priority=high", nil, &tasks)
	if len(tasks) != 1 || tasks[0].Title != "Alpha report" {
		t.Errorf("Priority filter: %+v", tasks)
	}

	tasks = nil
	env.do(t, u, http.MethodGet, "/api/tasks?search=beta", nil, &tasks)
	if len(tasks) != 1 || tasks[0].Title != "Beta" {
		t.Errorf("Search filter: %+v", tasks)
	}

	tasks = nil
	env.do(t, u, http.MethodGet, "/api/tasks?status=completed", nil, &tasks)
	if tasks == nil || len(tasks) != 0 {
		t.Errorf("Expected empty list, got %v", tasks)
	}
}

func TestListTasksPaging(t *testing.T) {
	env := newTestEnv(t)
	u := env.users[models.RoleMember]
	for i := 0; i < 5; i++ {
		env.createTask(t, u, map[string]any{"title": fmt.Sprintf("Task %d", i)})
	}

	var all []models.Task
	env.do(t, u, http.MethodGet, "/api/tasks", nil, &all)
	if len(all) != 5 {
		t.Fatalf("Expected every task without a limit, got %d", len(all))
	}

	seen := map[string]bool{}
	for offset := 0; offset < 6; offset += 2 {
		var page []models.Task
		env.do(t, u, http.MethodGet, fmt.Sprintf("/api/tasks?limit=2&offset=%d", offset), nil, &page)
		for _, task := range page {
			seen[task.ID] = true
		}
	}
	if len(seen) != 5 {
		t.Errorf("Expected pages to cover 5 tasks, got %d", len(seen))
	}

	if code := env.do(t, u, http.MethodGet, "/api/tasks?limit=-1", nil, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative limit, got %d", code)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	u := env.users[models.RoleMember]
	other := env.newUser(t, "other")

	var n models.Notification
	if code := env.do(t, u, http.MethodPost, "/api/notifications/test", map[string]any{}, &n); code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	if n.Title != "Test Notification" || n.Message != "This is a test notification" || n.Type != models.NotificationSystem || n.Read {
		t.Errorf("Unexpected test notification %+v", n)
	}

	if code := env.do(t, other, http.MethodPut, "/api/notifications/"+n.ID+"/read", nil, nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-owner, got %d", code)
	}
	var read models.Notification
	if code := env.do(t, u, http.MethodPut, "/api/notifications/"+n.ID+"/read", nil, &read); code != http.StatusOK || !read.Read {
		t.Errorf("Expected read notification, got %d %+v", code, read)
	}
	if code := env.do(t, u, http.MethodPut, "/api/notifications/missing/read", nil, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", code)
	}

	env.do(t, u, http.MethodPost, "/api/notifications/test", map[string]any{"title": "Hi", "message": "there"}, nil)
	if code := env.do(t, u, http.MethodDelete, "/api/notifications/clear", nil, nil); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	var notes []models.Notification
	env.do(t, u, http.MethodGet, "/api/notifications", nil, &notes)
	if len(notes) != 0 {
		t.Errorf("Expected no notifications after clear, got %d", len(notes))
	}
}

func TestPreferencesEndpoints(t *testing.T) {
	env := newTestEnv(t)
	u := env.users[models.RoleMember]

	var p models.Preferences
	if code := env.do(t, u, http.MethodGet, "/api/preferences", nil, &p); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if p.User != u.ID || p.Theme.Mode != models.ThemeSystem || !p.Notifications.InApp.TaskAssigned {
		t.Errorf("Expected default preferences, got %+v", p)
	}

	patch := map[string]any{
		"theme":         map[string]any{"mode": "dark"},
		"notifications": map[string]any{"inApp": map[string]any{"taskUpdated": false}},
	}
	if code := env.do(t, u, http.MethodPut, "/api/preferences", patch, &p); code != http.StatusOK {
		t.Fatalf("Expected 200 on update, got %d", code)
	}
	if p.Theme.Mode != models.ThemeDark || p.Theme.Color != "blue" {
		t.Errorf("Expected theme merged, got %+v", p.Theme)
	}
	if p.Notifications.InApp.TaskUpdated || !p.Notifications.InApp.TaskAssigned || !p.Notifications.InApp.Enabled {
		t.Errorf("Expected only taskUpdated cleared, got %+v", p.Notifications.InApp)
	}

	bad := map[string]any{"theme": map[string]any{"mode": "sepia"}}
	if code := env.do(t, u, http.MethodPut, "/api/preferences", bad, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown theme, got %d", code)
	}
	env.do(t, u, http.MethodGet, "/api/preferences", nil, &p)
	if p.Theme.Mode != models.ThemeDark {
		t.Errorf("Rejected update must not be stored, got %+v", p.Theme)
	}

	if code := env.do(t, u, http.MethodPost, "/api/preferences/reset", nil, &p); code != http.StatusOK {
		t.Fatalf("Expected 200 on reset, got %d", code)
	}
	if p.Theme.Mode != models.ThemeSystem || !p.Notifications.InApp.TaskUpdated {
		t.Errorf("Expected defaults after reset, got %+v", p)
	}
}

func TestNotificationPreferencesGateDelivery(t *testing.T) {
	env := newTestEnv(t)
	creator := env.users[models.RoleMember]
	muted := env.newUser(t, "muted")
	quiet := env.newUser(t, "quiet")

	env.do(t, muted, http.MethodPut, "/api/preferences",
		map[string]any{"notifications": map[string]any{"inApp": map[string]any{"taskAssigned": false}}}, nil)
	env.do(t, quiet, http.MethodPut, "/api/preferences",
		map[string]any{"notifications": map[string]any{"realTime": map[string]any{"enabled": false}}}, nil)

	t1 := env.createTask(t, creator, map[string]any{"title": "For muted", "assignedTo": muted.ID})
	t2 := env.createTask(t, creator, map[string]any{"title": "For quiet", "assignedTo": quiet.ID})

	var notes []models.Notification
	env.do(t, muted, http.MethodGet, "/api/notifications", nil, &notes)
	if len(notes) != 0 {
		t.Errorf("Expected no stored notification for muted user, got %+v", notes)
	}
	env.do(t, quiet, http.MethodGet, "/api/notifications", nil, &notes)
	if len(notes) != 1 {
		t.Errorf("Expected quiet user's notification stored, got %+v", notes)
	}

	for _, u := range []*models.User{muted, quiet} {
		if env.pub.has("notification:" + u.ID) {
			t.Errorf("Expected no notification push to %s", u.Name)
		}
	}
	if !env.pub.has("task-assigned:"+muted.ID+":"+t1.ID) || !env.pub.has("task-assigned:"+quiet.ID+":"+t2.ID) {
		t.Errorf("Task assignment events must still be pushed, got %v", env.pub.events)
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	env.createTask(t, env.users[models.RoleMember], map[string]any{"title": "Logged"})

	if code := env.do(t, env.users[models.RoleManager], http.MethodGet, "/api/audit-logs", nil, nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for manager, got %d", code)
	}
	var logs []models.AuditLog
	if code := env.do(t, env.users[models.RoleAdmin], http.MethodGet, "/api/audit-logs?limit=5", nil, &logs); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(logs) != 1 || logs[0].EntityType != "task" {
		t.Errorf("Unexpected audit logs %+v", logs)
	}
	if code := env.do(t, env.users[models.RoleAdmin], http.MethodGet, "/api/audit-logs?limit=x", nil, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", code)
	}
}

func TestRunRecurring(t *testing.T) {
	env := newTestEnv(t)
	manager := env.users[models.RoleManager]
	env.createTask(t, manager, map[string]any{
		"title": "Daily standup", "isRecurring": true, "recurringPattern": "daily",
		"dueDate": time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339),
	})

	if code := env.do(t, env.users[models.RoleMember], http.MethodPost, "/api/recurring/run", nil, nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for member, got %d", code)
	}

	var res recurring.Result
	if code := env.do(t, manager, http.MethodPost, "/api/recurring/run", nil, &res); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if res.Created != 1 {
		t.Errorf("Expected one instance, got %+v", res)
	}

	res = recurring.Result{}
	env.do(t, manager, http.MethodPost, "/api/recurring/run", nil, &res)
	if res.Created != 0 || res.Skipped != 1 {
		t.Errorf("Second run should skip, got %+v", res)
	}
}

func TestWriteServiceError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrTaskNotFound, http.StatusNotFound},
		{ErrNotificationNotFound, http.StatusNotFound},
		{ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: title is required", ErrInvalidInput), http.StatusBadRequest},
		{recurring.ErrRunInProgress, http.StatusConflict},
		{ErrRecurringDisabled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		writeServiceError(w, tc.err)
		if w.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}
