package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/models"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/recurring"
	"github.com/taskpulse/taskpulse/internal/store"
)

// Version is reported by /health. Set at build time by the binary.
var Version = "dev"

// Server provides the HTTP API for taskpulse.
type Server struct {
	service  *Service
	verifier auth.Verifier
	hub      *realtime.Hub
	ws       http.Handler
	addr     string
	server   *http.Server
}

// NewServer creates a new HTTP server. ws serves GET /ws and may be nil.
func NewServer(service *Service, verifier auth.Verifier, hub *realtime.Hub, ws http.Handler, addr string) *Server {
	return &Server{
		service:  service,
		verifier: verifier,
		hub:      hub,
		ws:       ws,
		addr:     addr,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Task endpoints
	mux.HandleFunc("GET /api/tasks", s.authed(s.listTasks))
	mux.HandleFunc("POST /api/tasks", s.authed(s.createTask))
	mux.HandleFunc("GET /api/tasks/{id}", s.authed(s.getTask))
	mux.HandleFunc("PUT /api/tasks/{id}", s.authed(s.updateTask))
	mux.HandleFunc("PATCH /api/tasks/{id}", s.authed(s.updateTaskStatus))
	mux.HandleFunc("DELETE /api/tasks/{id}", s.authed(s.deleteTask))

	// Notification endpoints
	mux.HandleFunc("GET /api/notifications", s.authed(s.listNotifications))
	mux.HandleFunc("PUT /api/notifications/{id}/read", s.authed(s.markNotificationRead))
	mux.HandleFunc("DELETE /api/notifications/clear", s.authed(s.clearNotifications))
	mux.HandleFunc("POST /api/notifications/test", s.authed(s.testNotification))

	// Preference endpoints
	mux.HandleFunc("GET /api/preferences", s.authed(s.getPreferences))
	mux.HandleFunc("PUT /api/preferences", s.authed(s.updatePreferences))
	mux.HandleFunc("POST /api/preferences/reset", s.authed(s.resetPreferences))

	mux.HandleFunc("GET /api/audit-logs", s.authed(s.listAuditLogs))
	mux.HandleFunc("POST /api/recurring/run", s.authed(s.runRecurring))
	mux.HandleFunc("GET /api/me", s.authed(s.me))

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	log.Printf("Starting taskpulse server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server. Hijacked websocket connections are
// not tracked by http.Server; the hub closes those.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user *models.User)

// authed verifies the bearer token and passes the user to h.
func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.verifier.Verify(r.Context(), auth.BearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := auth.WithUser(withRequest(r.Context(), r), user)
		h(w, r.WithContext(ctx), user)
	}
}

// --- Health ---

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK       bool           `json:"ok"`
	DB       string         `json:"db"`
	Version  string         `json:"version"`
	Time     string         `json:"time"`
	Realtime realtime.Stats `json:"realtime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.hub != nil {
		resp.Realtime = s.hub.Stats()
	}

	status := http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request, user *models.User) {
	writeJSON(w, http.StatusOK, user)
}

// --- Task Handlers ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request, _ *models.User) {
	q := r.URL.Query()
	f := store.TaskFilter{
		Status:     q.Get("status"),
		Priority:   q.Get("priority"),
		AssignedTo: q.Get("assignedTo"),
		CreatedBy:  q.Get("createdBy"),
		Search:     q.Get("search"),
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = n
		}
	}
	tasks, err := s.service.ListTasks(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request, _ *models.User) {
	task, err := s.service.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request, user *models.User) {
	var in TaskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	task, err := s.service.CreateTask(r.Context(), user, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, user *models.User) {
	var in TaskInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	task, err := s.service.UpdateTask(r.Context(), user, r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type statusRequest struct {
	Status models.TaskStatus `json:"status"`
}

func (s *Server) updateTaskStatus(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	task, err := s.service.UpdateTaskStatus(r.Context(), user, r.PathValue("id"), req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, user *models.User) {
	if err := s.service.DeleteTask(r.Context(), user, r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

// --- Notification Handlers ---

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request, user *models.User) {
	list, err := s.service.ListNotifications(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request, user *models.User) {
	n, err := s.service.MarkNotificationRead(r.Context(), user, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) clearNotifications(w http.ResponseWriter, r *http.Request, user *models.User) {
	n, err := s.service.ClearNotifications(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "All notifications cleared", "cleared": n})
}

type testNotificationRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (s *Server) testNotification(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req testNotificationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	n, err := s.service.CreateTestNotification(r.Context(), user, req.Title, req.Message)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// --- Preference Handlers ---

func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request, user *models.User) {
	p, err := s.service.GetPreferences(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request, user *models.User) {
	var patch json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := s.service.UpdatePreferences(r.Context(), user, patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) resetPreferences(w http.ResponseWriter, r *http.Request, user *models.User) {
	p, err := s.service.ResetPreferences(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Audit and Jobs ---

func (s *Server) listAuditLogs(w http.ResponseWriter, r *http.Request, user *models.User) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	logs, err := s.service.ListAuditLogs(r.Context(), user, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) runRecurring(w http.ResponseWriter, r *http.Request, user *models.User) {
	res, err := s.service.RunRecurring(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeServiceError maps service errors to status codes. Unexpected errors are
// logged and reported without detail.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, recurring.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrRecurringDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server error")
	}
}
