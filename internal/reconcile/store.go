// Package reconcile keeps a client's local view of tasks and notifications
// consistent with the server: a REST snapshot establishes the baseline and pushed
// events are folded in on top of it.
package reconcile

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/taskpulse/taskpulse/internal/models"
)

// Snapshot is an immutable view of the store. Callers must not modify its slices.
type Snapshot struct {
	Hydrated      bool
	Tasks         []models.Task
	Notifications []models.Notification
	Unread        int
}

type state struct {
	hydrated      bool
	tasks         map[string]models.Task
	order         []models.Task
	tombstones    map[string]struct{}
	pendingTasks  []models.Event
	notifHydrated bool
	notifications []models.Notification
	pendingNotifs []models.Notification
}

// Store is safe for concurrent use. Writers are serialized; readers never block and
// never observe a partially applied change.
type Store struct {
	mu  sync.Mutex
	cur atomic.Pointer[state]
}

// New returns an empty, unhydrated store.
func New() *Store {
	s := &Store{}
	s.cur.Store(&state{tasks: map[string]models.Task{}, tombstones: map[string]struct{}{}})
	return s
}

// update applies fn to a private copy of the state and publishes it.
func (s *Store) update(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur.Load().clone()
	fn(next)
	next.order = sortedTasks(next.tasks)
	s.cur.Store(next)
}

func (st *state) clone() *state {
	next := *st
	next.tasks = make(map[string]models.Task, len(st.tasks))
	for id, t := range st.tasks {
		next.tasks[id] = t
	}
	next.tombstones = make(map[string]struct{}, len(st.tombstones))
	for id := range st.tombstones {
		next.tombstones[id] = struct{}{}
	}
	next.pendingTasks = append([]models.Event(nil), st.pendingTasks...)
	next.notifications = append([]models.Notification(nil), st.notifications...)
	next.pendingNotifs = append([]models.Notification(nil), st.pendingNotifs...)
	return &next
}

// Hydrate replaces the task cache with the authoritative list, then replays every
// task event that arrived before hydration, in arrival order.
func (s *Store) Hydrate(tasks []models.Task) {
	s.update(func(st *state) {
		st.tasks = make(map[string]models.Task, len(tasks))
		for _, t := range tasks {
			st.tasks[t.ID] = t
		}
		st.tombstones = map[string]struct{}{}
		st.hydrated = true

		pending := st.pendingTasks
		st.pendingTasks = nil
		for _, ev := range pending {
			switch ev.Kind {
			case models.EventTaskDeleted:
				st.deleteTask(ev.EntityID)
			default:
				if t, err := ev.Task(); err == nil {
					st.upsertTask(t)
				}
			}
		}
	})
}

// ApplyTaskUpdated upserts t. Before hydration the event is buffered.
func (s *Store) ApplyTaskUpdated(t models.Task) {
	s.update(func(st *state) {
		if !st.hydrated {
			st.pendingTasks = append(st.pendingTasks, models.TaskUpdatedEvent(&t))
			return
		}
		st.upsertTask(t)
	})
}

// ApplyTaskDeleted removes id if present. Before hydration the event is buffered.
func (s *Store) ApplyTaskDeleted(id string) {
	s.update(func(st *state) {
		if !st.hydrated {
			st.pendingTasks = append(st.pendingTasks, models.TaskDeletedEvent(id))
			return
		}
		st.deleteTask(id)
	})
}

// upsertTask ignores snapshots older than the cached one and ids deleted since the
// last hydrate.
func (st *state) upsertTask(t models.Task) {
	if _, gone := st.tombstones[t.ID]; gone {
		return
	}
	if cur, ok := st.tasks[t.ID]; ok && t.Version < cur.Version {
		return
	}
	st.tasks[t.ID] = t
}

func (st *state) deleteTask(id string) {
	delete(st.tasks, id)
	st.tombstones[id] = struct{}{}
}

// HydrateNotifications replaces the notification list, then replays notifications
// pushed before it was called.
func (s *Store) HydrateNotifications(list []models.Notification) {
	s.update(func(st *state) {
		st.notifications = append([]models.Notification(nil), list...)
		st.notifHydrated = true
		pending := st.pendingNotifs
		st.pendingNotifs = nil
		for _, n := range pending {
			st.addNotification(n)
		}
	})
}

// ApplyNotification prepends n, or replaces the entry with the same id.
func (s *Store) ApplyNotification(n models.Notification) {
	s.update(func(st *state) {
		if !st.notifHydrated {
			st.pendingNotifs = append(st.pendingNotifs, n)
			return
		}
		st.addNotification(n)
	})
}

func (st *state) addNotification(n models.Notification) {
	for i := range st.notifications {
		if st.notifications[i].ID == n.ID {
			st.notifications[i] = n
			return
		}
	}
	st.notifications = append([]models.Notification{n}, st.notifications...)
}

// MarkNotificationRead mirrors a successful mark-read call. It reports whether id
// was present.
func (s *Store) MarkNotificationRead(id string) bool {
	found := false
	s.update(func(st *state) {
		for i := range st.notifications {
			if st.notifications[i].ID == id {
				st.notifications[i].Read = true
				found = true
			}
		}
	})
	return found
}

// ClearNotifications mirrors a successful clear-all call.
func (s *Store) ClearNotifications() {
	s.update(func(st *state) {
		st.notifications = nil
		st.pendingNotifs = nil
	})
}

// Apply folds a pushed event into the store. Unknown kinds are ignored.
func (s *Store) Apply(ev models.Event) error {
	switch ev.Kind {
	case models.EventTaskUpdated, models.EventTaskAssigned:
		t, err := ev.Task()
		if err != nil {
			return err
		}
		s.ApplyTaskUpdated(t)
	case models.EventTaskDeleted:
		if ev.EntityID == "" {
			return fmt.Errorf("task-deleted event without id")
		}
		s.ApplyTaskDeleted(ev.EntityID)
	case models.EventNotification:
		n, err := ev.Notification()
		if err != nil {
			return err
		}
		s.ApplyNotification(n)
	}
	return nil
}

// Reset forgets hydration so the next Hydrate establishes a fresh baseline. Cached
// data stays readable until then.
func (s *Store) Reset() {
	s.update(func(st *state) {
		st.hydrated = false
		st.notifHydrated = false
		st.pendingTasks = nil
		st.pendingNotifs = nil
	})
}

// Hydrated reports whether a task baseline is in place.
func (s *Store) Hydrated() bool {
	return s.cur.Load().hydrated
}

// Tasks returns the cached tasks, most recently updated first.
func (s *Store) Tasks() []models.Task {
	return s.cur.Load().order
}

// Task returns a cached task by id.
func (s *Store) Task(id string) (models.Task, bool) {
	t, ok := s.cur.Load().tasks[id]
	return t, ok
}

// Notifications returns the cached notifications, newest first.
func (s *Store) Notifications() []models.Notification {
	return s.cur.Load().notifications
}

// UnreadCount counts unread notifications in the current list.
func (s *Store) UnreadCount() int {
	return countUnread(s.cur.Load().notifications)
}

// Snapshot returns a consistent view of everything at once.
func (s *Store) Snapshot() Snapshot {
	st := s.cur.Load()
	return Snapshot{
		Hydrated:      st.hydrated,
		Tasks:         st.order,
		Notifications: st.notifications,
		Unread:        countUnread(st.notifications),
	}
}

func countUnread(list []models.Notification) int {
	n := 0
	for _, x := range list {
		if !x.Read {
			n++
		}
	}
	return n
}

func sortedTasks(m map[string]models.Task) []models.Task {
	out := make([]models.Task, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
