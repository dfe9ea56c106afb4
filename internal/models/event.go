package models

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies a real-time event.
type EventKind string

const (
	EventNotification EventKind = "notification"
	EventTaskUpdated  EventKind = "task-updated"
	EventTaskDeleted  EventKind = "task-deleted"
	EventTaskAssigned EventKind = "task-assigned"

	// EventReady is the first frame on every admitted connection. Anything pushed to
	// the user after it will reach the connection.
	EventReady EventKind = "ready"
)

// TargetBroadcast addresses every live connection.
const TargetBroadcast = "broadcast"

// Event is an immutable message pushed to connected clients. Payload carries a full
// entity snapshot for every kind except task-deleted, which only sets EntityID.
type Event struct {
	Kind     EventKind       `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	EntityID string          `json:"entityId,omitempty"`
	Target   string          `json:"target"`
	Version  int64           `json:"version,omitempty"`
}

// TaskUpdatedEvent is broadcast after any task create or update.
func TaskUpdatedEvent(t *Task) Event {
	return taskEvent(EventTaskUpdated, TargetBroadcast, t)
}

// TaskAssignedEvent is sent only to the new assignee.
func TaskAssignedEvent(userID string, t *Task) Event {
	return taskEvent(EventTaskAssigned, userID, t)
}

// TaskDeletedEvent carries the identifier only.
func TaskDeletedEvent(taskID string) Event {
	return Event{Kind: EventTaskDeleted, EntityID: taskID, Target: TargetBroadcast}
}

// NotificationEvent targets the notification's owner.
func NotificationEvent(n *Notification) Event {
	// Notification has no fields json can fail on.
	payload, _ := json.Marshal(n)
	return Event{Kind: EventNotification, Payload: payload, EntityID: n.ID, Target: n.User}
}

func taskEvent(kind EventKind, target string, t *Task) Event {
	payload, _ := json.Marshal(t)
	return Event{Kind: kind, Payload: payload, EntityID: t.ID, Target: target, Version: t.Version}
}

// Task decodes the payload of a task-updated or task-assigned event.
func (e Event) Task() (Task, error) {
	var t Task
	if e.Kind != EventTaskUpdated && e.Kind != EventTaskAssigned {
		return t, fmt.Errorf("event %s carries no task", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, &t); err != nil {
		return t, fmt.Errorf("decode task payload: %w", err)
	}
	return t, nil
}

// Notification decodes the payload of a notification event.
func (e Event) Notification() (Notification, error) {
	var n Notification
	if e.Kind != EventNotification {
		return n, fmt.Errorf("event %s carries no notification", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		return n, fmt.Errorf("decode notification payload: %w", err)
	}
	return n, nil
}
