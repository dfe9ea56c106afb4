package realtime

import "github.com/taskpulse/taskpulse/internal/models"

// Publisher is what the REST layer and the recurring generator use to push
// changes. None of its methods block on client I/O or return errors.
type Publisher interface {
	SendNotification(n *models.Notification)
	BroadcastTaskUpdate(t *models.Task)
	BroadcastTaskDelete(taskID string)
	SendTaskAssignment(userID string, t *models.Task)
}

// SendNotification pushes n to its owner.
func (h *Hub) SendNotification(n *models.Notification) {
	h.Notify(n.User, models.NotificationEvent(n))
}

// BroadcastTaskUpdate pushes a task snapshot to everyone.
func (h *Hub) BroadcastTaskUpdate(t *models.Task) {
	h.Broadcast(models.TaskUpdatedEvent(t))
}

// BroadcastTaskDelete tells everyone the task is gone.
func (h *Hub) BroadcastTaskDelete(taskID string) {
	h.Broadcast(models.TaskDeletedEvent(taskID))
}

// SendTaskAssignment pushes the assigned task to its new assignee only.
func (h *Hub) SendTaskAssignment(userID string, t *models.Task) {
	h.Notify(userID, models.TaskAssignedEvent(userID, t))
}

// Discard is a Publisher that drops everything, for offline commands.
var Discard Publisher = discard{}

type discard struct{}

func (discard) SendNotification(*models.Notification) {}
func (discard) BroadcastTaskUpdate(*models.Task) {}
func (discard) BroadcastTaskDelete(string) {}
func (discard) SendTaskAssignment(string, *models.Task) {}

var _ Publisher = (*Hub)(nil)
