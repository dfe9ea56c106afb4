package models

import (
	"fmt"
	"time"
)

// EmailPrefs are stored for clients; the server has no email channel.
type EmailPrefs struct {
	Enabled       bool `json:"enabled"`
	TaskAssigned  bool `json:"taskAssigned"`
	TaskUpdated   bool `json:"taskUpdated"`
	TaskCompleted bool `json:"taskCompleted"`
	TaskOverdue   bool `json:"taskOverdue"`
	DailyDigest   bool `json:"dailyDigest"`
}

// InAppPrefs decide which notifications are stored for the user at all.
type InAppPrefs struct {
	Enabled       bool `json:"enabled"`
	TaskAssigned  bool `json:"taskAssigned"`
	TaskUpdated   bool `json:"taskUpdated"`
	TaskCompleted bool `json:"taskCompleted"`
	TaskOverdue   bool `json:"taskOverdue"`
}

// RealTimePrefs decide whether stored notifications are also pushed.
type RealTimePrefs struct {
	Enabled bool `json:"enabled"`
}

// NotificationPrefs groups the per-channel settings.
type NotificationPrefs struct {
	Email    EmailPrefs    `json:"email"`
	InApp    InAppPrefs    `json:"inApp"`
	RealTime RealTimePrefs `json:"realTime"`
}

// ThemeMode values.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// ThemePrefs are opaque to the server beyond validation.
type ThemePrefs struct {
	Mode  string `json:"mode"`
	Color string `json:"color"`
}

// DashboardView values.
const (
	ViewAll      = "all"
	ViewAssigned = "assigned"
	ViewCreated  = "created"
	ViewOverdue  = "overdue"
)

// DashboardPrefs configure a client's default task view.
type DashboardPrefs struct {
	DefaultView        string `json:"defaultView"`
	ShowCompletedTasks bool   `json:"showCompletedTasks"`
}

// Preferences is a user's settings document. Users without a stored document get
// DefaultPreferences.
type Preferences struct {
	User          string            `json:"user"`
	Notifications NotificationPrefs `json:"notifications"`
	Theme         ThemePrefs        `json:"theme"`
	Dashboard     DashboardPrefs    `json:"dashboard"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// DefaultPreferences returns the settings a new user starts with.
func DefaultPreferences(userID string) Preferences {
	return Preferences{
		User: userID,
		Notifications: NotificationPrefs{
			Email: EmailPrefs{
				Enabled: true, TaskAssigned: true, TaskUpdated: true,
				TaskCompleted: true, TaskOverdue: true,
			},
			InApp: InAppPrefs{
				Enabled: true, TaskAssigned: true, TaskUpdated: true,
				TaskCompleted: true, TaskOverdue: true,
			},
			RealTime: RealTimePrefs{Enabled: true},
		},
		Theme:     ThemePrefs{Mode: ThemeSystem, Color: "blue"},
		Dashboard: DashboardPrefs{DefaultView: ViewAll, ShowCompletedTasks: true},
	}
}

// Validate checks the enumerated fields.
func (p *Preferences) Validate() error {
	switch p.Theme.Mode {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		return fmt.Errorf("invalid theme mode %q", p.Theme.Mode)
	}
	switch p.Dashboard.DefaultView {
	case ViewAll, ViewAssigned, ViewCreated, ViewOverdue:
	default:
		return fmt.Errorf("invalid dashboard view %q", p.Dashboard.DefaultView)
	}
	return nil
}

// WantsInApp reports whether a notification of type t should be created. System
// notifications only depend on the master switch.
func (p *Preferences) WantsInApp(t NotificationType) bool {
	in := p.Notifications.InApp
	if !in.Enabled {
		return false
	}
	switch t {
	case NotificationTaskAssigned:
		return in.TaskAssigned
	case NotificationTaskUpdated:
		return in.TaskUpdated
	case NotificationTaskCompleted:
		return in.TaskCompleted
	case NotificationTaskOverdue:
		return in.TaskOverdue
	}
	return true
}

// WantsPush reports whether stored notifications are pushed to live connections.
func (p *Preferences) WantsPush() bool {
	return p.Notifications.RealTime.Enabled
}
