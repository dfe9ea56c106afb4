package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/taskpulse/taskpulse/internal/models"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(12)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	statusTodo       = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	statusInProgress = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	statusReview     = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	statusCompleted  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	priorityHigh = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	priorityLow  = lipgloss.NewStyle().Foreground(mutedColor)
)

func statusLabel(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusTodo:
		return "○ todo"
	case models.TaskStatusInProgress:
		return "◐ in progress"
	case models.TaskStatusReview:
		return "◑ review"
	case models.TaskStatusCompleted:
		return "● completed"
	}
	return string(s)
}

func formatStatus(s models.TaskStatus) string {
	label := fmt.Sprintf("%-14s", statusLabel(s))
	switch s {
	case models.TaskStatusTodo:
		return statusTodo.Render(label)
	case models.TaskStatusInProgress:
		return statusInProgress.Render(label)
	case models.TaskStatusReview:
		return statusReview.Render(label)
	case models.TaskStatusCompleted:
		return statusCompleted.Render(label)
	}
	return label
}

func formatPriority(p models.Priority) string {
	switch p {
	case models.PriorityHigh:
		return priorityHigh.Render("!")
	case models.PriorityLow:
		return priorityLow.Render("·")
	}
	return " "
}

// visibleWindow returns the [start, end) slice of n rows to show so that selected
// stays on screen.
func visibleWindow(n, selected, height int) (int, int) {
	if height < 1 || n <= height {
		return 0, n
	}
	start := selected - height/2
	if start < 0 {
		start = 0
	}
	if start+height > n {
		start = n - height
	}
	return start, start + height
}

func renderTasks(tasks []models.Task, selected, height int, now time.Time) string {
	if len(tasks) == 0 {
		return "\n  No tasks. Press : then type add <title> to create one.\n"
	}
	start, end := visibleWindow(len(tasks), selected, height)

	var lines []string
	for i := start; i < end; i++ {
		t := tasks[i]
		due := t.DueDate.Local().Format("Jan 02 15:04")
		if t.Status != models.TaskStatusCompleted && t.DueDate.Before(now) {
			due = lipgloss.NewStyle().Foreground(warningColor).Render(due)
		}
		if i == selected {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %-14s %s %s", statusLabel(t.Status), t.Title, "("+due+")")))
			continue
		}
		lines = append(lines, itemStyle.Render(fmt.Sprintf("%s %s %s %s", formatPriority(t.Priority), formatStatus(t.Status), t.Title, mutedStyle.Render(due))))
	}
	return strings.Join(lines, "\n") + "\n"
}

func renderNotifications(list []models.Notification, selected, height int) string {
	if len(list) == 0 {
		return "\n  No notifications.\n"
	}
	start, end := visibleWindow(len(list), selected, height)

	var lines []string
	for i := start; i < end; i++ {
		n := list[i]
		marker := "●"
		if n.Read {
			marker = "○"
		}
		text := fmt.Sprintf("%s %s: %s", marker, n.Title, n.Message)
		if i == selected {
			lines = append(lines, selectedStyle.Render("▶ "+text))
			continue
		}
		if n.Read {
			text = mutedStyle.Render(text)
		} else {
			text = lipgloss.NewStyle().Foreground(cyanColor).Render(text)
		}
		lines = append(lines, itemStyle.Render(text+" "+mutedStyle.Render(n.Timestamp.Local().Format("15:04"))))
	}
	return strings.Join(lines, "\n") + "\n"
}

func renderDetail(t models.Task) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}

	b.WriteString(titleStyle.Render(t.Title) + "\n\n")
	row("Status", formatStatus(t.Status))
	row("Priority", string(t.Priority))
	row("Due", t.DueDate.Local().Format(time.RFC1123))
	if t.AssignedUser != nil {
		row("Assignee", fmt.Sprintf("%s <%s>", t.AssignedUser.Name, t.AssignedUser.Email))
	} else if t.AssignedTo != "" {
		row("Assignee", t.AssignedTo)
	}
	if t.Creator != nil {
		row("Creator", t.Creator.Name)
	}
	if t.IsRecurring {
		row("Repeats", string(t.RecurringPattern))
	}
	row("Version", fmt.Sprintf("%d", t.Version))
	row("Updated", t.UpdatedAt.Local().Format(time.RFC1123))
	row("ID", t.ID)
	if t.Description != "" {
		b.WriteString("\n" + t.Description + "\n")
	}
	return b.String()
}
