package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskpulse/taskpulse/internal/api"
	"github.com/taskpulse/taskpulse/internal/client"
	"github.com/taskpulse/taskpulse/internal/models"
)

var (
	cmdBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)
)

const cmdHelp = "add <title> | start | review | done | rm | test [message]"

// CmdBarModel manages the command input bar.
type CmdBarModel struct {
	input   textinput.Model
	focused bool
}

// NewCmdBarModel creates a new command bar.
func NewCmdBarModel() *CmdBarModel {
	ti := textinput.New()
	ti.Placeholder = cmdHelp
	ti.CharLimit = 256
	return &CmdBarModel{input: ti}
}

// Focused reports whether the bar has keyboard focus.
func (m *CmdBarModel) Focused() bool { return m.focused }

// Focus focuses the command bar.
func (m *CmdBarModel) Focus() tea.Cmd {
	m.focused = true
	return m.input.Focus()
}

// Blur unfocuses the command bar.
func (m *CmdBarModel) Blur() {
	m.focused = false
	m.input.Blur()
	m.input.SetValue("")
}

// Submit returns the current input and blurs.
func (m *CmdBarModel) Submit() string {
	val := strings.TrimSpace(m.input.Value())
	m.Blur()
	return val
}

// SetWidth resizes the input.
func (m *CmdBarModel) SetWidth(w int) {
	m.input.Width = w - 6
}

// Update forwards key input to the text field.
func (m *CmdBarModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// View renders the command bar.
func (m *CmdBarModel) View() string {
	if m.focused {
		return cmdBarStyle.Render(promptStyle.Render(": ") + m.input.View())
	}
	return cmdBarStyle.Render("Press : to enter a command (" + cmdHelp + ")")
}

// Execute runs a command against the server. selected is the highlighted task id,
// possibly empty. Results arrive through the stream; the returned message only
// reports success or failure.
func Execute(c *client.Client, input, selected string) tea.Cmd {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}
	name, args := parts[0], parts[1:]

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultClientTimeout)
		defer cancel()

		switch name {
		case "add":
			if len(args) == 0 {
				return cmdResultMsg{"Usage: add <title>"}
			}
			title := strings.Join(args, " ")
			due := endOfDay(time.Now())
			t, err := c.CreateTask(ctx, api.TaskInput{Title: &title, DueDate: &due})
			if err != nil {
				return errMsg{err}
			}
			return cmdResultMsg{fmt.Sprintf("✓ Created %s", shortID(t.ID))}

		case "start", "review", "done":
			if selected == "" {
				return cmdResultMsg{"No task selected"}
			}
			status := map[string]models.TaskStatus{
				"start":  models.TaskStatusInProgress,
				"review": models.TaskStatusReview,
				"done":   models.TaskStatusCompleted,
			}[name]
			if _, err := c.SetStatus(ctx, selected, status); err != nil {
				return errMsg{err}
			}
			return cmdResultMsg{fmt.Sprintf("✓ %s is now %s", shortID(selected), status)}

		case "rm":
			if selected == "" {
				return cmdResultMsg{"No task selected"}
			}
			if err := c.DeleteTask(ctx, selected); err != nil {
				return errMsg{err}
			}
			return cmdResultMsg{fmt.Sprintf("✓ Deleted %s", shortID(selected))}

		case "test":
			if _, err := c.TestNotification(ctx, "", strings.Join(args, " ")); err != nil {
				return errMsg{err}
			}
			return cmdResultMsg{"✓ Test notification sent"}
		}
		return cmdResultMsg{"Unknown command: " + name}
	}
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 0, 0, t.Location())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type cmdResultMsg struct {
	message string
}

type errMsg struct {
	err error
}
