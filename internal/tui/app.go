// Package tui provides the live terminal view of tasks and notifications.
package tui

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskpulse/taskpulse/internal/client"
	"github.com/taskpulse/taskpulse/internal/models"
	"github.com/taskpulse/taskpulse/internal/reconcile"
)

type mode int

const (
	modeTasks mode = iota
	modeNotifications
	modeDetail
)

var filters = []models.TaskStatus{"", models.TaskStatusTodo, models.TaskStatusInProgress, models.TaskStatusReview, models.TaskStatusCompleted}
var filterNames = []string{"ALL", "TODO", "IN PROGRESS", "REVIEW", "DONE"}

// App is the watch application model. It renders the reconcile store and never
// fetches on its own; the stream keeps the store current.
type App struct {
	client *client.Client
	store  *reconcile.Store
	user   *models.User

	snap        reconcile.Snapshot
	mode        mode
	selectedIdx int
	filterIdx   int
	detailID    string

	cmdbar    *CmdBarModel
	spinner   spinner.Model
	viewport  viewport.Model
	connected bool
	message   string
	width     int
	height    int
	now       func() time.Time
}

// New creates the app. user may be nil when unknown.
func New(c *client.Client, s *reconcile.Store, user *models.User) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return &App{
		client:   c,
		store:    s,
		user:     user,
		snap:     s.Snapshot(),
		cmdbar:   NewCmdBarModel(),
		spinner:  sp,
		viewport: viewport.New(80, 20),
		width:    80,
		height:   24,
		now:      time.Now,
	}
}

// Run starts the stream and the program, and blocks until the user quits or the
// stream gives up.
func (a *App) Run(ctx context.Context) error {
	// Stream logging would draw over the alt screen.
	if path := os.Getenv("TASKPULSE_DEBUG_LOG"); path != "" {
		f, err := tea.LogToFile(path, "watch")
		if err != nil {
			return fmt.Errorf("opening debug log: %w", err)
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
		defer log.SetOutput(os.Stderr)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(ctx))
	stream := client.NewStream(a.client, a.store, client.StreamOptions{
		OnStatus: func(s client.Status) { p.Send(statusMsg(s)) },
		OnChange: func() { p.Send(changedMsg{}) },
	})

	errc := make(chan error, 1)
	go func() {
		err := stream.Run(ctx)
		if err != nil && ctx.Err() == nil {
			p.Send(fatalMsg{err})
		}
		errc <- err
	}()

	_, err := p.Run()
	cancel()
	streamErr := <-errc
	if err == nil && streamErr != nil && streamErr != context.Canceled {
		err = streamErr
	}
	return err
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.spinner.Tick
}

type changedMsg struct{}

type statusMsg client.Status

type fatalMsg struct {
	err error
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.cmdbar.Focused() {
			return a, a.updateCmdBar(msg)
		}
		return a, a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.cmdbar.SetWidth(msg.Width)
		a.viewport.Width = msg.Width
		a.viewport.Height = a.contentHeight()

	case changedMsg:
		a.snap = a.store.Snapshot()
		a.clampSelection()
		if a.mode == modeDetail {
			a.refreshDetail()
		}

	case statusMsg:
		a.connected = msg.Connected
		if msg.Err != nil {
			a.message = "Reconnecting: " + msg.Err.Error()
			return a, a.spinner.Tick
		}
		a.message = ""

	case cmdResultMsg:
		a.message = msg.message

	case errMsg:
		a.message = "Error: " + msg.err.Error()

	case fatalMsg:
		a.message = "Error: " + msg.err.Error()
		return a, tea.Quit

	case spinner.TickMsg:
		if a.snap.Hydrated {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) updateCmdBar(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		a.cmdbar.Blur()
		return nil
	case "enter":
		input := a.cmdbar.Submit()
		return Execute(a.client, input, a.selectedTaskID())
	}
	return a.cmdbar.Update(msg)
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c", "q":
		return tea.Quit

	case ":":
		a.message = ""
		return a.cmdbar.Focus()

	case "esc":
		if a.mode == modeDetail {
			a.mode = modeTasks
		}

	case "tab":
		switch a.mode {
		case modeTasks:
			a.mode = modeNotifications
		default:
			a.mode = modeTasks
		}
		a.selectedIdx = 0

	case "up", "k", "down", "j":
		if a.mode == modeDetail {
			var cmd tea.Cmd
			a.viewport, cmd = a.viewport.Update(msg)
			return cmd
		}
		if k := msg.String(); (k == "up" || k == "k") && a.selectedIdx > 0 {
			a.selectedIdx--
		} else if (k == "down" || k == "j") && a.selectedIdx < a.rowCount()-1 {
			a.selectedIdx++
		}

	case "f":
		if a.mode == modeTasks {
			a.filterIdx = (a.filterIdx + 1) % len(filters)
			a.selectedIdx = 0
		}

	case "enter":
		if id := a.selectedTaskID(); id != "" && a.mode == modeTasks {
			a.mode = modeDetail
			a.detailID = id
			a.refreshDetail()
		}

	case "r":
		if a.mode == modeNotifications {
			return a.markSelectedRead()
		}

	case "x":
		if a.mode == modeNotifications {
			return a.clearNotifications()
		}
	}
	return nil
}

func (a *App) markSelectedRead() tea.Cmd {
	if a.selectedIdx >= len(a.snap.Notifications) {
		return nil
	}
	id := a.snap.Notifications[a.selectedIdx].ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultClientTimeout)
		defer cancel()
		if _, err := a.client.MarkNotificationRead(ctx, id); err != nil {
			return errMsg{err}
		}
		a.store.MarkNotificationRead(id)
		return changedMsg{}
	}
}

func (a *App) clearNotifications() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultClientTimeout)
		defer cancel()
		if err := a.client.ClearNotifications(ctx); err != nil {
			return errMsg{err}
		}
		a.store.ClearNotifications()
		return changedMsg{}
	}
}

// visibleTasks applies the status filter to the snapshot.
func (a *App) visibleTasks() []models.Task {
	f := filters[a.filterIdx]
	if f == "" {
		return a.snap.Tasks
	}
	var out []models.Task
	for _, t := range a.snap.Tasks {
		if t.Status == f {
			out = append(out, t)
		}
	}
	return out
}

func (a *App) rowCount() int {
	if a.mode == modeNotifications {
		return len(a.snap.Notifications)
	}
	return len(a.visibleTasks())
}

func (a *App) clampSelection() {
	if n := a.rowCount(); a.selectedIdx >= n {
		a.selectedIdx = max(0, n-1)
	}
}

func (a *App) selectedTaskID() string {
	if a.mode == modeDetail {
		return a.detailID
	}
	if a.mode != modeTasks {
		return ""
	}
	tasks := a.visibleTasks()
	if a.selectedIdx < len(tasks) {
		return tasks[a.selectedIdx].ID
	}
	return ""
}

// refreshDetail re-renders the open task, leaving detail mode if it was deleted.
func (a *App) refreshDetail() {
	t, ok := a.store.Task(a.detailID)
	if !ok {
		a.mode = modeTasks
		a.message = "Task was deleted"
		return
	}
	a.viewport.SetContent(renderDetail(t))
}

func (a *App) contentHeight() int {
	h := a.height - 7
	if h < 3 {
		h = 3
	}
	return h
}

// View implements tea.Model.
func (a *App) View() string {
	var b strings.Builder

	conn := lipgloss.NewStyle().Foreground(successColor).Render("● LIVE")
	if !a.connected {
		conn = lipgloss.NewStyle().Foreground(errorColor).Render("○ OFFLINE")
	}
	header := titleStyle.Render("taskpulse") + "  " + conn
	if a.snap.Unread > 0 {
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%d unread]", a.snap.Unread))
	}
	if a.user != nil {
		header += "  " + mutedStyle.Render(a.user.Name)
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	height := a.contentHeight()
	switch {
	case !a.snap.Hydrated && len(a.snap.Tasks) == 0:
		b.WriteString("\n  " + a.spinner.View() + " Connecting...\n")
	case a.mode == modeTasks:
		b.WriteString(mutedStyle.Render(fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])) + "\n")
		b.WriteString(renderTasks(a.visibleTasks(), a.selectedIdx, height-1, a.now()))
	case a.mode == modeNotifications:
		b.WriteString(mutedStyle.Render(" Notifications") + "\n")
		b.WriteString(renderNotifications(a.snap.Notifications, a.selectedIdx, height-1))
	case a.mode == modeDetail:
		b.WriteString(a.viewport.View() + "\n")
	}

	if a.message != "" {
		style := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") || strings.HasPrefix(a.message, "Reconnecting") {
			style = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + style.Render(a.message))
	}
	b.WriteString("\n" + a.cmdbar.View() + "\n")

	var status string
	switch a.mode {
	case modeTasks:
		status = fmt.Sprintf(" Tasks: %d | ↑↓:nav | Enter:open | f:filter | Tab:notifications | q:quit", len(a.visibleTasks()))
	case modeNotifications:
		status = fmt.Sprintf(" Notifications: %d | r:mark read | x:clear all | Tab:tasks | q:quit", len(a.snap.Notifications))
	default:
		status = " Esc:back | ↑↓:scroll | q:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))
	return b.String()
}
