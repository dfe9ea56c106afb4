package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskpulse/taskpulse/internal/api"
	"github.com/taskpulse/taskpulse/internal/client"
	"github.com/taskpulse/taskpulse/internal/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new task",
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status [task-id] [todo|in-progress|review|completed]",
	Short: "Change a task's status",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskStatus,
}

var taskDoneCmd = &cobra.Command{
	Use:   "done [task-id]",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTaskStatus(cmd, []string{args[0], string(models.TaskStatusCompleted)})
	},
}

var taskRmCmd = &cobra.Command{
	Use:   "rm [task-id]",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRm,
}

var taskRecurCmd = &cobra.Command{
	Use:   "recur",
	Short: "Run recurring generation on the server now (manager or admin)",
	RunE:  runTaskRecur,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit log entries (admin)",
	RunE:  runAudit,
}

var (
	taskTitle    string
	taskDesc     string
	taskDue      string
	taskPriority string
	taskAssign   string
	taskRepeat   string
	taskStatus   string
	taskMine     bool
	taskSearch   string
	auditLimit   int
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskStatusCmd, taskDoneCmd, taskRmCmd, taskRecurCmd)

	taskAddCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskAddCmd.Flags().StringVar(&taskDesc, "desc", "", "Task description")
	taskAddCmd.Flags().StringVar(&taskDue, "due", "", "Due date, RFC3339 or YYYY-MM-DD (default: end of today)")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "", "Priority (low, medium, high)")
	taskAddCmd.Flags().StringVar(&taskAssign, "assign", "", "Assignee user ID")
	taskAddCmd.Flags().StringVar(&taskRepeat, "repeat", "", "Make this a recurring template (daily, weekly, monthly)")
	taskAddCmd.MarkFlagRequired("title")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (todo, in-progress, review, completed)")
	taskListCmd.Flags().StringVar(&taskPriority, "priority", "", "Filter by priority")
	taskListCmd.Flags().BoolVar(&taskMine, "mine", false, "Only tasks assigned to me")
	taskListCmd.Flags().StringVar(&taskSearch, "search", "", "Search title and description")

	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum entries")
}

func parseDue(s string, now time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 23, 59, 0, 0, now.Location()), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --due %q: expected RFC3339 or YYYY-MM-DD", s)
	}
	return t.Add(23*time.Hour + 59*time.Minute), nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	due, err := parseDue(taskDue, time.Now())
	if err != nil {
		return err
	}

	in := api.TaskInput{Title: &taskTitle, DueDate: &due}
	if taskDesc != "" {
		in.Description = &taskDesc
	}
	if taskPriority != "" {
		p := models.Priority(taskPriority)
		in.Priority = &p
	}
	if taskAssign != "" {
		in.AssignedTo = &taskAssign
	}
	if taskRepeat != "" {
		recurring := true
		pattern := models.RecurrencePattern(taskRepeat)
		in.IsRecurring = &recurring
		in.RecurringPattern = &pattern
	}

	t, err := c.CreateTask(cmd.Context(), in)
	if err != nil {
		return err
	}
	fmt.Printf("Created task: %s\n", t.ID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	c, sess, err := newClient()
	if err != nil {
		return err
	}
	q := client.TaskQuery{Status: taskStatus, Priority: taskPriority, Search: taskSearch}
	if taskMine {
		q.AssignedTo = sess.User.ID
	}

	tasks, err := c.ListTasks(cmd.Context(), q)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tDUE\tASSIGNEE")
	for _, t := range tasks {
		assignee := ""
		if t.AssignedUser != nil {
			assignee = t.AssignedUser.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(t.ID), truncate(t.Title, 40), t.Status, t.Priority,
			t.DueDate.Local().Format("2006-01-02 15:04"), assignee)
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	t, err := c.GetTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Title:       %s\n", t.Title)
	fmt.Printf("Description: %s\n", t.Description)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Priority:    %s\n", t.Priority)
	fmt.Printf("Due:         %s\n", t.DueDate.Local().Format(time.RFC1123))
	if t.AssignedUser != nil {
		fmt.Printf("Assignee:    %s <%s>\n", t.AssignedUser.Name, t.AssignedUser.Email)
	}
	if t.Creator != nil {
		fmt.Printf("Creator:     %s\n", t.Creator.Name)
	}
	if t.IsRecurring {
		fmt.Printf("Repeats:     %s\n", t.RecurringPattern)
	}
	fmt.Printf("Version:     %d\n", t.Version)
	fmt.Printf("Created:     %s\n", t.CreatedAt.Local().Format(time.RFC1123))
	fmt.Printf("Updated:     %s\n", t.UpdatedAt.Local().Format(time.RFC1123))
	return nil
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	t, err := c.SetStatus(cmd.Context(), args[0], models.TaskStatus(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("Task %s is now %s\n", truncateID(t.ID), t.Status)
	return nil
}

func runTaskRm(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	if err := c.DeleteTask(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted task %s\n", args[0])
	return nil
}

func runTaskRecur(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	res, err := c.RunRecurring(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("%s: created %d, skipped %d, not due %d, failed %d\n",
		res.Date, res.Created, res.Skipped, res.NotDue, res.Failed)
	for _, t := range res.Tasks {
		fmt.Printf("  %s  %s\n", truncateID(t.ID), t.Title)
	}
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}
	logs, err := c.ListAuditLogs(cmd.Context(), auditLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tUSER\tACTION\tENTITY\tID")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.Timestamp.Local().Format("2006-01-02 15:04:05"), truncateID(l.User), l.Action, l.EntityType, truncateID(l.EntityID))
	}
	return w.Flush()
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
