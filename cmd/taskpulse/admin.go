package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskpulse/taskpulse/internal/models"
	"github.com/taskpulse/taskpulse/internal/realtime"
)

var recurCmd = &cobra.Command{
	Use:   "recur",
	Short: "Recurring task maintenance",
}

var recurRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate today's recurring task instances directly against the database",
	Long: `Runs the recurring generator once without a server. Connected clients are not
pushed the new tasks; they see them on their next reconnect. Use 'taskpulse task recur'
to run through a live server instead.`,
	RunE: runRecurRun,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users directly in the database",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a user",
	RunE:  runUserAdd,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE:  runUserList,
}

var (
	userName  string
	userEmail string
	userRole  string
)

func init() {
	recurCmd.AddCommand(recurRunCmd)
	userCmd.AddCommand(userAddCmd, userListCmd)

	userAddCmd.Flags().StringVar(&userName, "name", "", "Display name (required)")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address (required)")
	userAddCmd.Flags().StringVar(&userRole, "role", string(models.RoleMember), "Role (admin, manager, member)")
	userAddCmd.MarkFlagRequired("name")
	userAddCmd.MarkFlagRequired("email")
}

func runRecurRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	gen, err := newGenerator(s, realtime.Discard, cfg.Recurring)
	if err != nil {
		return err
	}
	res, err := gen.Run(ctx, time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("Date:    %s\n", res.Date)
	fmt.Printf("Scanned: %d\n", res.Scanned)
	fmt.Printf("Created: %d\n", res.Created)
	fmt.Printf("Skipped: %d (already generated)\n", res.Skipped)
	fmt.Printf("Not due: %d\n", res.NotDue)
	if res.Failed > 0 {
		fmt.Printf("Failed:  %d (see log)\n", res.Failed)
	}
	return nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	role := models.Role(strings.ToLower(userRole))
	switch role {
	case models.RoleAdmin, models.RoleManager, models.RoleMember:
	default:
		return fmt.Errorf("invalid role %q: expected admin, manager or member", userRole)
	}

	ctx := cmd.Context()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	u := &models.User{Name: userName, Email: userEmail, Role: role}
	if err := s.CreateUser(ctx, u); err != nil {
		return err
	}
	fmt.Printf("Created user: %s\n", u.ID)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role)
	}
	return w.Flush()
}
