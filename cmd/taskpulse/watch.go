package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskpulse/taskpulse/internal/client"
	"github.com/taskpulse/taskpulse/internal/reconcile"
	"github.com/taskpulse/taskpulse/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Launch the live task view",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, _, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultClientTimeout)
	user, err := c.Me(ctx)
	cancel()
	if errors.Is(err, client.ErrUnauthorized) {
		return fmt.Errorf("stored token was rejected; run 'taskpulse login'")
	}
	if err != nil {
		return fmt.Errorf("server not reachable at %s: %w", c.BaseURL(), err)
	}

	app := tui.New(c, reconcile.New(), user)
	if err := app.Run(cmd.Context()); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
