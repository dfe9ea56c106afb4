package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskpulse/taskpulse/internal/models"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change your preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print your preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.GetPreferences(cmd.Context())
		if err != nil {
			return err
		}
		return printPrefs(p)
	},
}

var prefsSetCmd = &cobra.Command{
	Use:     "set [path] [value]",
	Short:   "Set one preference, e.g. notifications.inApp.taskUpdated false",
	Example: "  taskpulse prefs set theme.mode dark\n  taskpulse prefs set notifications.realTime.enabled false",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := prefsPatch(args[0], args[1])
		if err != nil {
			return err
		}
		c, _, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.UpdatePreferences(cmd.Context(), patch)
		if err != nil {
			return err
		}
		return printPrefs(p)
	},
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.ResetPreferences(cmd.Context())
		if err != nil {
			return err
		}
		return printPrefs(p)
	},
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd, prefsSetCmd, prefsResetCmd)
}

// prefsPatch turns a dotted path and a value into a nested partial document.
// "true" and "false" become booleans; anything else is sent as a string.
func prefsPatch(path, value string) (map[string]any, error) {
	keys := strings.Split(path, ".")
	for _, k := range keys {
		if k == "" {
			return nil, fmt.Errorf("invalid preference path %q", path)
		}
	}

	var v any = value
	switch value {
	case "true":
		v = true
	case "false":
		v = false
	}
	for i := len(keys) - 1; i > 0; i-- {
		v = map[string]any{keys[i]: v}
	}
	return map[string]any{keys[0]: v}, nil
}

func printPrefs(p *models.Preferences) error {
	out, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
