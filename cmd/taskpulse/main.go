package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskpulse/taskpulse/internal/api"
	"github.com/taskpulse/taskpulse/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "taskpulse",
	Short: "taskpulse - collaborative tasks with live updates",
	Long: `taskpulse serves a task and notification API with a websocket push channel,
generates recurring tasks daily, and ships a live terminal client.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		api.Version = version
		if cmd.Name() == "version" || cmd.Name() == "init" {
			return nil
		}
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath string
	apiAddr    string
	cfg        *config.Config
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "API server address (overrides client.api)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recurCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd)
	rootCmd.AddCommand(taskCmd, auditCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
