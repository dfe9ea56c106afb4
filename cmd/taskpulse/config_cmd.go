package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskpulse/taskpulse/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Config:     %s\n", configPath)
		fmt.Printf("Listen:     %s\n", cfg.Server.Listen)
		fmt.Printf("Database:   %s %s%s\n", cfg.Database.Driver, cfg.Database.Path, redactURL(cfg.Database.URL))
		fmt.Printf("Recurring:  enabled=%t run_at=%s tz=%s clamp_month_end=%t\n",
			cfg.Recurring.Enabled, cfg.Recurring.RunAt, cfg.Recurring.Timezone, cfg.Recurring.ClampMonthEnd)
		fmt.Printf("Client API: %s\n", cfg.Client.API)
		return nil
	},
}

var forceInit bool

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	// Load with no file to get the defaults.
	c, err := config.Load("")
	if err != nil {
		return err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}
	c.Auth.JWTSecret = hex.EncodeToString(secret)

	if err := config.Save(configPath, c); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", configPath)
	return nil
}

func redactURL(u string) string {
	if u == "" {
		return ""
	}
	return "(url set)"
}
