package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/taskpulse/taskpulse/internal/client"
	"github.com/taskpulse/taskpulse/internal/credential"
	"github.com/taskpulse/taskpulse/internal/models"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an access token for the CLI and watch client",
	Long: `Prompts for the server address and a bearer token issued by your identity
provider, verifies them against /api/me, and saves the session in the system keyring.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credential.NewManager()
		if err != nil {
			return err
		}
		if err := creds.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

var loginToken string

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Access token (skips the prompt)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	addr := serverAddr(nil)
	token := loginToken

	if token == "" {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Server").
					Description("taskpulse API address").
					Value(&addr),
				huh.NewInput().
					Title("Access token").
					Description("Bearer token issued for your account").
					EchoMode(huh.EchoModePassword).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return errors.New("token is required")
						}
						return nil
					}).
					Value(&token),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}
	}
	token = strings.TrimSpace(token)

	ctx, cancel := context.WithTimeout(cmd.Context(), client.DefaultClientTimeout)
	defer cancel()
	c := client.New(addr, token)
	user, err := c.Me(ctx)
	if err != nil {
		return fmt.Errorf("verifying token: %w", err)
	}

	creds, err := credential.NewManager()
	if err != nil {
		return err
	}
	err = creds.Save(credential.Session{
		Token: token,
		API:   addr,
		User:  models.UserRef{ID: user.ID, Name: user.Name, Email: user.Email},
	})
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s <%s> (%s)\n", user.Name, user.Email, user.Role)
	return nil
}

// serverAddr picks the API address: --api, then the stored session, then config.
func serverAddr(s *credential.Session) string {
	switch {
	case apiAddr != "":
		return apiAddr
	case s != nil && s.API != "":
		return s.API
	}
	return cfg.Client.API
}

// newClient builds an authenticated client from the stored session.
func newClient() (*client.Client, *credential.Session, error) {
	creds, err := credential.NewManager()
	if err != nil {
		return nil, nil, err
	}
	s, err := creds.Session()
	if err != nil {
		return nil, nil, err
	}
	return client.New(serverAddr(&s), s.Token), &s, nil
}
