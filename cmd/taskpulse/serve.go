package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskpulse/taskpulse/internal/api"
	"github.com/taskpulse/taskpulse/internal/auth"
	"github.com/taskpulse/taskpulse/internal/config"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/recurring"
	"github.com/taskpulse/taskpulse/internal/store"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taskpulse server",
	Long:  `Starts the HTTP API, the websocket endpoint at /ws and the daily recurring-task job.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides server.listen)")
}

func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	s, err := store.Open(ctx, c.Database.Driver, c.Database.Path, c.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", c.Database.Driver, err)
	}
	return s, nil
}

func newGenerator(s store.Store, pub realtime.Publisher, c config.RecurringConfig) (*recurring.Generator, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return recurring.NewGenerator(s, pub, recurring.Options{Location: loc, ClampMonthEnd: c.ClampMonthEnd}), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required to serve (set TASKPULSE_AUTH_JWT_SECRET)")
	}
	addr := cfg.Server.Listen
	if listenAddr != "" {
		addr = listenAddr
	}

	log.Printf("Starting taskpulse %s...", version)

	s, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, s)
	hub := realtime.NewHub(verifier, realtime.Options{
		SendBuffer:   cfg.Realtime.SendBuffer,
		PingInterval: cfg.Realtime.PingInterval,
	})
	ws := realtime.NewWSHandler(hub, realtime.WSConfig{
		WriteTimeout:     cfg.Realtime.WriteTimeout,
		PingInterval:     cfg.Realtime.PingInterval,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		AllowedOrigins:   cfg.Realtime.AllowedOrigins,
	})

	gen, err := newGenerator(s, hub, cfg.Recurring)
	if err != nil {
		s.Close()
		return err
	}

	var sched *recurring.Scheduler
	if cfg.Recurring.Enabled {
		hour, minute, _ := cfg.Recurring.RunAtClock()
		sched = recurring.NewScheduler(gen, s, recurring.SchedulerConfig{
			Hour:     hour,
			Minute:   minute,
			Location: gen.Location(),
		})
		sched.Start()
		log.Printf("Recurring job scheduled daily at %s (%s)", cfg.Recurring.RunAt, gen.Location())
	} else {
		log.Println("Recurring job disabled; POST /api/recurring/run still works")
	}

	service := api.NewService(s, hub, gen)
	server := api.NewServer(service, verifier, hub, ws, addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Closing realtime connections...")
	hub.Close()

	if sched != nil {
		sched.Stop()
	}

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return runErr
}
