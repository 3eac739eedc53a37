package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tandem-dev/tandem/internal/a2a"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the A2A receiving endpoint",
	Long: `Run the HTTP endpoint that accepts delegated tasks from other agents.

The server verifies the delegating agent's bearer token, executes the task,
and returns the result artifact. Retried deliveries of a task UID return
the recorded response without re-executing.

The built-in handler echoes the task context back as a task-result
artifact. Embed the a2a package with a custom handler for real work.

Examples:
  tandem serve
  tandem serve --addr :9000
  TANDEM_JWT_SECRET=... tandem serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveAddr == "" {
		serveAddr = cfg.Server.Addr
	}
	if cfg.Server.JWTSecret == "" {
		return errors.New("no JWT secret configured: set server.jwt_secret or TANDEM_JWT_SECRET")
	}

	server := a2a.NewServer(cfg.Server.JWTSecret, echoHandler)

	httpServer := &http.Server{
		Addr:              serveAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	fmt.Printf("A2A endpoint listening on %s\n", serveAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// echoHandler returns the inbound context as the result artifact.
func echoHandler(req *a2a.DeliveryRequest) (a2a.Payload, error) {
	return a2a.Payload{
		Type:          "task-result",
		SchemaVersion: req.Artifact.SchemaVersion,
		Data:          req.Artifact.Data,
	}, nil
}
