package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/brianly1003/cbridge/internal/app"
	"github.com/brianly1003/cbridge/internal/config"
)

var (
	host        string
	port        int
	externalURL string
	showQR      bool
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cbridge server",
	Long: `Start the cbridge server and accept client connections on /ws.

Sessions recorded by a previous run are re-adopted when their tmux panes
are still alive.

Example:
  cbridge start
  cbridge start --port 9000
  cbridge start --host 0.0.0.0 --qr

Tunnels:
  Pass the forwarded URL so the pairing QR code points at it:

  cbridge start --external-url https://your-tunnel.devtunnels.ms`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&host, "host", "", "bind address (default: 127.0.0.1)")
	startCmd.Flags().IntVar(&port, "port", 0, "server port for HTTP and WebSocket (default: 8766)")
	startCmd.Flags().StringVar(&externalURL, "external-url", "", "external URL for tunnels, used in the pairing QR code")
	startCmd.Flags().BoolVar(&showQR, "qr", false, "print a pairing QR code on startup")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyStartFlags(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("addr", cfg.Addr()).
		Str("tmux", cfg.Tmux.Command).
		Str("agent", cfg.Agent.Command).
		Msg("starting cbridge")

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	application.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("cbridge stopped")
	return nil
}

func applyStartFlags(cfg *config.Config) {
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if externalURL != "" {
		cfg.Server.ExternalURL = externalURL
	}
	if showQR {
		cfg.Server.ShowQR = true
	}
}
