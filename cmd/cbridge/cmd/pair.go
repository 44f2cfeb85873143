package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/brianly1003/cbridge/internal/config"
	"github.com/brianly1003/cbridge/internal/pairing"
)

var (
	pairJSON        bool
	pairURL         bool
	pairExternalURL string
)

// pairCmd displays the pairing QR code.
var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Display a QR code with the WebSocket URL",
	Long: `Display a QR code that a client can scan to connect.

If a cbridge server is running, its advertised URLs are used.
Otherwise the URLs are derived from the configuration.

Examples:
  cbridge pair              # Display QR code in terminal
  cbridge pair --json       # Output pairing info as JSON
  cbridge pair --url        # Output WebSocket URL only`,
	RunE: runPair,
}

func init() {
	rootCmd.AddCommand(pairCmd)

	pairCmd.Flags().BoolVar(&pairJSON, "json", false, "output pairing info as JSON")
	pairCmd.Flags().BoolVar(&pairURL, "url", false, "output WebSocket URL only")
	pairCmd.Flags().StringVar(&pairExternalURL, "external-url", "", "override external URL for pairing output")
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	defer cancel()

	gen := pairingFor(cfg, pairExternalURL)
	info := gen.Info()
	if pairExternalURL == "" {
		if remote, err := getPairingFromServer(ctx, "http://"+cfg.Addr()); err == nil {
			info = *remote
			fmt.Fprintln(cmd.ErrOrStderr(), "Connected to running cbridge server")
		} else {
			fmt.Fprintln(cmd.ErrOrStderr(), "No running cbridge server found, using config defaults")
		}
	}

	out := cmd.OutOrStdout()
	switch {
	case pairJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case pairURL:
		_, err := fmt.Fprintln(out, info.WebSocket)
		return err
	}
	return pairing.NewQRGeneratorFromInfo(info).Print(out)
}

func pairingFor(cfg *config.Config, externalURL string) *pairing.QRGenerator {
	gen := pairing.NewQRGenerator(cfg.Server.Host, cfg.Server.Port)
	if externalURL == "" {
		externalURL = cfg.Server.ExternalURL
	}
	if externalURL != "" {
		gen.SetExternalURL(externalURL)
	}
	return gen
}

func getPairingFromServer(ctx context.Context, baseURL string) (*pairing.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/pair/info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, body)
	}

	var info pairing.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}
