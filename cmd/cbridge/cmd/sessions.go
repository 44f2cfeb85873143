package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brianly1003/cbridge/internal/server"
)

var sessionsJSON bool

// sessionsCmd lists the sessions of a running server.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions of a running server",
	Long: `List the sessions of a running cbridge server through its HTTP API.

Examples:
  cbridge sessions
  cbridge sessions --json`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "print raw JSON")
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	resp, err := fetchSessions(ctx, "http://"+cfg.Addr())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	return printSessions(out, resp)
}

func fetchSessions(ctx context.Context, baseURL string) (*server.SessionsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/sessions", nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cbridge server not reachable at %s: %w", baseURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status from %s: %s", baseURL, res.Status)
	}

	var out server.SessionsResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return &out, nil
}

func printSessions(w io.Writer, resp *server.SessionsResponse) error {
	if len(resp.Sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPANE\tCLIENTS\tPROJECT")
	for _, s := range resp.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(s.ID), s.Name, s.Status, s.TmuxPane, len(s.ConnectedClients), s.ProjectPath)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
