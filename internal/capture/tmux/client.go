// Package tmux implements the capture adapter on top of tmux: each agent
// session runs in its own detached tmux session, its output is copied to a
// log file with pipe-pane and tailed from there, and input is typed with
// send-keys.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes one tmux command and returns its trimmed stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// Client runs tmux commands against one server. With an empty socket the
// user's default server is used.
type Client struct {
	command string
	socket  string
}

// NewClient creates a client. command defaults to "tmux".
func NewClient(command, socket string) *Client {
	if command == "" {
		command = "tmux"
	}
	return &Client{command: command, socket: socket}
}

// Run executes a tmux command. Stderr is included in the error.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	full := args
	if c.socket != "" {
		full = append([]string{"-S", c.socket}, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.command, full...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tmux %s: %w (%s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// isGone reports tmux errors meaning the target no longer exists.
func isGone(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "can't find") ||
		strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "server exited unexpectedly")
}

// shellJoin quotes and joins arguments into a shell command string, which is
// what new-session takes.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'\\$`!#&|;(){}[]<>?*~") {
			quoted[i] = shellQuote(arg)
		} else {
			quoted[i] = arg
		}
	}
	return strings.Join(quoted, " ")
}

// shellQuote wraps s in single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
