package credentials

import (
	"fmt"
	"io"
)

// CLIHandler renders session token status for the CLI
type CLIHandler struct {
	manager *Manager
	stdout  io.Writer
}

// NewCLIHandler creates a new CLI handler for token commands
func NewCLIHandler(manager *Manager, stdout io.Writer) *CLIHandler {
	return &CLIHandler{
		manager: manager,
		stdout:  stdout,
	}
}

// Status prints where the session tokens come from
func (h *CLIHandler) Status(jsonOutput bool) error {
	info, err := h.manager.Info()
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}

	if jsonOutput {
		jsonBytes, err := info.JSON()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(h.stdout, string(jsonBytes))
		return nil
	}

	if !info.Found {
		_, _ = fmt.Fprintf(h.stdout, "Not logged in (account: %s)\n", info.Account)
		_, _ = fmt.Fprintf(h.stdout, "Searched:\n")
		_, _ = fmt.Fprintf(h.stdout, "  - System keyring: Not found\n")
		_, _ = fmt.Fprintf(h.stdout, "  - Environment variable %s: Not set\n", EnvAccessToken)
		_, _ = fmt.Fprintf(h.stdout, "\nSuggestion: Run 'taskdash login <email>'\n")
		return nil
	}

	refresh := "no"
	if info.HasRefresh {
		refresh = "yes"
	}
	_, _ = fmt.Fprintf(h.stdout, "Account: %s\n", info.Account)
	_, _ = fmt.Fprintf(h.stdout, "Source: %s\n", info.Source)
	_, _ = fmt.Fprintf(h.stdout, "Access token: ******** (hidden)\n")
	_, _ = fmt.Fprintf(h.stdout, "Refresh token: %s\n", refresh)
	return nil
}
