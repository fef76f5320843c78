package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"taskdash/backend"
	"taskdash/internal/credentials"
	"taskdash/internal/utils"
)

// newLoginCmd creates the 'login' command
func newLoginCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "login <email>",
		Short: "Log in and store the session tokens",
		Long:  "Log in with email and password. The password is read from the terminal, or from stdin when it is not a terminal.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := readCredentials(args[0], cfg, stderr)
			if err != nil {
				return err
			}
			return run(cmd, cfg, stdout, stderr, false, func(ctx context.Context, a *app) error {
				if err := a.sess.Login(ctx, creds); err != nil {
					if apiErr, ok := utils.AsAPIError(err); ok && apiErr.Kind == utils.KindUnauthorized {
						return utils.ErrAuthenticationFailed()
					}
					return err
				}
				if a.json {
					return a.outputAction("login", map[string]string{"email": creds.Email})
				}
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newRegisterCmd creates the 'register' command
func newRegisterCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := readCredentials(args[0], cfg, stderr)
			if err != nil {
				return err
			}
			return run(cmd, cfg, stdout, stderr, false, func(ctx context.Context, a *app) error {
				if err := a.sess.Register(ctx, creds); err != nil {
					return err
				}
				if a.json {
					return a.outputAction("register", map[string]string{"email": creds.Email})
				}
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func readCredentials(email string, cfg *Config, stderr io.Writer) (backend.Credentials, error) {
	password, err := credentials.PromptPassword(cfg.stdin(), stderr, email)
	if err != nil {
		return backend.Credentials{}, err
	}
	creds := backend.Credentials{Email: strings.TrimSpace(email), Password: password}
	if err := creds.Validate(); err != nil {
		return creds, err
	}
	return creds, nil
}

// newLogoutCmd creates the 'logout' command
func newLogoutCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session and cached data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, false, func(ctx context.Context, a *app) error {
				if err := a.sess.Logout(ctx); err != nil {
					return err
				}
				if a.json {
					return a.outputAction("logout", nil)
				}
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// newAuthCmd creates the 'auth' command group
func newAuthCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect the stored session",
	}

	authCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show where the session tokens come from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, false, func(ctx context.Context, a *app) error {
				return credentials.NewCLIHandler(a.tokens, a.stdout).Status(a.json)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	})

	return authCmd
}

// =============================================================================
// Preferences
// =============================================================================

// newPrefsCmd creates the 'prefs' command
func newPrefsCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	prefsCmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show dashboard preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				prefs, err := fresh(ctx, a, a.sess.Preferences)
				if err != nil {
					return err
				}
				if a.json {
					return a.outputData(prefs)
				}
				printPreferences(a.stdout, prefs)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change dashboard preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req backend.UpdatePreferencesRequest
			if cmd.Flags().Changed("theme") {
				v, _ := cmd.Flags().GetString("theme")
				theme := backend.Theme(strings.ToLower(v))
				req.Theme = &theme
			}
			if cmd.Flags().Changed("layout") {
				v, _ := cmd.Flags().GetString("layout")
				layout := backend.Layout(strings.ToLower(v))
				req.TaskViewLayout = &layout
			}
			if err := req.Validate(); err != nil {
				return utils.WrapWithSuggestion(err, "Use --theme light|dark and/or --layout list|board")
			}
			return run(cmd, cfg, stdout, stderr, true, func(ctx context.Context, a *app) error {
				prefs, err := a.sess.UpdatePreferences(ctx, req)
				if err != nil {
					return err
				}
				if a.json {
					return a.outputAction("update", prefs)
				}
				printPreferences(a.stdout, prefs)
				return nil
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	setCmd.Flags().String("theme", "", "Color theme: light or dark")
	setCmd.Flags().String("layout", "", "Task view layout: list or board")
	prefsCmd.AddCommand(setCmd)

	return prefsCmd
}

func printPreferences(w io.Writer, prefs backend.Preferences) {
	_, _ = fmt.Fprintf(w, "Theme:  %s\n", prefs.Theme)
	_, _ = fmt.Fprintf(w, "Layout: %s\n", prefs.TaskViewLayout)
}
