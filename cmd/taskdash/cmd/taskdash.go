package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskdash/backend/rest"
	"taskdash/internal/cache"
	"taskdash/internal/config"
	"taskdash/internal/credentials"
	"taskdash/internal/notification"
	"taskdash/internal/ratelimit"
	"taskdash/internal/session"
	"taskdash/internal/shutdown"
	"taskdash/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Result codes for JSON output
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// shutdownTimeout bounds the cache flush after a command finishes.
const shutdownTimeout = 5 * time.Second

// Config holds per-invocation overrides. Zero values fall back to the
// config file.
type Config struct {
	Verbose      bool
	OutputFormat string
	ConfigPath   string // Path to config file (for testing)
	CachePath    string // Overrides cache.path (for testing)

	// Keyring replaces the token keyring (for testing)
	Keyring credentials.Keyring
	// Stdin supplies passwords. Defaults to os.Stdin.
	Stdin io.Reader
	// Getenv reads environment overrides. Defaults to os.Getenv.
	Getenv func(string) string
	// Notifications are also delivered here (for testing)
	Notifications notification.NotificationChannel
}

func (c *Config) stdin() io.Reader {
	if c.Stdin != nil {
		return c.Stdin
	}
	return os.Stdin
}

func (c *Config) getenv(key string) string {
	if c.Getenv != nil {
		return c.Getenv(key)
	}
	return os.Getenv(key)
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	rootCmd := NewTaskDash(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		if containsJSONFlag(args) {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// NewTaskDash creates the root command with injectable IO
func NewTaskDash(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}

	cmd := &cobra.Command{
		Use:     "taskdash",
		Short:   "A task dashboard for the terminal",
		Long:    "taskdash reads and edits tasks on a task management API, keeping a local cache of the last known data.",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().String("api-url", "", "Task API base URL (overrides config and TASKDASH_API_URL)")
	cmd.PersistentFlags().String("config", "", "Path to config file")

	cmd.AddCommand(newVersionCmd(stdout))
	cmd.AddCommand(newLoginCmd(stdout, stderr, cfg))
	cmd.AddCommand(newRegisterCmd(stdout, stderr, cfg))
	cmd.AddCommand(newLogoutCmd(stdout, stderr, cfg))
	cmd.AddCommand(newAuthCmd(stdout, stderr, cfg))
	cmd.AddCommand(newTasksCmd(stdout, stderr, cfg))
	cmd.AddCommand(newCalendarCmd(stdout, stderr, cfg))
	cmd.AddCommand(newReportCmd(stdout, stderr, cfg))
	cmd.AddCommand(newPrefsCmd(stdout, stderr, cfg))
	cmd.AddCommand(newExportCmd(stdout, stderr, cfg))
	cmd.AddCommand(newImportCmd(stdout, stderr, cfg))
	cmd.AddCommand(newTodosCmd(stdout, stderr, cfg))
	cmd.AddCommand(newCacheCmd(stdout, stderr, cfg))

	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(stdout, "taskdash version %s\n", Version)
			return nil
		},
	}
}

// =============================================================================
// Application wiring
// =============================================================================

// app holds everything one command invocation needs.
type app struct {
	cfg      *Config
	conf     *config.Config
	stdout   io.Writer
	stderr   io.Writer
	json     bool
	log      *utils.Logger
	tokens   *credentials.Manager
	notifier notification.NotificationManager
	registry *prometheus.Registry
	cache    *cache.Cache
	store    *cache.Store
	sess     *session.Session
	shutdown *shutdown.Manager
	apiStats *ratelimit.Stats
	// source of the tokens the command started with
	tokenSource credentials.Source
}

// loadConfig reads the config file and applies env and flag overrides.
func loadConfig(cmd *cobra.Command, cfg *Config) (*config.Config, error) {
	path := cfg.ConfigPath
	if flagPath, _ := cmd.Flags().GetString("config"); flagPath != "" {
		path = flagPath
	}
	conf, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	conf.ApplyEnv(cfg.getenv)

	apiURL, _ := cmd.Flags().GetString("api-url")
	format := cfg.OutputFormat
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		format = "json"
	}
	conf.ApplyFlags(apiURL, format)

	if err := conf.Validate(); err != nil {
		return nil, utils.WrapWithSuggestion(err, "Fix the config file or run with --config pointing at a valid one")
	}
	return conf, nil
}

// openApp wires config, logging, tokens, notifications, the cache and the
// session. Every opened resource is registered for cleanup.
func openApp(cmd *cobra.Command, cfg *Config, stdout, stderr io.Writer) (*app, error) {
	conf, err := loadConfig(cmd, cfg)
	if err != nil {
		return nil, err
	}

	log := utils.GetLogger()
	if err := log.SetLevel(conf.Logging.Level); err != nil {
		return nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose || cfg.Verbose {
		log.SetVerbose(true)
	}

	a := &app{
		cfg:      cfg,
		conf:     conf,
		stdout:   stdout,
		stderr:   stderr,
		json:     conf.OutputFormat == "json",
		log:      log,
		registry: prometheus.NewRegistry(),
	}
	a.shutdown = shutdown.NewManager(context.Background(), shutdown.WithLogger(log.Named("shutdown")))
	a.shutdown.RegisterCleanup("logger", func(ctx context.Context) error {
		log.Sync()
		return nil
	})

	keyring := cfg.Keyring
	if keyring == nil {
		if conf.UseKeyring() {
			keyring = credentials.NewSystemKeyring()
		} else {
			keyring = credentials.NewMemoryKeyring()
		}
	}
	a.tokens = credentials.NewManager(
		credentials.WithKeyring(keyring),
		credentials.WithAccount(conf.Auth.Account),
		credentials.WithEnv(cfg.getenv),
		credentials.WithLogger(log.Named("credentials")),
	)

	notifier, err := newNotifier(conf, cfg, stderr, log.Named("notification"))
	if err != nil {
		_ = a.shutdown.Wait(context.Background())
		return nil, err
	}
	a.notifier = notifier
	a.shutdown.RegisterCleanup("notifications", func(ctx context.Context) error {
		return notifier.Close()
	})

	a.apiStats = ratelimit.NewStats()
	a.apiStats.Register(a.registry)

	gateway, err := rest.New(rest.Config{
		BaseURL: conf.API.BaseURL,
		Timeout: conf.GetAPITimeout(),
		Tokens:  a.tokens,
		Retry: ratelimit.NewPolicy(ratelimit.Config{
			MaxAttempts:       conf.Retry.MaxAttempts,
			BaseDelay:         conf.GetRetryBaseDelay(),
			MaxDelay:          conf.GetRetryMaxDelay(),
			EnableJitter:      conf.Retry.Jitter,
			RequestsPerSecond: conf.API.RateLimit,
			Burst:             conf.API.Burst,
			Stats:             a.apiStats,
		}),
		Breaker: ratelimit.NewCircuitBreaker(5, 30*time.Second),
		Logger:  log.Named("gateway"),
	})
	if err != nil {
		_ = a.shutdown.Wait(context.Background())
		return nil, err
	}

	if conf.IsCachePersistent() {
		a.store = openStore(cfg, conf, log)
		if a.store != nil {
			store := a.store
			a.shutdown.RegisterCleanup("store", func(ctx context.Context) error {
				return store.Close()
			})
		}
	}

	taskPolicy := cache.Policy{StaleTime: conf.GetStaleTime(), GCTime: conf.GetGCTime()}
	a.cache = cache.New(context.Background(),
		cache.WithLogger(log.Named("cache")),
		cache.WithMetrics(cache.NewMetrics(a.registry)),
		cache.WithDefaultPolicy(taskPolicy),
	)
	a.shutdown.RegisterCleanup("cache", func(ctx context.Context) error {
		return a.cache.Close()
	})

	sess, err := session.New(session.Config{
		Gateway:           gateway,
		Tokens:            a.tokens,
		Cache:             a.cache,
		Store:             a.store,
		Notifier:          notifier,
		Logger:            log.Named("session"),
		TaskPolicy:        taskPolicy,
		PreferencesPolicy: cache.Policy{StaleTime: conf.GetPreferencesStaleTime(), GCTime: conf.GetPreferencesGCTime()},
	})
	if err != nil {
		_ = gateway.Close()
		_ = a.shutdown.Wait(context.Background())
		return nil, err
	}
	a.sess = sess
	a.shutdown.RegisterCleanup("session", sess.Close)

	if err := sess.Start(a.shutdown.Context()); err != nil {
		log.Warn("starting without cached data: %v", err)
	}
	return a, nil
}

// openStore opens the cache database. Failures only cost persistence.
func openStore(cfg *Config, conf *config.Config, log *utils.Logger) *cache.Store {
	path := conf.Cache.Path
	if cfg.CachePath != "" {
		path = cfg.CachePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Warn("cache directory unavailable: %v", err)
		return nil
	}
	store, err := cache.OpenStore(path)
	if err != nil {
		log.Warn("cache database unavailable: %v", err)
		return nil
	}
	return store
}

// newNotifier builds the notification fan-out from config.
func newNotifier(conf *config.Config, cfg *Config, stderr io.Writer, log *zap.Logger) (notification.NotificationManager, error) {
	ncfg := &notification.Config{
		Enabled: conf.NotificationsEnabled(),
		Terminal: notification.TerminalConfig{
			Enabled: true,
			Quiet:   conf.Notification.Quiet,
		},
		OSNotification: notification.OSNotificationConfig{
			Enabled:   conf.Notification.Desktop,
			OnSuccess: true,
			OnError:   true,
		},
		LogNotification: notification.LogNotificationConfig{
			Enabled:   conf.Notification.History,
			Path:      conf.Notification.HistoryPath,
			MaxSizeMB: 10,
		},
	}
	opts := []notification.Option{
		notification.WithTerminalWriter(stderr),
		notification.WithLogger(log),
	}
	if cfg.Notifications != nil {
		opts = append(opts, notification.WithChannel(cfg.Notifications))
	}
	return notification.NewManager(ncfg, opts...)
}

// close flushes the cache and releases every resource.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.shutdown.Wait(ctx)
}

// run opens the app, runs fn and always closes. Commands that need a
// session set requireLogin.
func run(cmd *cobra.Command, cfg *Config, stdout, stderr io.Writer, requireLogin bool, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd, cfg, stdout, stderr)
	if err != nil {
		return err
	}
	stop := a.shutdown.ListenForSignals()
	defer stop()

	if info, err := a.tokens.Info(); err == nil {
		a.tokenSource = info.Source
	}
	if requireLogin && !a.sess.IsLoggedIn() {
		_ = a.close()
		return utils.ErrNotLoggedIn()
	}

	runErr := fn(a.shutdown.Context(), a)
	if n := a.apiStats.RateLimitCount(); n > 0 {
		a.log.Warn("API rate limited %d time(s), last at %s", n, a.apiStats.LastRateLimitTime().Format(time.RFC3339))
	}
	runErr = a.userError(runErr)
	if closeErr := a.close(); closeErr != nil {
		a.log.Debug("cleanup: %v", closeErr)
	}
	return runErr
}

// userError turns gateway errors into errors with a suggestion.
func (a *app) userError(err error) error {
	if err == nil {
		return nil
	}
	if a.shutdown.IsShutdown() && errors.Is(err, context.Canceled) {
		return errors.New("interrupted")
	}
	apiErr, ok := utils.AsAPIError(err)
	if !ok {
		return err
	}
	switch apiErr.Kind {
	case utils.KindNetwork:
		return utils.ErrAPIOffline(apiErr.Message)
	case utils.KindUnauthorized:
		select {
		case <-a.sess.Redirects():
			return a.sessionExpired()
		default:
		}
	}
	return err
}

func (a *app) sessionExpired() error {
	if a.tokenSource == credentials.SourceEnvironment {
		return utils.ErrSessionExpiredEnv(credentials.EnvAccessToken)
	}
	return utils.ErrSessionExpired()
}

// fresh reads through the cache and, when the first read served stale
// data, waits for the background refresh and reads again. If the refresh
// fails the last known data is returned, unless the API rejected the
// session: then the cache has been cleared and the data must not be shown.
func fresh[T any](ctx context.Context, a *app, read func(ctx context.Context) (T, error)) (T, error) {
	v, err := read(ctx)
	if err != nil {
		return v, err
	}
	a.cache.WaitIdle()
	next, err := read(ctx)
	if err == nil {
		return next, nil
	}
	if utils.IsUnauthorized(err) {
		return next, err
	}
	select {
	case <-a.sess.Redirects():
		return next, a.sessionExpired()
	default:
	}
	return v, nil
}

// =============================================================================
// JSON output
// =============================================================================

type errorResponse struct {
	Error  string `json:"error"`
	Code   int    `json:"code"`
	Result string `json:"result"`
}

type dataResponse struct {
	Data   any    `json:"data"`
	Result string `json:"result"`
}

type actionResponse struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
	Result string `json:"result"`
}

// outputErrorJSON outputs error in JSON format
func outputErrorJSON(err error, stdout io.Writer) {
	msg := err.Error()
	var withSuggestion *utils.ErrorWithSuggestion
	if errors.As(err, &withSuggestion) {
		msg = withSuggestion.Err.Error()
	}
	response := errorResponse{
		Error:  msg,
		Code:   1,
		Result: ResultError,
	}

	jsonBytes, _ := json.Marshal(response)
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}

func writeJSON(w io.Writer, v any) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, string(jsonBytes))
	return nil
}

// outputData prints a query result as JSON
func (a *app) outputData(v any) error {
	return writeJSON(a.stdout, dataResponse{Data: v, Result: ResultInfoOnly})
}

// outputAction prints a mutation result as JSON
func (a *app) outputAction(action string, v any) error {
	return writeJSON(a.stdout, actionResponse{Action: action, Data: v, Result: ResultActionCompleted})
}
