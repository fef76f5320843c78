// Package testutil provides shared test utilities for CLI testing across packages.
// Every CLITest runs against its own fake API server, keyring and cache file.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taskdash/backend"
	"taskdash/cmd/taskdash/cmd"
	"taskdash/internal/credentials"
	"taskdash/internal/notification"
	"taskdash/internal/testutil/fakeapi"
)

// Default account used by the logged-in constructors.
const (
	TestEmail    = "user@example.com"
	TestPassword = "secret"
)

// testConfigTemplate keeps reads to a single attempt so offline tests
// fail fast.
const testConfigTemplate = `api:
  base_url: %s
  timeout: 5s
retry:
  max_attempts: 1
cache:
  persist: true
auth:
  use_keyring: false
notification:
  desktop: false
  history: false
logging:
  level: error
`

// CLITest provides a test helper for running CLI commands in isolation.
type CLITest struct {
	t          *testing.T
	cfg        *cmd.Config
	api        *fakeapi.Server
	keyring    *credentials.MemoryKeyring
	recorder   *notification.Recorder
	tmpDir     string
	configPath string
}

// NewCLITest creates a CLI test helper that is not logged in.
func NewCLITest(t *testing.T) *CLITest {
	t.Helper()

	tmpDir := t.TempDir()
	api := fakeapi.New(t)
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte(fmt.Sprintf(testConfigTemplate, api.URL())), 0644); err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}

	keyring := credentials.NewMemoryKeyring()
	recorder := notification.NewRecorder()
	cfg := &cmd.Config{
		ConfigPath:    configPath,
		CachePath:     filepath.Join(tmpDir, "cache", "cache.db"),
		Keyring:       keyring,
		Getenv:        func(string) string { return "" },
		Notifications: recorder,
		Stdin:         strings.NewReader(""),
	}

	api.AddUser(TestEmail, TestPassword)

	return &CLITest{
		t:          t,
		cfg:        cfg,
		api:        api,
		keyring:    keyring,
		recorder:   recorder,
		tmpDir:     tmpDir,
		configPath: configPath,
	}
}

// NewLoggedInCLITest creates a CLI test helper with a valid session for
// TestEmail already in the keyring.
func NewLoggedInCLITest(t *testing.T) *CLITest {
	t.Helper()

	c := NewCLITest(t)
	token := c.api.IssueToken(TestEmail)
	tokens := credentials.NewManager(
		credentials.WithKeyring(c.keyring),
		credentials.WithEnv(func(string) string { return "" }),
	)
	if err := tokens.Save(backend.AuthTokens{AccessToken: token, RefreshToken: "refresh-test"}); err != nil {
		t.Fatalf("failed to store session: %v", err)
	}
	return c
}

// API returns the fake server behind the CLI.
func (c *CLITest) API() *fakeapi.Server {
	return c.api
}

// Config returns the CLI configuration used by the test.
func (c *CLITest) Config() *cmd.Config {
	return c.cfg
}

// Notifications returns every toast shown so far.
func (c *CLITest) Notifications() *notification.Recorder {
	return c.recorder
}

// TmpDir returns the temporary directory for the test.
func (c *CLITest) TmpDir() string {
	return c.tmpDir
}

// ConfigPath returns the path to the config file.
func (c *CLITest) ConfigPath() string {
	return c.configPath
}

// CachePath returns the path of the persistent cache database.
func (c *CLITest) CachePath() string {
	return c.cfg.CachePath
}

// SetConfigValue appends a top-level key-value pair to the test config file.
func (c *CLITest) SetConfigValue(key, value string) {
	c.t.Helper()

	data, err := os.ReadFile(c.configPath)
	if err != nil {
		c.t.Fatalf("failed to read config file: %v", err)
	}

	newConfig := string(data) + key + ": " + value + "\n"

	if err := os.WriteFile(c.configPath, []byte(newConfig), 0644); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// SetFullConfig replaces the entire config file with the given YAML content.
func (c *CLITest) SetFullConfig(yamlContent string) {
	c.t.Helper()

	if err := os.WriteFile(c.configPath, []byte(yamlContent), 0644); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// Execute runs a CLI command with the given arguments and returns stdout, stderr, and exit code.
func (c *CLITest) Execute(args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	var stdoutBuf, stderrBuf bytes.Buffer
	exitCode = cmd.Execute(args, &stdoutBuf, &stderrBuf, c.cfg)
	return stdoutBuf.String(), stderrBuf.String(), exitCode
}

// ExecuteWithInput runs a CLI command with input as stdin.
func (c *CLITest) ExecuteWithInput(input string, args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	c.cfg.Stdin = strings.NewReader(input)
	defer func() { c.cfg.Stdin = strings.NewReader("") }()
	return c.Execute(args...)
}

// MustExecute runs a CLI command and fails the test if exit code is non-zero.
func (c *CLITest) MustExecute(args ...string) string {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode != 0 {
		c.t.Fatalf("expected exit code 0, got %d: stdout=%s stderr=%s", exitCode, stdout, stderr)
	}
	return stdout
}

// ExecuteAndFail runs a CLI command and fails the test if exit code is zero.
func (c *CLITest) ExecuteAndFail(args ...string) (stdout, stderr string) {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode == 0 {
		c.t.Fatalf("expected non-zero exit code, got 0: stdout=%s", stdout)
	}
	return stdout, stderr
}

// MustExecuteJSON runs a CLI command with --json and decodes stdout into v.
func (c *CLITest) MustExecuteJSON(v any, args ...string) {
	c.t.Helper()

	stdout := c.MustExecute(append(args, "--json")...)
	if err := json.Unmarshal([]byte(stdout), v); err != nil {
		c.t.Fatalf("invalid JSON output: %v\n%s", err, stdout)
	}
}

// AssertContains fails the test if output doesn't contain expected string.
func AssertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// AssertNotContains fails the test if output contains unexpected string.
func AssertNotContains(t *testing.T, output, unexpected string) {
	t.Helper()
	if strings.Contains(output, unexpected) {
		t.Errorf("expected output NOT to contain %q, got:\n%s", unexpected, output)
	}
}

// AssertExitCode fails the test if exit code doesn't match expected.
func AssertExitCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("expected exit code %d, got %d", want, got)
	}
}

// AssertResultCode verifies the "result" field of a JSON response.
func AssertResultCode(t *testing.T, output, expectedCode string) {
	t.Helper()
	var resp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &resp); err != nil {
		t.Errorf("expected JSON output with result %q, got:\n%s", expectedCode, output)
		return
	}
	if resp.Result != expectedCode {
		t.Errorf("expected result code %q, got %q\nFull output:\n%s", expectedCode, resp.Result, output)
	}
}

// Result code constants for convenience.
const (
	ResultActionCompleted = cmd.ResultActionCompleted
	ResultInfoOnly        = cmd.ResultInfoOnly
	ResultError           = cmd.ResultError
)
