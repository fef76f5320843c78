// Package credentials stores API session tokens in the OS keyring with a
// fallback to environment variables.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"taskdash/backend"
)

const (
	// ServiceName is the keyring service all tokens are stored under.
	ServiceName = "taskdash"
	// DefaultAccount is used when no account is configured.
	DefaultAccount = "default"

	EnvAccessToken  = "TASKDASH_ACCESS_TOKEN"
	EnvRefreshToken = "TASKDASH_REFRESH_TOKEN"
)

// Source indicates where tokens were retrieved from
type Source string

const (
	SourceKeyring     Source = "keyring"
	SourceMemory      Source = "memory"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// TokenInfo describes the stored session without exposing the tokens
type TokenInfo struct {
	Account    string
	Source     Source
	Found      bool
	HasRefresh bool
}

// JSON serializes the token info (tokens excluded)
func (i *TokenInfo) JSON() ([]byte, error) {
	output := struct {
		Account    string `json:"account"`
		Source     string `json:"source"`
		Found      bool   `json:"found"`
		HasRefresh bool   `json:"has_refresh_token"`
	}{
		Account:    i.Account,
		Source:     string(i.Source),
		Found:      i.Found,
		HasRefresh: i.HasRefresh,
	}
	return json.Marshal(output)
}

// Manager persists the tokens of one account. It implements
// backend.TokenStore.
type Manager struct {
	keyring Keyring
	account string
	getenv  func(string) string
	log     *zap.Logger

	mu sync.Mutex
	// memory holds tokens when the keyring is unreachable
	memory *backend.AuthTokens
	// cleared hides environment tokens after an explicit logout
	cleared bool
}

var _ backend.TokenStore = (*Manager)(nil)

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// WithAccount sets the keyring account name
func WithAccount(account string) ManagerOption {
	return func(m *Manager) {
		if account = strings.TrimSpace(account); account != "" {
			m.account = account
		}
	}
}

// WithEnv replaces the environment lookup
func WithEnv(getenv func(string) string) ManagerOption {
	return func(m *Manager) {
		m.getenv = getenv
	}
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates a token manager backed by the system keyring
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: NewSystemKeyring(),
		account: DefaultAccount,
		getenv:  os.Getenv,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Account returns the keyring account name
func (m *Manager) Account() string {
	return m.account
}

// Load returns the stored tokens, or nil when there are none.
// Priority: keyring, in-memory fallback, environment.
func (m *Manager) Load() (*backend.AuthTokens, error) {
	tokens, _, err := m.load()
	return tokens, err
}

func (m *Manager) load() (*backend.AuthTokens, Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	secret, err := m.keyring.Get(ServiceName, m.account)
	switch {
	case err == nil && secret != "":
		var tokens backend.AuthTokens
		if err := json.Unmarshal([]byte(secret), &tokens); err != nil {
			return nil, SourceNone, fmt.Errorf("decoding stored tokens: %w", err)
		}
		return &tokens, SourceKeyring, nil
	case err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrKeyringNotAvailable):
		return nil, SourceNone, err
	}

	if m.memory != nil {
		tokens := *m.memory
		return &tokens, SourceMemory, nil
	}

	if !m.cleared {
		if access := m.getenv(EnvAccessToken); access != "" {
			return &backend.AuthTokens{
				AccessToken:  access,
				RefreshToken: m.getenv(EnvRefreshToken),
			}, SourceEnvironment, nil
		}
	}

	return nil, SourceNone, nil
}

// Save stores tokens in the keyring. When the keyring is unavailable the
// tokens are kept in memory for the life of the process.
func (m *Manager) Save(tokens backend.AuthTokens) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = false

	err = m.keyring.Set(ServiceName, m.account, string(data))
	if errors.Is(err, ErrKeyringNotAvailable) {
		m.log.Warn("keyring unavailable, keeping session in memory", zap.Error(err))
		m.memory = &tokens
		return nil
	}
	if err != nil {
		return fmt.Errorf("storing tokens: %w", err)
	}
	m.memory = nil
	return nil
}

// Clear removes stored tokens. It is idempotent.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = true
	m.memory = nil

	err := m.keyring.Delete(ServiceName, m.account)
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrKeyringNotAvailable) {
		return nil
	}
	return fmt.Errorf("removing tokens: %w", err)
}

// Info reports where the current tokens come from
func (m *Manager) Info() (*TokenInfo, error) {
	tokens, source, err := m.load()
	if err != nil {
		return nil, err
	}
	info := &TokenInfo{Account: m.account, Source: source}
	if tokens != nil {
		info.Found = true
		info.HasRefresh = tokens.RefreshToken != ""
	}
	return info, nil
}
