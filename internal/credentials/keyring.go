package credentials

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

var (
	// ErrKeyringNotAvailable is returned when no OS keyring can be reached
	// (for example a headless container without a Secret Service).
	ErrKeyringNotAvailable = errors.New("system keyring not available")
	// ErrNotFound is returned when the keyring has no entry.
	ErrNotFound = errors.New("secret not found in keyring")
)

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, secret string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// MemoryKeyring keeps secrets in process memory. It backs tests and
// sessions with auth.use_keyring disabled.
type MemoryKeyring struct {
	mu    sync.RWMutex
	store map[string]map[string]string // service -> account -> secret
}

// NewMemoryKeyring creates an empty in-memory keyring
func NewMemoryKeyring() *MemoryKeyring {
	return &MemoryKeyring{
		store: make(map[string]map[string]string),
	}
}

// Set stores a secret
func (m *MemoryKeyring) Set(service, account, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store[service] == nil {
		m.store[service] = make(map[string]string)
	}
	m.store[service][account] = secret
	return nil
}

// Get retrieves a secret
func (m *MemoryKeyring) Get(service, account string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if accounts, ok := m.store[service]; ok {
		if secret, ok := accounts[account]; ok {
			return secret, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
}

// Delete removes a secret
func (m *MemoryKeyring) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if accounts, ok := m.store[service]; ok {
		if _, ok := accounts[account]; ok {
			delete(accounts, account)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
}

// systemKeyring stores secrets in the OS keyring via go-keyring
type systemKeyring struct{}

// NewSystemKeyring returns the OS keyring
func NewSystemKeyring() Keyring {
	return systemKeyring{}
}

func (systemKeyring) Set(service, account, secret string) error {
	return mapKeyringError(keyring.Set(service, account, secret))
}

func (systemKeyring) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	if err != nil {
		return "", mapKeyringError(err)
	}
	return secret, nil
}

func (systemKeyring) Delete(service, account string) error {
	return mapKeyringError(keyring.Delete(service, account))
}

func mapKeyringError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, keyring.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, keyring.ErrUnsupportedPlatform):
		return ErrKeyringNotAvailable
	default:
		// go-keyring surfaces D-Bus connection failures as plain errors
		return fmt.Errorf("%w: %v", ErrKeyringNotAvailable, err)
	}
}
