package credentials

import (
	"errors"
	"testing"
)

// TestSystemKeyringSetGetDelete tests full CRUD operations on the system keyring.
// Skipped in environments without a keyring (CI, headless servers).
func TestSystemKeyringSetGetDelete(t *testing.T) {
	kr := NewSystemKeyring()
	service := "taskdash-test-keyring-crud"
	account := "testuser"

	err := kr.Set(service, account, "secret")
	if errors.Is(err, ErrKeyringNotAvailable) {
		t.Skip("system keyring not available in this environment")
	}
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	defer func() { _ = kr.Delete(service, account) }()

	got, err := kr.Get(service, account)
	if err != nil || got != "secret" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := kr.Delete(service, account); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kr.Get(service, account); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// TestMemoryKeyring tests the in-memory implementation
func TestMemoryKeyring(t *testing.T) {
	kr := NewMemoryKeyring()

	if _, err := kr.Get("svc", "acct"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_ = kr.Set("svc", "acct", "one")
	_ = kr.Set("svc", "acct", "two")
	if got, _ := kr.Get("svc", "acct"); got != "two" {
		t.Errorf("expected overwrite, got %q", got)
	}
	if err := kr.Delete("svc", "acct"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := kr.Delete("svc", "acct"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
