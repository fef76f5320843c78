package shutdown_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"taskdash/internal/shutdown"
)

// TestShutdownCancelsContext verifies that an interrupt aborts in-flight work
func TestShutdownCancelsContext(t *testing.T) {
	mgr := shutdown.NewManager(context.Background())

	select {
	case <-mgr.Context().Done():
		t.Fatal("context should be live before shutdown")
	default:
	}

	mgr.Shutdown()
	mgr.Shutdown()

	select {
	case <-mgr.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("expected context to be cancelled")
	}
	if !mgr.IsShutdown() {
		t.Error("IsShutdown should report true")
	}
}

// TestCleanupsRunInReverseOrder verifies that resources close in LIFO order
func TestCleanupsRunInReverseOrder(t *testing.T) {
	mgr := shutdown.NewManager(context.Background())

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"store", "cache", "session"} {
		name := name
		mgr.RegisterCleanup(name, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	if err := mgr.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	want := []string{"session", "cache", "store"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

// TestCleanupErrorsAreJoined verifies that one failure does not stop the rest
func TestCleanupErrorsAreJoined(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	mgr := shutdown.NewManager(context.Background(), shutdown.WithLogger(zap.New(core)))

	errSave := errors.New("disk full")
	var closed atomic.Bool
	mgr.RegisterCleanup("store", func(ctx context.Context) error {
		closed.Store(true)
		return nil
	})
	mgr.RegisterCleanup("cache", func(ctx context.Context) error { return errSave })

	err := mgr.Wait(context.Background())
	if !errors.Is(err, errSave) {
		t.Fatalf("expected joined error to contain %v, got %v", errSave, err)
	}
	if !closed.Load() {
		t.Error("later cleanups must still run")
	}
	if logs.FilterField(zap.String("resource", "cache")).Len() != 1 {
		t.Errorf("expected the failure to be logged, got %v", logs.All())
	}
}

// TestWaitRunsOnce verifies that a second Wait does not repeat cleanups
func TestWaitRunsOnce(t *testing.T) {
	mgr := shutdown.NewManager(context.Background())
	var calls atomic.Int32
	mgr.RegisterCleanup("cache", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	_ = mgr.Wait(context.Background())
	_ = mgr.Wait(context.Background())

	if calls.Load() != 1 {
		t.Errorf("cleanup ran %d times, want 1", calls.Load())
	}
}

// TestShutdownTimeout verifies that a hung cleanup is abandoned at the deadline
func TestShutdownTimeout(t *testing.T) {
	mgr := shutdown.NewManager(context.Background())

	release := make(chan struct{})
	defer close(release)
	mgr.RegisterCleanup("hung", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := mgr.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait took %v, expected to return at the deadline", elapsed)
	}
}

// TestCleanupSeesCancelledContextAfterInterrupt verifies that cleanups can
// tell an interrupted run from a normal exit
func TestCleanupSeesCancelledContextAfterInterrupt(t *testing.T) {
	mgr := shutdown.NewManager(context.Background())
	var interrupted atomic.Bool
	mgr.RegisterCleanup("session", func(ctx context.Context) error {
		interrupted.Store(mgr.Context().Err() != nil)
		return nil
	})

	mgr.Shutdown()
	_ = mgr.Wait(context.Background())

	if !interrupted.Load() {
		t.Error("expected the manager context to be cancelled during cleanup")
	}
}

// TestListenForSignalsStop verifies that stopping the listener leaves the context live
func TestListenForSignalsStop(t *testing.T) {
	mgr := shutdown.NewManager(context.Background())
	stop := mgr.ListenForSignals()
	stop()
	stop()

	if mgr.IsShutdown() {
		t.Error("stopping the listener must not trigger shutdown")
	}
}
