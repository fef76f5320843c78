package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"taskdash/internal/utils"
)

// recordingSleep captures requested delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// =============================================================================
// Retry Tests
// =============================================================================

// TestRetrySucceedsAfterServerError tests that a 5xx is retried and the second attempt wins
func TestRetrySucceedsAfterServerError(t *testing.T) {
	rec := &recordingSleep{}
	stats := NewStats()
	policy := NewPolicy(Config{BaseDelay: 10 * time.Millisecond, Sleep: rec.sleep, Stats: stats})

	calls := 0
	err := policy.Retry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return utils.NewStatusError(http.StatusBadGateway, "", nil)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	if stats.RetryCount() != 1 {
		t.Errorf("expected 1 recorded retry, got %d", stats.RetryCount())
	}
}

// TestRetryAttemptBudget tests that at most three attempts are made with doubling delays
func TestRetryAttemptBudget(t *testing.T) {
	rec := &recordingSleep{}
	policy := NewPolicy(Config{BaseDelay: 100 * time.Millisecond, Sleep: rec.sleep})

	calls := 0
	err := policy.Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return utils.NewNetworkError(errors.New("connection reset by peer"))
	})

	if !errors.As(err, new(*utils.APIError)) {
		t.Fatalf("expected last APIError, got %v", err)
	}
	if calls != DefaultMaxAttempts {
		t.Errorf("expected %d attempts, got %d", DefaultMaxAttempts, calls)
	}
	delays := rec.recorded()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, delays[i], want[i])
		}
	}
}

// TestRetryNonRetryablePassthrough tests that client errors are returned immediately
func TestRetryNonRetryablePassthrough(t *testing.T) {
	statusCodes := []int{400, 401, 403, 404, 422}

	for _, code := range statusCodes {
		t.Run(http.StatusText(code), func(t *testing.T) {
			rec := &recordingSleep{}
			policy := NewPolicy(Config{Sleep: rec.sleep})
			calls := 0
			err := policy.Retry(context.Background(), func(ctx context.Context) error {
				calls++
				return utils.NewStatusError(code, "", nil)
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if calls != 1 {
				t.Errorf("status %d should not be retried, got %d attempts", code, calls)
			}
			if len(rec.recorded()) != 0 {
				t.Error("no backoff expected")
			}
		})
	}
}

// TestRetryStopsWhenCircuitOpen tests that an open circuit fails fast
func TestRetryStopsWhenCircuitOpen(t *testing.T) {
	rec := &recordingSleep{}
	policy := NewPolicy(Config{Sleep: rec.sleep})

	calls := 0
	err := policy.Retry(context.Background(), func(ctx context.Context) error {
		calls++
		return utils.NewNetworkError(ErrCircuitOpen)
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 1 || len(rec.recorded()) != 0 {
		t.Errorf("open circuit should not be retried: %d calls, %d sleeps", calls, len(rec.recorded()))
	}
}

// TestRetryHonorsRetryAfter tests that a 429 Retry-After value is used but capped
func TestRetryHonorsRetryAfter(t *testing.T) {
	rec := &recordingSleep{}
	stats := NewStats()
	policy := NewPolicy(Config{Sleep: rec.sleep, Stats: stats})

	calls := 0
	err := policy.Retry(context.Background(), func(ctx context.Context) error {
		calls++
		switch calls {
		case 1:
			apiErr := utils.NewStatusError(http.StatusTooManyRequests, "", nil)
			apiErr.RetryAfter = durationPtr(5 * time.Second)
			return apiErr
		case 2:
			apiErr := utils.NewStatusError(http.StatusTooManyRequests, "", nil)
			apiErr.RetryAfter = durationPtr(10 * time.Minute)
			return apiErr
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	delays := rec.recorded()
	if len(delays) != 2 || delays[0] != 5*time.Second || delays[1] != DefaultMaxDelay {
		t.Errorf("delays = %v, want [5s %v]", delays, DefaultMaxDelay)
	}
	if stats.RateLimitCount() != 2 {
		t.Errorf("expected 2 rate limit events, got %d", stats.RateLimitCount())
	}
}

// TestRetryContextCancellation tests that cancellation stops the retry loop
func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := NewPolicy(Config{BaseDelay: time.Hour})

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Retry(ctx, func(ctx context.Context) error {
			calls++
			return utils.NewStatusError(http.StatusServiceUnavailable, "", nil)
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", calls)
	}
}

// =============================================================================
// Backoff Tests
// =============================================================================

// TestBackoff tests the backoff calculation directly
func TestBackoff(t *testing.T) {
	policy := NewPolicy(Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second})

	tests := []struct {
		name       string
		attempt    int
		retryAfter *time.Duration
		expected   time.Duration
	}{
		{"first attempt", 0, nil, 1 * time.Second},
		{"second attempt", 1, nil, 2 * time.Second},
		{"third attempt", 2, nil, 4 * time.Second},
		{"fifth attempt", 4, nil, 16 * time.Second},
		{"capped at maxDelay", 5, nil, 30 * time.Second},
		{"huge attempt stays capped", 200, nil, 30 * time.Second},
		{"retryAfter overrides calculation", 0, durationPtr(5 * time.Second), 5 * time.Second},
		{"retryAfter capped", 0, durationPtr(time.Hour), 30 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.Backoff(tc.attempt, tc.retryAfter); got != tc.expected {
				t.Errorf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.expected)
			}
		})
	}
}

// TestBackoffJitter tests that jitter stays within ±20% and never exceeds the cap
func TestBackoffJitter(t *testing.T) {
	policy := NewPolicy(Config{BaseDelay: time.Second, MaxDelay: 30 * time.Second, EnableJitter: true})

	for i := 0; i < 50; i++ {
		d := policy.Backoff(1, nil)
		if d < 1600*time.Millisecond || d > 2400*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%% of 2s", d)
		}
		if capped := policy.Backoff(10, nil); capped > 30*time.Second {
			t.Fatalf("jittered delay %v exceeds cap", capped)
		}
	}
}

// TestNewPolicyDefaults tests that NewPolicy uses sensible defaults
func TestNewPolicyDefaults(t *testing.T) {
	policy := NewPolicy(Config{})
	if policy.MaxAttempts() != 3 {
		t.Errorf("MaxAttempts = %d, want 3", policy.MaxAttempts())
	}
	if got := policy.Backoff(0, nil); got != DefaultBaseDelay {
		t.Errorf("Backoff(0) = %v, want %v", got, DefaultBaseDelay)
	}
	if err := policy.Wait(context.Background()); err != nil {
		t.Errorf("Wait without limiter should not fail: %v", err)
	}
}

// TestWaitPacesRequests tests the request limiter
func TestWaitPacesRequests(t *testing.T) {
	policy := NewPolicy(Config{RequestsPerSecond: 20, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := policy.Wait(ctx); err != nil {
			t.Fatalf("Wait error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 requests at 20/s should take ~100ms, took %v", elapsed)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := policy.Wait(cancelled); err == nil {
		t.Error("Wait should fail on a cancelled context")
	}
}

// =============================================================================
// Retry-After and Stats Tests
// =============================================================================

// TestParseRetryAfter tests parsing of Retry-After header values
func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected *time.Duration
	}{
		{"seconds integer", "60", durationPtr(60 * time.Second)},
		{"zero seconds", "0", durationPtr(0)},
		{"empty value", "", nil},
		{"invalid value", "invalid", nil},
		{"negative value", "-1", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := ParseRetryAfter(tc.value)

			if tc.expected == nil {
				if result != nil {
					t.Errorf("expected nil, got %v", *result)
				}
			} else {
				if result == nil {
					t.Errorf("expected %v, got nil", *tc.expected)
				} else if *result != *tc.expected {
					t.Errorf("expected %v, got %v", *tc.expected, *result)
				}
			}
		})
	}
}

// TestParseRetryAfterHTTPDate tests the HTTP-date form
func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	d := ParseRetryAfter(future)
	if d == nil || *d <= 0 || *d > 11*time.Second {
		t.Errorf("unexpected duration for %q: %v", future, d)
	}

	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
	if d := ParseRetryAfter(past); d == nil || *d != 0 {
		t.Errorf("past date should clamp to 0, got %v", d)
	}
}

// TestStatsThreadSafety tests that Stats is safe for concurrent access
func TestStatsThreadSafety(t *testing.T) {
	stats := NewStats()

	done := make(chan bool)
	for i := 0; i < 100; i++ {
		go func() {
			stats.RecordRateLimit()
			stats.RecordRetry()
			_ = stats.RateLimitCount()
			_ = stats.LastRateLimitTime()
			done <- true
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}

	if stats.RateLimitCount() != 100 || stats.RetryCount() != 100 {
		t.Errorf("expected 100 events, got %d/%d", stats.RateLimitCount(), stats.RetryCount())
	}
}

// Helper function to create a duration pointer
func durationPtr(d time.Duration) *time.Duration {
	return &d
}

// TestStatsRegister tests that retry and 429 counts are exported as metrics
func TestStatsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := NewStats()
	stats.Register(reg)

	rec := &recordingSleep{}
	policy := NewPolicy(Config{MaxAttempts: 3, Sleep: rec.sleep, Stats: stats})
	err := policy.Retry(context.Background(), func(ctx context.Context) error {
		return utils.NewStatusError(http.StatusTooManyRequests, "", nil)
	})
	if err == nil {
		t.Fatal("expected the last 429 to be returned")
	}

	expected := `
# HELP taskdash_api_rate_limited_total Responses rejected with 429
# TYPE taskdash_api_rate_limited_total counter
taskdash_api_rate_limited_total 3
# HELP taskdash_api_retries_total Read attempts that were retried
# TYPE taskdash_api_retries_total counter
taskdash_api_retries_total 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"taskdash_api_rate_limited_total", "taskdash_api_retries_total"); err != nil {
		t.Error(err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "taskdash_api_last_rate_limit_timestamp_seconds" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v <= 0 {
				t.Errorf("last rate limit timestamp = %v, want > 0", v)
			}
			return
		}
	}
	t.Error("last rate limit timestamp gauge not registered")
}
