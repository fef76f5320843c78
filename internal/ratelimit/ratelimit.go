// Package ratelimit provides request pacing, retry with capped exponential
// backoff and a circuit breaker for the task API client.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"taskdash/internal/utils"
)

const (
	// DefaultMaxAttempts is the total number of attempts for a read, including the first.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay caps every retry delay, including server-requested ones.
	DefaultMaxDelay = 30 * time.Second
)

// Config holds retry and pacing settings.
type Config struct {
	// MaxAttempts is the total number of attempts. Default: 3
	MaxAttempts int

	// BaseDelay is the initial delay before the first retry. Default: 1 second
	BaseDelay time.Duration

	// MaxDelay is the maximum delay between retries. Default: 30 seconds
	MaxDelay time.Duration

	// EnableJitter adds random jitter (±20%) to prevent thundering herd.
	EnableJitter bool

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the limiter bucket size. Default: 1
	Burst int

	// Stats is an optional stats tracker for recording retry events.
	Stats *Stats

	// Sleep waits between attempts. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Policy retries idempotent operations and paces requests.
type Policy struct {
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	enableJitter bool
	limiter      *rate.Limiter
	stats        *Stats
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a Policy with defaults applied.
func NewPolicy(cfg Config) *Policy {
	p := &Policy{
		maxAttempts:  cfg.MaxAttempts,
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.MaxDelay,
		enableJitter: cfg.EnableJitter,
		stats:        cfg.Stats,
		sleep:        cfg.Sleep,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.baseDelay <= 0 {
		p.baseDelay = DefaultBaseDelay
	}
	if p.maxDelay <= 0 {
		p.maxDelay = DefaultMaxDelay
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return p
}

// MaxAttempts returns the configured attempt budget.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Wait blocks until the limiter admits one request or ctx is done.
func (p *Policy) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Backoff computes the delay after the given zero-based attempt.
// A server-requested delay replaces the exponential one but is still capped.
func (p *Policy) Backoff(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		if *retryAfter > p.maxDelay {
			return p.maxDelay
		}
		return *retryAfter
	}

	// Exponential backoff: base * 2^attempt
	delay := time.Duration(float64(p.baseDelay) * math.Pow(2, float64(attempt)))
	if delay > p.maxDelay || delay <= 0 {
		delay = p.maxDelay
	}

	if p.enableJitter {
		jitterFactor := 0.8 + rand.Float64()*0.4 // 0.8 to 1.2
		delay = time.Duration(float64(delay) * jitterFactor)
		if delay > p.maxDelay {
			delay = p.maxDelay
		}
	}

	return delay
}

// Retry runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Only use it for idempotent reads.
func (p *Policy) Retry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		err = op(ctx)
		if err == nil || !utils.IsRetryable(err) || errors.Is(err, ErrCircuitOpen) {
			return err
		}

		var retryAfter *time.Duration
		if apiErr, ok := utils.AsAPIError(err); ok {
			if apiErr.Status == http.StatusTooManyRequests && p.stats != nil {
				p.stats.RecordRateLimit()
			}
			retryAfter = apiErr.RetryAfter
		}

		if attempt+1 >= p.maxAttempts {
			break
		}

		if p.stats != nil {
			p.stats.RecordRetry()
		}
		if sleepErr := p.sleep(ctx, p.Backoff(attempt, retryAfter)); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseRetryAfter parses the Retry-After header value.
// It supports both seconds format (integer) and HTTP-date format.
// Returns nil if the value is invalid or empty.
func ParseRetryAfter(value string) *time.Duration {
	if value == "" {
		return nil
	}

	// Try parsing as seconds (integer)
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds) * time.Second
		return &d
	}

	// Try parsing as HTTP-date
	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}

	return nil
}

// Stats tracks retry statistics for the API client.
type Stats struct {
	mu              sync.RWMutex
	rateLimitCount  int64
	retryCount      int64
	lastRateLimitAt time.Time
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// RecordRateLimit records a 429 response.
func (s *Stats) RecordRateLimit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitCount++
	s.lastRateLimitAt = time.Now()
}

// RecordRetry records a retried attempt.
func (s *Stats) RecordRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCount++
}

// RateLimitCount returns the total number of rate limit events.
func (s *Stats) RateLimitCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateLimitCount
}

// RetryCount returns the total number of retries.
func (s *Stats) RetryCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryCount
}

// LastRateLimitTime returns the time of the last rate limit event.
func (s *Stats) LastRateLimitTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRateLimitAt
}

// Register exposes the stats on reg:
//   - taskdash_api_retries_total - read attempts that were retried
//   - taskdash_api_rate_limited_total - responses rejected with 429
//   - taskdash_api_last_rate_limit_timestamp_seconds - time of the last 429, 0 if none
func (s *Stats) Register(reg prometheus.Registerer) {
	factory := promauto.With(reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "taskdash",
		Subsystem: "api",
		Name:      "retries_total",
		Help:      "Read attempts that were retried",
	}, func() float64 { return float64(s.RetryCount()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "taskdash",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Responses rejected with 429",
	}, func() float64 { return float64(s.RateLimitCount()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "taskdash",
		Subsystem: "api",
		Name:      "last_rate_limit_timestamp_seconds",
		Help:      "Unix time of the last 429 response, 0 if none",
	}, func() float64 {
		last := s.LastRateLimitTime()
		if last.IsZero() {
			return 0
		}
		return float64(last.Unix())
	})
}
