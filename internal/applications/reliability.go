package applications

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen indicates the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ReliabilityConfig tunes the controls wrapped around outbound service calls.
type ReliabilityConfig struct {
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	RateLimitInterval   time.Duration
	RateLimitBurst      int
}

// DefaultReliabilityConfig is used when no overrides are configured.
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		RetryMaxAttempts:    3,
		RetryBaseDelay:      100 * time.Millisecond,
		RetryMaxDelay:       time.Second,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 10 * time.Second,
		RateLimitInterval:   10 * time.Millisecond,
		RateLimitBurst:      50,
	}
}

// Controls bundles the per-dependency reliability primitives.
type Controls struct {
	Limiter *rate.Limiter
	Breaker *CircuitBreaker
	Retry   RetryPolicy
}

// NewControls builds one independent set of controls from cfg. Each
// downstream service should get its own so one outage cannot trip another's breaker.
func NewControls(cfg ReliabilityConfig) Controls {
	var limiter *rate.Limiter
	if cfg.RateLimitInterval > 0 && cfg.RateLimitBurst > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RateLimitInterval), cfg.RateLimitBurst)
	}
	return Controls{
		Limiter: limiter,
		Breaker: NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		}),
		Retry: RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	}
}

// RetryPolicy controls retry behavior for outbound calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      func(time.Duration) time.Duration
	Sleep       func(context.Context, time.Duration) error
	ShouldRetry func(error) bool
}

// Retryable is the default ShouldRetry. Taxonomy errors are definitive
// answers from the downstream service and are never retried.
func Retryable(err error) bool {
	return !errors.IsAny(err,
		context.Canceled, context.DeadlineExceeded, ErrCircuitOpen,
		ErrJobNotFound, ErrInvalidFile, ErrAlreadyApplied, ErrApplicationNotFound, ErrForbidden)
}

// Do executes fn with exponential backoff according to the policy.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := max(p.MaxAttempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = Retryable
	}
	jitter := p.Jitter
	if jitter == nil {
		jitter = defaultJitter
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == attempts || !shouldRetry(err) {
			return err
		}

		delay := p.BaseDelay
		if delay > 0 {
			delay = delay << (attempt - 1)
		}
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if delay = jitter(delay); delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	Now          func() time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker stops calls after repeated failures. After ResetTimeout a
// single trial call is let through; its outcome closes or re-opens the circuit.
type CircuitBreaker struct {
	mu         sync.Mutex
	maxFails   int
	resetAfter time.Duration
	now        func() time.Time

	state          circuitState
	failures       int
	openedAt       time.Time
	halfOpenFlight bool
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	resetAfter := cfg.ResetTimeout
	if resetAfter <= 0 {
		resetAfter = 2 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		maxFails:   max(cfg.MaxFailures, 1),
		resetAfter: resetAfter,
		now:        now,
	}
}

// Execute runs fn unless the circuit is open. Taxonomy errors count as
// successful round trips.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}
	now := c.now()

	c.mu.Lock()
	switch c.state {
	case circuitOpen:
		if now.Sub(c.openedAt) < c.resetAfter {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
		c.state = circuitHalfOpen
		c.halfOpenFlight = true
	case circuitHalfOpen:
		if c.halfOpenFlight {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
		c.halfOpenFlight = true
	}
	c.mu.Unlock()

	err := fn()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.halfOpenFlight = false

	if err == nil || !countsAsFailure(err) {
		c.state = circuitClosed
		c.failures = 0
		return err
	}
	if c.state == circuitHalfOpen {
		c.state = circuitOpen
		c.openedAt = now
		c.failures = 0
		return err
	}
	c.failures++
	if c.failures >= c.maxFails {
		c.state = circuitOpen
		c.openedAt = now
	}
	return err
}

// Open reports whether calls are currently rejected.
func (c *CircuitBreaker) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == circuitOpen && c.now().Sub(c.openedAt) < c.resetAfter
}

func countsAsFailure(err error) bool {
	return !errors.IsAny(err, ErrJobNotFound, ErrApplicationNotFound, ErrForbidden)
}

func (c Controls) do(ctx context.Context, fn func() error) error {
	attempt := func() error {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return c.Breaker.Execute(fn)
	}
	return c.Retry.Do(ctx, attempt)
}

// ReliableJobService wraps a JobService with rate limiting, a circuit breaker
// and retries.
type ReliableJobService struct {
	base     JobService
	controls Controls
}

func NewReliableJobService(base JobService, controls Controls) *ReliableJobService {
	return &ReliableJobService{base: base, controls: controls}
}

func (s *ReliableJobService) ValidateAndGet(ctx context.Context, jobID string) (JobInfo, error) {
	var info JobInfo
	err := s.controls.do(ctx, func() error {
		var err error
		info, err = s.base.ValidateAndGet(ctx, jobID)
		return err
	})
	return info, err
}

func (s *ReliableJobService) Exists(ctx context.Context, jobID string) (bool, error) {
	var ok bool
	err := s.controls.do(ctx, func() error {
		var err error
		ok, err = s.base.Exists(ctx, jobID)
		return err
	})
	return ok, err
}

// ReliableUserDirectory wraps a UserDirectory with reliability controls.
type ReliableUserDirectory struct {
	base     UserDirectory
	controls Controls
}

func NewReliableUserDirectory(base UserDirectory, controls Controls) *ReliableUserDirectory {
	return &ReliableUserDirectory{base: base, controls: controls}
}

func (d *ReliableUserDirectory) GetByUsernames(ctx context.Context, usernames []string) ([]UserInfo, error) {
	var users []UserInfo
	err := d.controls.do(ctx, func() error {
		var err error
		users, err = d.base.GetByUsernames(ctx, usernames)
		return err
	})
	return users, err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + rand.N(half+1)
}
