package txn

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// RetryPolicy controls retry behavior for outbound gateway calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      func(time.Duration) time.Duration
	Sleep       func(context.Context, time.Duration) error
	ShouldRetry func(error) bool
}

// Do executes the function with retries according to the policy. The
// default predicate retries only transport-level gateway failures:
// application rejections and authentication failures never retry.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = retryableServiceError
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
		delay = jitter(delay)
		if delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return nil
}

func retryableServiceError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
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

// CircuitBreaker stops calls after repeated failures.
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

// NewCircuitBreaker constructs a circuit breaker with sane defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	maxFails := cfg.MaxFailures
	if maxFails < 1 {
		maxFails = 1
	}
	resetAfter := cfg.ResetTimeout
	if resetAfter <= 0 {
		resetAfter = 2 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		maxFails:   maxFails,
		resetAfter: resetAfter,
		now:        now,
		state:      circuitClosed,
	}
}

// Execute runs the given function while enforcing breaker state.
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
	case circuitHalfOpen:
		if c.halfOpenFlight {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	if c.state == circuitHalfOpen {
		c.halfOpenFlight = true
	}
	c.mu.Unlock()

	err := fn()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == circuitHalfOpen {
		c.halfOpenFlight = false
	}

	if err == nil {
		c.state = circuitClosed
		c.failures = 0
		return nil
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

// ReliablePaymentGateway wraps a PaymentGateway with retry and breaker
// controls. Outbound calls stay at-least-once; the payment service guards
// double-confirmation on its side.
type ReliablePaymentGateway struct {
	base    PaymentGateway
	breaker *CircuitBreaker
	retry   RetryPolicy
}

// NewReliablePaymentGateway constructs a reliability-wrapped payment gateway.
func NewReliablePaymentGateway(base PaymentGateway, breaker *CircuitBreaker, retry RetryPolicy) *ReliablePaymentGateway {
	return &ReliablePaymentGateway{
		base:    base,
		breaker: breaker,
		retry:   retry,
	}
}

func (g *ReliablePaymentGateway) Create(ctx context.Context, in PaymentCreateInput) (Payment, error) {
	var payment Payment
	err := g.do(ctx, func() error {
		var err error
		payment, err = g.base.Create(ctx, in)
		return err
	})
	return payment, err
}

func (g *ReliablePaymentGateway) Confirm(ctx context.Context, paymentID string) (PaymentConfirmation, error) {
	var conf PaymentConfirmation
	err := g.do(ctx, func() error {
		var err error
		conf, err = g.base.Confirm(ctx, paymentID)
		return err
	})
	return conf, err
}

func (g *ReliablePaymentGateway) do(ctx context.Context, fn func() error) error {
	attempt := func() error {
		if g.breaker != nil {
			return g.breaker.Execute(fn)
		}
		return fn()
	}
	return g.retry.Do(ctx, attempt)
}

// ReliableInventoryGateway wraps an InventoryGateway with retry and breaker
// controls.
type ReliableInventoryGateway struct {
	base    InventoryGateway
	breaker *CircuitBreaker
	retry   RetryPolicy
}

// NewReliableInventoryGateway constructs a reliability-wrapped inventory
// gateway.
func NewReliableInventoryGateway(base InventoryGateway, breaker *CircuitBreaker, retry RetryPolicy) *ReliableInventoryGateway {
	return &ReliableInventoryGateway{
		base:    base,
		breaker: breaker,
		retry:   retry,
	}
}

func (g *ReliableInventoryGateway) CheckAvailability(ctx context.Context, items []OrderItem) (StockCheck, error) {
	var check StockCheck
	err := g.do(ctx, func() error {
		var err error
		check, err = g.base.CheckAvailability(ctx, items)
		return err
	})
	return check, err
}

func (g *ReliableInventoryGateway) Deduct(ctx context.Context, items []OrderItem) (StockUpdate, error) {
	var update StockUpdate
	err := g.do(ctx, func() error {
		var err error
		update, err = g.base.Deduct(ctx, items)
		return err
	})
	return update, err
}

func (g *ReliableInventoryGateway) Lookup(ctx context.Context, productID string) (Product, error) {
	// Lookup is best-effort display enrichment; retrying it just delays
	// order creation.
	return g.base.Lookup(ctx, productID)
}

func (g *ReliableInventoryGateway) do(ctx context.Context, fn func() error) error {
	attempt := func() error {
		if g.breaker != nil {
			return g.breaker.Execute(fn)
		}
		return fn()
	}
	return g.retry.Do(ctx, attempt)
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
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
