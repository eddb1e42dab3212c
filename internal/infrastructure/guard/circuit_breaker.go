package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BasicFist/tradeguard/internal/domain"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation, calls pass through
	StateOpen                  // failing, calls rejected immediately
	StateHalfOpen              // recovery probe in progress
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker isolates a remote dependency so its failures cannot
// cascade. After FailMax consecutive trip-worthy failures the breaker opens
// and rejects calls without invoking the dependency; after ResetTimeout it
// admits a single probe call whose outcome decides CLOSED vs re-OPEN.
//
// The wrapped call runs outside the lock, so a slow dependency never blocks
// other callers' fast-path checks.
type CircuitBreaker struct {
	name       string
	tripWorthy func(error) bool

	mu           sync.Mutex
	state        State
	failCount    int
	failMax      int
	resetTimeout time.Duration
	lastTrip     time.Time
	probing      bool

	logger *zap.Logger
}

// CircuitBreakerConfig holds construction parameters for one breaker.
type CircuitBreakerConfig struct {
	Name         string
	FailMax      int
	ResetTimeout time.Duration
	// TripWorthy classifies errors. Only trip-worthy outcomes count against
	// the breaker; nil defaults to domain.IsTripWorthy.
	TripWorthy func(error) bool
}

// Status is a point-in-time snapshot for observability.
type Status struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	FailCount int       `json:"fail_count"`
	FailMax   int       `json:"fail_max"`
	LastTrip  time.Time `json:"last_trip,omitempty"`
}

func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if cfg.FailMax <= 0 {
		cfg.FailMax = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.TripWorthy == nil {
		cfg.TripWorthy = domain.IsTripWorthy
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		tripWorthy:   cfg.TripWorthy,
		state:        StateClosed,
		failMax:      cfg.FailMax,
		resetTimeout: cfg.ResetTimeout,
		logger:       logger,
	}
}

// Call invokes fn under breaker protection. While OPEN it returns
// domain.ErrCircuitOpen without invoking fn. fn's error is re-raised
// unchanged so callers keep the venue's own failure detail.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	// Bookkeeping must run even when fn panics: a HALF_OPEN probe that
	// skipped afterCall would leave probing latched and reject every
	// later call until a manual Reset.
	defer func() {
		if r := recover(); r != nil {
			cb.afterCall(fmt.Errorf("wrapped call panicked: %v", r))
			panic(r)
		}
	}()

	err := fn(ctx)
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastTrip) < cb.resetTimeout {
			return fmt.Errorf("%s: %w", cb.name, domain.ErrCircuitOpen)
		}
		cb.state = StateHalfOpen
		cb.probing = true
		cb.logger.Info("circuit breaker half-open, probing", zap.String("breaker", cb.name))
		return nil

	case StateHalfOpen:
		if cb.probing {
			// Exactly one probe in flight; everyone else keeps getting
			// rejected until its outcome is known.
			return fmt.Errorf("%s: %w", cb.name, domain.ErrCircuitOpen)
		}
		cb.probing = true
		return nil

	default:
		return fmt.Errorf("%s: %w", cb.name, domain.ErrCircuitOpen)
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probing = false
	}

	if err == nil || !cb.tripWorthy(err) {
		// Client-side errors count as successes for breaker purposes: the
		// dependency answered.
		cb.failCount = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.logger.Info("circuit breaker closed (recovered)", zap.String("breaker", cb.name))
		}
		return
	}

	cb.failCount++
	if cb.state == StateHalfOpen || cb.failCount >= cb.failMax {
		cb.state = StateOpen
		cb.lastTrip = time.Now()
		cb.logger.Warn("circuit breaker open",
			zap.String("breaker", cb.name),
			zap.Int("failures", cb.failCount),
			zap.Error(err))
	}
}

// GetStatus returns a snapshot of the breaker for monitoring.
func (cb *CircuitBreaker) GetStatus() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Status{
		Name:      cb.name,
		State:     cb.state.String(),
		FailCount: cb.failCount,
		FailMax:   cb.failMax,
		LastTrip:  cb.lastTrip,
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset is the administrative override back to CLOSED.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failCount = 0
	cb.probing = false
	cb.logger.Info("circuit breaker reset", zap.String("breaker", cb.name))
}
