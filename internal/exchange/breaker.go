package exchange

import (
	"sync"
	"time"

	"github.com/oddsdesk/lineguard/internal/telemetry"
)

// Breaker is a per-adapter-instance circuit breaker: three consecutive
// transport failures open it for a cooldown window, during which calls
// fail fast. Adapted from the teacher's risk/circuit_breaker.go trip/
// cooldown/reset shape, repurposed here for transport faults rather than
// P&L faults — the kill switch (internal/guardian) is the P&L equivalent.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration

	consecutiveFailures int
	open                bool
	openedAt            time.Time
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and stays open for cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call should proceed. When the breaker is open but
// the cooldown has elapsed, it half-closes and allows one probe call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if time.Since(b.openedAt) >= b.cooldown {
		b.open = false
		b.consecutiveFailures = 0
		return true
	}
	return false
}

// RecordSuccess resets the consecutive-failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.open = false
}

// RecordFailure increments the counter, opening the breaker at threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold && !b.open {
		b.open = true
		b.openedAt = time.Now()
		telemetry.For("exchange.breaker").Warn().
			Int("consecutive_failures", b.consecutiveFailures).
			Dur("cooldown", b.cooldown).
			Msg("circuit breaker opened")
	}
}

// IsOpen reports current breaker state without mutating it.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open && time.Since(b.openedAt) >= b.cooldown {
		return false
	}
	return b.open
}

// Retry runs fn with exponential backoff (base 2x, up to attempts tries),
// consulting and updating the breaker. Returns the last error on exhaustion.
func Retry(b *Breaker, attempts int, baseDelay time.Duration, fn func() error) error {
	if !b.Allow() {
		return ErrBreakerOpen
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			b.RecordSuccess()
			return nil
		}
		b.RecordFailure()
		if i < attempts-1 {
			time.Sleep(baseDelay * time.Duration(1<<uint(i)))
		}
	}
	return err
}

// ErrBreakerOpen is returned when a call is short-circuited by an open breaker.
var ErrBreakerOpen = breakerOpenError{}

type breakerOpenError struct{}

func (breakerOpenError) Error() string { return "circuit breaker open: transport" }
