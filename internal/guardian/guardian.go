// Package guardian implements the balance-threshold kill switch and the
// losing-streak governor. Grounded on the teacher's
// risk/circuit_breaker.go trip/cooldown shape (here: a latch cleared only
// manually, not by cooldown) and risk/manager.go's consecutive-loss
// counter in RecordTrade, generalized from a single equity curve to
// per-user balance-across-accounts tracking.
package guardian

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsdesk/lineguard/internal/apperr"
	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/telemetry"
	"github.com/oddsdesk/lineguard/types"
)

// BalanceFetchRetries and BalanceFetchBackoff implement "a single transient
// failure does not trigger the switch" per spec 4.H.
const (
	BalanceFetchRetries = 3
	BalanceFetchBackoff = 2 * time.Second
)

// DefaultBalanceCheckInterval is used when a user's GlobalSettings leaves
// BalanceCheckIntervalSec unset.
const DefaultBalanceCheckInterval = 60 * time.Second

// Notifier is the narrow interface the guardian uses to emit alerts; the
// concrete implementation (Telegram/webhook) lives in internal/notify.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Guardian owns one user's kill-switch latch and losing-streak counter.
// Per the data model's ownership rule, only the guardian ever mutates
// these two fields on GlobalSettings.
type Guardian struct {
	mu       sync.Mutex
	settings *types.GlobalSettings
	notifier Notifier
}

// New wraps a user's GlobalSettings row. CheckBalances, RecordTrade and
// ClearKillSwitch mutate that row in place and do not return it; the
// caller persists it afterwards (Settings returns the same pointer).
func New(settings *types.GlobalSettings, notifier Notifier) *Guardian {
	return &Guardian{settings: settings, notifier: notifier}
}

// BalanceFetcher fetches one account's available balance.
type BalanceFetcher func(ctx context.Context) (exchange.Balance, error)

// CheckBalances sums balances across all active accounts (via fetchers,
// one per active account) with retries, and latches the kill switch if the
// total falls below threshold. Returns the total balance observed.
func (g *Guardian) CheckBalances(ctx context.Context, fetchers map[string]BalanceFetcher) (decimal.Decimal, error) {
	total := decimal.Zero

	for acctID, fetch := range fetchers {
		balance, err := fetchWithRetry(ctx, fetch, BalanceFetchRetries, BalanceFetchBackoff)
		if err != nil {
			telemetry.For("guardian").Warn().
				Str("account_id", acctID).
				Err(err).
				Msg("balance fetch failed after retries, excluding from total")
			continue
		}
		total = total.Add(balance.Available)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.settings.MinBalanceThreshold.IsZero() || total.GreaterThanOrEqual(g.settings.MinBalanceThreshold) {
		return total, nil
	}

	if g.settings.KillSwitchTriggeredAt == nil {
		now := time.Now()
		g.settings.KillSwitchTriggeredAt = &now
		g.settings.KillSwitchReason = "balance below minimum threshold"
		g.settings.BotEnabled = false

		if g.notifier != nil {
			_ = g.notifier.Notify(ctx, "kill switch triggered",
				"total balance "+total.StringFixed(2)+" fell below threshold "+g.settings.MinBalanceThreshold.StringFixed(2))
		}
		telemetry.For("guardian").Error().
			Str("total", total.StringFixed(2)).
			Str("threshold", g.settings.MinBalanceThreshold.StringFixed(2)).
			Msg("kill switch latched")
	}

	return total, nil
}

func fetchWithRetry(ctx context.Context, fetch BalanceFetcher, attempts int, backoff time.Duration) (exchange.Balance, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		balance, err := fetch(ctx)
		if err == nil {
			return balance, nil
		}
		lastErr = err
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return exchange.Balance{}, ctx.Err()
			case <-time.After(backoff * time.Duration(1<<uint(i))):
			}
		}
	}
	return exchange.Balance{}, apperr.New(apperr.Transport, "guardian.fetchWithRetry", lastErr)
}

// ClearKillSwitch clears the latch, but only when the current balance is
// again above threshold.
func (g *Guardian) ClearKillSwitch(currentBalance decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.settings.KillSwitchTriggeredAt == nil {
		return nil
	}
	if currentBalance.LessThan(g.settings.MinBalanceThreshold) {
		return apperr.New(apperr.Validation, "guardian.ClearKillSwitch",
			insufficientBalanceToClearError{})
	}

	g.settings.KillSwitchTriggeredAt = nil
	g.settings.KillSwitchReason = ""
	g.settings.BotEnabled = true
	return nil
}

type insufficientBalanceToClearError struct{}

func (insufficientBalanceToClearError) Error() string {
	return "guardian: balance still below threshold, cannot clear kill switch"
}

// IsHalted reports whether trading is currently halted by the kill switch.
func (g *Guardian) IsHalted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings.IsHalted()
}

// Settings returns the GlobalSettings row the guardian owns, for the
// caller to persist after a call that may have mutated it. Per the data
// model's ownership rule only the guardian mutates it; callers may read
// and save it, not mutate it directly.
func (g *Guardian) Settings() *types.GlobalSettings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// BalanceCheckInterval returns the user's configured balance-check
// cadence, falling back to DefaultBalanceCheckInterval when unset.
func (g *Guardian) BalanceCheckInterval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.settings.BalanceCheckIntervalSec <= 0 {
		return DefaultBalanceCheckInterval
	}
	return time.Duration(g.settings.BalanceCheckIntervalSec) * time.Second
}

// RecordTrade updates the losing-streak counter from one closed position's
// realized P&L. A loss increments the streak; a win resets it to zero.
func (g *Guardian) RecordTrade(realizedPnL decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if realizedPnL.LessThan(decimal.Zero) {
		g.settings.CurrentLosingStreak++
		if g.settings.CurrentLosingStreak > g.settings.MaxLosingStreak {
			g.settings.MaxLosingStreak = g.settings.CurrentLosingStreak
		}
	} else {
		g.settings.CurrentLosingStreak = 0
	}
}

// StreakMultiplier returns the position-size multiplier the sizer should
// apply: max(0.1, 1.0 - streak_reduction_pct*streak) when reduction is
// enabled, otherwise 1.0.
func (g *Guardian) StreakMultiplier() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.settings.StreakReductionOn {
		return decimal.NewFromInt(1)
	}

	streak := decimal.NewFromInt(int64(g.settings.CurrentLosingStreak))
	reduction := g.settings.StreakReductionPct.Mul(streak)
	multiplier := decimal.NewFromInt(1).Sub(reduction)

	floor := decimal.NewFromFloat(0.1)
	if multiplier.LessThan(floor) {
		return floor
	}
	return multiplier
}
