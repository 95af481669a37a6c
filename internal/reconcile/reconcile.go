// Package reconcile implements the position reconciler: an E (exchange
// positions) vs L (local open positions) set-diff that runs every 5
// minutes while the engine is running, and once at startup before the
// evaluation loop begins. Grounded on the teacher's
// execution/reconciler.go (RecoverPositions/PersistPosition shape),
// generalized from the teacher's one-shot startup-only recovery into a
// recurring diff with an orphan-count alert threshold.
package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/telemetry"
)

// DefaultOrphanAlertThreshold is the number of L\E closures in one run
// above which a critical alert is emitted rather than a plain warning.
const DefaultOrphanAlertThreshold = 3

// LocalPosition is the subset of a locally tracked open position the
// reconciler needs to key it against an exchange position.
type LocalPosition struct {
	ID       string
	MarketID string
	TokenID  string
	Side     string
}

// Store is the narrow persistence port the reconciler depends on. The
// concrete implementation lives in internal/store/gormstore.
type Store interface {
	ListOpenLocalPositions(ctx context.Context, accountID string) ([]LocalPosition, error)
	MarkSynced(ctx context.Context, positionID string) error
	MarkClosedReconciled(ctx context.Context, positionID, closeReason string) error
	CreateRecoveredPosition(ctx context.Context, accountID string, pos exchange.Position) error
}

// Notifier is the narrow alerting interface; the concrete Telegram/
// webhook implementation lives in internal/notify.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Account pairs an account ID with the adapter used to fetch its
// on-exchange positions.
type Account struct {
	ID      string
	Adapter exchange.Adapter
}

// Result summarizes one reconciliation run across all accounts.
type Result struct {
	Synced    int
	Recovered int
	Orphaned  int // L \ E, closed as not_found_on_exchange
	Critical  bool
}

// Reconciler runs the E/L set-diff across a set of active accounts.
type Reconciler struct {
	store           Store
	notifier        Notifier
	orphanThreshold int
}

// New builds a Reconciler. orphanThreshold of zero falls back to
// DefaultOrphanAlertThreshold.
func New(store Store, notifier Notifier, orphanThreshold int) *Reconciler {
	if orphanThreshold <= 0 {
		orphanThreshold = DefaultOrphanAlertThreshold
	}
	return &Reconciler{store: store, notifier: notifier, orphanThreshold: orphanThreshold}
}

// Run executes one reconciliation pass across all given accounts.
//
//  1. Fetch exchange positions for each active account.
//  2. Build set E of (account, market) pairs held on-exchange and set L
//     of locally open positions.
//  3. For each x in E ∩ L: mark sync_status synced.
//  4. For each x in E \ L: create a position row with sync_status
//     recovered, recovery_source <adapter>, entry price = exchange avg
//     cost, size = exchange quantity, fill_status filled.
//  5. For each x in L \ E: mark the local row closed with close_reason
//     not_found_on_exchange and sync_status closed_reconciled. Logged
//     at WARN; emits a critical alert if the count exceeds threshold.
func (r *Reconciler) Run(ctx context.Context, accounts []Account) (Result, error) {
	log := telemetry.For("reconcile")
	var result Result

	for _, acct := range accounts {
		exchangePositions, err := acct.Adapter.GetPositions(ctx)
		if err != nil {
			log.Warn().Str("account_id", acct.ID).Err(err).Msg("skipping account: could not fetch exchange positions")
			continue
		}

		localPositions, err := r.store.ListOpenLocalPositions(ctx, acct.ID)
		if err != nil {
			log.Warn().Str("account_id", acct.ID).Err(err).Msg("skipping account: could not load local positions")
			continue
		}

		exchangeByKey := make(map[string]exchange.Position, len(exchangePositions))
		for _, p := range exchangePositions {
			exchangeByKey[key(p.MarketID, string(p.Side))] = p
		}
		localByKey := make(map[string]LocalPosition, len(localPositions))
		for _, p := range localPositions {
			localByKey[key(p.MarketID, p.Side)] = p
		}

		// Step 3: E ∩ L -> synced.
		for k, local := range localByKey {
			if _, onExchange := exchangeByKey[k]; onExchange {
				if err := r.store.MarkSynced(ctx, local.ID); err != nil {
					log.Warn().Str("position_id", local.ID).Err(err).Msg("failed to mark position synced")
					continue
				}
				result.Synced++
			}
		}

		// Step 4: E \ L -> recovered.
		for k, ex := range exchangeByKey {
			if _, local := localByKey[k]; local {
				continue
			}
			if err := r.store.CreateRecoveredPosition(ctx, acct.ID, ex); err != nil {
				log.Warn().Str("account_id", acct.ID).Str("market_id", ex.MarketID).Err(err).
					Msg("failed to persist recovered position")
				continue
			}
			result.Recovered++
			log.Warn().
				Str("account_id", acct.ID).
				Str("market_id", ex.MarketID).
				Str("token_id", ex.TokenID).
				Str("size", ex.Size.String()).
				Msg("recovered on-exchange position with no local row; adopted as sync_status=recovered")
			if r.notifier != nil {
				_ = r.notifier.Notify(ctx, "orphaned exchange position recovered",
					"account "+acct.ID+" market "+ex.MarketID+" had no matching local row and was adopted; investigate before trusting its entry price")
			}
		}

		// Step 5: L \ E -> closed_reconciled.
		for k, local := range localByKey {
			if _, onExchange := exchangeByKey[k]; onExchange {
				continue
			}
			if err := r.store.MarkClosedReconciled(ctx, local.ID, "not_found_on_exchange"); err != nil {
				log.Warn().Str("position_id", local.ID).Err(err).Msg("failed to close orphaned local position")
				continue
			}
			result.Orphaned++
			log.Warn().
				Str("position_id", local.ID).
				Str("market_id", local.MarketID).
				Msg("local position not found on exchange; closed as not_found_on_exchange")
		}
	}

	if result.Orphaned > r.orphanThreshold {
		result.Critical = true
		log.Error().Int("orphaned", result.Orphaned).Int("threshold", r.orphanThreshold).
			Msg("orphan count exceeds threshold this run")
		if r.notifier != nil {
			_ = r.notifier.Notify(ctx, "reconciliation: excessive orphaned positions",
				"closed "+decimal.NewFromInt(int64(result.Orphaned)).String()+" local positions not found on exchange in one run")
		}
	}

	return result, nil
}

func key(marketID, side string) string {
	return marketID + "|" + side
}

// Interval is how often Run should be invoked by the engine's background
// loop while running; it also runs once at startup before evaluation
// begins.
const Interval = 5 * time.Minute
