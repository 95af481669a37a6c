package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddsdesk/lineguard/internal/apperr"
	"github.com/oddsdesk/lineguard/internal/discovery"
	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/guardian"
	"github.com/oddsdesk/lineguard/internal/matcher"
	"github.com/oddsdesk/lineguard/internal/scoring"
	"github.com/oddsdesk/lineguard/internal/sizing"
	"github.com/oddsdesk/lineguard/internal/sports"
	"github.com/oddsdesk/lineguard/types"
)

// discoveryLoop refreshes the scoreboard, discovers candidate markets on
// every account's exchange, matches games to markets, and upserts
// TrackedMarket rows. Runs every 60s, jittered, per 4.J.1.
func (e *Engine) discoveryLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		if e.runDiscoveryOnce(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(discoveryInterval, discoveryJitter)):
		}
	}
}

func (e *Engine) runDiscoveryOnce(ctx context.Context) (stop bool) {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	if e.State() == StateDraining || e.State() == StateHalted {
		return false
	}
	if e.deps.Sports == nil {
		return false
	}

	for sport, cfg := range e.deps.SportConfigs {
		if cfg == nil || !cfg.Enabled {
			continue
		}

		games, err := e.deps.Sports.FetchScoreboard(ctx, sport)
		if err != nil {
			e.log.Warn().Str("sport", sport).Err(err).Msg("scoreboard fetch failed, skipping sport this tick")
			continue
		}

		var candidates []discovery.DiscoveredMarket
		for _, acct := range e.deps.Accounts {
			found, err := discovery.Discover(ctx, acct.Platform, acct.Adapter, exchange.MarketFilter{SortByVolume: true}, e.deps.Filters)
			if err != nil {
				e.log.Warn().Str("account_id", acct.ID).Err(err).Msg("market discovery failed for account, skipping")
				continue
			}
			candidates = append(candidates, found...)
		}

		minConfidence := e.deps.MinConfidence
		if minConfidence == 0 {
			minConfidence = matcher.DefaultMinConfidence
		}
		matches := matcher.MatchAll(games, candidates, minConfidence)

		for _, m := range matches {
			e.upsertTrackedMarket(ctx, m)
		}

		for _, g := range games {
			if g.IsFinished() {
				e.retireFinishedMarket(ctx, g)
			}
		}
	}
	return false
}

func (e *Engine) upsertTrackedMarket(ctx context.Context, m matcher.Match) {
	if e.deps.Store == nil {
		return
	}
	tm := &types.TrackedMarket{
		ID:              uuid.New(),
		UserID:          e.deps.UserID,
		Platform:        m.Market.Platform,
		ExternalID:      m.Market.Market.ID,
		Sport:           m.Game.Sport,
		ExternalEventID: m.Game.EventID,
		HomeTeam:        m.Market.Home,
		AwayTeam:        m.Market.Away,
		GameStartTime:   m.Game.StartTime,
		CurrentYes:      m.Market.Market.YesMid,
		CurrentNo:       m.Market.Market.NoMid,
		Volume24h:       m.Market.Market.Volume24h,
		SpreadPct:       m.Market.Market.SpreadPct,
		CurrentPeriod:   m.Game.Period,
		MatchConfidence: decimal.NewFromFloat(m.Confidence),
		IsLive:          m.Game.State == sports.StateLive,
		IsFinished:      m.Game.State == sports.StateFinished,
		AutoDiscovered:  true,
	}

	e.baselinesMu.Lock()
	_, captured := e.baselinesCaptured[tm.ExternalID]
	if !captured {
		tm.BaselineYes = tm.CurrentYes
		tm.BaselineNo = tm.CurrentNo
		now := time.Now()
		tm.BaselineCapturedAt = &now
		e.baselinesCaptured[tm.ExternalID] = true
	}
	e.baselinesMu.Unlock()

	if err := e.deps.Store.UpsertTrackedMarket(ctx, tm); err != nil {
		e.log.Warn().Str("market_id", tm.ExternalID).Err(err).Msg("failed to upsert tracked market")
	}
}

func (e *Engine) retireFinishedMarket(ctx context.Context, g sports.Game) {
	if e.deps.Store == nil {
		return
	}
	markets, err := e.deps.Store.ListLiveTrackedMarkets(ctx, e.deps.UserID)
	if err != nil {
		return
	}
	for _, tm := range markets {
		if tm.ExternalEventID == g.EventID {
			if err := e.deps.Store.RetireMarket(ctx, tm.ID); err != nil {
				e.log.Warn().Str("market_id", tm.ExternalID).Err(err).Msg("failed to retire finished market")
			}
		}
	}
}

// evaluationLoop re-prices every live tracked market every 5s and
// submits an entry when the drop/confidence/budget/guardian checks all
// pass, per 4.J.2.
func (e *Engine) evaluationLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(evaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runEvaluationTick(ctx)
		}
	}
}

func (e *Engine) runEvaluationTick(ctx context.Context) {
	// The guardian's kill-switch write happens-before this read per 5;
	// checking at the top of every iteration is the serialization point.
	if e.deps.Guardian != nil && e.deps.Guardian.IsHalted() {
		e.Halt()
		return
	}
	if e.State() == StateDraining {
		return
	}
	if e.deps.Store == nil || len(e.deps.Accounts) == 0 {
		return
	}

	markets, err := e.deps.Store.ListLiveTrackedMarkets(ctx, e.deps.UserID)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to list live tracked markets")
		return
	}

	for _, tm := range markets {
		tm := tm
		if !e.acquireWorker(ctx) {
			return
		}
		go func() {
			defer e.releaseWorker()
			if err := e.evaluateMarket(ctx, tm); err != nil {
				e.log.Warn().Str("market_id", tm.ExternalID).Err(err).Msg("evaluation failed for market, continuing with next")
			}
		}()
	}
}

func (e *Engine) evaluateMarket(ctx context.Context, tm *types.TrackedMarket) error {
	cfg := e.deps.SportConfigs[tm.Sport]
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if tm.BaselineCapturedAt == nil || tm.BaselineYes.IsZero() {
		return nil // baseline not yet captured, nothing to compare against
	}

	primary := e.primaryAccount()
	if primary == nil {
		return apperr.New(apperr.Fatal, "engine.evaluateMarket", fmt.Errorf("no primary account configured"))
	}

	mid, err := primary.Adapter.GetMidpoint(ctx, tm.ExternalID)
	if err != nil {
		return err
	}
	tm.CurrentYes = mid

	dropPct := 0.0
	if !tm.BaselineYes.IsZero() {
		drop := tm.BaselineYes.Sub(mid).Div(tm.BaselineYes)
		dropPct, _ = drop.Float64()
	}
	if decimal.NewFromFloat(dropPct).LessThan(cfg.BaselineDropThreshold) {
		return nil
	}
	if mid.GreaterThan(cfg.AbsolutePriceFloor) {
		return nil
	}

	timeRemaining := time.Until(tm.GameStartTime.Add(3 * time.Hour)).Seconds()
	if timeRemaining < float64(cfg.MinTimeRemainingSec) {
		return nil
	}

	trend := scoring.TrendUnknown
	switch {
	case dropPct > 0:
		trend = scoring.TrendDown
	case dropPct < 0:
		trend = scoring.TrendUp
	}

	volume, _ := tm.Volume24h.Float64()
	spreadPct, _ := tm.SpreadPct.Float64()

	result := scoring.Score(scoring.Inputs{
		DropPct:          dropPct,
		TimeRemainingSec: timeRemaining,
		Volume:           volume,
		VolumeKnown:      !tm.Volume24h.IsZero(),
		Trend:            trend,
		TotalPhases:      e.deps.PhaseTable.TotalPhases(tm.Sport),
		CurrentPhase:     tm.CurrentPeriod,
		SpreadPct:        spreadPct,
		SpreadKnown:      !tm.SpreadPct.IsZero(),
	})
	confidence := decimal.NewFromFloat(result.Total)
	if confidence.LessThan(cfg.MinConfidence) {
		return nil
	}

	openCount, err := e.deps.Store.CountOpenPositions(ctx, e.deps.UserID, tm.ID)
	if err != nil {
		return err
	}
	if openCount >= cfg.MaxPositionsPerGame {
		return nil
	}

	if cfg.MaxPositionsTotal > 0 {
		totalOpen, err := e.deps.Store.CountOpenPositionsForUser(ctx, e.deps.UserID)
		if err != nil {
			return err
		}
		if totalOpen >= cfg.MaxPositionsTotal {
			return nil
		}
	}

	return e.submitEntry(ctx, tm, cfg, mid)
}

// submitEntry computes the total desired size once, splits it across every
// account by allocation_pct via sizing.Split (remainder to the last
// account), and submits one entry per account with its split share.
func (e *Engine) submitEntry(ctx context.Context, tm *types.TrackedMarket, cfg *types.SportConfig, mid decimal.Decimal) error {
	streakMultiplier := decimal.NewFromInt(1)
	if e.deps.Guardian != nil {
		streakMultiplier = e.deps.Guardian.StreakMultiplier()
	}
	totalSize := sizing.ComputeSize(sizing.KellyInputs{
		BaseSizeUSD:      cfg.PositionSizeUSD,
		KellyEnabled:     cfg.KellyEnabled,
		FractionalKelly:  cfg.FractionalKelly,
		WinLossRatio:     decimal.NewFromFloat(1),
		WinProbability:   decimal.NewFromFloat(0.5),
		MinKellySample:   cfg.MinKellySampleSize,
		MinPositionUSD:   decimal.Zero,
		MaxPositionUSD:   cfg.PositionSizeUSD.Mul(decimal.NewFromInt(3)),
		StreakMultiplier: streakMultiplier,
	})

	allocations := make([]sizing.AccountAllocation, 0, len(e.deps.Accounts))
	for _, acct := range e.deps.Accounts {
		allocations = append(allocations, sizing.AccountAllocation{AccountID: acct.ID, AllocationPct: acct.AllocationPct})
	}
	split := sizing.Split(totalSize, allocations)

	var firstErr error
	for _, acct := range e.deps.Accounts {
		acct := acct
		key := fmt.Sprintf("%s|%s|%s", e.deps.UserID, tm.ID, acct.ID)

		var entryErr error
		e.entryLocks.with(key, func() {
			entryErr = e.submitEntryForAccount(ctx, tm, acct, mid, split[acct.ID])
		})
		if entryErr != nil && firstErr == nil {
			firstErr = entryErr
		}
	}
	return firstErr
}

func (e *Engine) submitEntryForAccount(ctx context.Context, tm *types.TrackedMarket, acct Account, mid decimal.Decimal, allocated decimal.Decimal) error {
	if allocated.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	result, err := acct.Confirmer.Submit(ctx, exchange.PlaceOrderRequest{
		TokenID: tm.ExternalID,
		Side:    exchange.SideYes,
		Action:  exchange.ActionBuy,
		Price:   mid,
		Size:    allocated,
	}, mid)
	if err != nil {
		return err
	}

	pos := &types.Position{
		ID:                   uuid.New(),
		UserID:               e.deps.UserID,
		AccountID:            mustParseOrNew(acct.ID),
		TrackedMarketID:      tm.ID,
		Side:                 string(exchange.SideYes),
		RequestedEntryPrice:  mid,
		ActualEntryPrice:     result.Order.AvgFillPrice,
		EntrySize:            allocated,
		FillStatus:           result.FillStatus,
		ConfirmationAttempts: result.Attempts,
		Slippage:             result.Slippage,
		SyncStatus:           types.SyncSynced,
		Status:               types.PositionOpen,
		OpenedAt:             time.Now(),
	}
	trade := &types.Trade{
		ID:         uuid.New(),
		PositionID: pos.ID,
		Side:       string(exchange.SideYes),
		Price:      result.Order.AvgFillPrice,
		Size:       allocated,
		Action:     "OPEN",
		ExecutedAt: time.Now(),
	}
	return e.deps.Store.OpenPosition(ctx, pos, trade)
}

func mustParseOrNew(s string) uuid.UUID {
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	return uuid.New()
}

func (e *Engine) primaryAccount() *Account {
	for i := range e.deps.Accounts {
		if e.deps.Accounts[i].IsPrimary {
			return &e.deps.Accounts[i]
		}
	}
	if len(e.deps.Accounts) > 0 {
		return &e.deps.Accounts[0]
	}
	return nil
}

// monitorLoop re-prices every open position every 5s and exits on
// take-profit, stop-loss, or time-based cutoff, per 4.J.3. Exits are
// permitted even while draining.
func (e *Engine) monitorLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runMonitorTick(ctx)
		}
	}
}

func (e *Engine) runMonitorTick(ctx context.Context) {
	if e.deps.Store == nil {
		return
	}
	positions, err := e.deps.Store.ListOpenPositions(ctx, e.deps.UserID)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to list open positions")
		return
	}

	for _, pos := range positions {
		pos := pos
		if !e.acquireWorker(ctx) {
			return
		}
		go func() {
			defer e.releaseWorker()
			e.positionLocks.with(pos.ID.String(), func() {
				if err := e.monitorPosition(ctx, pos); err != nil {
					e.log.Warn().Str("position_id", pos.ID.String()).Err(err).Msg("monitor tick failed for position")
				}
			})
		}()
	}
}

func (e *Engine) monitorPosition(ctx context.Context, pos *types.Position) error {
	cfg := e.accountFor(pos.AccountID)
	if cfg == nil {
		return apperr.New(apperr.Fatal, "engine.monitorPosition", fmt.Errorf("no account for position %s", pos.ID))
	}

	mid, err := cfg.Adapter.GetMidpoint(ctx, pos.TrackedMarketID.String())
	if err != nil {
		return err
	}

	profitPct := decimal.Zero
	if !pos.ActualEntryPrice.IsZero() {
		profitPct = mid.Sub(pos.ActualEntryPrice).Div(pos.ActualEntryPrice)
	}

	sportCfg := e.sportConfigForPosition(ctx, pos)
	timeExit := false
	if sportCfg != nil && sportCfg.ExitBeforeSec > 0 {
		if tm, err := e.deps.Store.GetTrackedMarket(ctx, pos.TrackedMarketID); err == nil && !tm.GameStartTime.IsZero() {
			remaining := time.Until(tm.GameStartTime.Add(3 * time.Hour)).Seconds()
			timeExit = remaining <= float64(sportCfg.ExitBeforeSec)
		}
	}
	exitReason := ""
	switch {
	case sportCfg != nil && profitPct.GreaterThanOrEqual(sportCfg.TakeProfitPct):
		exitReason = "take_profit"
	case sportCfg != nil && profitPct.LessThanOrEqual(sportCfg.StopLossPct.Neg()):
		exitReason = "stop_loss"
	case timeExit:
		exitReason = "time_exit"
	}
	if exitReason == "" {
		return nil
	}

	result, err := cfg.Confirmer.Submit(ctx, exchange.PlaceOrderRequest{
		TokenID: pos.TrackedMarketID.String(),
		Side:    exchange.SideYes,
		Action:  exchange.ActionSell,
		Price:   mid,
		Size:    pos.EntrySize,
	}, mid)
	if err != nil {
		return err
	}

	pos.ExitPrice = result.Order.AvgFillPrice
	pos.ExitSize = result.Order.FilledSize
	pos.ExitProceeds = pos.ExitSize.Mul(pos.ExitPrice)
	pos.RealizedPnL = pos.ExitProceeds.Sub(pos.EntrySize.Mul(pos.ActualEntryPrice))
	pos.ExitReason = exitReason
	pos.Status = types.PositionClosed
	now := time.Now()
	pos.ClosedAt = &now

	if e.deps.Guardian != nil {
		e.deps.Guardian.RecordTrade(pos.RealizedPnL)
	}

	trade := &types.Trade{
		ID:         uuid.New(),
		PositionID: pos.ID,
		Side:       string(exchange.SideYes),
		Price:      pos.ExitPrice,
		Size:       pos.ExitSize,
		Action:     "CLOSE",
		ExecutedAt: now,
	}
	return e.deps.Store.ClosePosition(ctx, pos, trade)
}

func (e *Engine) accountFor(accountID uuid.UUID) *Account {
	for i := range e.deps.Accounts {
		if e.deps.Accounts[i].ID == accountID.String() {
			return &e.deps.Accounts[i]
		}
	}
	return e.primaryAccount()
}

// sportConfigForPosition resolves a position's sport by joining through
// its TrackedMarket, so the correct take-profit/stop-loss thresholds apply
// even when a user has more than one sport enabled.
func (e *Engine) sportConfigForPosition(ctx context.Context, pos *types.Position) *types.SportConfig {
	if e.deps.Store == nil {
		return nil
	}
	tm, err := e.deps.Store.GetTrackedMarket(ctx, pos.TrackedMarketID)
	if err != nil {
		e.log.Warn().Str("position_id", pos.ID.String()).Err(err).Msg("failed to resolve tracked market for position")
		return nil
	}
	return e.deps.SportConfigs[tm.Sport]
}

// reconciliationLoop runs the E/L set-diff every 5 minutes while the
// engine is running, per 4.I. The startup pass runs synchronously in
// Start before this loop begins.
func (e *Engine) reconciliationLoop(ctx context.Context) {
	defer e.wg.Done()
	if e.deps.Reconciler == nil {
		return
	}
	ticker := time.NewTicker(reconcileInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runReconciliationOnce(ctx)
		}
	}
}

// runReconciliationOnce runs one reconciliation pass and persists its
// result as an append-only ReconciliationRun audit row.
func (e *Engine) runReconciliationOnce(ctx context.Context) {
	startedAt := time.Now()
	result, err := e.deps.Reconciler.Run(ctx, e.reconcileAccounts())

	run := &types.ReconciliationRun{
		ID:             uuid.New(),
		UserID:         e.deps.UserID,
		StartedAt:      startedAt,
		EndedAt:        time.Now(),
		SyncedCount:    result.Synced,
		RecoveredCount: result.Recovered,
		ClosedCount:    result.Orphaned,
		OrphanedCount:  result.Orphaned,
	}
	if err != nil {
		run.Error = err.Error()
	}
	if e.deps.Store != nil {
		if saveErr := e.deps.Store.RecordReconciliationRun(ctx, run); saveErr != nil {
			e.log.Warn().Err(saveErr).Msg("failed to record reconciliation run")
		}
	}

	if err != nil {
		e.log.Warn().Err(err).Msg("reconciliation run failed")
		return
	}
	if result.Critical {
		e.log.Error().Int("orphaned", result.Orphaned).Msg("reconciliation flagged critical orphan count")
	}
}

func reconcileInterval() time.Duration {
	return 5 * time.Minute
}

// balanceLoop polls every account's balance on the cadence declared in the
// user's GlobalSettings (via the guardian), feeding the kill-switch check,
// per 4.H. This is the only code path that ever calls CheckBalances.
func (e *Engine) balanceLoop(ctx context.Context) {
	defer e.wg.Done()
	if e.deps.Guardian == nil {
		return
	}
	ticker := time.NewTicker(e.deps.Guardian.BalanceCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runBalanceCheck(ctx)
		}
	}
}

func (e *Engine) runBalanceCheck(ctx context.Context) {
	fetchers := make(map[string]guardian.BalanceFetcher, len(e.deps.Accounts))
	for _, acct := range e.deps.Accounts {
		acct := acct
		fetchers[acct.ID] = func(ctx context.Context) (exchange.Balance, error) {
			return acct.Adapter.GetBalance(ctx)
		}
	}

	if _, err := e.deps.Guardian.CheckBalances(ctx, fetchers); err != nil {
		e.log.Warn().Err(err).Msg("balance check failed")
		return
	}
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.SaveGlobalSettings(ctx, e.deps.Guardian.Settings()); err != nil {
		e.log.Warn().Err(err).Msg("failed to persist guardian settings after balance check")
	}
}
