// Package engine implements the per-user trading engine state machine
// (component J): a discovery loop, an evaluation loop, and a monitor
// loop, plus a recurring position reconciliation pass, all owned by one
// cancellation scope per user. Grounded on the teacher's core/engine.go
// (Start/Stop/stopCh, mainLoop/positionMonitorLoop goroutine shape),
// generalized from the teacher's single always-on loop pair into a
// stopped/initializing/running/halted/draining state machine with a
// third discovery loop and one bounded worker pool per user engine,
// shared by all of that user's exchanges.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/oddsdesk/lineguard/internal/config"
	"github.com/oddsdesk/lineguard/internal/confirmation"
	"github.com/oddsdesk/lineguard/internal/discovery"
	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/guardian"
	"github.com/oddsdesk/lineguard/internal/reconcile"
	"github.com/oddsdesk/lineguard/internal/sports"
	"github.com/oddsdesk/lineguard/internal/telemetry"
	"github.com/oddsdesk/lineguard/types"
)

// State is one node of the engine's per-user state machine.
type State string

const (
	StateStopped      State = "stopped"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateHalted       State = "halted"
	StateDraining     State = "draining"
)

// DefaultWorkerPoolSize bounds concurrent adapter calls per user engine
// (one pool shared across that user's exchanges), per the backpressure
// note in 4.J.
const DefaultWorkerPoolSize = 4

const (
	discoveryInterval    = 60 * time.Second
	discoveryJitter      = 10 * time.Second
	evaluationInterval   = 5 * time.Second
	monitorInterval      = 5 * time.Second
	cancellationDeadline = 2 * time.Second
)

// Notifier is the narrow alerting interface held in Dependencies; the
// concrete Telegram/webhook implementation lives in internal/notify. No
// engine code path calls it: kill-switch and reconciliation alerts are
// sent by the guardian and the reconciler through their own notifiers.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Store is the persistence port the engine needs beyond what the
// reconciler already owns: tracked-market upserts and open-position
// lifecycle writes. The concrete implementation lives in
// internal/store/gormstore.
type Store interface {
	UpsertTrackedMarket(ctx context.Context, tm *types.TrackedMarket) error
	GetTrackedMarket(ctx context.Context, id uuid.UUID) (*types.TrackedMarket, error)
	ListLiveTrackedMarkets(ctx context.Context, userID uuid.UUID) ([]*types.TrackedMarket, error)
	RetireMarket(ctx context.Context, marketID uuid.UUID) error
	CountOpenPositions(ctx context.Context, userID uuid.UUID, marketID uuid.UUID) (int, error)
	CountOpenPositionsForUser(ctx context.Context, userID uuid.UUID) (int, error)
	ListOpenPositions(ctx context.Context, userID uuid.UUID) ([]*types.Position, error)
	OpenPosition(ctx context.Context, pos *types.Position, trade *types.Trade) error
	ClosePosition(ctx context.Context, pos *types.Position, trade *types.Trade) error
	SaveGlobalSettings(ctx context.Context, settings *types.GlobalSettings) error
	RecordReconciliationRun(ctx context.Context, run *types.ReconciliationRun) error
}

// Account is one of a user's funded identities, wired to its own adapter
// and confirmer (adapters and rate limiters are user- and account-scoped
// per the concurrency model).
type Account struct {
	ID            string
	Platform      types.Platform
	Adapter       exchange.Adapter
	Confirmer     *confirmation.Confirmer
	AllocationPct decimal.Decimal
	IsPrimary     bool
}

// Dependencies wires one user's engine to its collaborators. All fields
// are required for Start to do useful work; a nil Reconciler or
// Sports degrades that loop to a no-op rather than panicking.
type Dependencies struct {
	UserID       uuid.UUID
	Sports       *sports.Client
	Guardian     *guardian.Guardian
	Reconciler   *reconcile.Reconciler
	Store        Store
	Notifier     Notifier
	Accounts     []Account
	SportConfigs map[string]*types.SportConfig // keyed by sport
	Filters      discovery.Filters
	MinConfidence float64
	WorkerPoolSize int
	PhaseTable   *config.PhaseTable // nil falls back to config.DefaultTotalPhases for every sport
}

// Engine owns one user's five concurrent loops and their shared state.
type Engine struct {
	deps Dependencies

	mu    sync.Mutex
	state State
	cancel context.CancelFunc
	wg    sync.WaitGroup

	entryLocks    *keyedMutex
	positionLocks *keyedMutex
	pool          chan struct{}

	baselinesCaptured map[string]bool
	baselinesMu       sync.Mutex

	log zerolog.Logger
}

// New builds a stopped engine for one user.
func New(deps Dependencies) *Engine {
	if deps.WorkerPoolSize <= 0 {
		deps.WorkerPoolSize = DefaultWorkerPoolSize
	}
	return &Engine{
		deps:              deps,
		state:             StateStopped,
		entryLocks:        newKeyedMutex(),
		positionLocks:     newKeyedMutex(),
		pool:              make(chan struct{}, deps.WorkerPoolSize),
		baselinesCaptured: make(map[string]bool),
		log:               telemetry.ForUser("engine", deps.UserID.String()),
	}
}

// State reports the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

var errAlreadyRunning = errors.New("engine: already running")

// Start transitions stopped or halted into initializing, runs one
// reconciliation pass synchronously (per 4.I, "once at startup before
// the evaluation loop begins"), then transitions to running and spawns
// the discovery, evaluation and monitor loops plus the recurring
// reconciliation and balance-check loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning || e.state == StateInitializing {
		e.mu.Unlock()
		return errAlreadyRunning
	}
	e.state = StateInitializing
	e.mu.Unlock()

	if e.deps.Reconciler != nil {
		e.runReconciliationOnce(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.state = StateRunning
	e.mu.Unlock()

	e.wg.Add(5)
	go e.discoveryLoop(runCtx)
	go e.evaluationLoop(runCtx)
	go e.monitorLoop(runCtx)
	go e.reconciliationLoop(runCtx)
	go e.balanceLoop(runCtx)

	e.log.Info().Str("user_id", e.deps.UserID.String()).Msg("engine started")
	return nil
}

// Halt is called by the guardian path when the kill switch latches; the
// evaluation loop also observes this directly via deps.Guardian.IsHalted
// at the top of each iteration, so this setter mainly keeps State()
// accurate for external observers (e.g. enginectl status).
func (e *Engine) Halt() {
	e.setState(StateHalted)
	e.log.Error().Msg("engine halted by guardian")
}

// Drain suppresses new entries but leaves the monitor loop running so
// open positions can still exit; discovery and evaluation loops check
// State() and skip new work while draining.
func (e *Engine) Drain() {
	e.setState(StateDraining)
	e.log.Info().Msg("engine draining: no new entries, exits still permitted")
}

// Stop cancels all five loops and their in-flight adapter calls. Per
// the concurrency model, in-flight orders are not cancelled server-side;
// they are left to complete and adopted by the next reconciliation.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		e.setState(StateStopped)
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cancellationDeadline):
		e.log.Warn().Msg("loops did not exit within cancellation deadline")
	}
	e.setState(StateStopped)
	e.log.Info().Str("user_id", e.deps.UserID.String()).Msg("engine stopped")
}

func (e *Engine) reconcileAccounts() []reconcile.Account {
	out := make([]reconcile.Account, 0, len(e.deps.Accounts))
	for _, a := range e.deps.Accounts {
		out = append(out, reconcile.Account{ID: a.ID, Adapter: a.Adapter})
	}
	return out
}

func (e *Engine) acquireWorker(ctx context.Context) bool {
	select {
	case e.pool <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) releaseWorker() {
	<-e.pool
}

func jitter(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	n := time.Now().UnixNano()
	offset := time.Duration(n % int64(spread))
	return base - spread/2 + offset
}
