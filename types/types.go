// Package types holds the shared domain entities described in the data
// model: User, Account, SportConfig, GlobalSettings, TrackedMarket,
// Position, Trade, OrderIdempotencyRecord, and ReconciliationRun. Kept
// separate from internal/store so every component can depend on the shapes
// without importing the persistence layer (teacher precedent: types/types.go
// existed for exactly this import-cycle-avoidance reason).
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Platform tags an Account/TrackedMarket/Position to the exchange it
// belongs to.
type Platform string

const (
	PlatformClobRest Platform = "clob_rest"
	PlatformEvmClob  Platform = "evm_clob"
)

// User owns all other entities; process-wide state is partitioned by user.
type User struct {
	ID        uuid.UUID `gorm:"primaryKey;type:uuid"`
	Email     string    `gorm:"uniqueIndex"`
	CreatedAt time.Time
}

// Account is one funded identity on one exchange.
type Account struct {
	ID             uuid.UUID `gorm:"primaryKey;type:uuid"`
	UserID         uuid.UUID `gorm:"type:uuid;index"`
	Platform       Platform
	Label          string
	EncryptedCreds []byte // opaque to the core; encrypted at rest by an out-of-scope collaborator
	IsPrimary      bool
	IsActive       bool
	AllocationPct  decimal.Decimal `gorm:"type:decimal(6,3)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SportConfig holds per-(user, sport) trading parameters.
type SportConfig struct {
	ID                    uuid.UUID `gorm:"primaryKey;type:uuid"`
	UserID                uuid.UUID `gorm:"type:uuid;index"`
	Sport                 string    `gorm:"index"`
	Enabled               bool
	BaselineDropThreshold decimal.Decimal `gorm:"type:decimal(6,4)"` // e.g. 0.15 = 15%
	AbsolutePriceFloor    decimal.Decimal `gorm:"type:decimal(6,4)"`
	TakeProfitPct         decimal.Decimal `gorm:"type:decimal(6,4)"`
	StopLossPct           decimal.Decimal `gorm:"type:decimal(6,4)"`
	PositionSizeUSD       decimal.Decimal `gorm:"type:decimal(18,2)"`
	MaxPositionsPerGame   int
	MaxPositionsTotal     int
	MinTimeRemainingSec   int
	MinConfidence         decimal.Decimal `gorm:"type:decimal(6,4)"`
	ExitBeforeSec         int // time-based exit cutoff
	KellyEnabled          bool
	FractionalKelly       decimal.Decimal `gorm:"type:decimal(6,4)"`
	MinKellySampleSize    int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// GlobalSettings holds per-user process-wide settings, including the
// kill-switch latch and the streak governor.
type GlobalSettings struct {
	UserID uuid.UUID `gorm:"primaryKey;type:uuid"`

	BotEnabled   bool
	MaxDailyLoss decimal.Decimal `gorm:"type:decimal(18,2)"`

	KillSwitchTriggeredAt *time.Time
	KillSwitchReason      string

	CurrentLosingStreak int
	MaxLosingStreak     int
	StreakReductionOn   bool
	StreakReductionPct  decimal.Decimal `gorm:"type:decimal(6,4)"`

	MinBalanceThreshold     decimal.Decimal `gorm:"type:decimal(18,2)"`
	BalanceCheckIntervalSec int

	NotificationSinks string // comma-separated sink identifiers

	UpdatedAt time.Time
}

// IsHalted reports whether the kill switch is currently latched.
func (g *GlobalSettings) IsHalted() bool {
	return g.KillSwitchTriggeredAt != nil
}

// TrackedMarket is a market the system is watching for a specific user.
type TrackedMarket struct {
	ID     uuid.UUID `gorm:"primaryKey;type:uuid"`
	UserID uuid.UUID `gorm:"type:uuid;index"`

	Platform        Platform
	ExternalID      string `gorm:"index"` // condition-id or ticker
	Sport           string
	ExternalEventID string

	HomeTeam string
	AwayTeam string

	GameStartTime time.Time

	BaselineYes        decimal.Decimal `gorm:"type:decimal(10,6)"`
	BaselineNo         decimal.Decimal `gorm:"type:decimal(10,6)"`
	BaselineCapturedAt *time.Time

	CurrentYes decimal.Decimal `gorm:"type:decimal(10,6)"`
	CurrentNo  decimal.Decimal `gorm:"type:decimal(10,6)"`

	Volume24h decimal.Decimal `gorm:"type:decimal(18,2)"`
	SpreadPct decimal.Decimal `gorm:"type:decimal(10,6)"`

	CurrentPeriod int // quarter/inning/set/round/hole, from the sports scoreboard feed (sports.Game.Period)

	MatchConfidence decimal.Decimal `gorm:"type:decimal(6,4)"`

	IsLive         bool
	IsFinished     bool
	IsUserSelected bool
	AutoDiscovered bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FillStatus is the normalized fill outcome of an order.
type FillStatus string

const (
	FillPending   FillStatus = "pending"
	FillPartial   FillStatus = "partial"
	FillFilled    FillStatus = "filled"
	FillCancelled FillStatus = "cancelled"
	FillRejected  FillStatus = "rejected"
	FillTimeout   FillStatus = "timeout"
)

// Terminal reports whether this fill status is a terminal state.
func (s FillStatus) Terminal() bool {
	switch s {
	case FillFilled, FillPartial, FillCancelled, FillRejected, FillTimeout:
		return true
	default:
		return false
	}
}

// SyncStatus tracks a position's standing against the exchange's view.
type SyncStatus string

const (
	SyncSynced           SyncStatus = "synced"
	SyncRecovered        SyncStatus = "recovered"
	SyncDrift            SyncStatus = "drift"
	SyncClosedReconciled SyncStatus = "closed_reconciled"
)

// PositionStatus is open or closed.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is a held stake.
type Position struct {
	ID     uuid.UUID `gorm:"primaryKey;type:uuid"`
	UserID uuid.UUID `gorm:"type:uuid;index"`

	AccountID       uuid.UUID `gorm:"type:uuid;index"`
	TrackedMarketID uuid.UUID `gorm:"type:uuid;index"`

	Side string // "YES" or "NO"

	RequestedEntryPrice decimal.Decimal `gorm:"type:decimal(10,6)"`
	ActualEntryPrice    decimal.Decimal `gorm:"type:decimal(10,6)"`
	EntrySize           decimal.Decimal `gorm:"type:decimal(20,6)"`

	FillStatus           FillStatus
	ConfirmationAttempts int
	Slippage             decimal.Decimal `gorm:"type:decimal(10,6)"`

	SyncStatus     SyncStatus
	RecoverySource string

	EntryReason string
	ExitReason  string

	ExitPrice    decimal.Decimal `gorm:"type:decimal(10,6)"`
	ExitSize     decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExitProceeds decimal.Decimal `gorm:"type:decimal(18,6)"`
	RealizedPnL  decimal.Decimal `gorm:"type:decimal(18,6)"`

	Status PositionStatus `gorm:"index"`

	OpenedAt time.Time
	ClosedAt *time.Time

	IdempotencyKey string `gorm:"index"`
}

// Trade is an individual execution record associated with a position.
type Trade struct {
	ID         uuid.UUID `gorm:"primaryKey;type:uuid"`
	PositionID uuid.UUID `gorm:"type:uuid;index"`

	Side  string
	Price decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size  decimal.Decimal `gorm:"type:decimal(20,6)"`

	Action string // OPEN, CLOSE, PARTIAL

	ExecutedAt time.Time
}

// OrderIdempotencyRecord maps a deterministic key to the last issued order
// result, with an ExpiresAt for the caller to enforce. The confirmation
// package does not read or write these rows; its cache is in memory only.
type OrderIdempotencyRecord struct {
	Key        string `gorm:"primaryKey"`
	OrderID    string
	ResultJSON string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ReconciliationRun is an append-only audit row for one reconciler pass.
type ReconciliationRun struct {
	ID        uuid.UUID `gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID `gorm:"type:uuid;index"`
	StartedAt time.Time
	EndedAt   time.Time

	SyncedCount    int
	RecoveredCount int
	ClosedCount    int
	OrphanedCount  int

	Error string
}
