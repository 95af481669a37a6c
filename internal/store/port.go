// Package store defines the Persistence Port (component K): the single
// interface every other component depends on for durable state, plus a
// GORM-backed implementation in the gormstore subpackage. Grounded on the
// teacher's internal/database/database.go (GORM models, dual postgres/
// sqlite driver selection, AutoMigrate).
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddsdesk/lineguard/internal/engine"
	"github.com/oddsdesk/lineguard/internal/reconcile"
	"github.com/oddsdesk/lineguard/types"
)

// Port is the full persistence surface. engine.Store and reconcile.Store
// are narrower interfaces each component declares for itself; Port
// embeds both so one gormstore.Store value satisfies every consumer.
type Port interface {
	engine.Store
	reconcile.Store

	// Users & accounts
	ListUsers(ctx context.Context) ([]*types.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*types.User, error)
	ListActiveAccounts(ctx context.Context, userID uuid.UUID) ([]*types.Account, error)
	SetAccountAllocations(ctx context.Context, userID uuid.UUID, allocations map[uuid.UUID]decimal.Decimal) error
	SetPrimaryAccount(ctx context.Context, userID, accountID uuid.UUID) error

	// Settings & sport config
	GetGlobalSettings(ctx context.Context, userID uuid.UUID) (*types.GlobalSettings, error)
	SaveGlobalSettings(ctx context.Context, s *types.GlobalSettings) error
	ListSportConfigs(ctx context.Context, userID uuid.UUID) ([]*types.SportConfig, error)

	// Reconciliation audit trail
	RecordReconciliationRun(ctx context.Context, run *types.ReconciliationRun) error

	// Idempotency records (durable rows; the confirmation package's
	// in-memory cache does not read or write them)
	SaveIdempotencyRecord(ctx context.Context, rec *types.OrderIdempotencyRecord) error
	GetIdempotencyRecord(ctx context.Context, key string) (*types.OrderIdempotencyRecord, error)

	Close() error
}
