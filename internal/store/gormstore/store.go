// Package gormstore implements the Persistence Port over GORM, with
// postgres in production and sqlite for local development and tests.
// Directly grounded on the teacher's internal/database/database.go
// (dual-driver New(), AutoMigrate, one method family per entity),
// generalized from the teacher's flat per-strategy tables to the data
// model's User/Account/SportConfig/GlobalSettings/TrackedMarket/
// Position/Trade/OrderIdempotencyRecord/ReconciliationRun schema.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oddsdesk/lineguard/internal/apperr"
	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/reconcile"
	"github.com/oddsdesk/lineguard/internal/telemetry"
	"github.com/oddsdesk/lineguard/types"
)

// Store is the GORM-backed Persistence Port implementation.
type Store struct {
	db *gorm.DB
}

// New opens a connection to dsn, picking the postgres driver for
// postgres://-style DSNs and the sqlite driver otherwise (teacher
// precedent: internal/database.New's prefix-based driver selection),
// then auto-migrates every entity and the partial indexes GORM tags
// can't express.
func New(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, apperr.New(apperr.Fatal, "gormstore.New", err)
	}

	if err := db.AutoMigrate(
		&types.User{},
		&types.Account{},
		&types.SportConfig{},
		&types.GlobalSettings{},
		&types.TrackedMarket{},
		&types.Position{},
		&types.Trade{},
		&types.OrderIdempotencyRecord{},
		&types.ReconciliationRun{},
	); err != nil {
		return nil, apperr.New(apperr.Fatal, "gormstore.New.AutoMigrate", err)
	}

	for _, stmt := range partialIndexStatements {
		if err := db.Exec(stmt).Error; err != nil {
			telemetry.For("gormstore").Warn().Err(err).Str("stmt", stmt).Msg("partial index creation failed, continuing")
		}
	}

	return &Store{db: db}, nil
}

// partialIndexStatements express the "status = 'open'" / "is_active"
// partial indexes GORM struct tags cannot, per 4.K.
var partialIndexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_positions_open ON positions(user_id, tracked_market_id) WHERE status = 'open'`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_active ON accounts(user_id) WHERE is_active = true`,
	`CREATE INDEX IF NOT EXISTS idx_tracked_markets_live ON tracked_markets(user_id) WHERE is_live = true AND is_finished = false`,
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Users & accounts ---

func (s *Store) ListUsers(ctx context.Context) ([]*types.User, error) {
	var users []*types.User
	err := s.db.WithContext(ctx).Find(&users).Error
	return users, wrap("gormstore.ListUsers", err)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	var u types.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, wrap("gormstore.GetUser", err)
	}
	return &u, nil
}

func (s *Store) ListActiveAccounts(ctx context.Context, userID uuid.UUID) ([]*types.Account, error) {
	var accts []*types.Account
	err := s.db.WithContext(ctx).Where("user_id = ? AND is_active = ?", userID, true).Find(&accts).Error
	return accts, wrap("gormstore.ListActiveAccounts", err)
}

// SetAccountAllocations updates every account row's allocation_pct in a
// single transaction; a failure on any row rolls back the whole batch,
// per the "atomic all-or-nothing allocation update" ordering guarantee.
func (s *Store) SetAccountAllocations(ctx context.Context, userID uuid.UUID, allocations map[uuid.UUID]decimal.Decimal) error {
	return wrap("gormstore.SetAccountAllocations", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for accountID, pct := range allocations {
			res := tx.Model(&types.Account{}).
				Where("id = ? AND user_id = ?", accountID, userID).
				Update("allocation_pct", pct)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("account %s not found for user %s", accountID, userID)
			}
		}
		return nil
	}))
}

func (s *Store) SetPrimaryAccount(ctx context.Context, userID, accountID uuid.UUID) error {
	return wrap("gormstore.SetPrimaryAccount", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&types.Account{}).Where("user_id = ?", userID).Update("is_primary", false).Error; err != nil {
			return err
		}
		res := tx.Model(&types.Account{}).Where("id = ? AND user_id = ?", accountID, userID).Update("is_primary", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("account %s not found for user %s", accountID, userID)
		}
		return nil
	}))
}

// --- Settings & sport config ---

func (s *Store) GetGlobalSettings(ctx context.Context, userID uuid.UUID) (*types.GlobalSettings, error) {
	var settings types.GlobalSettings
	err := s.db.WithContext(ctx).FirstOrCreate(&settings, types.GlobalSettings{UserID: userID}).Error
	return &settings, wrap("gormstore.GetGlobalSettings", err)
}

func (s *Store) SaveGlobalSettings(ctx context.Context, st *types.GlobalSettings) error {
	st.UpdatedAt = time.Now()
	return wrap("gormstore.SaveGlobalSettings", s.db.WithContext(ctx).Save(st).Error)
}

func (s *Store) ListSportConfigs(ctx context.Context, userID uuid.UUID) ([]*types.SportConfig, error) {
	var configs []*types.SportConfig
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&configs).Error
	return configs, wrap("gormstore.ListSportConfigs", err)
}

// --- Tracked markets ---

// UpsertTrackedMarket inserts or updates by (user_id, external_id), per
// the write-once baseline conditional-insert guarantee: when the existing
// row already has BaselineCapturedAt set, its baseline fields are copied
// onto tm before saving, so a re-upsert never overwrites a captured
// baseline.
func (s *Store) UpsertTrackedMarket(ctx context.Context, tm *types.TrackedMarket) error {
	var existing types.TrackedMarket
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND external_id = ?", tm.UserID, tm.ExternalID).
		First(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if tm.ID == uuid.Nil {
			tm.ID = uuid.New()
		}
		return wrap("gormstore.UpsertTrackedMarket", s.db.WithContext(ctx).Create(tm).Error)
	case err != nil:
		return wrap("gormstore.UpsertTrackedMarket", err)
	default:
		tm.ID = existing.ID
		if existing.BaselineCapturedAt != nil {
			tm.BaselineYes = existing.BaselineYes
			tm.BaselineNo = existing.BaselineNo
			tm.BaselineCapturedAt = existing.BaselineCapturedAt
		}
		return wrap("gormstore.UpsertTrackedMarket", s.db.WithContext(ctx).Save(tm).Error)
	}
}

func (s *Store) ListLiveTrackedMarkets(ctx context.Context, userID uuid.UUID) ([]*types.TrackedMarket, error) {
	var markets []*types.TrackedMarket
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_live = ? AND is_finished = ?", userID, true, false).
		Find(&markets).Error
	return markets, wrap("gormstore.ListLiveTrackedMarkets", err)
}

func (s *Store) RetireMarket(ctx context.Context, marketID uuid.UUID) error {
	return wrap("gormstore.RetireMarket", s.db.WithContext(ctx).
		Model(&types.TrackedMarket{}).
		Where("id = ?", marketID).
		Updates(map[string]any{"is_live": false, "is_finished": true}).Error)
}

func (s *Store) GetTrackedMarket(ctx context.Context, id uuid.UUID) (*types.TrackedMarket, error) {
	var tm types.TrackedMarket
	if err := s.db.WithContext(ctx).First(&tm, "id = ?", id).Error; err != nil {
		return nil, wrap("gormstore.GetTrackedMarket", err)
	}
	return &tm, nil
}

// --- Positions & trades ---

func (s *Store) CountOpenPositions(ctx context.Context, userID uuid.UUID, marketID uuid.UUID) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&types.Position{}).
		Where("user_id = ? AND tracked_market_id = ? AND status = ?", userID, marketID, types.PositionOpen).
		Count(&count).Error
	return int(count), wrap("gormstore.CountOpenPositions", err)
}

// CountOpenPositionsForUser counts open positions across every tracked
// market for userID, enforcing SportConfig.MaxPositionsTotal.
func (s *Store) CountOpenPositionsForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&types.Position{}).
		Where("user_id = ? AND status = ?", userID, types.PositionOpen).
		Count(&count).Error
	return int(count), wrap("gormstore.CountOpenPositionsForUser", err)
}

func (s *Store) ListOpenPositions(ctx context.Context, userID uuid.UUID) ([]*types.Position, error) {
	var positions []*types.Position
	err := s.db.WithContext(ctx).Where("user_id = ? AND status = ?", userID, types.PositionOpen).Find(&positions).Error
	return positions, wrap("gormstore.ListOpenPositions", err)
}

// OpenPosition writes the position row and its OPEN trade row within a
// single transaction, per the transactional close/open + trade write
// ordering guarantee.
func (s *Store) OpenPosition(ctx context.Context, pos *types.Position, trade *types.Trade) error {
	return wrap("gormstore.OpenPosition", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if pos.ID == uuid.Nil {
			pos.ID = uuid.New()
		}
		if err := tx.Create(pos).Error; err != nil {
			return err
		}
		trade.PositionID = pos.ID
		if trade.ID == uuid.Nil {
			trade.ID = uuid.New()
		}
		return tx.Create(trade).Error
	}))
}

// ClosePosition updates the position row and writes the CLOSE trade row
// in one transaction.
func (s *Store) ClosePosition(ctx context.Context, pos *types.Position, trade *types.Trade) error {
	return wrap("gormstore.ClosePosition", s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(pos).Error; err != nil {
			return err
		}
		if trade.ID == uuid.Nil {
			trade.ID = uuid.New()
		}
		trade.PositionID = pos.ID
		return tx.Create(trade).Error
	}))
}

// --- Reconciliation ---

func (s *Store) ListOpenLocalPositions(ctx context.Context, accountID string) ([]reconcile.LocalPosition, error) {
	acctID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, apperr.New(apperr.Validation, "gormstore.ListOpenLocalPositions", err)
	}

	var positions []*types.Position
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", acctID, types.PositionOpen).
		Find(&positions).Error; err != nil {
		return nil, wrap("gormstore.ListOpenLocalPositions", err)
	}

	out := make([]reconcile.LocalPosition, 0, len(positions))
	for _, p := range positions {
		var tm types.TrackedMarket
		marketExternalID := ""
		if err := s.db.WithContext(ctx).First(&tm, "id = ?", p.TrackedMarketID).Error; err == nil {
			marketExternalID = tm.ExternalID
		}
		out = append(out, reconcile.LocalPosition{
			ID:       p.ID.String(),
			MarketID: marketExternalID,
			Side:     p.Side,
		})
	}
	return out, nil
}

func (s *Store) MarkSynced(ctx context.Context, positionID string) error {
	return wrap("gormstore.MarkSynced", s.db.WithContext(ctx).
		Model(&types.Position{}).Where("id = ?", positionID).
		Update("sync_status", types.SyncSynced).Error)
}

func (s *Store) MarkClosedReconciled(ctx context.Context, positionID, closeReason string) error {
	now := time.Now()
	return wrap("gormstore.MarkClosedReconciled", s.db.WithContext(ctx).
		Model(&types.Position{}).Where("id = ?", positionID).
		Updates(map[string]any{
			"status":       types.PositionClosed,
			"exit_reason":  closeReason,
			"sync_status":  types.SyncClosedReconciled,
			"closed_at":    &now,
		}).Error)
}

// CreateRecoveredPosition adopts an on-exchange position with no local
// row, per 4.I step 4. It can only key the new row to an account, not a
// specific TrackedMarket, since the market may itself not yet be
// tracked; operators are expected to reconcile TrackedMarketID manually
// once the orphan alert fires.
func (s *Store) CreateRecoveredPosition(ctx context.Context, accountID string, exPos exchange.Position) error {
	acctID, err := uuid.Parse(accountID)
	if err != nil {
		return apperr.New(apperr.Validation, "gormstore.CreateRecoveredPosition", err)
	}
	source := ""
	var acct types.Account
	if err := s.db.WithContext(ctx).First(&acct, "id = ?", acctID).Error; err == nil {
		source = string(acct.Platform)
	}
	pos := &types.Position{
		ID:                  uuid.New(),
		AccountID:           acctID,
		Side:                string(exPos.Side),
		ActualEntryPrice:    exPos.AvgCost,
		RequestedEntryPrice: exPos.AvgCost,
		EntrySize:           exPos.Size,
		FillStatus:          types.FillFilled,
		SyncStatus:          types.SyncRecovered,
		RecoverySource:      source,
		Status:              types.PositionOpen,
		OpenedAt:             time.Now(),
	}
	return wrap("gormstore.CreateRecoveredPosition", s.db.WithContext(ctx).Create(pos).Error)
}

func (s *Store) RecordReconciliationRun(ctx context.Context, run *types.ReconciliationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return wrap("gormstore.RecordReconciliationRun", s.db.WithContext(ctx).Create(run).Error)
}

// --- Idempotency ---

func (s *Store) SaveIdempotencyRecord(ctx context.Context, rec *types.OrderIdempotencyRecord) error {
	return wrap("gormstore.SaveIdempotencyRecord", s.db.WithContext(ctx).Save(rec).Error)
}

func (s *Store) GetIdempotencyRecord(ctx context.Context, key string) (*types.OrderIdempotencyRecord, error) {
	var rec types.OrderIdempotencyRecord
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if err != nil {
		return nil, wrap("gormstore.GetIdempotencyRecord", err)
	}
	return &rec, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(apperr.Validation, op, err)
	}
	return apperr.New(apperr.Transport, op, err)
}
