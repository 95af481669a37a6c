package reconcile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsdesk/lineguard/internal/exchange"
)

type fakeStore struct {
	open             map[string][]LocalPosition
	synced           []string
	closedReconciled []string
	recovered        []exchange.Position
	failSync         bool
}

func (f *fakeStore) ListOpenLocalPositions(ctx context.Context, accountID string) ([]LocalPosition, error) {
	return f.open[accountID], nil
}

func (f *fakeStore) MarkSynced(ctx context.Context, positionID string) error {
	if f.failSync {
		return assert.AnError
	}
	f.synced = append(f.synced, positionID)
	return nil
}

func (f *fakeStore) MarkClosedReconciled(ctx context.Context, positionID, closeReason string) error {
	f.closedReconciled = append(f.closedReconciled, positionID)
	return nil
}

func (f *fakeStore) CreateRecoveredPosition(ctx context.Context, accountID string, pos exchange.Position) error {
	f.recovered = append(f.recovered, pos)
	return nil
}

type fakeAdapter struct {
	exchange.Adapter
	positions []exchange.Position
}

func (f *fakeAdapter) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	return f.positions, nil
}

func TestRunMarksIntersectionSynced(t *testing.T) {
	store := &fakeStore{
		open: map[string][]LocalPosition{
			"acct1": {{ID: "pos1", MarketID: "m1", Side: "YES"}},
		},
	}
	adapter := &fakeAdapter{positions: []exchange.Position{
		{MarketID: "m1", Side: exchange.SideYes, Size: decimal.NewFromInt(10), AvgCost: decimal.NewFromFloat(0.5)},
	}}
	r := New(store, nil, 0)

	result, err := r.Run(context.Background(), []Account{{ID: "acct1", Adapter: adapter}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, result.Recovered)
	assert.Equal(t, 0, result.Orphaned)
	assert.Equal(t, []string{"pos1"}, store.synced)
}

func TestRunCreatesRecoveredForOrphanedExchangePosition(t *testing.T) {
	store := &fakeStore{open: map[string][]LocalPosition{}}
	adapter := &fakeAdapter{positions: []exchange.Position{
		{MarketID: "m2", TokenID: "tok2", Side: exchange.SideNo, Size: decimal.NewFromInt(5), AvgCost: decimal.NewFromFloat(0.3)},
	}}
	r := New(store, nil, 0)

	result, err := r.Run(context.Background(), []Account{{ID: "acct1", Adapter: adapter}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Recovered)
	require.Len(t, store.recovered, 1)
	assert.Equal(t, "m2", store.recovered[0].MarketID)
}

func TestRunClosesLocalPositionNotFoundOnExchange(t *testing.T) {
	store := &fakeStore{
		open: map[string][]LocalPosition{
			"acct1": {{ID: "pos1", MarketID: "m1", Side: "YES"}},
		},
	}
	adapter := &fakeAdapter{positions: nil}
	r := New(store, nil, 0)

	result, err := r.Run(context.Background(), []Account{{ID: "acct1", Adapter: adapter}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Orphaned)
	assert.Equal(t, []string{"pos1"}, store.closedReconciled)
	assert.False(t, result.Critical)
}

func TestRunFlagsCriticalAboveOrphanThreshold(t *testing.T) {
	store := &fakeStore{
		open: map[string][]LocalPosition{
			"acct1": {
				{ID: "pos1", MarketID: "m1", Side: "YES"},
				{ID: "pos2", MarketID: "m2", Side: "YES"},
				{ID: "pos3", MarketID: "m3", Side: "YES"},
				{ID: "pos4", MarketID: "m4", Side: "YES"},
			},
		},
	}
	adapter := &fakeAdapter{positions: nil}
	r := New(store, nil, 3)

	result, err := r.Run(context.Background(), []Account{{ID: "acct1", Adapter: adapter}})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Orphaned)
	assert.True(t, result.Critical)
}

func TestRunRepeatedWithNoExchangeChangeIsNoOp(t *testing.T) {
	store := &fakeStore{
		open: map[string][]LocalPosition{
			"acct1": {{ID: "pos1", MarketID: "m1", Side: "YES"}},
		},
	}
	adapter := &fakeAdapter{positions: []exchange.Position{
		{MarketID: "m1", Side: exchange.SideYes, Size: decimal.NewFromInt(10), AvgCost: decimal.NewFromFloat(0.5)},
	}}
	r := New(store, nil, 0)

	first, err := r.Run(context.Background(), []Account{{ID: "acct1", Adapter: adapter}})
	require.NoError(t, err)
	second, err := r.Run(context.Background(), []Account{{ID: "acct1", Adapter: adapter}})
	require.NoError(t, err)

	assert.Equal(t, first.Synced, second.Synced)
	assert.Equal(t, 0, first.Recovered+first.Orphaned)
	assert.Equal(t, 0, second.Recovered+second.Orphaned)
}

func TestRunSkipsAccountOnAdapterError(t *testing.T) {
	store := &fakeStore{open: map[string][]LocalPosition{}}
	r := New(store, nil, 0)

	failingAdapter := &fakeAdapter{}
	result, err := r.Run(context.Background(), []Account{{ID: "acct1", Adapter: errAdapter{}}, {ID: "acct2", Adapter: failingAdapter}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Synced+result.Recovered+result.Orphaned)
}

type errAdapter struct {
	exchange.Adapter
}

func (errAdapter) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	return nil, assert.AnError
}
