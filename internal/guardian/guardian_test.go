package guardian

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/types"
)

func settings() *types.GlobalSettings {
	return &types.GlobalSettings{
		BotEnabled:              true,
		MinBalanceThreshold:     decimal.NewFromInt(100),
		StreakReductionOn:       true,
		StreakReductionPct:      decimal.NewFromFloat(0.1),
	}
}

func okFetcher(amount decimal.Decimal) BalanceFetcher {
	return func(ctx context.Context) (exchange.Balance, error) {
		return exchange.Balance{Available: amount}, nil
	}
}

func TestCheckBalancesSumsAcrossAccounts(t *testing.T) {
	s := settings()
	g := New(s, nil)

	total, err := g.CheckBalances(context.Background(), map[string]BalanceFetcher{
		"a": okFetcher(decimal.NewFromInt(60)),
		"b": okFetcher(decimal.NewFromInt(60)),
	})
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(120)))
	assert.False(t, g.IsHalted())
}

func TestCheckBalancesLatchesKillSwitchBelowThreshold(t *testing.T) {
	s := settings()
	g := New(s, nil)

	total, err := g.CheckBalances(context.Background(), map[string]BalanceFetcher{
		"a": okFetcher(decimal.NewFromInt(50)),
	})
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(50)))
	assert.True(t, g.IsHalted())
	assert.False(t, s.BotEnabled)
	assert.NotEmpty(t, s.KillSwitchReason)
}

func TestSingleTransientFailureDoesNotTriggerSwitch(t *testing.T) {
	s := settings()
	g := New(s, nil)

	callCount := 0
	flaky := func(ctx context.Context) (exchange.Balance, error) {
		callCount++
		if callCount < 2 {
			return exchange.Balance{}, errors.New("transient")
		}
		return exchange.Balance{Available: decimal.NewFromInt(200)}, nil
	}

	total, err := g.CheckBalances(context.Background(), map[string]BalanceFetcher{"a": flaky})
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(200)))
	assert.False(t, g.IsHalted())
}

func TestClearKillSwitchRequiresBalanceAboveThreshold(t *testing.T) {
	s := settings()
	g := New(s, nil)
	_, _ = g.CheckBalances(context.Background(), map[string]BalanceFetcher{"a": okFetcher(decimal.NewFromInt(10))})
	require.True(t, g.IsHalted())

	err := g.ClearKillSwitch(decimal.NewFromInt(50))
	assert.Error(t, err)
	assert.True(t, g.IsHalted())

	err = g.ClearKillSwitch(decimal.NewFromInt(150))
	assert.NoError(t, err)
	assert.False(t, g.IsHalted())
}

func TestRecordTradeStreakTracking(t *testing.T) {
	s := settings()
	g := New(s, nil)

	g.RecordTrade(decimal.NewFromInt(-10))
	g.RecordTrade(decimal.NewFromInt(-10))
	assert.Equal(t, 2, s.CurrentLosingStreak)
	assert.Equal(t, 2, s.MaxLosingStreak)

	g.RecordTrade(decimal.NewFromInt(10))
	assert.Equal(t, 0, s.CurrentLosingStreak)
	assert.Equal(t, 2, s.MaxLosingStreak)
}

func TestStreakMultiplierFloorsAtOneTenth(t *testing.T) {
	s := settings()
	s.StreakReductionPct = decimal.NewFromFloat(0.5)
	g := New(s, nil)

	for i := 0; i < 5; i++ {
		g.RecordTrade(decimal.NewFromInt(-1))
	}
	assert.True(t, g.StreakMultiplier().Equal(decimal.NewFromFloat(0.1)))
}

func TestStreakMultiplierDisabledReturnsOne(t *testing.T) {
	s := settings()
	s.StreakReductionOn = false
	g := New(s, nil)
	g.RecordTrade(decimal.NewFromInt(-1))
	assert.True(t, g.StreakMultiplier().Equal(decimal.NewFromInt(1)))
}
