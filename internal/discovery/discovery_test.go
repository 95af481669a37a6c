package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/types"
)

type fakeAdapter struct {
	exchange.Adapter
	markets []exchange.Market
}

func (f fakeAdapter) GetMarkets(ctx context.Context, filter exchange.MarketFilter) ([]exchange.Market, error) {
	return f.markets, nil
}

func TestClassifySport(t *testing.T) {
	assert.Equal(t, "nfl", classifySport("Chiefs vs Ravens", "NFL AFC Championship"))
	assert.Equal(t, "nba", classifySport("Lakers vs Celtics", "NBA Finals game 5"))
	assert.Equal(t, "", classifySport("Will it rain tomorrow?", ""))
}

func TestExtractTeams(t *testing.T) {
	home, away, ok := extractTeams("Kansas City Chiefs vs Baltimore Ravens")
	require.True(t, ok)
	assert.Equal(t, "Kansas City Chiefs", home)
	assert.Equal(t, "Baltimore Ravens", away)

	home, away, ok = extractTeams("Lakers to beat Celtics")
	require.True(t, ok)
	assert.Equal(t, "Lakers", home)
	assert.Equal(t, "Celtics", away)

	_, _, ok = extractTeams("Will BTC close above $100k?")
	assert.False(t, ok)
}

func TestPassesFiltersRejectsClosedMarket(t *testing.T) {
	m := exchange.Market{Status: "closed", EndTime: time.Now().Add(time.Hour)}
	assert.False(t, passesFilters(m, Filters{}))
}

func TestPassesFiltersRejectsPastEndTime(t *testing.T) {
	m := exchange.Market{Status: "active", EndTime: time.Now().Add(-time.Minute)}
	assert.False(t, passesFilters(m, Filters{}))
}

func TestPassesFiltersLiquidityOrVolume(t *testing.T) {
	f := Filters{MinLiquidity: decimal.NewFromInt(1000), MinVolume24h: decimal.NewFromInt(500)}
	m := exchange.Market{
		Status:    "active",
		EndTime:   time.Now().Add(time.Hour),
		Liquidity: decimal.NewFromInt(100),
		Volume24h: decimal.NewFromInt(600),
	}
	assert.True(t, passesFilters(m, f))

	m.Volume24h = decimal.NewFromInt(10)
	assert.False(t, passesFilters(m, f))
}

func TestPassesFiltersMaxSpread(t *testing.T) {
	f := Filters{MaxSpreadPct: decimal.NewFromFloat(0.05)}
	m := exchange.Market{
		Status:    "active",
		EndTime:   time.Now().Add(time.Hour),
		SpreadPct: decimal.NewFromFloat(0.10),
	}
	assert.False(t, passesFilters(m, f))
}

func TestDiscoverSortsByLiquidityDescending(t *testing.T) {
	adapter := fakeAdapter{markets: []exchange.Market{
		{Title: "Chiefs vs Ravens", Description: "NFL AFC Championship", Status: "active", EndTime: time.Now().Add(time.Hour), Liquidity: decimal.NewFromInt(500)},
		{Title: "Lakers vs Celtics", Description: "NBA Finals game 5", Status: "active", EndTime: time.Now().Add(time.Hour), Liquidity: decimal.NewFromInt(5000)},
		{Title: "Will it rain?", Status: "active", EndTime: time.Now().Add(time.Hour), Liquidity: decimal.NewFromInt(9000)},
	}}

	out, err := Discover(context.Background(), types.PlatformClobRest, adapter, exchange.MarketFilter{}, Filters{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "nba", out[0].Sport)
	assert.Equal(t, "nfl", out[1].Sport)
}
