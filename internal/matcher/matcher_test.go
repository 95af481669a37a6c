package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsdesk/lineguard/internal/discovery"
	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/sports"
	"github.com/oddsdesk/lineguard/types"
)

func game() sports.Game {
	return sports.Game{
		Sport:     "nfl",
		EventID:   "401547439",
		StartTime: time.Date(2026, 9, 10, 0, 20, 0, 0, time.UTC),
		Home:      sports.Team{Name: "Kansas City Chiefs", Abbreviation: "KC"},
		Away:      sports.Team{Name: "Baltimore Ravens", Abbreviation: "BAL"},
	}
}

func marketWith(title string, endTime time.Time) discovery.DiscoveredMarket {
	return discovery.DiscoveredMarket{
		Platform: types.PlatformClobRest,
		Market:   exchange.Market{ID: title, Title: title, EndTime: endTime},
		Sport:    "nfl",
	}
}

func TestAbbreviationMatchHighestConfidence(t *testing.T) {
	m := marketWith("KC vs BAL Winner", time.Time{})
	match, ok := scoreOne(game(), m)
	require.True(t, ok)
	assert.Equal(t, StrategyAbbreviation, match.Strategy)
	assert.Equal(t, 0.90, match.Confidence)
}

func TestFullNameMatch(t *testing.T) {
	m := marketWith("Will Kansas City Chiefs beat Baltimore Ravens?", time.Time{})
	match, ok := scoreOne(game(), m)
	require.True(t, ok)
	assert.Equal(t, StrategyFullName, match.Strategy)
}

func TestPartialNameMatch(t *testing.T) {
	m := marketWith("Kansas City vs Baltimore Ravens battle", time.Time{})
	match, ok := scoreOne(game(), m)
	require.True(t, ok)
	assert.Equal(t, StrategyPartialName, match.Strategy)
}

func TestTimeWindowMatch(t *testing.T) {
	m := marketWith("Kansas City throwback jersey bundle", game().StartTime.Add(time.Hour))
	match, ok := scoreOne(game(), m)
	require.True(t, ok)
	assert.Equal(t, StrategyTimeWindow, match.Strategy)
	assert.Equal(t, 0.70, match.Confidence)
}

func TestNoMatchBelowThreshold(t *testing.T) {
	m := marketWith("Will it rain in Miami tomorrow?", time.Time{})
	_, ok := scoreOne(game(), m)
	assert.False(t, ok)
}

func TestMatchAllNeverReusesLockedMarket(t *testing.T) {
	shared := marketWith("KC vs BAL", time.Time{})
	games := []sports.Game{game(), game()} // same game twice, same candidate pool
	matches := MatchAll(games, []discovery.DiscoveredMarket{shared}, DefaultMinConfidence)
	require.Len(t, matches, 1)
}

func TestMatchAllRespectsMinConfidence(t *testing.T) {
	weak := marketWith("Chiefs fan merchandise drop", time.Time{})
	matches := MatchAll([]sports.Game{game()}, []discovery.DiscoveredMarket{weak}, DefaultMinConfidence)
	assert.Empty(t, matches)
}
