// Package matcher links a live game to a specific discovered market via
// abbreviation, team-name, or time-window strategies, in declining
// reliability order. New code; grounded methodologically on the resolver
// pattern described in the HFTKalshiGo reference material
// (other_examples game_context.go / strategy_engine.go): a tracked
// association is created only when a live-game feed and an exchange-market
// feed agree, and matching never double-assigns one market to two games in
// a single pass.
package matcher

import (
	"regexp"
	"strings"
	"time"

	"github.com/oddsdesk/lineguard/internal/discovery"
	"github.com/oddsdesk/lineguard/internal/sports"
)

// DefaultMinConfidence is the threshold below which no match is returned.
const DefaultMinConfidence = 0.70

// Strategy names the matching rule that produced a Match, for audit/debug.
type Strategy string

const (
	StrategyAbbreviation Strategy = "abbreviation"
	StrategyFullName     Strategy = "full_name"
	StrategyPartialName  Strategy = "partial_name"
	StrategyTimeWindow   Strategy = "time_window"
)

// Match is a (game, market) pairing with the confidence and strategy that
// produced it.
type Match struct {
	Game       sports.Game
	Market     discovery.DiscoveredMarket
	Confidence float64
	Strategy   Strategy
}

var wordSplitter = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func tokens(s string) []string {
	var out []string
	for _, tok := range wordSplitter.Split(strings.ToLower(s), -1) {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func containsWord(title, word string) bool {
	if word == "" {
		return false
	}
	title = strings.ToLower(title)
	word = strings.ToLower(word)
	for _, tok := range tokens(title) {
		if tok == word {
			return true
		}
	}
	return false
}

// tryAbbreviation matches when both team abbreviations occur in the market
// title as distinct tokens.
func tryAbbreviation(g sports.Game, title string) bool {
	return containsWord(title, g.Home.Abbreviation) && containsWord(title, g.Away.Abbreviation)
}

// tryFullName matches when both display names are substrings of the title.
func tryFullName(g sports.Game, title string) bool {
	lower := strings.ToLower(title)
	return strings.Contains(lower, strings.ToLower(g.Home.Name)) && strings.Contains(lower, strings.ToLower(g.Away.Name))
}

// tryPartialName matches when at least 2 tokens of each team name appear
// as distinct words in the title.
func tryPartialName(g sports.Game, title string) bool {
	return countMatchingTokens(title, g.Home.Name) >= 2 && countMatchingTokens(title, g.Away.Name) >= 2
}

func countMatchingTokens(title, name string) int {
	titleTokens := make(map[string]bool)
	for _, tok := range tokens(title) {
		titleTokens[tok] = true
	}
	count := 0
	for _, tok := range tokens(name) {
		if titleTokens[tok] {
			count++
		}
	}
	return count
}

// tryTimeWindow matches when the market end time is within ±4h of game
// start AND at least 2 team-name tokens (either team) are present.
func tryTimeWindow(g sports.Game, title string, marketEnd time.Time) bool {
	if g.StartTime.IsZero() || marketEnd.IsZero() {
		return false
	}
	delta := marketEnd.Sub(g.StartTime)
	if delta < 0 {
		delta = -delta
	}
	if delta > 4*time.Hour {
		return false
	}
	return countMatchingTokens(title, g.Home.Name) >= 2 || countMatchingTokens(title, g.Away.Name) >= 2
}

// scoreOne evaluates every strategy for one (game, market) pair and returns
// the highest-confidence match, in declining reliability order.
func scoreOne(g sports.Game, m discovery.DiscoveredMarket) (Match, bool) {
	title := m.Market.Title

	if tryAbbreviation(g, title) {
		return Match{Game: g, Market: m, Confidence: 0.90, Strategy: StrategyAbbreviation}, true
	}
	if tryFullName(g, title) {
		return Match{Game: g, Market: m, Confidence: 0.85, Strategy: StrategyFullName}, true
	}
	if tryPartialName(g, title) {
		return Match{Game: g, Market: m, Confidence: 0.80, Strategy: StrategyPartialName}, true
	}
	if tryTimeWindow(g, title, m.Market.EndTime) {
		return Match{Game: g, Market: m, Confidence: 0.70, Strategy: StrategyTimeWindow}, true
	}
	return Match{}, false
}

// MatchOne finds the best market for one game from candidates, or false if
// nothing clears minConfidence.
func MatchOne(g sports.Game, candidates []discovery.DiscoveredMarket, minConfidence float64) (Match, bool) {
	var best Match
	found := false
	for _, c := range candidates {
		m, ok := scoreOne(g, c)
		if !ok || m.Confidence < minConfidence {
			continue
		}
		if !found || m.Confidence > best.Confidence {
			best = m
			found = true
		}
	}
	return best, found
}

// MatchAll matches a list of live games against a shared candidate pool,
// locking each matched market so it can never be reused by a later game in
// the same pass (first game in the slice wins ties on a contested market).
func MatchAll(games []sports.Game, candidates []discovery.DiscoveredMarket, minConfidence float64) []Match {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}

	lockedMarketIDs := make(map[string]bool)
	matches := make([]Match, 0, len(games))

	for _, g := range games {
		available := make([]discovery.DiscoveredMarket, 0, len(candidates))
		for _, c := range candidates {
			if !lockedMarketIDs[c.Market.ID] {
				available = append(available, c)
			}
		}

		m, ok := MatchOne(g, available, minConfidence)
		if !ok {
			continue
		}
		lockedMarketIDs[m.Market.ID] = true
		matches = append(matches, m)
	}

	return matches
}
