// Package discovery fetches candidate markets from an exchange adapter,
// classifies each by sport, extracts home/away team strings, and applies
// liquidity/spread/volume filters. Grounded methodologically on the
// teacher's internal/polymarket/window_scanner.go and btc_scanner.go "scan
// markets, filter, sort" pipeline shape, generalized from a single
// BTC-window scan to a multi-sport, multi-exchange candidate scan.
package discovery

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddsdesk/lineguard/internal/exchange"
	"github.com/oddsdesk/lineguard/internal/telemetry"
	"github.com/oddsdesk/lineguard/types"
)

// Filters bounds which markets discovery surfaces as candidates.
type Filters struct {
	MinLiquidity decimal.Decimal
	MinVolume24h decimal.Decimal
	MaxSpreadPct decimal.Decimal
	HoursAhead   time.Duration // 0 disables the game-start-time cutoff
}

// DiscoveredMarket is a unified candidate carrying its originating
// exchange tag so routing back to the right adapter is preserved.
type DiscoveredMarket struct {
	Platform types.Platform
	Market   exchange.Market
	Sport    string
	Home     string
	Away     string
}

var sportKeywords = map[string][]string{
	"nfl":  {"nfl", "football", "afc", "nfc", "quarterback", "touchdown"},
	"nba":  {"nba", "basketball", "playoffs"},
	"mlb":  {"mlb", "baseball", "world series", "inning"},
	"nhl":  {"nhl", "hockey", "stanley cup"},
	"ncaaf": {"college football", "ncaaf", "cfb"},
	"ncaab": {"college basketball", "ncaab", "march madness"},
	"golf": {"pga", "golf", "masters"},
	"soccer": {"premier league", "champions league", "mls", "soccer", "fifa"},
}

var teamPairPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(.+?)\s+vs\.?\s+(.+?)$`),
	regexp.MustCompile(`(?i)^(.+?)\s+to beat\s+(.+?)$`),
	regexp.MustCompile(`(?i)^(.+?)\s+@\s+(.+?)$`),
}

// classifySport returns the sport tag detected in the market's title plus
// description, or "" if no keyword table entry matches.
func classifySport(title, description string) string {
	haystack := strings.ToLower(title + " " + description)
	for sport, keywords := range sportKeywords {
		for _, kw := range keywords {
			if strings.Contains(haystack, kw) {
				return sport
			}
		}
	}
	return ""
}

// extractTeams applies the "A vs B" / "A to beat B" regex family to a
// market title and returns the two team strings it found, if any.
func extractTeams(title string) (home, away string, ok bool) {
	cleaned := strings.TrimSpace(title)
	for _, pattern := range teamPairPatterns {
		m := pattern.FindStringSubmatch(cleaned)
		if len(m) == 3 {
			return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
		}
	}
	return "", "", false
}

func spreadOf(m exchange.Market) decimal.Decimal {
	if !m.SpreadPct.IsZero() {
		return m.SpreadPct
	}
	return m.YesMid.Sub(decimal.NewFromInt(1).Sub(m.NoMid)).Abs()
}

func passesFilters(m exchange.Market, f Filters) bool {
	if m.Status != "open" && m.Status != "active" {
		return false
	}
	if !m.EndTime.IsZero() && !m.EndTime.After(time.Now()) {
		return false
	}
	meetsLiquidity := f.MinLiquidity.IsZero() || m.Liquidity.GreaterThanOrEqual(f.MinLiquidity)
	meetsVolume := f.MinVolume24h.IsZero() || m.Volume24h.GreaterThanOrEqual(f.MinVolume24h)
	if !meetsLiquidity && !meetsVolume {
		return false
	}
	if !f.MaxSpreadPct.IsZero() && spreadOf(m).GreaterThan(f.MaxSpreadPct) {
		return false
	}
	if f.HoursAhead > 0 && !m.GameStartTime.IsZero() && m.GameStartTime.After(time.Now().Add(f.HoursAhead)) {
		return false
	}
	return true
}

// Discover fetches candidate markets from adapter, classifies and filters
// them, and returns the survivors sorted by liquidity descending.
func Discover(ctx context.Context, platform types.Platform, adapter exchange.Adapter, filter exchange.MarketFilter, f Filters) ([]DiscoveredMarket, error) {
	markets, err := adapter.GetMarkets(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]DiscoveredMarket, 0, len(markets))
	for _, m := range markets {
		if !passesFilters(m, f) {
			continue
		}
		sport := classifySport(m.Title, m.Description)
		if sport == "" {
			continue
		}
		home, away, ok := extractTeams(m.Title)
		if !ok {
			continue
		}
		out = append(out, DiscoveredMarket{
			Platform: platform,
			Market:   m,
			Sport:    sport,
			Home:     home,
			Away:     away,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Market.Liquidity.GreaterThan(out[j].Market.Liquidity)
	})

	telemetry.For("discovery").Debug().
		Str("platform", string(platform)).
		Int("raw", len(markets)).
		Int("surfaced", len(out)).
		Msg("discovery pass complete")

	return out, nil
}
