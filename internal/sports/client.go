// Package sports polls a read-only, unauthenticated ESPN-style scoreboard
// endpoint by sport and parses it into game records. Grounded on the
// teacher's feeds/binance.go and internal/cmc polling-client shape (plain
// net/http GET issued once per call, typed response struct, no retained
// state) generalized from a price feed to a
// scoreboard feed; callers are responsible for caching/diffing snapshots.
package sports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oddsdesk/lineguard/internal/apperr"
	"github.com/oddsdesk/lineguard/internal/telemetry"
)

// State is a game's lifecycle stage.
type State string

const (
	StatePre      State = "pre"
	StateLive     State = "live"
	StateFinished State = "finished"
)

// Team identifies one side of a game by both its display name and its
// short abbreviation (the matcher tries both).
type Team struct {
	Name         string
	Abbreviation string
}

// Game is a parsed scoreboard record for one event.
type Game struct {
	Sport     string
	EventID   string
	StartTime time.Time
	Home      Team
	Away      Team
	Period    int
	Clock     string
	HomeScore int
	AwayScore int
	State     State
}

// scoreboardResponse is the subset of the upstream scoreboard payload shape
// this client cares about; unknown fields are ignored by encoding/json.
type scoreboardResponse struct {
	Events []scoreboardEvent `json:"events"`
}

type scoreboardEvent struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Status struct {
		Period int    `json:"period"`
		Clock  string `json:"displayClock"`
		Type   struct {
			State string `json:"state"` // "pre", "in", "post"
		} `json:"type"`
	} `json:"status"`
	Competitions []struct {
		Competitors []struct {
			HomeAway string `json:"homeAway"`
			Score    string `json:"score"`
			Team     struct {
				DisplayName  string `json:"displayName"`
				Abbreviation string `json:"abbreviation"`
			} `json:"team"`
		} `json:"competitors"`
	} `json:"competitions"`
}

// Client is a stateless scoreboard poller for one sport endpoint family.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a scoreboard client. baseURL is the sport-agnostic root; each
// sport's path is appended in FetchScoreboard.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchScoreboard fetches and parses the current scoreboard for one sport
// (e.g. "football/nfl", "basketball/nba"). Backs off is the caller's
// responsibility: this call does not retry.
func (c *Client) FetchScoreboard(ctx context.Context, sport string) ([]Game, error) {
	url := fmt.Sprintf("%s/%s/scoreboard", c.baseURL, sport)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.New(apperr.Validation, "sports.FetchScoreboard", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.Transport, "sports.FetchScoreboard", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.New(apperr.Transport, "sports.FetchScoreboard", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.Transport, "sports.FetchScoreboard", fmt.Errorf("HTTP %d: %s", resp.StatusCode, body))
	}

	var parsed scoreboardResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperr.New(apperr.Transport, "sports.FetchScoreboard", err)
	}

	games := make([]Game, 0, len(parsed.Events))
	for _, ev := range parsed.Events {
		g, ok := parseEvent(sport, ev)
		if ok {
			games = append(games, g)
		}
	}

	telemetry.For("sports.client").Debug().
		Str("sport", sport).
		Int("games", len(games)).
		Msg("scoreboard fetched")

	return games, nil
}

func parseEvent(sport string, ev scoreboardEvent) (Game, bool) {
	if len(ev.Competitions) == 0 {
		return Game{}, false
	}

	g := Game{
		Sport:   sport,
		EventID: ev.ID,
		Period:  ev.Status.Period,
		Clock:   ev.Status.Clock,
		State:   mapState(ev.Status.Type.State),
	}
	if t, err := time.Parse(time.RFC3339, ev.Date); err == nil {
		g.StartTime = t
	}

	for _, comp := range ev.Competitions[0].Competitors {
		team := Team{Name: comp.Team.DisplayName, Abbreviation: comp.Team.Abbreviation}
		score, _ := strconv.Atoi(comp.Score)
		switch strings.ToLower(comp.HomeAway) {
		case "home":
			g.Home = team
			g.HomeScore = score
		case "away":
			g.Away = team
			g.AwayScore = score
		}
	}

	return g, true
}

func mapState(wire string) State {
	switch wire {
	case "in":
		return StateLive
	case "post":
		return StateFinished
	default:
		return StatePre
	}
}

// IsFinished reports whether g has reached a terminal state for discovery
// purposes (used to stop tracking a market once the underlying game ends).
func (g Game) IsFinished() bool {
	return g.State == StateFinished
}

// Key is a deterministic matching key derived from event id, stable across
// polls of the same game. A game with no event id gets a random key on
// every call, so its key is not stable.
func (g Game) Key() string {
	if g.EventID != "" {
		return g.Sport + ":" + g.EventID
	}
	return g.Sport + ":" + uuid.NewString()
}
