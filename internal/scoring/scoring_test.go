package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceDropBoundaries(t *testing.T) {
	assert.Equal(t, 0.0, priceDropScore(0))
	assert.Equal(t, 0.0, priceDropScore(-0.05))
	assert.Equal(t, 1.0, priceDropScore(0.20))
	assert.Equal(t, 1.0, priceDropScore(0.30))
	assert.InDelta(t, 0.5, priceDropScore(0.10), 1e-9)
}

func TestTimeRemainingBoundaries(t *testing.T) {
	assert.Equal(t, 0.0, timeRemainingScore(0))
	assert.Equal(t, 1.0, timeRemainingScore(1200))
	assert.Equal(t, 1.0, timeRemainingScore(5000))
	assert.InDelta(t, 0.5, timeRemainingScore(600), 1e-9)
}

func TestVolumeBoundaries(t *testing.T) {
	assert.Equal(t, 0.5, volumeScore(0, false))
	assert.InDelta(t, 0.2, volumeScore(1000, true), 1e-9)
	assert.InDelta(t, 1.0, volumeScore(50000, true), 1e-9)
}

func TestTrendScores(t *testing.T) {
	assert.Equal(t, 0.8, trendScore(TrendDown))
	assert.Equal(t, 0.2, trendScore(TrendUp))
	assert.Equal(t, 0.5, trendScore(TrendUnknown))
}

func TestGamePhaseScore(t *testing.T) {
	assert.InDelta(t, 0.75, gamePhaseScore(1, 4), 1e-9)
	assert.Equal(t, 0.5, gamePhaseScore(1, 0))
}

func TestSpreadScoreBoundaries(t *testing.T) {
	assert.Equal(t, 1.0, spreadScore(0.005, true))
	assert.Equal(t, 1.0, spreadScore(0.01, true))
	assert.InDelta(t, 0.1, spreadScore(0.10, true), 1e-9)
	assert.Equal(t, 0.5, spreadScore(0, false))
}

func TestRecommendationBands(t *testing.T) {
	assert.Equal(t, StrongBuy, recommendationFor(0.80))
	assert.Equal(t, Buy, recommendationFor(0.60))
	assert.Equal(t, Hold, recommendationFor(0.40))
	assert.Equal(t, Avoid, recommendationFor(0.39))
}

func TestScoreWeightedTotal(t *testing.T) {
	result := Score(Inputs{
		DropPct:          0.20,
		TimeRemainingSec: 1200,
		Volume:           50000,
		VolumeKnown:      true,
		Trend:            TrendDown,
		CurrentPhase:     1,
		TotalPhases:      4,
		SpreadPct:        0.01,
		SpreadKnown:      true,
	})
	// 0.30*1 + 0.20*1 + 0.15*1 + 0.15*0.8 + 0.10*0.75 + 0.10*1
	expected := 0.30 + 0.20 + 0.15 + 0.15*0.8 + 0.10*0.75 + 0.10
	assert.InDelta(t, expected, result.Total, 1e-9)
	assert.Equal(t, StrongBuy, result.Recommendation)
}

func TestScoreAllUnknownMidRange(t *testing.T) {
	result := Score(Inputs{})
	assert.Equal(t, Avoid, result.Recommendation)
}
