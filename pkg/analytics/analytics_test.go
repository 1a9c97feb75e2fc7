package analytics

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/edge/pkg/models"
)

const eps = 1e-6

func TestDevig(t *testing.T) {
	tests := []struct {
		name          string
		prices        map[string]float64
		wantFair      map[string]float64
		wantOverround float64
	}{
		{
			name:          "even market without margin",
			prices:        map[string]float64{"home": 2.0, "away": 2.0},
			wantFair:      map[string]float64{"home": 0.5, "away": 0.5},
			wantOverround: 1.0,
		},
		{
			name:          "even market with margin",
			prices:        map[string]float64{"home": 1.9, "away": 1.9},
			wantFair:      map[string]float64{"home": 0.5, "away": 0.5},
			wantOverround: 2 / 1.9,
		},
		{
			name:          "three way market",
			prices:        map[string]float64{"home": 2.5, "draw": 3.2, "away": 3.0},
			wantFair:      map[string]float64{"home": 0.4 / 1.0458333, "draw": 0.3125 / 1.0458333, "away": (1.0 / 3.0) / 1.0458333},
			wantOverround: 1.0458333,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fair, overround, err := Devig(tt.prices)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantOverround, overround, eps)
			sum := 0.0
			for outcome, want := range tt.wantFair {
				assert.InDelta(t, want, fair[outcome], eps, outcome)
				sum += fair[outcome]
			}
			assert.InDelta(t, 1.0, sum, eps)
		})
	}
}

func TestDevig_Invalid(t *testing.T) {
	_, _, err := Devig(map[string]float64{"home": 2.0})
	assert.True(t, errors.Is(err, ErrIncompleteMarket))

	_, _, err = Devig(map[string]float64{"home": 2.0, "away": 1.0})
	assert.True(t, errors.Is(err, ErrInvalidOdds))
}

func TestExpectedValue(t *testing.T) {
	assert.InDelta(t, 10.0, ExpectedValue(2.2, 0.5), eps)
	assert.InDelta(t, -5.0, ExpectedValue(1.9, 0.5), eps)
	assert.InDelta(t, 0.0, ExpectedValue(2.0, 0.5), eps)
}

func TestBestPricesAndConsensus(t *testing.T) {
	markets := []models.Market{
		{Key: "h2h", Bookmaker: "pinnacle", Prices: []models.Price{{Outcome: "home", Odds: 2.0}, {Outcome: "away", Odds: 2.0}}},
		{Key: "h2h", Bookmaker: "bet365", Prices: []models.Price{{Outcome: "home", Odds: 2.2}, {Outcome: "away", Odds: 1.7}}},
		{Key: "h2h", Bookmaker: "partial", Prices: []models.Price{{Outcome: "home", Odds: 2.5}}},
		{Key: "totals", Bookmaker: "pinnacle", Prices: []models.Price{{Outcome: "over", Odds: 1.9}, {Outcome: "under", Odds: 1.9}}},
	}

	best := BestPrices(markets, "h2h")
	assert.Equal(t, BestPrice{Odds: 2.5, Bookmaker: "partial"}, best["home"])
	assert.Equal(t, BestPrice{Odds: 2.0, Bookmaker: "pinnacle"}, best["away"])
	assert.NotContains(t, best, "over")

	fair, overround, err := Consensus(markets, "h2h", []string{"home", "away"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, fair["home"]+fair["away"], eps)
	// bet365 prices away shorter than home, so consensus leans away
	assert.Greater(t, fair["away"], fair["home"])
	assert.Greater(t, overround, 1.0)

	_, _, err = Consensus(markets, "h2h", []string{"home", "draw", "away"})
	assert.ErrorIs(t, err, ErrIncompleteMarket)

	prices, ok := MarketPrices(markets, "h2h", "pinnacle")
	require.True(t, ok)
	assert.Equal(t, 2.0, prices["home"])
	_, ok = MarketPrices(markets, "h2h", "missing")
	assert.False(t, ok)
}

func TestVolatilityAndMovement(t *testing.T) {
	assert.Equal(t, 0.0, Volatility([]float64{2.0}))
	assert.Equal(t, 0.0, Volatility([]float64{2.0, 2.2}))
	assert.InDelta(t, 0.0, Volatility([]float64{2.0, 2.2, 2.42}), eps)
	assert.InDelta(t, 0.1414213, Volatility([]float64{2.0, 2.2, 1.98}), eps)

	assert.InDelta(t, 10.0, MovementPercentage(2.0, 2.2), eps)
	assert.InDelta(t, -25.0, MovementPercentage(2.0, 1.5), eps)
	assert.Equal(t, 0.0, MovementPercentage(0, 1.5))
}

func TestMomentumAndConfidence(t *testing.T) {
	home := &models.Profile{Wins: 7, Draws: 2, Losses: 1}
	away := &models.Profile{Wins: 3, Draws: 2, Losses: 5}

	momentum := Momentum(home, away)
	assert.InDelta(t, 40.0, momentum, eps)
	assert.InDelta(t, -40.0, Momentum(away, home), eps)
	assert.Equal(t, 0.0, Momentum(nil, nil))
	assert.InDelta(t, 30.0, Momentum(home, nil), eps)

	assert.InDelta(t, 84.0, AdjustConfidence(60, momentum), eps)
	assert.Equal(t, 100.0, AdjustConfidence(90, momentum))
	assert.Equal(t, 0.0, AdjustConfidence(-5, 0))

	tests := []struct {
		confidence float64
		want       string
	}{
		{95, ConfidenceHigh},
		{80, ConfidenceHigh},
		{79.9, ConfidenceModerate},
		{60, ConfidenceModerate},
		{59.9, ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConfidenceLevel(tt.confidence), "confidence %v", tt.confidence)
	}
}

func TestMomentumText(t *testing.T) {
	assert.Equal(t, "strong positive momentum (25.0)", MomentumText(25))
	assert.Equal(t, "strong negative momentum (-20.0)", MomentumText(-20))
	assert.Equal(t, "positive momentum (12.5)", MomentumText(12.5))
	assert.Equal(t, "negative momentum (-10.0)", MomentumText(-10))
	assert.Equal(t, "balanced momentum (3.0)", MomentumText(3))
}

func TestInsight(t *testing.T) {
	text := Insight(InsightInput{
		Home:       "Galatasaray",
		Away:       "Fenerbahce",
		Favourite:  models.OutcomeAway,
		Confidence: 64.2,
		Momentum:   -15,
		BestBet:    models.OutcomeAway,
		BestOdds:   2.35,
		Bookmaker:  "bet365",
		MaxEV:      3.4,
	})

	assert.True(t, strings.HasPrefix(text, "The market favours Fenerbahce over Galatasaray with moderate confidence (64.2%)."))
	assert.Contains(t, text, "Fenerbahce has positive momentum (15.0)")
	assert.Contains(t, text, "Best value: away at 2.35 with bet365 (EV +3.4%).")

	draw := Insight(InsightInput{Home: "A", Away: "B", Favourite: models.OutcomeDraw, Confidence: 40})
	assert.Contains(t, draw, "draw between A and B with low confidence")
	assert.Contains(t, draw, "No positive expected value")
}
