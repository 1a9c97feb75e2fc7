// Package analytics holds the pricing math behind betting intelligence:
// de-vigging, expected value, price movement, and confidence scoring.
package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/iddaa-lens/edge/pkg/models"
)

// ModelVersion is stamped on every artifact so consumers can tell
// regenerated output apart after formula changes.
const ModelVersion = "ev-devig-1"

// Reference sources recorded on the artifact
const (
	ReferenceConsensus = "consensus"
)

var (
	// ErrIncompleteMarket is returned when a market lacks the outcomes needed to price it
	ErrIncompleteMarket = errors.New("incomplete market")
	// ErrInvalidOdds is returned for decimal odds that are not greater than 1
	ErrInvalidOdds = errors.New("invalid decimal odds")
)

// HeadToHeadOutcomes lists the outcome order used for h2h markets. Draw is
// optional for sports without ties.
var HeadToHeadOutcomes = []string{models.OutcomeHome, models.OutcomeDraw, models.OutcomeAway}

// BestPrice is the highest price offered for an outcome
type BestPrice struct {
	Odds      float64
	Bookmaker string
}

// ImpliedProbability converts decimal odds to the bookmaker's implied probability
func ImpliedProbability(odds float64) float64 {
	if odds <= 0 {
		return 0
	}
	return 1 / odds
}

// FairOdds converts a probability back to decimal odds
func FairOdds(probability float64) float64 {
	if probability <= 0 {
		return 0
	}
	return 1 / probability
}

// ExpectedValue returns the expected return in percent of staking at odds
// when the true probability is fairProbability
func ExpectedValue(odds, fairProbability float64) float64 {
	return (odds*fairProbability - 1) * 100
}

// MovementPercentage returns the relative change from opening to current odds
func MovementPercentage(opening, current float64) float64 {
	if opening <= 0 {
		return 0
	}
	return (current - opening) / opening * 100
}

// Devig removes the bookmaker margin from a set of prices. It returns the fair
// probability per outcome and the overround (sum of implied probabilities).
func Devig(prices map[string]float64) (map[string]float64, float64, error) {
	if len(prices) < 2 {
		return nil, 0, fmt.Errorf("%w: need at least 2 outcomes, got %d", ErrIncompleteMarket, len(prices))
	}

	outcomes := sortedKeys(prices)
	implied := make([]float64, len(outcomes))
	for i, outcome := range outcomes {
		odds := prices[outcome]
		if odds <= 1 || math.IsNaN(odds) || math.IsInf(odds, 0) {
			return nil, 0, fmt.Errorf("%w: %s at %v", ErrInvalidOdds, outcome, odds)
		}
		implied[i] = ImpliedProbability(odds)
	}

	overround := floats.Sum(implied)
	fair := make(map[string]float64, len(outcomes))
	for i, outcome := range outcomes {
		fair[outcome] = implied[i] / overround
	}
	return fair, overround, nil
}

// MarketPrices returns one bookmaker's prices for a market key
func MarketPrices(markets []models.Market, key, bookmaker string) (map[string]float64, bool) {
	for _, m := range markets {
		if m.Key != key || m.Bookmaker != bookmaker {
			continue
		}
		prices := make(map[string]float64, len(m.Prices))
		for _, p := range m.Prices {
			prices[p.Outcome] = p.Odds
		}
		return prices, true
	}
	return nil, false
}

// BestPrices returns the highest valid price and its bookmaker per outcome
func BestPrices(markets []models.Market, key string) map[string]BestPrice {
	best := make(map[string]BestPrice)
	for _, m := range markets {
		if m.Key != key {
			continue
		}
		for _, p := range m.Prices {
			if p.Odds <= 1 {
				continue
			}
			current, ok := best[p.Outcome]
			if !ok || p.Odds > current.Odds || (p.Odds == current.Odds && m.Bookmaker < current.Bookmaker) {
				best[p.Outcome] = BestPrice{Odds: p.Odds, Bookmaker: m.Bookmaker}
			}
		}
	}
	return best
}

// Consensus de-vigs every bookmaker that prices all outcomes and averages
// the fair probabilities. The returned overround is the mean overround.
func Consensus(markets []models.Market, key string, outcomes []string) (map[string]float64, float64, error) {
	perOutcome := make(map[string][]float64, len(outcomes))
	var overrounds []float64

	for _, m := range markets {
		if m.Key != key {
			continue
		}
		prices := make(map[string]float64, len(outcomes))
		for _, p := range m.Prices {
			prices[p.Outcome] = p.Odds
		}
		complete := make(map[string]float64, len(outcomes))
		for _, outcome := range outcomes {
			odds, ok := prices[outcome]
			if !ok {
				break
			}
			complete[outcome] = odds
		}
		if len(complete) != len(outcomes) {
			continue
		}

		fair, overround, err := Devig(complete)
		if err != nil {
			continue
		}
		for outcome, p := range fair {
			perOutcome[outcome] = append(perOutcome[outcome], p)
		}
		overrounds = append(overrounds, overround)
	}

	if len(overrounds) == 0 {
		return nil, 0, fmt.Errorf("%w: no bookmaker prices every outcome of %s", ErrIncompleteMarket, key)
	}

	means := make([]float64, len(outcomes))
	for i, outcome := range outcomes {
		means[i] = stat.Mean(perOutcome[outcome], nil)
	}
	total := floats.Sum(means)

	fair := make(map[string]float64, len(outcomes))
	for i, outcome := range outcomes {
		fair[outcome] = means[i] / total
	}
	return fair, stat.Mean(overrounds, nil), nil
}

// Volatility is the standard deviation of successive relative price changes.
// Fewer than three observations yield 0.
func Volatility(series []float64) float64 {
	if len(series) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] <= 0 {
			continue
		}
		returns = append(returns, (series[i]-series[i-1])/series[i-1])
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// Round rounds to the given number of decimals
func Round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
