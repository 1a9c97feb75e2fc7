package analytics

import (
	"fmt"
	"math"
	"strings"

	"github.com/iddaa-lens/edge/pkg/models"
)

// Confidence levels
const (
	ConfidenceHigh     = "high"
	ConfidenceModerate = "moderate"
	ConfidenceLow      = "low"
)

// Form returns the points share of a profile's record: wins plus half of draws
// over games played. Profiles without games have neutral form.
func Form(p *models.Profile) float64 {
	if p == nil {
		return 0.5
	}
	games := p.Wins + p.Draws + p.Losses
	if games == 0 {
		return 0.5
	}
	return (float64(p.Wins) + 0.5*float64(p.Draws)) / float64(games)
}

// Momentum scores the form gap between home and away on a -100..100 scale.
// Positive values favour the home side. Missing profiles count as neutral.
func Momentum(home, away *models.Profile) float64 {
	if home == nil && away == nil {
		return 0
	}
	return clamp((Form(home)-Form(away))*100, -100, 100)
}

// AdjustConfidence scales base confidence by the momentum magnitude and clamps to 0..100
func AdjustConfidence(base, momentum float64) float64 {
	factor := 1.0 + math.Abs(momentum)/100
	return clamp(base*factor, 0, 100)
}

// ConfidenceLevel bands a 0..100 confidence
func ConfidenceLevel(confidence float64) string {
	switch {
	case confidence >= 80:
		return ConfidenceHigh
	case confidence >= 60:
		return ConfidenceModerate
	default:
		return ConfidenceLow
	}
}

// MomentumText describes a momentum score from the perspective of the side it favours
func MomentumText(momentum float64) string {
	switch abs := math.Abs(momentum); {
	case abs >= 20:
		if momentum > 0 {
			return fmt.Sprintf("strong positive momentum (%.1f)", momentum)
		}
		return fmt.Sprintf("strong negative momentum (%.1f)", momentum)
	case abs >= 10:
		if momentum > 0 {
			return fmt.Sprintf("positive momentum (%.1f)", momentum)
		}
		return fmt.Sprintf("negative momentum (%.1f)", momentum)
	default:
		return fmt.Sprintf("balanced momentum (%.1f)", momentum)
	}
}

// InsightInput carries what the insight sentence is built from
type InsightInput struct {
	Home       string
	Away       string
	Favourite  string // outcome key
	Confidence float64
	Momentum   float64
	BestBet    string
	BestOdds   float64
	Bookmaker  string
	MaxEV      float64
}

// Insight renders a short human-readable summary of an artifact
func Insight(in InsightInput) string {
	level := ConfidenceLevel(in.Confidence)

	var b strings.Builder
	switch in.Favourite {
	case models.OutcomeDraw:
		fmt.Fprintf(&b, "The market leans towards a draw between %s and %s with %s confidence (%.1f%%).",
			in.Home, in.Away, level, in.Confidence)
	default:
		winner, loser := in.Home, in.Away
		momentum := in.Momentum
		if in.Favourite == models.OutcomeAway {
			winner, loser = in.Away, in.Home
			momentum = -momentum
		}
		fmt.Fprintf(&b, "The market favours %s over %s with %s confidence (%.1f%%). %s has %s heading into this matchup.",
			winner, loser, level, in.Confidence, winner, MomentumText(momentum))
	}

	if in.BestBet != "" && in.MaxEV > 0 {
		fmt.Fprintf(&b, " Best value: %s at %.2f with %s (EV %+.1f%%).", in.BestBet, in.BestOdds, in.Bookmaker, in.MaxEV)
	} else {
		b.WriteString(" No positive expected value found at current prices.")
	}
	return b.String()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
