package models

import "time"

// Event status values as stored in the events collection
const (
	EventStatusScheduled = "scheduled"
	EventStatusLive      = "live"
	EventStatusFinished  = "finished"
	EventStatusPostponed = "postponed"
	EventStatusCancelled = "cancelled"
)

// Participant sides
const (
	SideHome = "home"
	SideAway = "away"
)

// Head-to-head outcome names
const (
	OutcomeHome = "home"
	OutcomeDraw = "draw"
	OutcomeAway = "away"
)

// MarketHeadToHead is the moneyline / 1X2 market key
const MarketHeadToHead = "h2h"

// Profile is a competitor with its ranking data
type Profile struct {
	ID     string  `json:"id"`
	Slug   string  `json:"slug"`
	Name   string  `json:"name"`
	Sport  string  `json:"sport"`
	League string  `json:"league,omitempty"`
	Rank   int     `json:"rank"`
	Rating float64 `json:"rating"`
	Wins   int     `json:"wins"`
	Draws  int     `json:"draws"`
	Losses int     `json:"losses"`
}

// Participant links an event side to a competitor profile
type Participant struct {
	ProfileID string `json:"profile_id,omitempty"`
	Name      string `json:"name"`
	Side      string `json:"side"`
}

// Event is a scheduled fixture between participants
type Event struct {
	ID            string        `json:"id"`
	Slug          string        `json:"slug"`
	Sport         string        `json:"sport"`
	League        string        `json:"league,omitempty"`
	ScheduledTime time.Time     `json:"scheduled_time"`
	Participants  []Participant `json:"participants"`
	Status        string        `json:"status"`
}

// Participant returns the participant playing on the given side
func (e *Event) Participant(side string) (Participant, bool) {
	for _, p := range e.Participants {
		if p.Side == side {
			return p, true
		}
	}
	return Participant{}, false
}

// Match returns a "Home vs Away" label
func (e *Event) Match() string {
	home, _ := e.Participant(SideHome)
	away, _ := e.Participant(SideAway)
	return home.Name + " vs " + away.Name
}

// Price is one offered outcome price in decimal odds
type Price struct {
	Outcome string  `json:"outcome"`
	Odds    float64 `json:"odds"`
}

// Market is one bookmaker's prices for a market on an event
type Market struct {
	Key       string  `json:"key"`
	Bookmaker string  `json:"bookmaker"`
	Prices    []Price `json:"prices"`
}

// OddsSnapshot is the full set of markets captured for an event at one point in time.
// A newer snapshot supersedes the previous one for the same event.
type OddsSnapshot struct {
	EventID    string    `json:"event_id"`
	Markets    []Market  `json:"markets"`
	CapturedAt time.Time `json:"captured_at"`
}

// OutcomeIntelligence holds derived values for one outcome of the head-to-head market
type OutcomeIntelligence struct {
	Outcome            string  `json:"outcome"`
	BestOdds           float64 `json:"best_odds"`
	BestBookmaker      string  `json:"best_bookmaker"`
	ImpliedProbability float64 `json:"implied_probability"`
	FairProbability    float64 `json:"fair_probability"`
	FairOdds           float64 `json:"fair_odds"`
	ExpectedValue      float64 `json:"expected_value"`
	IsValue            bool    `json:"is_value"`
	OpeningOdds        float64 `json:"opening_odds,omitempty"`
	MovementPercentage float64 `json:"movement_percentage"`
}

// IntelligenceArtifact is the derived analysis for one event, regenerated per odds cycle
type IntelligenceArtifact struct {
	EventID         string                `json:"event_id"`
	EventSlug       string                `json:"event_slug"`
	Match           string                `json:"match"`
	GeneratedAt     time.Time             `json:"generated_at"`
	OddsCapturedAt  time.Time             `json:"odds_captured_at"`
	ReferenceSource string                `json:"reference_source"`
	Overround       float64               `json:"overround"`
	Outcomes        []OutcomeIntelligence `json:"outcomes"`
	BestBet         string                `json:"best_bet"`
	MaxEV           float64               `json:"max_ev"`
	Volatility      float64               `json:"volatility"`
	Momentum        float64               `json:"momentum"`
	BaseConfidence  float64               `json:"base_confidence"`
	Confidence      float64               `json:"confidence"`
	ConfidenceLevel string                `json:"confidence_level"`
	Insight         string                `json:"insight"`
	ModelVersion    string                `json:"model_version"`
}
