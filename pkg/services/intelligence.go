package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/iddaa-lens/edge/pkg/analytics"
	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models"
	"github.com/iddaa-lens/edge/pkg/store"
)

var (
	// ErrInsufficientData means the event has no usable odds yet
	ErrInsufficientData = errors.New("insufficient data")
	// ErrComputation covers every other failure while generating an artifact
	ErrComputation = errors.New("computation error")
)

// IntelligenceConfig tunes artifact generation
type IntelligenceConfig struct {
	// ReferenceBookmaker is de-vigged for fair prices when it prices every outcome.
	// Otherwise the market consensus is used.
	ReferenceBookmaker string
	// HistoryLimit caps how many history snapshots are read
	HistoryLimit int
	// ValueThreshold is the minimum EV percentage for an outcome to count as value
	ValueThreshold float64
}

// DefaultIntelligenceConfig returns the production defaults
func DefaultIntelligenceConfig() IntelligenceConfig {
	return IntelligenceConfig{
		ReferenceBookmaker: "pinnacle",
		HistoryLimit:       200,
		ValueThreshold:     0,
	}
}

// IntelligenceService derives one betting-intelligence artifact per event from
// persisted event, odds, and profile state. It writes only its own artifacts.
type IntelligenceService struct {
	store  store.Store
	config IntelligenceConfig
	logger *logger.Logger
	now    func() time.Time
}

// NewIntelligenceService creates an intelligence service
func NewIntelligenceService(st store.Store, cfg IntelligenceConfig) *IntelligenceService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultIntelligenceConfig().HistoryLimit
	}
	return &IntelligenceService{
		store:  st,
		config: cfg,
		logger: logger.New("intelligence-service"),
		now:    time.Now,
	}
}

// GenerateBettingIntelligence computes and persists the artifact for one event.
// It fails with ErrInsufficientData when the event or its odds are missing, and
// with ErrComputation otherwise. Nothing is written on failure.
func (s *IntelligenceService) GenerateBettingIntelligence(ctx context.Context, eventID string) (*models.IntelligenceArtifact, error) {
	event, err := queryOne[models.Event](ctx, s.store, store.CollectionEvents, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading event %s: %w", ErrComputation, eventID, err)
	}
	if event == nil {
		return nil, fmt.Errorf("%w: event %s not found", ErrInsufficientData, eventID)
	}

	snapshot, err := queryOne[models.OddsSnapshot](ctx, s.store, store.CollectionOdds, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading odds for %s: %w", ErrComputation, eventID, err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("%w: no odds snapshot for event %s", ErrInsufficientData, eventID)
	}

	outcomes := headToHeadOutcomes(snapshot.Markets)
	if outcomes == nil {
		return nil, fmt.Errorf("%w: no head-to-head market for event %s", ErrInsufficientData, eventID)
	}

	fair, overround, reference, err := s.fairProbabilities(snapshot.Markets, outcomes)
	if err != nil {
		if errors.Is(err, analytics.ErrIncompleteMarket) {
			return nil, fmt.Errorf("%w: event %s: %w", ErrInsufficientData, eventID, err)
		}
		return nil, fmt.Errorf("%w: pricing event %s: %w", ErrComputation, eventID, err)
	}

	history, err := s.loadHistory(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading history for %s: %w", ErrComputation, eventID, err)
	}
	opening, err := s.loadOpening(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading opening odds for %s: %w", ErrComputation, eventID, err)
	}

	home, away, err := s.loadParticipants(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("%w: loading profiles for %s: %w", ErrComputation, eventID, err)
	}

	artifact := s.buildArtifact(event, snapshot, opening, history, outcomes, fair, overround, reference, home, away)
	if err := validateArtifact(artifact); err != nil {
		return nil, fmt.Errorf("%w: event %s: %w", ErrComputation, eventID, err)
	}

	doc, err := store.NewDocument(eventID, artifact)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding artifact for %s: %w", ErrComputation, eventID, err)
	}
	if _, err := s.store.Upsert(ctx, store.CollectionIntelligence, doc); err != nil {
		return nil, fmt.Errorf("%w: writing artifact for %s: %w", ErrComputation, eventID, err)
	}

	s.logger.WithEvent(event.ID, event.Slug).Debug().
		Str("best_bet", artifact.BestBet).
		Float64("max_ev", artifact.MaxEV).
		Str("reference", artifact.ReferenceSource).
		Str("action", "intelligence_generated").
		Msg("Generated betting intelligence")

	return artifact, nil
}

// fairProbabilities de-vigs the reference bookmaker, falling back to consensus
func (s *IntelligenceService) fairProbabilities(markets []models.Market, outcomes []string) (map[string]float64, float64, string, error) {
	if s.config.ReferenceBookmaker != "" {
		if prices, ok := analytics.MarketPrices(markets, models.MarketHeadToHead, s.config.ReferenceBookmaker); ok {
			complete := make(map[string]float64, len(outcomes))
			for _, outcome := range outcomes {
				if odds, ok := prices[outcome]; ok {
					complete[outcome] = odds
				}
			}
			if len(complete) == len(outcomes) {
				fair, overround, err := analytics.Devig(complete)
				if err == nil {
					return fair, overround, s.config.ReferenceBookmaker, nil
				}
			}
		}
	}

	fair, overround, err := analytics.Consensus(markets, models.MarketHeadToHead, outcomes)
	if err != nil {
		return nil, 0, "", err
	}
	return fair, overround, analytics.ReferenceConsensus, nil
}

// loadHistory returns the newest HistoryLimit snapshots, oldest first
func (s *IntelligenceService) loadHistory(ctx context.Context, eventID string) ([]models.OddsSnapshot, error) {
	filter := store.Filter{Limit: s.config.HistoryLimit}.
		Where("event_id", store.OpEq, eventID).
		OrderByTime("captured_at", true)

	docs, err := s.store.Query(ctx, store.CollectionOddsHistory, filter)
	if err != nil {
		return nil, err
	}
	history, err := store.Decode[models.OddsSnapshot](docs)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// loadOpening returns the first snapshot ever recorded for the event, or nil
func (s *IntelligenceService) loadOpening(ctx context.Context, eventID string) (*models.OddsSnapshot, error) {
	filter := store.Filter{Limit: 1}.
		Where("event_id", store.OpEq, eventID).
		OrderByTime("captured_at", false)

	docs, err := s.store.Query(ctx, store.CollectionOddsHistory, filter)
	if err != nil {
		return nil, err
	}
	snapshots, err := store.Decode[models.OddsSnapshot](docs)
	if err != nil || len(snapshots) == 0 {
		return nil, err
	}
	return &snapshots[0], nil
}

func (s *IntelligenceService) loadParticipants(ctx context.Context, event *models.Event) (*models.Profile, *models.Profile, error) {
	var profiles [2]*models.Profile
	for i, side := range []string{models.SideHome, models.SideAway} {
		p, ok := event.Participant(side)
		if !ok || p.ProfileID == "" {
			continue
		}
		profile, err := queryOne[models.Profile](ctx, s.store, store.CollectionProfiles, p.ProfileID)
		if err != nil {
			return nil, nil, err
		}
		profiles[i] = profile
	}
	return profiles[0], profiles[1], nil
}

func (s *IntelligenceService) buildArtifact(
	event *models.Event,
	snapshot *models.OddsSnapshot,
	openingSnapshot *models.OddsSnapshot,
	history []models.OddsSnapshot,
	outcomes []string,
	fair map[string]float64,
	overround float64,
	reference string,
	home, away *models.Profile,
) *models.IntelligenceArtifact {
	best := analytics.BestPrices(snapshot.Markets, models.MarketHeadToHead)

	var opening map[string]analytics.BestPrice
	if openingSnapshot != nil {
		opening = analytics.BestPrices(openingSnapshot.Markets, models.MarketHeadToHead)
	}

	favourite := outcomes[0]
	for _, outcome := range outcomes[1:] {
		if fair[outcome] > fair[favourite] {
			favourite = outcome
		}
	}

	artifact := &models.IntelligenceArtifact{
		EventID:         event.ID,
		EventSlug:       event.Slug,
		Match:           event.Match(),
		GeneratedAt:     s.now().UTC(),
		OddsCapturedAt:  snapshot.CapturedAt,
		ReferenceSource: reference,
		Overround:       analytics.Round(overround, 4),
		ModelVersion:    analytics.ModelVersion,
	}

	bestEV := math.Inf(-1)
	for _, outcome := range outcomes {
		price := best[outcome]
		ev := analytics.ExpectedValue(price.Odds, fair[outcome])

		oi := models.OutcomeIntelligence{
			Outcome:            outcome,
			BestOdds:           price.Odds,
			BestBookmaker:      price.Bookmaker,
			ImpliedProbability: analytics.Round(analytics.ImpliedProbability(price.Odds), 4),
			FairProbability:    analytics.Round(fair[outcome], 4),
			FairOdds:           analytics.Round(analytics.FairOdds(fair[outcome]), 3),
			ExpectedValue:      analytics.Round(ev, 2),
			IsValue:            ev > s.config.ValueThreshold,
		}
		if open, ok := opening[outcome]; ok {
			oi.OpeningOdds = open.Odds
			oi.MovementPercentage = analytics.Round(analytics.MovementPercentage(open.Odds, price.Odds), 2)
		}
		artifact.Outcomes = append(artifact.Outcomes, oi)

		if ev > bestEV {
			bestEV = ev
			artifact.BestBet = outcome
		}
	}
	artifact.MaxEV = analytics.Round(bestEV, 2)

	series := make([]float64, 0, len(history)+1)
	for _, h := range history {
		if p, ok := analytics.BestPrices(h.Markets, models.MarketHeadToHead)[favourite]; ok {
			series = append(series, p.Odds)
		}
	}
	if len(history) == 0 || !history[len(history)-1].CapturedAt.Equal(snapshot.CapturedAt) {
		series = append(series, best[favourite].Odds)
	}
	artifact.Volatility = analytics.Round(analytics.Volatility(series), 4)

	momentum := analytics.Momentum(home, away)
	artifact.Momentum = analytics.Round(momentum, 1)
	artifact.BaseConfidence = analytics.Round(fair[favourite]*100, 1)
	artifact.Confidence = analytics.Round(analytics.AdjustConfidence(fair[favourite]*100, momentum), 1)
	artifact.ConfidenceLevel = analytics.ConfidenceLevel(artifact.Confidence)

	homeP, _ := event.Participant(models.SideHome)
	awayP, _ := event.Participant(models.SideAway)
	bestPrice := best[artifact.BestBet]
	artifact.Insight = analytics.Insight(analytics.InsightInput{
		Home:       homeP.Name,
		Away:       awayP.Name,
		Favourite:  favourite,
		Confidence: artifact.Confidence,
		Momentum:   momentum,
		BestBet:    artifact.BestBet,
		BestOdds:   bestPrice.Odds,
		Bookmaker:  bestPrice.Bookmaker,
		MaxEV:      artifact.MaxEV,
	})

	return artifact
}

// headToHeadOutcomes returns the outcome set priced in the h2h market: home and
// away are required, draw is included when any bookmaker prices it
func headToHeadOutcomes(markets []models.Market) []string {
	seen := make(map[string]bool)
	for _, m := range markets {
		if m.Key != models.MarketHeadToHead {
			continue
		}
		for _, p := range m.Prices {
			if p.Odds > 1 {
				seen[p.Outcome] = true
			}
		}
	}
	if !seen[models.OutcomeHome] || !seen[models.OutcomeAway] {
		return nil
	}
	if seen[models.OutcomeDraw] {
		return []string{models.OutcomeHome, models.OutcomeDraw, models.OutcomeAway}
	}
	return []string{models.OutcomeHome, models.OutcomeAway}
}

func validateArtifact(a *models.IntelligenceArtifact) error {
	check := func(name string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is not finite", name)
		}
		return nil
	}
	for _, field := range []struct {
		name string
		v    float64
	}{
		{"overround", a.Overround},
		{"max_ev", a.MaxEV},
		{"volatility", a.Volatility},
		{"confidence", a.Confidence},
	} {
		if err := check(field.name, field.v); err != nil {
			return err
		}
	}
	for _, o := range a.Outcomes {
		if err := check(o.Outcome+" expected_value", o.ExpectedValue); err != nil {
			return err
		}
		if err := check(o.Outcome+" fair_probability", o.FairProbability); err != nil {
			return err
		}
	}
	return nil
}

func queryOne[T any](ctx context.Context, st store.Store, collection, id string) (*T, error) {
	docs, err := st.Query(ctx, collection, store.ByID(id))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	records, err := store.Decode[T](docs[:1])
	if err != nil {
		return nil, err
	}
	return &records[0], nil
}
