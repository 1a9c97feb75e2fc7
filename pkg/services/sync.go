package services

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/iddaa-lens/edge/pkg/datasource"
	"github.com/iddaa-lens/edge/pkg/logger"
	"github.com/iddaa-lens/edge/pkg/models"
	"github.com/iddaa-lens/edge/pkg/store"
	"github.com/iddaa-lens/edge/pkg/utils"
)

// SyncResult reports what one sync operation did
type SyncResult struct {
	Fetched   int `json:"fetched"`
	Written   int `json:"written"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

// SyncConfig tunes the sync service
type SyncConfig struct {
	// UpcomingWindow limits GetUpcomingEvents to events starting within the
	// window. Zero means no upper bound.
	UpcomingWindow time.Duration
}

// SyncService pulls raw records from the data source and upserts normalized
// records into the store. Each operation fails fast: a source error aborts
// before anything is written.
type SyncService struct {
	source     datasource.Client
	store      store.Store
	normalizer *utils.TeamNameNormalizer
	config     SyncConfig
	logger     *logger.Logger
	now        func() time.Time
}

// NewSyncService creates a sync service
func NewSyncService(source datasource.Client, st store.Store, cfg SyncConfig) *SyncService {
	return &SyncService{
		source:     source,
		store:      st,
		normalizer: utils.NewTeamNameNormalizer(),
		config:     cfg,
		logger:     logger.New("sync-service"),
		now:        time.Now,
	}
}

// SyncAll fetches and upserts the full profile/ranking dataset
func (s *SyncService) SyncAll(ctx context.Context) (SyncResult, error) {
	start := time.Now()
	raws, err := s.source.FetchProfiles(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to fetch profiles: %w", err)
	}

	result := SyncResult{Fetched: len(raws)}
	byID := make(map[string]models.Profile, len(raws))
	for _, raw := range raws {
		profile, reason := normalizeProfile(raw)
		if reason != "" {
			result.Skipped++
			s.logSkipped("profile", raw.ID, reason)
			continue
		}
		if _, dup := byID[profile.ID]; dup {
			result.Skipped++
			s.logSkipped("profile", raw.ID, "duplicate id, keeping latest")
		}
		byID[profile.ID] = profile
	}

	docs, err := documents(byID)
	if err != nil {
		return SyncResult{}, err
	}
	if err := s.write(ctx, store.CollectionProfiles, docs, &result); err != nil {
		return SyncResult{}, err
	}

	s.logResult("sync_profiles", result, start)
	return result, nil
}

// SyncEvents fetches and upserts event records
func (s *SyncService) SyncEvents(ctx context.Context) (SyncResult, error) {
	start := time.Now()
	raws, err := s.source.FetchEvents(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to fetch events: %w", err)
	}

	var index *utils.NameIndex
	for _, raw := range raws {
		if raw.HomeID == "" || raw.AwayID == "" {
			index, err = s.loadNameIndex(ctx)
			if err != nil {
				return SyncResult{}, err
			}
			break
		}
	}

	result := SyncResult{Fetched: len(raws)}
	byID := make(map[string]models.Event, len(raws))
	for _, raw := range raws {
		event, reason := s.normalizeEvent(raw, index)
		if reason != "" {
			result.Skipped++
			s.logSkipped("event", raw.ID, reason)
			continue
		}
		if _, dup := byID[event.ID]; dup {
			result.Skipped++
			s.logSkipped("event", raw.ID, "duplicate id, keeping latest")
		}
		byID[event.ID] = event
	}

	docs, err := documents(byID)
	if err != nil {
		return SyncResult{}, err
	}
	if err := s.write(ctx, store.CollectionEvents, docs, &result); err != nil {
		return SyncResult{}, err
	}

	s.logResult("sync_events", result, start)
	return result, nil
}

// SyncOdds fetches current odds, builds one snapshot per known event, and
// replaces the latest snapshot. Each distinct snapshot is also kept in the
// odds history. A snapshot whose markets match the newest history entry keeps
// that entry's capture time and is not appended again.
func (s *SyncService) SyncOdds(ctx context.Context) (SyncResult, error) {
	start := time.Now()
	raws, err := s.source.FetchOdds(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to fetch odds: %w", err)
	}

	result := SyncResult{Fetched: len(raws)}
	grouped := make(map[string][]models.RawOdds)
	for _, raw := range raws {
		if reason := validateOdds(raw); reason != "" {
			result.Skipped++
			s.logSkipped("odds", raw.EventID, reason)
			continue
		}
		eventID := strings.TrimSpace(raw.EventID)
		grouped[eventID] = append(grouped[eventID], raw)
	}

	snapshots := make(map[string]models.OddsSnapshot, len(grouped))
	for eventID, lines := range grouped {
		exists, err := s.eventExists(ctx, eventID)
		if err != nil {
			return SyncResult{}, err
		}
		if !exists {
			result.Skipped += len(lines)
			s.logSkipped("odds", eventID, "unknown event")
			continue
		}
		snapshots[eventID] = buildSnapshot(eventID, lines, s.now())
	}

	history := make(map[string]models.OddsSnapshot, len(snapshots))
	for eventID, snapshot := range snapshots {
		latest, err := s.latestHistory(ctx, eventID)
		if err != nil {
			return SyncResult{}, err
		}
		if latest != nil && reflect.DeepEqual(latest.Markets, snapshot.Markets) {
			snapshot.CapturedAt = latest.CapturedAt
			snapshots[eventID] = snapshot
			continue
		}
		history[HistoryID(eventID, snapshot.CapturedAt)] = snapshot
	}

	// Latest odds first; history never holds a snapshot odds has not seen
	docs, err := documents(snapshots)
	if err != nil {
		return SyncResult{}, err
	}
	if err := s.write(ctx, store.CollectionOdds, docs, &result); err != nil {
		return SyncResult{}, err
	}

	historyDocs, err := documents(history)
	if err != nil {
		return SyncResult{}, err
	}
	if _, err := s.store.UpsertMany(ctx, store.CollectionOddsHistory, historyDocs); err != nil {
		return SyncResult{}, fmt.Errorf("failed to write odds history: %w", err)
	}

	s.logResult("sync_odds", result, start)
	return result, nil
}

// GetUpcomingEvents returns scheduled events that have not started yet,
// earliest first
func (s *SyncService) GetUpcomingEvents(ctx context.Context) ([]models.Event, error) {
	now := s.now().UTC()
	filter := store.Filter{}.
		Where("scheduled_time", store.OpGt, now).
		Where("status", store.OpEq, models.EventStatusScheduled).
		OrderByTime("scheduled_time", false)
	if s.config.UpcomingWindow > 0 {
		filter = filter.Where("scheduled_time", store.OpLte, now.Add(s.config.UpcomingWindow))
	}

	docs, err := s.store.Query(ctx, store.CollectionEvents, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming events: %w", err)
	}
	events, err := store.Decode[models.Event](docs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode upcoming events: %w", err)
	}
	return events, nil
}

// HistoryID keys an odds history entry by event and capture time
func HistoryID(eventID string, capturedAt time.Time) string {
	return fmt.Sprintf("%s:%d", eventID, capturedAt.UTC().UnixNano())
}

func (s *SyncService) write(ctx context.Context, collection string, docs []store.Document, result *SyncResult) error {
	changed, err := s.store.UpsertMany(ctx, collection, docs)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", collection, err)
	}
	result.Written = changed
	result.Unchanged = len(docs) - changed
	return nil
}

// latestHistory returns the newest recorded snapshot for an event, or nil
func (s *SyncService) latestHistory(ctx context.Context, eventID string) (*models.OddsSnapshot, error) {
	filter := store.Filter{Limit: 1}.
		Where("event_id", store.OpEq, eventID).
		OrderByTime("captured_at", true)
	docs, err := s.store.Query(ctx, store.CollectionOddsHistory, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read odds history for %s: %w", eventID, err)
	}
	snapshots, err := store.Decode[models.OddsSnapshot](docs)
	if err != nil || len(snapshots) == 0 {
		return nil, err
	}
	return &snapshots[0], nil
}

func (s *SyncService) eventExists(ctx context.Context, eventID string) (bool, error) {
	docs, err := s.store.Query(ctx, store.CollectionEvents, store.ByID(eventID))
	if err != nil {
		return false, fmt.Errorf("failed to look up event %s: %w", eventID, err)
	}
	return len(docs) > 0, nil
}

func (s *SyncService) loadNameIndex(ctx context.Context) (*utils.NameIndex, error) {
	docs, err := s.store.Query(ctx, store.CollectionProfiles, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	profiles, err := store.Decode[models.Profile](docs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}

	index := utils.NewNameIndex(s.normalizer, 0)
	for _, p := range profiles {
		index.Add(p.ID, p.Name)
	}
	return index, nil
}

func (s *SyncService) normalizeEvent(raw models.RawEvent, index *utils.NameIndex) (models.Event, string) {
	if strings.TrimSpace(raw.ID) == "" {
		return models.Event{}, "missing id"
	}
	if raw.StartTime.IsZero() {
		return models.Event{}, "missing start time"
	}
	home := strings.TrimSpace(raw.HomeName)
	away := strings.TrimSpace(raw.AwayName)
	if home == "" || away == "" {
		return models.Event{}, "missing participant name"
	}
	status, ok := normalizeStatus(raw.Status)
	if !ok {
		return models.Event{}, fmt.Sprintf("unknown status %q", raw.Status)
	}

	homeID, awayID := raw.HomeID, raw.AwayID
	if homeID == "" && index != nil {
		homeID, _ = index.Resolve(home)
	}
	if awayID == "" && index != nil {
		awayID, _ = index.Resolve(away)
	}

	id := strings.TrimSpace(raw.ID)
	return models.Event{
		ID:            id,
		Slug:          utils.GenerateEventSlug(home, away, id),
		Sport:         strings.ToLower(strings.TrimSpace(raw.Sport)),
		League:        strings.TrimSpace(raw.League),
		ScheduledTime: raw.StartTime.UTC(),
		Participants: []models.Participant{
			{ProfileID: homeID, Name: home, Side: models.SideHome},
			{ProfileID: awayID, Name: away, Side: models.SideAway},
		},
		Status: status,
	}, ""
}

func normalizeProfile(raw models.RawProfile) (models.Profile, string) {
	id := strings.TrimSpace(raw.ID)
	name := strings.TrimSpace(raw.Name)
	if id == "" {
		return models.Profile{}, "missing id"
	}
	if name == "" {
		return models.Profile{}, "missing name"
	}
	if raw.Rank < 0 || raw.Wins < 0 || raw.Draws < 0 || raw.Losses < 0 {
		return models.Profile{}, "negative ranking data"
	}
	if math.IsNaN(raw.Rating) || math.IsInf(raw.Rating, 0) {
		return models.Profile{}, "invalid rating"
	}

	sport := strings.ToLower(strings.TrimSpace(raw.Sport))
	return models.Profile{
		ID:     id,
		Slug:   utils.GenerateProfileSlug(name, sport),
		Name:   name,
		Sport:  sport,
		League: strings.TrimSpace(raw.League),
		Rank:   raw.Rank,
		Rating: raw.Rating,
		Wins:   raw.Wins,
		Draws:  raw.Draws,
		Losses: raw.Losses,
	}, ""
}

func normalizeStatus(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "scheduled", "not_started", "upcoming":
		return models.EventStatusScheduled, true
	case "live", "in_play", "inplay":
		return models.EventStatusLive, true
	case "finished", "completed", "ft", "ended":
		return models.EventStatusFinished, true
	case "postponed":
		return models.EventStatusPostponed, true
	case "cancelled", "canceled", "abandoned":
		return models.EventStatusCancelled, true
	}
	return "", false
}

func validateOdds(raw models.RawOdds) string {
	switch {
	case strings.TrimSpace(raw.EventID) == "":
		return "missing event id"
	case strings.TrimSpace(raw.Bookmaker) == "":
		return "missing bookmaker"
	case strings.TrimSpace(raw.Market) == "":
		return "missing market"
	case len(raw.Prices) == 0:
		return "no prices"
	}
	for outcome, odds := range raw.Prices {
		if outcome == "" || odds <= 1 || math.IsNaN(odds) || math.IsInf(odds, 0) {
			return fmt.Sprintf("invalid price %q=%v", outcome, odds)
		}
	}
	return ""
}

// buildSnapshot merges one event's lines into a deterministic snapshot.
// The capture time is the newest line update, falling back to now.
func buildSnapshot(eventID string, lines []models.RawOdds, now time.Time) models.OddsSnapshot {
	type key struct{ market, bookmaker string }
	merged := make(map[key]models.RawOdds, len(lines))
	var capturedAt time.Time
	for _, line := range lines {
		k := key{strings.ToLower(strings.TrimSpace(line.Market)), strings.ToLower(strings.TrimSpace(line.Bookmaker))}
		if prev, ok := merged[k]; ok && prev.UpdatedAt.After(line.UpdatedAt) {
			continue
		}
		merged[k] = line
		if line.UpdatedAt.After(capturedAt) {
			capturedAt = line.UpdatedAt
		}
	}
	if capturedAt.IsZero() {
		capturedAt = now
	}

	markets := make([]models.Market, 0, len(merged))
	for k, line := range merged {
		prices := make([]models.Price, 0, len(line.Prices))
		for outcome, odds := range line.Prices {
			prices = append(prices, models.Price{Outcome: strings.ToLower(outcome), Odds: odds})
		}
		sort.Slice(prices, func(i, j int) bool {
			return outcomeRank(prices[i].Outcome) < outcomeRank(prices[j].Outcome) ||
				(outcomeRank(prices[i].Outcome) == outcomeRank(prices[j].Outcome) && prices[i].Outcome < prices[j].Outcome)
		})
		markets = append(markets, models.Market{Key: k.market, Bookmaker: k.bookmaker, Prices: prices})
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].Key != markets[j].Key {
			return markets[i].Key < markets[j].Key
		}
		return markets[i].Bookmaker < markets[j].Bookmaker
	})

	return models.OddsSnapshot{
		EventID:    eventID,
		Markets:    markets,
		CapturedAt: capturedAt.UTC(),
	}
}

func outcomeRank(outcome string) int {
	switch outcome {
	case models.OutcomeHome:
		return 0
	case models.OutcomeDraw:
		return 1
	case models.OutcomeAway:
		return 2
	}
	return 3
}

func documents[T any](records map[string]T) ([]store.Document, error) {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	docs := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := store.NewDocument(id, records[id])
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *SyncService) logSkipped(kind, id, reason string) {
	s.logger.Warn().
		Str("record_type", kind).
		Str("record_id", id).
		Str("reason", reason).
		Str("action", "record_skipped").
		Msg("Skipping malformed record")
}

func (s *SyncService) logResult(action string, result SyncResult, start time.Time) {
	s.logger.LogSyncResult(action, result.Fetched, result.Written, result.Unchanged, result.Skipped, time.Since(start))
}
