package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/edge/pkg/datasource"
	"github.com/iddaa-lens/edge/pkg/models"
	"github.com/iddaa-lens/edge/pkg/store"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeSource is an in-memory data source
type fakeSource struct {
	profiles []models.RawProfile
	events   []models.RawEvent
	odds     []models.RawOdds
	err      error
	calls    int
}

func (f *fakeSource) FetchProfiles(ctx context.Context) ([]models.RawProfile, error) {
	f.calls++
	return f.profiles, f.err
}

func (f *fakeSource) FetchEvents(ctx context.Context) ([]models.RawEvent, error) {
	f.calls++
	return f.events, f.err
}

func (f *fakeSource) FetchOdds(ctx context.Context) ([]models.RawOdds, error) {
	f.calls++
	return f.odds, f.err
}

// failingStore fails writes to one collection
type failingStore struct {
	store.Store
	collection string
}

func (f *failingStore) Upsert(ctx context.Context, collection string, doc store.Document) (bool, error) {
	if collection == f.collection {
		return false, errors.New("disk full")
	}
	return f.Store.Upsert(ctx, collection, doc)
}

func (f *failingStore) UpsertMany(ctx context.Context, collection string, docs []store.Document) (int, error) {
	if collection == f.collection {
		return 0, errors.New("disk full")
	}
	return f.Store.UpsertMany(ctx, collection, docs)
}

func newTestSyncService(source datasource.Client, st store.Store) *SyncService {
	s := NewSyncService(source, st, SyncConfig{})
	s.now = func() time.Time { return testNow }
	return s
}

func rawEvent(id string, start time.Time, home, away string) models.RawEvent {
	return models.RawEvent{
		ID:        id,
		Sport:     "Football",
		League:    "Süper Lig",
		StartTime: start,
		HomeName:  home,
		AwayName:  away,
		Status:    "scheduled",
	}
}

func dump(t *testing.T, st store.Store, collection string) map[string]string {
	t.Helper()
	docs, err := st.Query(context.Background(), collection, store.Filter{})
	require.NoError(t, err)
	out := make(map[string]string, len(docs))
	for _, d := range docs {
		out[d.ID] = string(d.Data)
	}
	return out
}

func TestSyncAll_WritesProfiles(t *testing.T) {
	source := &fakeSource{profiles: []models.RawProfile{
		{ID: "p1", Name: "Galatasaray", Sport: "Football", Rank: 1, Rating: 88.5, Wins: 20, Draws: 5, Losses: 3},
		{ID: "p2", Name: "Fenerbahçe", Sport: "football", Rank: 2},
		{ID: "", Name: "No Id"},
		{ID: "p3", Name: "Broken", Wins: -1},
	}}
	st := store.NewMemoryStore()
	svc := newTestSyncService(source, st)

	result, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 4, Written: 2, Unchanged: 0, Skipped: 2}, result)

	docs, err := st.Query(context.Background(), store.CollectionProfiles, store.ByID("p2"))
	require.NoError(t, err)
	profiles, err := store.Decode[models.Profile](docs)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "football-fenerbahce", profiles[0].Slug)
}

func TestSyncEvents_Idempotent(t *testing.T) {
	source := &fakeSource{events: []models.RawEvent{
		rawEvent("E1", testNow.Add(2*time.Hour), "Galatasaray", "Fenerbahçe"),
		rawEvent("E2", testNow.Add(26*time.Hour), "Beşiktaş", "Trabzonspor"),
	}}
	st := store.NewMemoryStore()
	svc := newTestSyncService(source, st)

	first, err := svc.SyncEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Written)
	before := dump(t, st, store.CollectionEvents)

	second, err := svc.SyncEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 2, Written: 0, Unchanged: 2}, second)
	assert.Equal(t, before, dump(t, st, store.CollectionEvents))
}

func TestSyncEvents_FailFast(t *testing.T) {
	source := &fakeSource{err: fmt.Errorf("%w: events: timeout", datasource.ErrSourceUnavailable)}
	st := store.NewMemoryStore()
	svc := newTestSyncService(source, st)

	_, err := svc.SyncEvents(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, datasource.ErrSourceUnavailable))
	assert.Empty(t, dump(t, st, store.CollectionEvents))
}

func TestSyncEvents_SkipsMalformedAndResolvesProfiles(t *testing.T) {
	st := store.NewMemoryStore()
	profiles, err := documents(map[string]models.Profile{
		"p1": {ID: "p1", Name: "Galatasaray"},
		"p2": {ID: "p2", Name: "Fenerbahçe"},
	})
	require.NoError(t, err)
	_, err = st.UpsertMany(context.Background(), store.CollectionProfiles, profiles)
	require.NoError(t, err)

	bad := rawEvent("E3", testNow, "A", "B")
	bad.Status = "exploded"
	source := &fakeSource{events: []models.RawEvent{
		rawEvent("E1", testNow.Add(time.Hour), "Galatasaray SK", "Fenerbahce"),
		rawEvent("", testNow.Add(time.Hour), "A", "B"),
		rawEvent("E2", time.Time{}, "A", "B"),
		bad,
	}}
	svc := newTestSyncService(source, st)

	result, err := svc.SyncEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 3, result.Skipped)

	events, err := store.Decode[models.Event](mustQuery(t, st, store.CollectionEvents, store.ByID("E1")))
	require.NoError(t, err)
	require.Len(t, events, 1)
	home, _ := events[0].Participant(models.SideHome)
	away, _ := events[0].Participant(models.SideAway)
	assert.Equal(t, "p1", home.ProfileID)
	assert.Equal(t, "p2", away.ProfileID)
	assert.Equal(t, "galatasaray-sk-vs-fenerbahce-e1", events[0].Slug)
	assert.Equal(t, "football", events[0].Sport)
}

func TestSyncOdds_SnapshotsKnownEvents(t *testing.T) {
	st := store.NewMemoryStore()
	source := &fakeSource{events: []models.RawEvent{
		rawEvent("E1", testNow.Add(time.Hour), "Galatasaray", "Fenerbahçe"),
	}}
	svc := newTestSyncService(source, st)
	_, err := svc.SyncEvents(context.Background())
	require.NoError(t, err)

	updated := testNow.Add(-10 * time.Minute)
	source.odds = []models.RawOdds{
		{EventID: "E1", Bookmaker: "Pinnacle", Market: "h2h", Prices: map[string]float64{"away": 3.1, "home": 2.2, "draw": 3.3}, UpdatedAt: updated.Add(-time.Minute)},
		{EventID: "E1", Bookmaker: "bet365", Market: "h2h", Prices: map[string]float64{"home": 2.3, "draw": 3.2, "away": 3.0}, UpdatedAt: updated},
		{EventID: "E9", Bookmaker: "bet365", Market: "h2h", Prices: map[string]float64{"home": 1.5, "away": 2.5}},
		{EventID: "E1", Bookmaker: "bad", Market: "h2h", Prices: map[string]float64{"home": 0.9}},
	}

	result, err := svc.SyncOdds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 4, Written: 1, Unchanged: 0, Skipped: 2}, result)

	snapshots, err := store.Decode[models.OddsSnapshot](mustQuery(t, st, store.CollectionOdds, store.ByID("E1")))
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	snapshot := snapshots[0]
	assert.True(t, snapshot.CapturedAt.Equal(updated))
	require.Len(t, snapshot.Markets, 2)
	assert.Equal(t, "bet365", snapshot.Markets[0].Bookmaker)
	assert.Equal(t, "pinnacle", snapshot.Markets[1].Bookmaker)
	assert.Equal(t, []models.Price{{Outcome: "home", Odds: 2.2}, {Outcome: "draw", Odds: 3.3}, {Outcome: "away", Odds: 3.1}}, snapshot.Markets[1].Prices)

	assert.Contains(t, dump(t, st, store.CollectionOddsHistory), HistoryID("E1", updated))
	assert.Empty(t, mustQuery(t, st, store.CollectionOdds, store.ByID("E9")))

	again, err := svc.SyncOdds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Written)
	assert.Len(t, dump(t, st, store.CollectionOddsHistory), 1)
}

func TestSyncOdds_UnchangedFeedWithoutTimestamps(t *testing.T) {
	st := store.NewMemoryStore()
	source := &fakeSource{events: []models.RawEvent{
		rawEvent("E1", testNow.Add(time.Hour), "Galatasaray", "Fenerbahçe"),
	}}
	svc := newTestSyncService(source, st)
	_, err := svc.SyncEvents(context.Background())
	require.NoError(t, err)

	source.odds = []models.RawOdds{
		{EventID: "E1", Bookmaker: "bet365", Market: "h2h", Prices: map[string]float64{"home": 2.3, "draw": 3.2, "away": 3.0}},
	}

	for i := 0; i < 3; i++ {
		clock := testNow.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return clock }
		result, err := svc.SyncOdds(context.Background())
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, SyncResult{Fetched: 1, Unchanged: 1}, result)
		}
	}

	history := dump(t, st, store.CollectionOddsHistory)
	assert.Len(t, history, 1)
	assert.Contains(t, history, HistoryID("E1", testNow))

	snapshots, err := store.Decode[models.OddsSnapshot](mustQuery(t, st, store.CollectionOdds, store.ByID("E1")))
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.True(t, snapshots[0].CapturedAt.Equal(testNow))

	// A price move is a new snapshot
	moved := testNow.Add(10 * time.Minute)
	svc.now = func() time.Time { return moved }
	source.odds[0].Prices = map[string]float64{"home": 2.4, "draw": 3.2, "away": 2.9}
	result, err := svc.SyncOdds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	history = dump(t, st, store.CollectionOddsHistory)
	assert.Len(t, history, 2)
	assert.Contains(t, history, HistoryID("E1", moved))
}

func TestSyncOdds_TrimsEventID(t *testing.T) {
	st := store.NewMemoryStore()
	source := &fakeSource{events: []models.RawEvent{
		rawEvent("E1", testNow.Add(time.Hour), "Galatasaray", "Fenerbahçe"),
	}}
	svc := newTestSyncService(source, st)
	_, err := svc.SyncEvents(context.Background())
	require.NoError(t, err)

	source.odds = []models.RawOdds{
		{EventID: " E1", Bookmaker: "bet365", Market: "h2h", Prices: map[string]float64{"home": 2.3, "away": 3.0}},
		{EventID: "E1 ", Bookmaker: "pinnacle", Market: "h2h", Prices: map[string]float64{"home": 2.2, "away": 3.1}},
	}
	result, err := svc.SyncOdds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Fetched: 2, Written: 1}, result)

	snapshots, err := store.Decode[models.OddsSnapshot](mustQuery(t, st, store.CollectionOdds, store.ByID("E1")))
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "E1", snapshots[0].EventID)
	assert.Len(t, snapshots[0].Markets, 2)
}

func TestSyncOdds_OddsFailureLeavesHistoryUntouched(t *testing.T) {
	mem := store.NewMemoryStore()
	source := &fakeSource{events: []models.RawEvent{
		rawEvent("E1", testNow.Add(time.Hour), "Galatasaray", "Fenerbahçe"),
	}}
	_, err := newTestSyncService(source, mem).SyncEvents(context.Background())
	require.NoError(t, err)

	source.odds = []models.RawOdds{
		{EventID: "E1", Bookmaker: "bet365", Market: "h2h", Prices: map[string]float64{"home": 2.3, "away": 3.0}},
	}
	failing := &failingStore{Store: mem, collection: store.CollectionOdds}
	_, err = newTestSyncService(source, failing).SyncOdds(context.Background())
	require.Error(t, err)
	assert.Empty(t, dump(t, mem, store.CollectionOdds))
	assert.Empty(t, dump(t, mem, store.CollectionOddsHistory))

	// A failed history write is appended on the next cycle
	failing = &failingStore{Store: mem, collection: store.CollectionOddsHistory}
	_, err = newTestSyncService(source, failing).SyncOdds(context.Background())
	require.Error(t, err)
	assert.Len(t, dump(t, mem, store.CollectionOdds), 1)
	assert.Empty(t, dump(t, mem, store.CollectionOddsHistory))

	_, err = newTestSyncService(source, mem).SyncOdds(context.Background())
	require.NoError(t, err)
	assert.Len(t, dump(t, mem, store.CollectionOddsHistory), 1)
}

func TestSyncOdds_FailFast(t *testing.T) {
	st := store.NewMemoryStore()
	source := &fakeSource{err: datasource.ErrSourceUnavailable}
	svc := newTestSyncService(source, st)

	_, err := svc.SyncOdds(context.Background())
	assert.ErrorIs(t, err, datasource.ErrSourceUnavailable)
	assert.Empty(t, dump(t, st, store.CollectionOdds))
	assert.Empty(t, dump(t, st, store.CollectionOddsHistory))
}

func TestSyncEvents_StoreFailure(t *testing.T) {
	st := &failingStore{Store: store.NewMemoryStore(), collection: store.CollectionEvents}
	source := &fakeSource{events: []models.RawEvent{rawEvent("E1", testNow.Add(time.Hour), "A", "B")}}
	svc := newTestSyncService(source, st)

	_, err := svc.SyncEvents(context.Background())
	assert.Error(t, err)
}

func TestGetUpcomingEvents(t *testing.T) {
	st := store.NewMemoryStore()
	finished := rawEvent("E4", testNow.Add(3*time.Hour), "G", "H")
	finished.Status = "finished"
	source := &fakeSource{events: []models.RawEvent{
		rawEvent("E1", testNow.Add(5*time.Hour), "A", "B"),
		rawEvent("E2", testNow.Add(-time.Hour), "C", "D"),
		rawEvent("E3", testNow.Add(time.Hour), "E", "F"),
		finished,
		rawEvent("E5", testNow.Add(72*time.Hour), "I", "J"),
	}}
	svc := newTestSyncService(source, st)
	_, err := svc.SyncEvents(context.Background())
	require.NoError(t, err)

	events, err := svc.GetUpcomingEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"E3", "E1", "E5"}, eventIDs(events))

	svc.config.UpcomingWindow = 48 * time.Hour
	events, err = svc.GetUpcomingEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"E3", "E1"}, eventIDs(events))
}

func eventIDs(events []models.Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}

func mustQuery(t *testing.T, st store.Store, collection string, filter store.Filter) []store.Document {
	t.Helper()
	docs, err := st.Query(context.Background(), collection, filter)
	require.NoError(t, err)
	return docs
}
