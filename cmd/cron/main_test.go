package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/edge/internal/config"
	"github.com/iddaa-lens/edge/pkg/jobs"
	"github.com/iddaa-lens/edge/pkg/models"
	"github.com/iddaa-lens/edge/pkg/services"
)

type nopSyncer struct{}

func (nopSyncer) SyncAll(context.Context) (services.SyncResult, error) {
	return services.SyncResult{}, nil
}

func (nopSyncer) SyncEvents(context.Context) (services.SyncResult, error) {
	return services.SyncResult{}, nil
}

func (nopSyncer) SyncOdds(context.Context) (services.SyncResult, error) {
	return services.SyncResult{}, nil
}

func (nopSyncer) GetUpcomingEvents(context.Context) ([]models.Event, error) {
	return nil, nil
}

type nopGenerator struct{}

func (nopGenerator) GenerateBettingIntelligence(context.Context, string) (*models.IntelligenceArtifact, error) {
	return nil, services.ErrInsufficientData
}

func TestRegisteredOnly(t *testing.T) {
	registry, err := jobs.BuildRegistry(config.Specs(config.DefaultJobs()), jobs.Dependencies{Syncer: nopSyncer{}, Generator: nopGenerator{}})
	require.NoError(t, err)

	got := registeredOnly(registry, []string{"full_sync", "legacy_sync", "events_sync"})
	assert.Equal(t, []string{"full_sync", "events_sync"}, got)
	assert.Empty(t, registeredOnly(registry, nil))
}

func TestOpenBackend_Memory(t *testing.T) {
	b, err := openBackend(context.Background(), &config.Config{Store: config.StoreConfig{Driver: config.StoreMemory}})
	require.NoError(t, err)
	defer b.close()

	assert.NotNil(t, b.store)
	assert.Nil(t, b.pool)
	assert.Nil(t, b.locks)
}

func TestRootCmd_Arguments(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run"})
	assert.Error(t, root.ExecuteContext(context.Background()), "run needs a job name")

	root = newRootCmd()
	root.SetArgs([]string{"--once"})
	assert.EqualError(t, root.ExecuteContext(context.Background()), "--once requires --job")
}
