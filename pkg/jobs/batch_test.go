package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBatch_IsolatesFailures(t *testing.T) {
	errBad := errors.New("bad event")

	result := RunBatch(context.Background(), []string{"E1", "E2", "E3", "E4"}, 2, func(ctx context.Context, id string) error {
		switch id {
		case "E2":
			return errBad
		case "E4":
			panic("index out of range")
		}
		return nil
	})

	require.Len(t, result.Items, 4)
	assert.Equal(t, ItemResult{ID: "E1", Status: ItemSucceeded}, result.Items[0])
	assert.Equal(t, ItemFailed, result.Items[1].Status)
	assert.ErrorIs(t, result.Items[1].Err, errBad)
	assert.Equal(t, ItemSucceeded, result.Items[2].Status)
	assert.ErrorIs(t, result.Items[3].Err, ErrItemPanic)

	assert.Equal(t, 2, result.Succeeded())
	assert.Equal(t, 2, result.Failed())
	assert.Equal(t, 0, result.Skipped())
	assert.Equal(t, 4, result.Attempted())
	assert.Len(t, result.Failures(), 2)
}

func TestRunBatch_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32

	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	result := RunBatch(context.Background(), ids, 3, func(ctx context.Context, id string) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	assert.Equal(t, len(ids), result.Succeeded())
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunBatch_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	result := RunBatch(ctx, []string{"E1", "E2"}, 1, func(ctx context.Context, id string) error {
		calls.Add(1)
		return nil
	})

	assert.Zero(t, calls.Load())
	assert.Equal(t, 2, result.Skipped())
	assert.Zero(t, result.Attempted())
}

func TestRunBatch_StartedItemsOutliveCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var sawCancel atomic.Bool
	result := RunBatch(ctx, []string{"E1", "E2", "E3"}, 1, func(itemCtx context.Context, id string) error {
		if id == "E1" {
			cancel()
			time.Sleep(5 * time.Millisecond)
			if itemCtx.Err() != nil {
				sawCancel.Store(true)
			}
		}
		return nil
	})

	assert.False(t, sawCancel.Load(), "started items run on an uncancelled context")
	assert.Equal(t, ItemSucceeded, result.Items[0].Status)
	assert.Equal(t, ItemSkipped, result.Items[1].Status)
	assert.Equal(t, ItemSkipped, result.Items[2].Status)
}
