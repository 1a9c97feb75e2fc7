package jobs

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds parallel items when no limit is given
const DefaultBatchConcurrency = 4

// ErrItemPanic marks an item whose function panicked
var ErrItemPanic = errors.New("item panicked")

// ItemStatus is the terminal state of one batch item
type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	// ItemSkipped items were never started because the batch was cancelled
	ItemSkipped ItemStatus = "skipped"
)

// ItemResult records what happened to one batch item
type ItemResult struct {
	ID     string
	Status ItemStatus
	Err    error
}

// BatchResult accumulates per-item results in input order
type BatchResult struct {
	Items []ItemResult
}

func (b BatchResult) count(status ItemStatus) int {
	n := 0
	for _, item := range b.Items {
		if item.Status == status {
			n++
		}
	}
	return n
}

func (b BatchResult) Succeeded() int { return b.count(ItemSucceeded) }
func (b BatchResult) Failed() int    { return b.count(ItemFailed) }
func (b BatchResult) Skipped() int   { return b.count(ItemSkipped) }

// Attempted counts items that were started, whatever their result
func (b BatchResult) Attempted() int {
	return len(b.Items) - b.Skipped()
}

// Failures returns the failed items
func (b BatchResult) Failures() []ItemResult {
	var out []ItemResult
	for _, item := range b.Items {
		if item.Status == ItemFailed {
			out = append(out, item)
		}
	}
	return out
}

// RunBatch calls fn once per id with at most limit calls in flight. A failed
// item never stops its siblings. Once ctx is done no further items start;
// items already started run on a context that is not cancelled with ctx and
// finish on their own.
func RunBatch(ctx context.Context, ids []string, limit int, fn func(ctx context.Context, id string) error) BatchResult {
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	result := BatchResult{Items: make([]ItemResult, len(ids))}
	for i, id := range ids {
		result.Items[i] = ItemResult{ID: id, Status: ItemSkipped}
	}

	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		i, id := i, id
		g.Go(func() error {
			// The slot may have opened after cancellation.
			if ctx.Err() != nil {
				return nil
			}
			err := runItem(detached, id, fn)
			if err != nil {
				result.Items[i] = ItemResult{ID: id, Status: ItemFailed, Err: err}
			} else {
				result.Items[i].Status = ItemSucceeded
			}
			return nil
		})
	}
	_ = g.Wait()

	return result
}

func runItem(ctx context.Context, id string, fn func(ctx context.Context, id string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrItemPanic, id, r)
		}
	}()
	return fn(ctx, id)
}
