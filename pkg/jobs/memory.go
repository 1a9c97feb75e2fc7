package jobs

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// DefaultMemorySampleInterval is how often a running unit samples RSS
const DefaultMemorySampleInterval = time.Second

// MemorySampler reports the current resident set size in bytes
type MemorySampler func(ctx context.Context) (uint64, error)

// ProcessRSS samples the resident set size of this process
func ProcessRSS() MemorySampler {
	var (
		once sync.Once
		proc *process.Process
		err  error
	)
	return func(ctx context.Context) (uint64, error) {
		once.Do(func() {
			proc, err = process.NewProcessWithContext(ctx, int32(os.Getpid()))
		})
		if err != nil {
			return 0, err
		}
		info, err := proc.MemoryInfoWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return info.RSS, nil
	}
}

// peakTracker samples memory in the background and keeps the maximum
type peakTracker struct {
	sample   MemorySampler
	interval time.Duration
	onSample func(rss uint64)

	mu   sync.Mutex
	peak uint64

	stop chan struct{}
	done chan struct{}
}

func startPeakTracker(ctx context.Context, sample MemorySampler, interval time.Duration, onSample func(uint64)) *peakTracker {
	t := &peakTracker{
		sample:   sample,
		interval: interval,
		onSample: onSample,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.observe(ctx)
	go t.loop(ctx)
	return t
}

func (t *peakTracker) loop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.observe(ctx)
		}
	}
}

func (t *peakTracker) observe(ctx context.Context) {
	rss, err := t.sample(ctx)
	if err != nil {
		return
	}
	t.mu.Lock()
	if rss > t.peak {
		t.peak = rss
	}
	t.mu.Unlock()
	if t.onSample != nil {
		t.onSample(rss)
	}
}

// Stop takes a final sample and returns the peak
func (t *peakTracker) Stop(ctx context.Context) uint64 {
	close(t.stop)
	<-t.done
	t.observe(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}
