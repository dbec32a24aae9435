package prospecting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStaleReleaser struct {
	mu       sync.Mutex
	sweeps   int
	released int64
	err      error
}

func (f *fakeStaleReleaser) ReleaseStale(_ context.Context, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	if f.err != nil {
		return 0, f.err
	}
	return f.released, nil
}

func (f *fakeStaleReleaser) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func TestReaperSweepsOnSchedule(t *testing.T) {
	store := &fakeStaleReleaser{released: 3}
	reaper := NewReaper(store, nil).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := reaper.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if store.sweepCount() < 2 {
		t.Fatalf("expected repeated sweeps, got %d", store.sweepCount())
	}
}

func TestReaperSurvivesSweepFailure(t *testing.T) {
	store := &fakeStaleReleaser{err: errors.New("mongo down")}
	reaper := NewReaper(store, nil).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	if err := reaper.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if store.sweepCount() < 2 {
		t.Fatalf("expected the reaper to keep sweeping after failures, got %d", store.sweepCount())
	}
}
