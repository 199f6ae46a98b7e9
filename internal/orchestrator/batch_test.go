package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/alignment"
	"github.com/brightpath-labs/compass/internal/fault"
	"github.com/brightpath-labs/compass/internal/store"
)

type fakeScorer struct {
	failOn map[uuid.UUID]error
	calls  atomic.Int64
}

func (f *fakeScorer) ScoreThemeByID(_ context.Context, id uuid.UUID) (*alignment.Result, error) {
	f.calls.Add(1)
	if err, ok := f.failOn[id]; ok {
		return nil, err
	}
	return &alignment.Result{}, nil
}

type fakeStrategyReader struct {
	strategy *store.Strategy
	err      error
}

func (f *fakeStrategyReader) GetActiveStrategy(_ context.Context, _ uuid.UUID) (*store.Strategy, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.strategy, nil
}

func TestRunBatchesIsolatesFailures(t *testing.T) {
	// Five items, the third fails. The other four must still succeed.
	result, err := runBatches(context.Background(), 5, 4, 0, func(_ context.Context, i int) error {
		if i == 2 {
			return fault.Upstream("understanding", fmt.Errorf("rate limited"))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Succeeded != 4 || result.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 4/1", result.Succeeded, result.Failed)
	}
	if result.Outcomes[2].Error == "" {
		t.Fatal("item 2 should carry its error detail")
	}
	for _, i := range []int{0, 1, 3, 4} {
		if result.Outcomes[i].Error != "" {
			t.Errorf("item %d should succeed, got %q", i, result.Outcomes[i].Error)
		}
	}
}

func TestRunBatchesZeroDelaySkipsPause(t *testing.T) {
	start := time.Now()
	_, err := runBatches(context.Background(), 10, 2, 0, func(_ context.Context, _ int) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("zero delay took %v, pause was not skipped", elapsed)
	}
}

func TestRunBatchesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var processed atomic.Int64

	_, err := runBatches(ctx, 10, 2, time.Hour, func(_ context.Context, _ int) error {
		processed.Add(1)
		cancel()
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	// Only the first batch ran; the inter-batch pause observed the cancel.
	if got := processed.Load(); got != 2 {
		t.Fatalf("processed = %d, want 2", got)
	}
}

func TestScoreThemesBatch(t *testing.T) {
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
	}
	scorer := &fakeScorer{failOn: map[uuid.UUID]error{
		ids[2]: fault.Upstream("understanding", fmt.Errorf("503")),
	}}
	d := NewBatchDriver(scorer, &fakeStrategyReader{strategy: &store.Strategy{}}, 4, 0, discard())

	result, err := d.ScoreThemes(context.Background(), uuid.New(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded != 4 || result.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 4/1", result.Succeeded, result.Failed)
	}
	if got := scorer.calls.Load(); got != 5 {
		t.Fatalf("scorer calls = %d, want 5", got)
	}
}

func TestScoreThemesRequiresActiveStrategy(t *testing.T) {
	scorer := &fakeScorer{}
	d := NewBatchDriver(scorer, &fakeStrategyReader{err: fault.NotFound("active strategy", "co-1")}, 4, 0, discard())

	_, err := d.ScoreThemes(context.Background(), uuid.New(), []uuid.UUID{uuid.New()})
	if !fault.IsNotFound(err) {
		t.Fatalf("want not-found error, got %v", err)
	}
	if scorer.calls.Load() != 0 {
		t.Fatal("no theme may be scored without an active strategy")
	}
}
