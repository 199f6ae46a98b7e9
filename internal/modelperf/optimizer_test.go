package modelperf

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/fault"
	"github.com/brightpath-labs/compass/internal/store"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePerfStore struct {
	samples   []store.PerfSample
	aggs      []store.SampleAggregate
	tests     map[uuid.UUID]*store.ABTest
	appended  map[string]float64
	completed map[string]float64
}

func newFakePerfStore() *fakePerfStore {
	return &fakePerfStore{tests: make(map[uuid.UUID]*store.ABTest)}
}

func (f *fakePerfStore) RecordPerfSample(_ context.Context, s store.PerfSample) error {
	f.samples = append(f.samples, s)
	return nil
}

func (f *fakePerfStore) AggregateSamples(_ context.Context, _ time.Time) ([]store.SampleAggregate, error) {
	return f.aggs, nil
}

func (f *fakePerfStore) CreateABTest(_ context.Context, t store.ABTest) (uuid.UUID, error) {
	id := uuid.New()
	t.ID = id
	t.Status = "running"
	t.StartedAt = time.Now()
	f.tests[id] = &t
	return id, nil
}

func (f *fakePerfStore) GetABTest(_ context.Context, id uuid.UUID) (*store.ABTest, error) {
	t, ok := f.tests[id]
	if !ok {
		return nil, fault.NotFound("ab test", id.String())
	}
	copied := *t
	return &copied, nil
}

func (f *fakePerfStore) ListABTests(_ context.Context, status string) ([]store.ABTest, error) {
	var out []store.ABTest
	for _, t := range f.tests {
		if status == "" || t.Status == status {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakePerfStore) CompleteABTest(_ context.Context, id uuid.UUID, outcome map[string]float64) error {
	t, ok := f.tests[id]
	if !ok {
		return fault.NotFound("ab test", id.String())
	}
	if t.Status != "running" {
		return fault.Conflictf("ab test %s already completed", id)
	}
	t.Status = "completed"
	t.Outcome = outcome
	f.completed = outcome
	return nil
}

func (f *fakePerfStore) AppendABTestOutcome(_ context.Context, id uuid.UUID, outcome map[string]float64) error {
	t, ok := f.tests[id]
	if !ok {
		return fault.NotFound("ab test", id.String())
	}
	if t.Status != "completed" {
		return fault.Conflictf("ab test %s is still running", id)
	}
	f.appended = outcome
	return nil
}

func TestTrackValidation(t *testing.T) {
	o := New(newFakePerfStore(), 0.5, discard())
	ctx := context.Background()

	tests := []struct {
		name    string
		sample  store.PerfSample
		wantErr bool
	}{
		{
			name:   "valid sample",
			sample: store.PerfSample{RequestType: "feedback_analysis", ModelID: "claude-sonnet-4", AccuracyScore: 0.9, ResponseTimeMs: 420, CostPerRequest: 0.003},
		},
		{
			name:    "missing model id",
			sample:  store.PerfSample{RequestType: "feedback_analysis", AccuracyScore: 0.9},
			wantErr: true,
		},
		{
			name:    "accuracy out of range",
			sample:  store.PerfSample{RequestType: "feedback_analysis", ModelID: "m", AccuracyScore: 1.2},
			wantErr: true,
		},
		{
			name:    "negative latency",
			sample:  store.PerfSample{RequestType: "feedback_analysis", ModelID: "m", AccuracyScore: 0.5, ResponseTimeMs: -1},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.Track(ctx, tt.sample)
			if tt.wantErr {
				if !fault.IsValidation(err) {
					t.Fatalf("want validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRankOrdersByCompositeScore(t *testing.T) {
	aggs := []store.SampleAggregate{
		{RequestType: "feedback_analysis", ModelID: "fast-cheap", Samples: 50, AvgAccuracy: 0.70, AvgLatencyMs: 200, AvgCost: 0.001},
		{RequestType: "feedback_analysis", ModelID: "accurate-slow", Samples: 50, AvgAccuracy: 0.95, AvgLatencyMs: 2000, AvgCost: 0.010},
	}

	rankings := Rank(aggs, nil, 0)
	if len(rankings) != 1 {
		t.Fatalf("want 1 ranking, got %d", len(rankings))
	}
	r := rankings[0]
	if r.RequestType != "feedback_analysis" {
		t.Fatalf("request type = %q", r.RequestType)
	}
	if r.RunnerUp == nil {
		t.Fatal("want a runner-up")
	}
	if r.Margin <= 0 {
		t.Fatalf("margin = %f, want positive", r.Margin)
	}
	if got := r.Best.Score - r.RunnerUp.Score; math.Abs(got-r.Margin) > 1e-9 {
		t.Fatalf("margin %f does not match score gap %f", r.Margin, got)
	}
}

func TestRankCarryoverBlendsOutcomes(t *testing.T) {
	aggs := []store.SampleAggregate{
		{RequestType: "alignment", ModelID: "model-a", Samples: 30, AvgAccuracy: 0.80, AvgLatencyMs: 500, AvgCost: 0.002},
		{RequestType: "alignment", ModelID: "model-b", Samples: 30, AvgAccuracy: 0.78, AvgLatencyMs: 500, AvgCost: 0.002},
	}
	// model-b dominated a controlled comparison despite the slightly lower
	// raw accuracy aggregate.
	completed := []store.ABTest{{
		RequestType: "alignment",
		ModelA:      "model-a",
		ModelB:      "model-b",
		Status:      "completed",
		Outcome:     map[string]float64{"model-a_score": 0.40, "model-b_score": 0.99},
	}}

	noCarry := Rank(aggs, completed, 0)
	if noCarry[0].Best.ModelID != "model-a" {
		t.Fatalf("without carryover best = %s, want model-a", noCarry[0].Best.ModelID)
	}

	full := Rank(aggs, completed, 1)
	if full[0].Best.ModelID != "model-b" {
		t.Fatalf("with full carryover best = %s, want model-b", full[0].Best.ModelID)
	}
}

func TestRankBreaksTiesByModelID(t *testing.T) {
	aggs := []store.SampleAggregate{
		{RequestType: "analysis", ModelID: "zeta", Samples: 10, AvgAccuracy: 0.8, AvgLatencyMs: 100, AvgCost: 0.001},
		{RequestType: "analysis", ModelID: "alpha", Samples: 10, AvgAccuracy: 0.8, AvgLatencyMs: 100, AvgCost: 0.001},
	}
	rankings := Rank(aggs, nil, 0)
	if rankings[0].Best.ModelID != "alpha" {
		t.Fatalf("best = %s, want alpha on tie", rankings[0].Best.ModelID)
	}
	if rankings[0].Margin != 0 {
		t.Fatalf("margin = %f, want 0 on tie", rankings[0].Margin)
	}
}

func TestStartABTestValidation(t *testing.T) {
	o := New(newFakePerfStore(), 0.5, discard())
	ctx := context.Background()

	valid := ABTestConfig{
		Name:         "sonnet vs haiku",
		RequestType:  "feedback_analysis",
		ModelA:       "claude-sonnet-4",
		ModelB:       "claude-haiku-4",
		TrafficSplit: 0.5,
		DurationDays: 7,
	}

	tests := []struct {
		name   string
		mutate func(*ABTestConfig)
	}{
		{"same model on both arms", func(c *ABTestConfig) { c.ModelB = c.ModelA }},
		{"zero traffic split", func(c *ABTestConfig) { c.TrafficSplit = 0 }},
		{"full traffic split", func(c *ABTestConfig) { c.TrafficSplit = 1 }},
		{"negative traffic split", func(c *ABTestConfig) { c.TrafficSplit = -0.2 }},
		{"zero duration", func(c *ABTestConfig) { c.DurationDays = 0 }},
		{"missing name", func(c *ABTestConfig) { c.Name = "" }},
		{"missing request type", func(c *ABTestConfig) { c.RequestType = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := o.StartABTest(ctx, cfg); !fault.IsValidation(err) {
				t.Fatalf("want validation error, got %v", err)
			}
		})
	}

	id, err := o.StartABTest(ctx, valid)
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("want a test id")
	}
}

func TestCloseABTestComputesOutcome(t *testing.T) {
	fs := newFakePerfStore()
	o := New(fs, 0.5, discard())
	ctx := context.Background()

	id, err := o.StartABTest(ctx, ABTestConfig{
		Name:         "compare",
		RequestType:  "feedback_analysis",
		ModelA:       "model-a",
		ModelB:       "model-b",
		TrafficSplit: 0.3,
		DurationDays: 7,
	})
	if err != nil {
		t.Fatal(err)
	}

	fs.aggs = []store.SampleAggregate{
		{RequestType: "feedback_analysis", ModelID: "model-a", Samples: 40, AvgAccuracy: 0.9, AvgLatencyMs: 300, AvgCost: 0.002},
		{RequestType: "feedback_analysis", ModelID: "model-b", Samples: 18, AvgAccuracy: 0.7, AvgLatencyMs: 300, AvgCost: 0.002},
		{RequestType: "alignment", ModelID: "model-a", Samples: 99, AvgAccuracy: 0.1, AvgLatencyMs: 1, AvgCost: 0},
	}

	outcome, err := o.CloseABTest(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if outcome["model-a_samples"] != 40 || outcome["model-b_samples"] != 18 {
		t.Fatalf("sample counts wrong: %v", outcome)
	}
	if outcome["model-a_score"] <= outcome["model-b_score"] {
		t.Fatalf("model-a should outscore model-b: %v", outcome)
	}
	if _, ok := outcome["model-a_score"]; !ok {
		t.Fatal("missing model-a_score")
	}
	// other request types must not leak into the outcome
	if len(outcome) != 4 {
		t.Fatalf("outcome keys = %d, want 4: %v", len(outcome), outcome)
	}

	if _, err := o.CloseABTest(ctx, id); !fault.IsConflict(err) {
		t.Fatalf("closing twice should conflict, got %v", err)
	}
}

func TestExpireDueClosesOnlyElapsedTests(t *testing.T) {
	fs := newFakePerfStore()
	o := New(fs, 0.5, discard())
	ctx := context.Background()

	fresh, _ := o.StartABTest(ctx, ABTestConfig{
		Name: "fresh", RequestType: "a", ModelA: "x", ModelB: "y", TrafficSplit: 0.5, DurationDays: 7,
	})
	stale, _ := o.StartABTest(ctx, ABTestConfig{
		Name: "stale", RequestType: "b", ModelA: "x", ModelB: "y", TrafficSplit: 0.5, DurationDays: 7,
	})
	fs.tests[stale].StartedAt = time.Now().Add(-8 * 24 * time.Hour)

	closed, err := o.ExpireDue(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(closed) != 1 || closed[0] != stale {
		t.Fatalf("closed = %v, want only the stale test", closed)
	}
	if fs.tests[fresh].Status != "running" {
		t.Fatal("fresh test should stay running")
	}
}

func TestRecordOutcome(t *testing.T) {
	fs := newFakePerfStore()
	o := New(fs, 0.5, discard())
	ctx := context.Background()

	id, _ := o.StartABTest(ctx, ABTestConfig{
		Name: "n", RequestType: "a", ModelA: "x", ModelB: "y", TrafficSplit: 0.5, DurationDays: 1,
	})

	if err := o.RecordOutcome(ctx, id, nil); !fault.IsValidation(err) {
		t.Fatalf("empty outcome should fail validation, got %v", err)
	}
	if err := o.RecordOutcome(ctx, id, map[string]float64{"x_score": 0.5}); !fault.IsConflict(err) {
		t.Fatalf("running test should conflict, got %v", err)
	}

	fs.tests[id].Status = "completed"
	if err := o.RecordOutcome(ctx, id, map[string]float64{"x_score": 0.5}); err != nil {
		t.Fatalf("append on completed: %v", err)
	}
	if fs.appended["x_score"] != 0.5 {
		t.Fatalf("appended = %v", fs.appended)
	}
}

func TestPickModel(t *testing.T) {
	test := store.ABTest{ModelA: "a", ModelB: "b", TrafficSplit: 0.3}
	if got := PickModel(test, 0.1); got != "b" {
		t.Fatalf("roll below split = %s, want b", got)
	}
	if got := PickModel(test, 0.3); got != "a" {
		t.Fatalf("roll at split = %s, want a", got)
	}
	if got := PickModel(test, 0.9); got != "a" {
		t.Fatalf("roll above split = %s, want a", got)
	}
}
