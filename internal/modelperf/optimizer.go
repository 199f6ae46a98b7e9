// Package modelperf tracks text-understanding model performance per request
// type and runs controlled A/B comparisons.
package modelperf

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/fault"
	"github.com/brightpath-labs/compass/internal/store"
)

// Composite weights. Accuracy dominates; latency and cost temper it.
const (
	accuracyWeight = 0.6
	latencyWeight  = 0.25
	costWeight     = 0.15
)

// Store is the slice of persistence the optimizer needs.
type Store interface {
	RecordPerfSample(ctx context.Context, sample store.PerfSample) error
	AggregateSamples(ctx context.Context, since time.Time) ([]store.SampleAggregate, error)
	CreateABTest(ctx context.Context, t store.ABTest) (uuid.UUID, error)
	GetABTest(ctx context.Context, id uuid.UUID) (*store.ABTest, error)
	ListABTests(ctx context.Context, status string) ([]store.ABTest, error)
	CompleteABTest(ctx context.Context, id uuid.UUID, outcome map[string]float64) error
	AppendABTestOutcome(ctx context.Context, id uuid.UUID, outcome map[string]float64) error
}

type Optimizer struct {
	store     Store
	carryover float64
	logger    *slog.Logger
}

// New builds an optimizer. carryover in [0,1] controls how strongly completed
// A/B test outcomes blend into the deterministic ranking; 0 ignores them.
func New(s Store, carryover float64, logger *slog.Logger) *Optimizer {
	if carryover < 0 {
		carryover = 0
	}
	if carryover > 1 {
		carryover = 1
	}
	return &Optimizer{store: s, carryover: carryover, logger: logger}
}

// Track validates and records one performance observation.
func (o *Optimizer) Track(ctx context.Context, sample store.PerfSample) error {
	if sample.RequestType == "" || sample.ModelID == "" {
		return fault.Validationf("perf sample needs request_type and model_id")
	}
	if sample.AccuracyScore < 0 || sample.AccuracyScore > 1 {
		return fault.Validationf("accuracy_score %f out of range", sample.AccuracyScore)
	}
	if sample.ResponseTimeMs < 0 || sample.CostPerRequest < 0 {
		return fault.Validationf("negative latency or cost")
	}
	return o.store.RecordPerfSample(ctx, sample)
}

// ModelScore is one model's composite standing for a request type.
type ModelScore struct {
	ModelID      string  `json:"model_id"`
	Score        float64 `json:"score"`
	Samples      int     `json:"samples"`
	AvgAccuracy  float64 `json:"avg_accuracy"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	AvgCost      float64 `json:"avg_cost"`
}

// Ranking is the verdict for one request type: the best model and its margin
// over the runner-up.
type Ranking struct {
	RequestType string      `json:"request_type"`
	Best        ModelScore  `json:"best"`
	RunnerUp    *ModelScore `json:"runner_up,omitempty"`
	Margin      float64     `json:"margin"`
}

// composite folds a model's aggregates into one bounded score. Latency and
// cost map through 1/(1+x) so they degrade smoothly without going negative.
func composite(a store.SampleAggregate) float64 {
	latencyScore := 1 / (1 + a.AvgLatencyMs/1000)
	costScore := 1 / (1 + a.AvgCost*100)
	return accuracyWeight*a.AvgAccuracy + latencyWeight*latencyScore + costWeight*costScore
}

// Rank produces a deterministic per-request-type ranking from aggregates.
// carryover blends completed A/B outcome scores (outcome keys
// "<model_id>_score" in 0..1) into the composite. Pure over its inputs.
func Rank(aggs []store.SampleAggregate, completed []store.ABTest, carryover float64) []Ranking {
	outcomeScore := make(map[string]map[string]float64) // request type -> model -> score
	for _, t := range completed {
		if t.Status != "completed" {
			continue
		}
		for _, model := range []string{t.ModelA, t.ModelB} {
			if s, ok := t.Outcome[model+"_score"]; ok {
				if outcomeScore[t.RequestType] == nil {
					outcomeScore[t.RequestType] = make(map[string]float64)
				}
				outcomeScore[t.RequestType][model] = s
			}
		}
	}

	byType := make(map[string][]ModelScore)
	for _, a := range aggs {
		score := composite(a)
		if s, ok := outcomeScore[a.RequestType][a.ModelID]; ok {
			score = (1-carryover)*score + carryover*s
		}
		byType[a.RequestType] = append(byType[a.RequestType], ModelScore{
			ModelID:      a.ModelID,
			Score:        score,
			Samples:      a.Samples,
			AvgAccuracy:  a.AvgAccuracy,
			AvgLatencyMs: a.AvgLatencyMs,
			AvgCost:      a.AvgCost,
		})
	}

	var out []Ranking
	for reqType, scores := range byType {
		sort.SliceStable(scores, func(i, j int) bool {
			if scores[i].Score != scores[j].Score {
				return scores[i].Score > scores[j].Score
			}
			return scores[i].ModelID < scores[j].ModelID
		})
		r := Ranking{RequestType: reqType, Best: scores[0]}
		if len(scores) > 1 {
			runner := scores[1]
			r.RunnerUp = &runner
			r.Margin = scores[0].Score - runner.Score
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestType < out[j].RequestType })
	return out
}

// Optimize ranks recorded aggregates per request type, blending in completed
// A/B outcomes per the configured carryover weight.
func (o *Optimizer) Optimize(ctx context.Context, since time.Time) ([]Ranking, error) {
	aggs, err := o.store.AggregateSamples(ctx, since)
	if err != nil {
		return nil, err
	}
	completed, err := o.store.ListABTests(ctx, "completed")
	if err != nil {
		return nil, err
	}

	rankings := Rank(aggs, completed, o.carryover)
	o.logger.Info("model ranking computed",
		"request_types", len(rankings),
		"carryover", o.carryover,
	)
	return rankings, nil
}
