package modelperf

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/fault"
	"github.com/brightpath-labs/compass/internal/store"
)

// ABTestConfig is a requested model comparison.
type ABTestConfig struct {
	Name           string   `json:"name"`
	RequestType    string   `json:"request_type"`
	ModelA         string   `json:"model_a"`
	ModelB         string   `json:"model_b"`
	TrafficSplit   float64  `json:"traffic_split"`
	DurationDays   int      `json:"duration_days"`
	SuccessMetrics []string `json:"success_metrics"`
}

func (c ABTestConfig) validate() error {
	if c.Name == "" {
		return fault.Validationf("ab test needs a name")
	}
	if c.RequestType == "" {
		return fault.Validationf("ab test needs a request_type")
	}
	if c.ModelA == "" || c.ModelB == "" {
		return fault.Validationf("ab test needs both model_a and model_b")
	}
	if c.ModelA == c.ModelB {
		return fault.Validationf("ab test models must differ, got %q twice", c.ModelA)
	}
	if c.TrafficSplit <= 0 || c.TrafficSplit >= 1 {
		return fault.Validationf("traffic_split %f must be strictly between 0 and 1", c.TrafficSplit)
	}
	if c.DurationDays <= 0 {
		return fault.Validationf("duration_days %d must be positive", c.DurationDays)
	}
	return nil
}

// StartABTest validates the config and opens a running test.
func (o *Optimizer) StartABTest(ctx context.Context, cfg ABTestConfig) (uuid.UUID, error) {
	if err := cfg.validate(); err != nil {
		return uuid.Nil, err
	}
	metrics := cfg.SuccessMetrics
	if len(metrics) == 0 {
		metrics = []string{"accuracy"}
	}
	id, err := o.store.CreateABTest(ctx, store.ABTest{
		Name:           cfg.Name,
		RequestType:    cfg.RequestType,
		ModelA:         cfg.ModelA,
		ModelB:         cfg.ModelB,
		TrafficSplit:   cfg.TrafficSplit,
		DurationDays:   cfg.DurationDays,
		SuccessMetrics: metrics,
	})
	if err != nil {
		return uuid.Nil, err
	}
	o.logger.Info("ab test started",
		"id", id,
		"request_type", cfg.RequestType,
		"model_a", cfg.ModelA,
		"model_b", cfg.ModelB,
	)
	return id, nil
}

// PickModel routes one request within a running test. Requests land on
// model B with probability equal to the traffic split; roll is the caller's
// uniform draw in [0,1).
func PickModel(t store.ABTest, roll float64) string {
	if roll < t.TrafficSplit {
		return t.ModelB
	}
	return t.ModelA
}

// CloseABTest computes per-model outcome scores from samples recorded during
// the test window and transitions the test to completed.
func (o *Optimizer) CloseABTest(ctx context.Context, id uuid.UUID) (map[string]float64, error) {
	t, err := o.store.GetABTest(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != "running" {
		return nil, fault.Conflictf("ab test %s is %s, not running", id, t.Status)
	}

	aggs, err := o.store.AggregateSamples(ctx, t.StartedAt)
	if err != nil {
		return nil, err
	}
	outcome := make(map[string]float64)
	for _, a := range aggs {
		if a.RequestType != t.RequestType {
			continue
		}
		if a.ModelID == t.ModelA || a.ModelID == t.ModelB {
			outcome[a.ModelID+"_score"] = composite(a)
			outcome[a.ModelID+"_samples"] = float64(a.Samples)
		}
	}
	if err := o.store.CompleteABTest(ctx, id, outcome); err != nil {
		return nil, err
	}
	o.logger.Info("ab test completed", "id", id, "outcome_keys", len(outcome))
	return outcome, nil
}

// ExpireDue closes running tests whose duration has elapsed. Returns the ids
// it completed; individual close failures are logged and skipped.
func (o *Optimizer) ExpireDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	running, err := o.store.ListABTests(ctx, "running")
	if err != nil {
		return nil, err
	}
	var closed []uuid.UUID
	for _, t := range running {
		deadline := t.StartedAt.Add(time.Duration(t.DurationDays) * 24 * time.Hour)
		if now.Before(deadline) {
			continue
		}
		if _, err := o.CloseABTest(ctx, t.ID); err != nil {
			o.logger.Error("expire ab test", "id", t.ID, "error", err)
			continue
		}
		closed = append(closed, t.ID)
	}
	return closed, nil
}

// RecordOutcome merges late-arriving metrics into a completed test.
func (o *Optimizer) RecordOutcome(ctx context.Context, id uuid.UUID, outcome map[string]float64) error {
	if len(outcome) == 0 {
		return fault.Validationf("outcome must not be empty")
	}
	return o.store.AppendABTestOutcome(ctx, id, outcome)
}
