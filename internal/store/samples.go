package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PerfSample is one recorded performance observation for a model handling a
// request type.
type PerfSample struct {
	RequestType    string
	ModelID        string
	AccuracyScore  float64
	ResponseTimeMs float64
	CostPerRequest float64
	ABTestID       *uuid.UUID
	CreatedAt      time.Time
}

// RecordPerfSample persists one performance observation.
func (s *Store) RecordPerfSample(ctx context.Context, sample PerfSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO perf_samples (id, request_type, model_id, accuracy_score, response_time_ms, cost_per_request, ab_test_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), sample.RequestType, sample.ModelID, sample.AccuracyScore,
		sample.ResponseTimeMs, sample.CostPerRequest, sample.ABTestID,
	)
	if err != nil {
		return fmt.Errorf("insert perf sample: %w", err)
	}
	return nil
}

// SampleAggregate is the per-(request type, model) rollup used for ranking.
type SampleAggregate struct {
	RequestType  string
	ModelID      string
	Samples      int
	AvgAccuracy  float64
	AvgLatencyMs float64
	AvgCost      float64
}

// AggregateSamples rolls up samples recorded at or after since.
func (s *Store) AggregateSamples(ctx context.Context, since time.Time) ([]SampleAggregate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT request_type, model_id, COUNT(*),
		       AVG(accuracy_score), AVG(response_time_ms), AVG(cost_per_request)
		FROM perf_samples
		WHERE created_at >= $1
		GROUP BY request_type, model_id
		ORDER BY request_type, model_id`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate samples: %w", err)
	}
	defer rows.Close()

	var aggs []SampleAggregate
	for rows.Next() {
		var a SampleAggregate
		if err := rows.Scan(&a.RequestType, &a.ModelID, &a.Samples, &a.AvgAccuracy, &a.AvgLatencyMs, &a.AvgCost); err != nil {
			return nil, fmt.Errorf("scan sample aggregate: %w", err)
		}
		aggs = append(aggs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return aggs, nil
}
