package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/alignment"
	"github.com/brightpath-labs/compass/internal/store"
)

// ItemOutcome is one item's verdict inside a batch run.
type ItemOutcome struct {
	Index int    `json:"index"`
	Error string `json:"error,omitempty"`
}

// BatchResult aggregates per-item outcomes for one batch job.
type BatchResult struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Outcomes  []ItemOutcome `json:"outcomes"`
}

// runBatches processes n items in fixed-size batches. Items within a batch
// run concurrently; one item's failure never cancels its siblings. Between
// batches the driver pauses for delay as backpressure against rate-limited
// services; a zero delay skips the pause. Context cancellation stops the run
// at the next batch boundary.
func runBatches(ctx context.Context, n, batchSize int, delay time.Duration, fn func(ctx context.Context, i int) error) (*BatchResult, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	result := &BatchResult{Outcomes: make([]ItemOutcome, n)}

	for start := 0; start < n; start += batchSize {
		if start > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}

		end := start + batchSize
		if end > n {
			end = n
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := fn(ctx, i); err != nil {
					result.Outcomes[i] = ItemOutcome{Index: i, Error: err.Error()}
					return
				}
				result.Outcomes[i] = ItemOutcome{Index: i}
			}(i)
		}
		wg.Wait()
	}

	for _, o := range result.Outcomes {
		if o.Error == "" {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// ThemeScorer scores one theme against its company's active strategy.
type ThemeScorer interface {
	ScoreThemeByID(ctx context.Context, themeID uuid.UUID) (*alignment.Result, error)
}

// StrategyReader checks the active-strategy precondition before a batch run.
type StrategyReader interface {
	GetActiveStrategy(ctx context.Context, companyID uuid.UUID) (*store.Strategy, error)
}

// BatchDriver runs theme scoring over many themes with bounded concurrency.
type BatchDriver struct {
	scorer     ThemeScorer
	strategies StrategyReader
	batchSize  int
	delay      time.Duration
	logger     *slog.Logger
}

func NewBatchDriver(scorer ThemeScorer, strategies StrategyReader, batchSize int, delay time.Duration, logger *slog.Logger) *BatchDriver {
	return &BatchDriver{
		scorer:     scorer,
		strategies: strategies,
		batchSize:  batchSize,
		delay:      delay,
		logger:     logger,
	}
}

// ScoreThemes scores every listed theme in batches. A missing active strategy
// fails the whole call up front; after that, per-item failures are collected
// while siblings proceed.
func (d *BatchDriver) ScoreThemes(ctx context.Context, companyID uuid.UUID, themeIDs []uuid.UUID) (*BatchResult, error) {
	if _, err := d.strategies.GetActiveStrategy(ctx, companyID); err != nil {
		return nil, err
	}

	result, err := runBatches(ctx, len(themeIDs), d.batchSize, d.delay, func(ctx context.Context, i int) error {
		_, err := d.scorer.ScoreThemeByID(ctx, themeIDs[i])
		return err
	})
	if err != nil {
		return result, err
	}

	d.logger.Info("theme scoring batch finished",
		"company_id", companyID,
		"themes", len(themeIDs),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}
