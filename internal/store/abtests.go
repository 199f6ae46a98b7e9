package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brightpath-labs/compass/internal/fault"
)

type ABTest struct {
	ID             uuid.UUID          `json:"id"`
	Name           string             `json:"name"`
	RequestType    string             `json:"request_type"`
	ModelA         string             `json:"model_a"`
	ModelB         string             `json:"model_b"`
	TrafficSplit   float64            `json:"traffic_split"`
	DurationDays   int                `json:"duration_days"`
	SuccessMetrics []string           `json:"success_metrics"`
	Status         string             `json:"status"`
	Outcome        map[string]float64 `json:"outcome,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

const abTestColumns = `
	id, name, request_type, model_a, model_b, traffic_split, duration_days,
	success_metrics, status, outcome, started_at, completed_at`

func scanABTest(row pgx.Row) (*ABTest, error) {
	var t ABTest
	err := row.Scan(&t.ID, &t.Name, &t.RequestType, &t.ModelA, &t.ModelB, &t.TrafficSplit,
		&t.DurationDays, &t.SuccessMetrics, &t.Status, &t.Outcome, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateABTest persists a validated test in running status.
func (s *Store) CreateABTest(ctx context.Context, t ABTest) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ab_tests (id, name, request_type, model_a, model_b, traffic_split, duration_days, success_metrics, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'running')`,
		id, t.Name, t.RequestType, t.ModelA, t.ModelB, t.TrafficSplit, t.DurationDays, t.SuccessMetrics,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert ab test: %w", err)
	}
	return id, nil
}

// GetABTest fetches a test by id.
func (s *Store) GetABTest(ctx context.Context, id uuid.UUID) (*ABTest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+abTestColumns+` FROM ab_tests WHERE id = $1`, id)
	t, err := scanABTest(row)
	if err == pgx.ErrNoRows {
		return nil, fault.NotFound("ab test", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get ab test: %w", err)
	}
	return t, nil
}

// ListABTests returns tests, optionally filtered by status.
func (s *Store) ListABTests(ctx context.Context, status string) ([]ABTest, error) {
	query := `SELECT ` + abTestColumns + ` FROM ab_tests ORDER BY started_at DESC`
	args := []any{}
	if status != "" {
		query = `SELECT ` + abTestColumns + ` FROM ab_tests WHERE status = $1 ORDER BY started_at DESC`
		args = append(args, status)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ab tests: %w", err)
	}
	defer rows.Close()

	var tests []ABTest
	for rows.Next() {
		t, err := scanABTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ab test: %w", err)
		}
		tests = append(tests, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tests, nil
}

// CompleteABTest transitions a running test to completed with its outcome
// metrics. Completing an already-completed test is a conflict.
func (s *Store) CompleteABTest(ctx context.Context, id uuid.UUID, outcome map[string]float64) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE ab_tests SET status = 'completed', outcome = $2, completed_at = now()
		WHERE id = $1 AND status = 'running'`,
		id, outcome,
	)
	if err != nil {
		return fmt.Errorf("complete ab test: %w", err)
	}
	if res.RowsAffected() == 0 {
		if _, err := s.GetABTest(ctx, id); err != nil {
			return err
		}
		return fault.Conflictf("ab test %s already completed", id)
	}
	return nil
}

// AppendABTestOutcome merges late-arriving outcome metrics into a completed
// test. Models and split stay immutable; only outcome fields change.
func (s *Store) AppendABTestOutcome(ctx context.Context, id uuid.UUID, outcome map[string]float64) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE ab_tests SET outcome = outcome || $2 WHERE id = $1 AND status = 'completed'`,
		id, outcome,
	)
	if err != nil {
		return fmt.Errorf("append ab test outcome: %w", err)
	}
	if res.RowsAffected() == 0 {
		if _, err := s.GetABTest(ctx, id); err != nil {
			return err
		}
		return fault.Conflictf("ab test %s is still running", id)
	}
	return nil
}
