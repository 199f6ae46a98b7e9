package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brightpath-labs/compass/internal/fault"
)

// StrategyKeyword is one weighted keyword in a strategy. Weight is in [-1,1];
// negative weights mark directions the company is steering away from.
type StrategyKeyword struct {
	Keyword   string  `json:"keyword"`
	Weight    float64 `json:"weight"`
	Rationale string  `json:"rationale"`
}

type Strategy struct {
	ID                  uuid.UUID
	CompanyID           uuid.UUID
	Version             int
	TargetCustomer      string
	ProblemsWeSolve     []string
	ProblemsWeDontSolve []string
	Keywords            []StrategyKeyword
	Competitors         []string
	Active              bool
	CreatedAt           time.Time
}

const strategyColumns = `
	id, company_id, version, target_customer, problems_we_solve,
	problems_we_dont_solve, keywords, competitors, is_active, created_at`

func scanStrategy(row pgx.Row) (*Strategy, error) {
	var st Strategy
	err := row.Scan(&st.ID, &st.CompanyID, &st.Version, &st.TargetCustomer, &st.ProblemsWeSolve,
		&st.ProblemsWeDontSolve, &st.Keywords, &st.Competitors, &st.Active, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CreateStrategy inserts a new inactive strategy version.
func (s *Store) CreateStrategy(ctx context.Context, st Strategy) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO strategies (id, company_id, version, target_customer, problems_we_solve,
			problems_we_dont_solve, keywords, competitors, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)`,
		id, st.CompanyID, st.Version, st.TargetCustomer, st.ProblemsWeSolve,
		st.ProblemsWeDontSolve, st.Keywords, st.Competitors,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fault.Conflictf("strategy version %d already exists for company %s", st.Version, st.CompanyID)
		}
		return uuid.Nil, fmt.Errorf("insert strategy: %w", err)
	}
	return id, nil
}

// GetActiveStrategy returns the single active strategy for a company.
func (s *Store) GetActiveStrategy(ctx context.Context, companyID uuid.UUID) (*Strategy, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+strategyColumns+` FROM strategies
		WHERE company_id = $1 AND is_active`,
		companyID,
	)
	st, err := scanStrategy(row)
	if err == pgx.ErrNoRows {
		return nil, fault.NotFound("active strategy", companyID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get active strategy: %w", err)
	}
	return st, nil
}

// GetStrategyByID fetches a strategy version by id.
func (s *Store) GetStrategyByID(ctx context.Context, id uuid.UUID) (*Strategy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = $1`, id)
	st, err := scanStrategy(row)
	if err == pgx.ErrNoRows {
		return nil, fault.NotFound("strategy", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy: %w", err)
	}
	return st, nil
}

// ActivateStrategy atomically deactivates the previous active version and
// activates the given one. The company's strategy rows are locked with
// NOWAIT: a second activation in flight surfaces as ConflictError instead of
// leaving zero or two active versions.
func (s *Store) ActivateStrategy(ctx context.Context, companyID, strategyID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin activation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM strategies WHERE company_id = $1 FOR UPDATE NOWAIT`,
		companyID,
	)
	if err != nil {
		if isLockNotAvailable(err) {
			return fault.Conflictf("strategy activation already in flight for company %s", companyID)
		}
		return fmt.Errorf("lock strategies: %w", err)
	}
	found := false
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan strategy id: %w", err)
		}
		if id == strategyID {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		if isLockNotAvailable(err) {
			return fault.Conflictf("strategy activation already in flight for company %s", companyID)
		}
		return fmt.Errorf("lock strategies: %w", err)
	}
	if !found {
		return fault.NotFound("strategy", strategyID.String())
	}

	if _, err := tx.Exec(ctx, `
		UPDATE strategies SET is_active = false WHERE company_id = $1 AND is_active`,
		companyID,
	); err != nil {
		return fmt.Errorf("deactivate previous strategy: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE strategies SET is_active = true WHERE id = $1`,
		strategyID,
	); err != nil {
		return fmt.Errorf("activate strategy: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit activation tx: %w", err)
	}
	return nil
}
