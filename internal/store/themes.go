package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brightpath-labs/compass/internal/fault"
)

type Theme struct {
	ID                 uuid.UUID   `json:"id"`
	CompanyID          uuid.UUID   `json:"company_id"`
	Name               string      `json:"name"`
	Description        string      `json:"description"`
	TagSetKey          string      `json:"tag_set_key"`
	TagIDs             []uuid.UUID `json:"tag_ids"`
	FeedbackIDs        []uuid.UUID `json:"feedback_ids"`
	CustomerCount      int         `json:"customer_count"`
	MentionCount       int         `json:"mention_count"`
	AvgSentiment       float64     `json:"avg_sentiment"`
	PriorityScore      int         `json:"priority_score"`
	Trend              string      `json:"trend"`
	WeekOverWeekChange float64     `json:"week_over_week_change"`
	Status             string      `json:"status"`
	AlignmentScore     *int        `json:"alignment_score,omitempty"`
	FinalPriorityScore *int        `json:"final_priority_score,omitempty"`
	Recommendation     string      `json:"recommendation,omitempty"`
	AlignmentReasoning string      `json:"alignment_reasoning,omitempty"`
	PMNotes            string      `json:"pm_notes,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

const themeColumns = `
	t.id, t.company_id, t.name, t.description, t.tag_set_key,
	t.customer_count, t.mention_count, t.avg_sentiment, t.priority_score,
	t.trend, t.wow_change, t.status, t.alignment_score, t.final_priority_score,
	t.recommendation, t.alignment_reasoning, t.pm_notes, t.created_at, t.updated_at`

func scanTheme(row pgx.Row) (*Theme, error) {
	var t Theme
	err := row.Scan(&t.ID, &t.CompanyID, &t.Name, &t.Description, &t.TagSetKey,
		&t.CustomerCount, &t.MentionCount, &t.AvgSentiment, &t.PriorityScore,
		&t.Trend, &t.WeekOverWeekChange, &t.Status, &t.AlignmentScore, &t.FinalPriorityScore,
		&t.Recommendation, &t.AlignmentReasoning, &t.PMNotes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetThemeByID fetches a theme with its tag and feedback links.
func (s *Store) GetThemeByID(ctx context.Context, id uuid.UUID) (*Theme, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+themeColumns+` FROM themes t WHERE t.id = $1`, id)
	t, err := scanTheme(row)
	if err == pgx.ErrNoRows {
		return nil, fault.NotFound("theme", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get theme: %w", err)
	}
	if err := s.loadThemeLinks(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListThemes returns all themes for a company with links attached.
func (s *Store) ListThemes(ctx context.Context, companyID uuid.UUID) ([]Theme, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+themeColumns+` FROM themes t
		WHERE t.company_id = $1
		ORDER BY t.priority_score DESC, t.created_at ASC`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()

	var themes []Theme
	for rows.Next() {
		t, err := scanTheme(rows)
		if err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		themes = append(themes, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range themes {
		if err := s.loadThemeLinks(ctx, &themes[i]); err != nil {
			return nil, err
		}
	}
	return themes, nil
}

func (s *Store) loadThemeLinks(ctx context.Context, t *Theme) error {
	rows, err := s.pool.Query(ctx, `SELECT tag_id FROM theme_tags WHERE theme_id = $1`, t.ID)
	if err != nil {
		return fmt.Errorf("load theme tags: %w", err)
	}
	defer rows.Close()
	t.TagIDs = nil
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan theme tag: %w", err)
		}
		t.TagIDs = append(t.TagIDs, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	fbRows, err := s.pool.Query(ctx, `SELECT feedback_id FROM theme_feedback WHERE theme_id = $1`, t.ID)
	if err != nil {
		return fmt.Errorf("load theme feedback: %w", err)
	}
	defer fbRows.Close()
	t.FeedbackIDs = nil
	for fbRows.Next() {
		var id uuid.UUID
		if err := fbRows.Scan(&id); err != nil {
			return fmt.Errorf("scan theme feedback: %w", err)
		}
		t.FeedbackIDs = append(t.FeedbackIDs, id)
	}
	return fbRows.Err()
}

// UpsertTheme writes a discovered theme keyed by its tag set. An existing row
// keeps its id, status and pm_notes; rows in approved or archived status also
// keep their name and description and only get metric refreshes.
func (s *Store) UpsertTheme(ctx context.Context, theme Theme) (uuid.UUID, error) {
	id, err := s.upsertTheme(ctx, theme)
	if err != nil && isUniqueViolation(err) {
		// Two discovery runs raced on a brand-new tag set: neither saw a row
		// to lock and the loser's insert hit the unique key. Retry sees the
		// winner's row and takes the update path.
		return s.upsertTheme(ctx, theme)
	}
	return id, err
}

func (s *Store) upsertTheme(ctx context.Context, theme Theme) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin theme tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	var status string
	err = tx.QueryRow(ctx, `
		SELECT id, status FROM themes
		WHERE company_id = $1 AND tag_set_key = $2
		FOR UPDATE`,
		theme.CompanyID, theme.TagSetKey,
	).Scan(&id, &status)

	switch {
	case err == pgx.ErrNoRows:
		id = uuid.New()
		_, err = tx.Exec(ctx, `
			INSERT INTO themes (id, company_id, name, description, tag_set_key,
				customer_count, mention_count, avg_sentiment, priority_score, trend, wow_change, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'discovered')`,
			id, theme.CompanyID, theme.Name, theme.Description, theme.TagSetKey,
			theme.CustomerCount, theme.MentionCount, theme.AvgSentiment, theme.PriorityScore,
			theme.Trend, theme.WeekOverWeekChange,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert theme: %w", err)
		}
	case err != nil:
		return uuid.Nil, fmt.Errorf("lookup theme: %w", err)
	case status == "approved" || status == "archived":
		_, err = tx.Exec(ctx, `
			UPDATE themes SET customer_count = $2, mention_count = $3, avg_sentiment = $4,
				priority_score = $5, trend = $6, wow_change = $7, updated_at = now()
			WHERE id = $1`,
			id, theme.CustomerCount, theme.MentionCount, theme.AvgSentiment,
			theme.PriorityScore, theme.Trend, theme.WeekOverWeekChange,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("refresh theme metrics: %w", err)
		}
	default:
		_, err = tx.Exec(ctx, `
			UPDATE themes SET name = $2, description = $3, customer_count = $4, mention_count = $5,
				avg_sentiment = $6, priority_score = $7, trend = $8, wow_change = $9, updated_at = now()
			WHERE id = $1`,
			id, theme.Name, theme.Description, theme.CustomerCount, theme.MentionCount,
			theme.AvgSentiment, theme.PriorityScore, theme.Trend, theme.WeekOverWeekChange,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("update theme: %w", err)
		}
	}

	// Refresh links to the current supporting sets.
	if _, err := tx.Exec(ctx, `DELETE FROM theme_tags WHERE theme_id = $1`, id); err != nil {
		return uuid.Nil, fmt.Errorf("clear theme tags: %w", err)
	}
	for _, tagID := range theme.TagIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO theme_tags (theme_id, tag_id) VALUES ($1, $2)`, id, tagID); err != nil {
			return uuid.Nil, fmt.Errorf("link theme tag: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM theme_feedback WHERE theme_id = $1`, id); err != nil {
		return uuid.Nil, fmt.Errorf("clear theme feedback: %w", err)
	}
	for _, fbID := range theme.FeedbackIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO theme_feedback (theme_id, feedback_id) VALUES ($1, $2)`, id, fbID); err != nil {
			return uuid.Nil, fmt.Errorf("link theme feedback: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit theme tx: %w", err)
	}
	return id, nil
}

// UpdateThemeAlignment persists a scoring result onto a theme.
func (s *Store) UpdateThemeAlignment(ctx context.Context, themeID uuid.UUID, alignmentScore, finalPriority int, recommendation, reasoning string) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE themes
		SET alignment_score = $2, final_priority_score = $3, recommendation = $4,
		    alignment_reasoning = $5, updated_at = now()
		WHERE id = $1`,
		themeID, alignmentScore, finalPriority, recommendation, reasoning,
	)
	if err != nil {
		return fmt.Errorf("update theme alignment: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fault.NotFound("theme", themeID.String())
	}
	return nil
}
