package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/brightpath-labs/compass/internal/fault"
)

type Tag struct {
	ID              uuid.UUID
	CompanyID       uuid.UUID
	Label           string
	NormalizedLabel string
	Active          bool
	MentionCount    int
	MergedInto      *uuid.UUID
	CreatedAt       time.Time
}

// GetTagByNormalizedLabel returns the active tag for a normalized label.
func (s *Store) GetTagByNormalizedLabel(ctx context.Context, companyID uuid.UUID, normalized string) (*Tag, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, company_id, label, normalized_label, active, mention_count, merged_into, created_at
		FROM tags
		WHERE company_id = $1 AND normalized_label = $2 AND active`,
		companyID, normalized,
	)

	var t Tag
	err := row.Scan(&t.ID, &t.CompanyID, &t.Label, &t.NormalizedLabel, &t.Active, &t.MentionCount, &t.MergedInto, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, fault.NotFound("tag", normalized)
	}
	if err != nil {
		return nil, fmt.Errorf("get tag by label: %w", err)
	}
	return &t, nil
}

// CreateTag inserts a new active tag. The partial unique index on
// (company_id, normalized_label) makes concurrent identical creates collide;
// on collision the insert is a no-op and inserted is false, so the caller
// re-reads the winner's row.
func (s *Store) CreateTag(ctx context.Context, companyID uuid.UUID, label, normalized string) (uuid.UUID, bool, error) {
	id := uuid.New()
	res, err := s.pool.Exec(ctx, `
		INSERT INTO tags (id, company_id, label, normalized_label, active, mention_count)
		VALUES ($1, $2, $3, $4, true, 0)
		ON CONFLICT (company_id, normalized_label) WHERE active DO NOTHING`,
		id, companyID, label, normalized,
	)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert tag: %w", err)
	}
	return id, res.RowsAffected() == 1, nil
}

// IncrementTagMentions bumps the mention count for a tag.
func (s *Store) IncrementTagMentions(ctx context.Context, tagID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE tags SET mention_count = mention_count + 1 WHERE id = $1`, tagID)
	if err != nil {
		return fmt.Errorf("increment tag mentions: %w", err)
	}
	return nil
}

// ListActiveTags returns all active tags for a company, highest mention
// count first.
func (s *Store) ListActiveTags(ctx context.Context, companyID uuid.UUID) ([]Tag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, label, normalized_label, active, mention_count, merged_into, created_at
		FROM tags
		WHERE company_id = $1 AND active
		ORDER BY mention_count DESC, created_at ASC`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.Label, &t.NormalizedLabel, &t.Active, &t.MentionCount, &t.MergedInto, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tags, nil
}

// MergeTagGroup repoints every feedback and theme reference from the loser
// tags to the survivor, folds their mention counts into the survivor, and
// deactivates the losers. All of it happens in one transaction: a partial
// merge never lands.
func (s *Store) MergeTagGroup(ctx context.Context, survivorID uuid.UUID, loserIDs []uuid.UUID) error {
	if len(loserIDs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Repoint feedback references, dropping rows that would duplicate an
	// existing survivor link.
	if _, err := tx.Exec(ctx, `
		DELETE FROM feedback_tags ft
		WHERE ft.tag_id = ANY($2)
		  AND EXISTS (
			SELECT 1 FROM feedback_tags x
			WHERE x.feedback_id = ft.feedback_id AND x.tag_id = $1
		  )`,
		survivorID, loserIDs,
	); err != nil {
		return fmt.Errorf("drop duplicate feedback links: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE feedback_tags SET tag_id = $1 WHERE tag_id = ANY($2)`,
		survivorID, loserIDs,
	); err != nil {
		return fmt.Errorf("repoint feedback links: %w", err)
	}

	// Same for theme references.
	if _, err := tx.Exec(ctx, `
		DELETE FROM theme_tags tt
		WHERE tt.tag_id = ANY($2)
		  AND EXISTS (
			SELECT 1 FROM theme_tags x
			WHERE x.theme_id = tt.theme_id AND x.tag_id = $1
		  )`,
		survivorID, loserIDs,
	); err != nil {
		return fmt.Errorf("drop duplicate theme links: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE theme_tags SET tag_id = $1 WHERE tag_id = ANY($2)`,
		survivorID, loserIDs,
	); err != nil {
		return fmt.Errorf("repoint theme links: %w", err)
	}

	// Fold mention counts into the survivor.
	if _, err := tx.Exec(ctx, `
		UPDATE tags SET mention_count = mention_count + (
			SELECT COALESCE(SUM(mention_count), 0) FROM tags WHERE id = ANY($2)
		)
		WHERE id = $1`,
		survivorID, loserIDs,
	); err != nil {
		return fmt.Errorf("fold mention counts: %w", err)
	}

	// Deactivate losers and record where they went.
	if _, err := tx.Exec(ctx, `
		UPDATE tags SET active = false, merged_into = $1 WHERE id = ANY($2)`,
		survivorID, loserIDs,
	); err != nil {
		return fmt.Errorf("deactivate losers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}
	return nil
}
