package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type FeedbackItem struct {
	ID             uuid.UUID
	CompanyID      uuid.UUID
	CustomerID     uuid.UUID
	SourceText     string
	Summary        string
	SentimentScore float64
	PriorityScore  int
	TagIDs         []uuid.UUID
	CreatedAt      time.Time
}

// CreateFeedbackItem persists a feedback item and its tag links.
func (s *Store) CreateFeedbackItem(ctx context.Context, item FeedbackItem) (uuid.UUID, error) {
	id := uuid.New()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin feedback tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO feedback_items (id, company_id, customer_id, source_text, summary, sentiment_score, priority_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, item.CompanyID, item.CustomerID, item.SourceText, item.Summary, item.SentimentScore, item.PriorityScore,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert feedback item: %w", err)
	}

	for _, tagID := range item.TagIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO feedback_tags (feedback_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			id, tagID,
		); err != nil {
			return uuid.Nil, fmt.Errorf("link feedback tag: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit feedback tx: %w", err)
	}
	return id, nil
}

// ListFeedbackSince returns feedback for a company created at or after since,
// with tag ids attached, oldest first.
func (s *Store) ListFeedbackSince(ctx context.Context, companyID uuid.UUID, since time.Time) ([]FeedbackItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.id, f.company_id, f.customer_id, f.source_text, f.summary,
		       f.sentiment_score, f.priority_score, f.created_at,
		       COALESCE(array_agg(ft.tag_id) FILTER (WHERE ft.tag_id IS NOT NULL), '{}')
		FROM feedback_items f
		LEFT JOIN feedback_tags ft ON ft.feedback_id = f.id
		WHERE f.company_id = $1 AND f.created_at >= $2
		GROUP BY f.id
		ORDER BY f.created_at ASC`,
		companyID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var items []FeedbackItem
	for rows.Next() {
		var item FeedbackItem
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.CustomerID, &item.SourceText, &item.Summary,
			&item.SentimentScore, &item.PriorityScore, &item.CreatedAt, &item.TagIDs); err != nil {
			return nil, fmt.Errorf("scan feedback item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}
