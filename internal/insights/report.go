package insights

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/store"
)

// WeeklyReport is the read-side snapshot composed for a company. It carries
// no persisted side effects; callers store it if they want history.
type WeeklyReport struct {
	CompanyID    uuid.UUID               `json:"company_id"`
	GeneratedAt  time.Time               `json:"generated_at"`
	ThemeCount   int                     `json:"theme_count"`
	ScoredThemes int                     `json:"scored_themes"`
	Insights     []Insight               `json:"insights"`
	Competitors  []CompetitiveAssessment `json:"competitors"`
}

// Store is the slice of persistence the reporter reads from.
type Store interface {
	ListThemes(ctx context.Context, companyID uuid.UUID) ([]store.Theme, error)
	GetActiveStrategy(ctx context.Context, companyID uuid.UUID) (*store.Strategy, error)
	ListFeedbackSince(ctx context.Context, companyID uuid.UUID, since time.Time) ([]store.FeedbackItem, error)
}

type Reporter struct {
	store  Store
	window time.Duration
	logger *slog.Logger
}

func NewReporter(s Store, logger *slog.Logger) *Reporter {
	return &Reporter{store: s, window: 28 * 24 * time.Hour, logger: logger}
}

// GenerateInsights scans scored themes against the active strategy.
func (r *Reporter) GenerateInsights(ctx context.Context, companyID uuid.UUID) ([]Insight, error) {
	themes, err := r.store.ListThemes(ctx, companyID)
	if err != nil {
		return nil, err
	}
	strategy, err := r.store.GetActiveStrategy(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return Generate(themes, *strategy, time.Now().UTC()), nil
}

// AnalyzeCompetitivePositioning assesses each named competitor over the
// recent feedback window.
func (r *Reporter) AnalyzeCompetitivePositioning(ctx context.Context, companyID uuid.UUID) ([]CompetitiveAssessment, error) {
	strategy, err := r.store.GetActiveStrategy(ctx, companyID)
	if err != nil {
		return nil, err
	}
	feedback, err := r.store.ListFeedbackSince(ctx, companyID, time.Now().UTC().Add(-r.window))
	if err != nil {
		return nil, err
	}
	return AnalyzeCompetitors(*strategy, feedback), nil
}

// GenerateWeeklyReport composes insights and competitive positioning into one
// timestamped snapshot.
func (r *Reporter) GenerateWeeklyReport(ctx context.Context, companyID uuid.UUID) (*WeeklyReport, error) {
	now := time.Now().UTC()

	themes, err := r.store.ListThemes(ctx, companyID)
	if err != nil {
		return nil, err
	}
	strategy, err := r.store.GetActiveStrategy(ctx, companyID)
	if err != nil {
		return nil, err
	}
	feedback, err := r.store.ListFeedbackSince(ctx, companyID, now.Add(-r.window))
	if err != nil {
		return nil, err
	}

	scored := 0
	for _, th := range themes {
		if th.AlignmentScore != nil {
			scored++
		}
	}

	report := &WeeklyReport{
		CompanyID:    companyID,
		GeneratedAt:  now,
		ThemeCount:   len(themes),
		ScoredThemes: scored,
		Insights:     Generate(themes, *strategy, now),
		Competitors:  AnalyzeCompetitors(*strategy, feedback),
	}

	r.logger.Info("weekly report generated",
		"company_id", companyID,
		"themes", report.ThemeCount,
		"insights", len(report.Insights),
		"competitors", len(report.Competitors),
	)
	return report, nil
}
