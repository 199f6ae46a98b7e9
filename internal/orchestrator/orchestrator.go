// Package orchestrator drives the per-item feedback pipeline and the batch
// jobs that fan out over it.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/bus"
	"github.com/brightpath-labs/compass/internal/fault"
	"github.com/brightpath-labs/compass/internal/normalizer"
	"github.com/brightpath-labs/compass/internal/store"
	"github.com/brightpath-labs/compass/internal/understanding"
)

// Analyzer is the slice of the understanding client the orchestrator needs.
type Analyzer interface {
	AnalyzeFeedback(ctx context.Context, text string) (*understanding.Analysis, error)
}

// TagResolver maps raw candidate labels to canonical tag ids.
type TagResolver interface {
	Resolve(ctx context.Context, companyID uuid.UUID, rawLabel string) (uuid.UUID, error)
}

// Store is the persistence slice for per-item processing.
type Store interface {
	CreateFeedbackItem(ctx context.Context, item store.FeedbackItem) (uuid.UUID, error)
}

type Orchestrator struct {
	analyzer Analyzer
	resolver TagResolver
	store    Store
	logger   *slog.Logger
}

func New(analyzer Analyzer, resolver TagResolver, s Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		analyzer: analyzer,
		resolver: resolver,
		store:    s,
		logger:   logger,
	}
}

// TagFailure reports one candidate tag that could not be normalized. The rest
// of the result is still valid.
type TagFailure struct {
	Label string `json:"label"`
	Error string `json:"error"`
}

// ProcessResult is the structured outcome for one survey response.
type ProcessResult struct {
	FeedbackID     uuid.UUID               `json:"feedback_id"`
	Summary        string                  `json:"summary"`
	Sentiment      understanding.Sentiment `json:"sentiment"`
	TagIDs         []uuid.UUID             `json:"tag_ids"`
	NormalizedTags []string                `json:"normalized_tags"`
	PriorityScore  int                     `json:"priority_score"`
	TagFailures    []TagFailure            `json:"tag_failures,omitempty"`
}

// ProcessSurveyResponse runs one feedback text through understanding, tag
// normalization, and persistence. Individual tag failures are collected into
// the result rather than aborting the item.
func (o *Orchestrator) ProcessSurveyResponse(ctx context.Context, companyID, customerID uuid.UUID, responseID, text string) (*ProcessResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fault.Validationf("empty feedback text for response %s", responseID)
	}

	analysis, err := o.analyzer.AnalyzeFeedback(ctx, text)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{
		Summary:       analysis.Summary,
		Sentiment:     analysis.Sentiment,
		PriorityScore: priorityScore(analysis.Sentiment.Score, analysis.Urgency),
	}

	seen := make(map[uuid.UUID]struct{})
	for _, label := range analysis.CandidateTags {
		tagID, err := o.resolver.Resolve(ctx, companyID, label)
		if err != nil {
			o.logger.Warn("candidate tag skipped",
				"response_id", responseID, "label", label, "error", err)
			result.TagFailures = append(result.TagFailures, TagFailure{Label: label, Error: err.Error()})
			continue
		}
		if _, dup := seen[tagID]; dup {
			continue
		}
		seen[tagID] = struct{}{}
		result.TagIDs = append(result.TagIDs, tagID)
		result.NormalizedTags = append(result.NormalizedTags, normalizer.Normalize(label))
	}

	id, err := o.store.CreateFeedbackItem(ctx, store.FeedbackItem{
		CompanyID:      companyID,
		CustomerID:     customerID,
		SourceText:     text,
		Summary:        analysis.Summary,
		SentimentScore: analysis.Sentiment.Score,
		PriorityScore:  result.PriorityScore,
		TagIDs:         result.TagIDs,
	})
	if err != nil {
		return nil, err
	}
	result.FeedbackID = id

	o.logger.Info("survey response processed",
		"response_id", responseID,
		"feedback_id", id,
		"tags", len(result.TagIDs),
		"tag_failures", len(result.TagFailures),
		"priority", result.PriorityScore,
	)
	return result, nil
}

// priorityScore folds sentiment magnitude and the optional urgency signal
// into 0..100. Strong feelings rank high regardless of polarity; urgency,
// when the understanding service reports it, dominates.
func priorityScore(sentiment float64, urgency *float64) int {
	magnitude := math.Abs(sentiment)
	score := 60 * magnitude
	if urgency != nil {
		score = 40*magnitude + 60**urgency
	}
	p := int(math.Round(score))
	if p > 100 {
		p = 100
	}
	return p
}

// HandleFeedbackReceived is the NATS handler for compass.feedback.received.
func (o *Orchestrator) HandleFeedbackReceived(subject string, data []byte) {
	ctx := context.Background()

	var evt bus.FeedbackReceivedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		o.logger.Error("failed to parse feedback event", "error", err)
		return
	}

	companyID, err := uuid.Parse(evt.CompanyID)
	if err != nil {
		o.logger.Error("invalid company id", "company_id", evt.CompanyID, "error", err)
		return
	}
	customerID, err := uuid.Parse(evt.CustomerID)
	if err != nil {
		o.logger.Error("invalid customer id", "customer_id", evt.CustomerID, "error", err)
		return
	}

	if _, err := o.ProcessSurveyResponse(ctx, companyID, customerID, evt.ResponseID, evt.Text); err != nil {
		o.logger.Error("feedback processing failed",
			"response_id", evt.ResponseID, "error", err)
	}
}
