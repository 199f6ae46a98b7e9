// Package alignment scores themes against the active company strategy.
package alignment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/normalizer"
	"github.com/brightpath-labs/compass/internal/store"
	"github.com/brightpath-labs/compass/internal/understanding"
)

const (
	problemBonus      = 10
	problemPenalty    = 15
	competitorPenalty = 10

	// problemMatchRatio is the share of a problem entry's tokens that must
	// appear in the theme text for a semantic match.
	problemMatchRatio = 0.5
)

// Result is the outcome of scoring one theme against one strategy.
type Result struct {
	ThemeID            uuid.UUID      `json:"theme_id"`
	AlignmentScore     int            `json:"alignment_score"`
	FinalPriorityScore int            `json:"final_priority_score"`
	Reasoning          string         `json:"reasoning"`
	MatchedKeywords    []string       `json:"matched_keywords"`
	Conflicts          []string       `json:"conflicts"`
	Opportunities      []string       `json:"opportunities"`
	Recommendation     Recommendation `json:"recommendation"`
}

// Score computes the deterministic part of an alignment result. Reasoning
// prose is filled in separately; Score never touches the network.
func Score(theme store.Theme, strategy store.Strategy) Result {
	text := normalizer.Normalize(theme.Name + " " + theme.Description)
	tokens := tokenSet(text)

	r := Result{ThemeID: theme.ID}

	// Keyword overlap, saturated so no single keyword dominates.
	var weightSum float64
	for _, kw := range strategy.Keywords {
		if matchesText(text, tokens, kw.Keyword) {
			weightSum += kw.Weight
			r.MatchedKeywords = append(r.MatchedKeywords, kw.Keyword)
		}
	}
	score := 50 + 50*math.Tanh(1.5*weightSum)

	// Problem-statement matches.
	for _, p := range strategy.ProblemsWeSolve {
		if problemMatches(tokens, p) {
			score += problemBonus
			r.Opportunities = append(r.Opportunities, p)
		}
	}
	for _, p := range strategy.ProblemsWeDontSolve {
		if problemMatches(tokens, p) {
			score -= problemPenalty
			r.Conflicts = append(r.Conflicts, "outside stated scope: "+p)
		}
	}

	// Competitor-named conflicts.
	for _, comp := range strategy.Competitors {
		if matchesText(text, tokens, comp) {
			score -= competitorPenalty
			r.Conflicts = append(r.Conflicts, "references competitor: "+comp)
		}
	}

	r.AlignmentScore = clampScore(score)
	r.FinalPriorityScore = FinalPriority(theme.PriorityScore, r.AlignmentScore)
	r.Recommendation = Recommend(r.AlignmentScore, theme.PriorityScore)
	sort.Strings(r.Conflicts)
	sort.Strings(r.Opportunities)
	return r
}

func clampScore(s float64) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return int(math.Round(s))
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		set[w] = struct{}{}
	}
	return set
}

// matchesText checks a keyword (possibly multi-word) against the theme text.
func matchesText(text string, tokens map[string]struct{}, keyword string) bool {
	norm := normalizer.Normalize(keyword)
	if norm == "" {
		return false
	}
	if !strings.Contains(norm, " ") {
		_, ok := tokens[norm]
		return ok
	}
	return strings.Contains(" "+text+" ", " "+norm+" ")
}

// problemMatches checks whether enough of a problem entry's tokens appear in
// the theme text.
func problemMatches(themeTokens map[string]struct{}, problem string) bool {
	probTokens := strings.Fields(normalizer.Normalize(problem))
	if len(probTokens) == 0 {
		return false
	}
	hits := 0
	for _, tok := range probTokens {
		if len(tok) < 3 {
			continue // skip stopword-length tokens
		}
		if _, ok := themeTokens[tok]; ok {
			hits++
		}
	}
	significant := 0
	for _, tok := range probTokens {
		if len(tok) >= 3 {
			significant++
		}
	}
	if significant == 0 {
		return false
	}
	return float64(hits)/float64(significant) >= problemMatchRatio
}

// BuildPayload assembles the deterministic prompt payload the understanding
// service turns into reasoning prose.
func BuildPayload(theme store.Theme, strategy store.Strategy, r Result) understanding.ReasoningPayload {
	return understanding.ReasoningPayload{
		ThemeName:        theme.Name,
		ThemeDescription: theme.Description,
		AlignmentScore:   r.AlignmentScore,
		MatchedKeywords:  r.MatchedKeywords,
		Conflicts:        r.Conflicts,
		Opportunities:    r.Opportunities,
		TargetCustomer:   strategy.TargetCustomer,
	}
}

// FallbackReasoning assembles a plain-text justification from the match
// facts, used when the understanding service cannot produce prose.
func FallbackReasoning(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alignment %d/100.", r.AlignmentScore)
	if len(r.MatchedKeywords) > 0 {
		fmt.Fprintf(&b, " Matched strategic keywords: %s.", strings.Join(r.MatchedKeywords, ", "))
	} else {
		b.WriteString(" No strategic keywords matched.")
	}
	if len(r.Opportunities) > 0 {
		fmt.Fprintf(&b, " Supports: %s.", strings.Join(r.Opportunities, "; "))
	}
	if len(r.Conflicts) > 0 {
		fmt.Fprintf(&b, " Conflicts: %s.", strings.Join(r.Conflicts, "; "))
	}
	return b.String()
}

// Reasoner produces alignment prose from a structured payload.
type Reasoner interface {
	AlignmentReasoning(ctx context.Context, payload understanding.ReasoningPayload) (string, error)
}

// ScoreStore is the slice of persistence the scorer needs.
type ScoreStore interface {
	GetThemeByID(ctx context.Context, id uuid.UUID) (*store.Theme, error)
	GetActiveStrategy(ctx context.Context, companyID uuid.UUID) (*store.Strategy, error)
	UpdateThemeAlignment(ctx context.Context, themeID uuid.UUID, alignmentScore, finalPriority int, recommendation, reasoning string) error
}

type Scorer struct {
	store    ScoreStore
	reasoner Reasoner
	logger   *slog.Logger
}

func NewScorer(s ScoreStore, reasoner Reasoner, logger *slog.Logger) *Scorer {
	return &Scorer{store: s, reasoner: reasoner, logger: logger}
}

// ScoreTheme scores one theme against a given strategy and persists the
// result. The deterministic numbers always land; reasoning prose is
// best-effort and falls back to an assembled summary when the understanding
// service fails.
func (sc *Scorer) ScoreTheme(ctx context.Context, theme store.Theme, strategy store.Strategy) (*Result, error) {
	r := Score(theme, strategy)

	r.Reasoning = FallbackReasoning(r)
	if sc.reasoner != nil {
		prose, err := sc.reasoner.AlignmentReasoning(ctx, BuildPayload(theme, strategy, r))
		if err != nil {
			sc.logger.Warn("alignment reasoning unavailable, using fallback",
				"theme_id", theme.ID, "error", err)
		} else {
			r.Reasoning = prose
		}
	}

	if err := sc.store.UpdateThemeAlignment(ctx, theme.ID, r.AlignmentScore, r.FinalPriorityScore, string(r.Recommendation), r.Reasoning); err != nil {
		return nil, fmt.Errorf("persist alignment: %w", err)
	}

	sc.logger.Info("theme scored",
		"theme_id", theme.ID,
		"alignment_score", r.AlignmentScore,
		"final_priority", r.FinalPriorityScore,
		"recommendation", string(r.Recommendation),
	)
	return &r, nil
}

// ScoreThemeByID resolves the theme and its company's active strategy, then
// scores. A missing active strategy is fatal for the call.
func (sc *Scorer) ScoreThemeByID(ctx context.Context, themeID uuid.UUID) (*Result, error) {
	theme, err := sc.store.GetThemeByID(ctx, themeID)
	if err != nil {
		return nil, err
	}
	strategy, err := sc.store.GetActiveStrategy(ctx, theme.CompanyID)
	if err != nil {
		return nil, err
	}
	return sc.ScoreTheme(ctx, *theme, *strategy)
}
