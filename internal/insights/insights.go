// Package insights aggregates scored themes into strategic insights,
// competitive assessments and the weekly report.
package insights

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/normalizer"
	"github.com/brightpath-labs/compass/internal/store"
)

type Type string

const (
	TypeOpportunity Type = "opportunity"
	TypeRisk        Type = "risk"
	TypeTrend       Type = "trend"
	TypeGap         Type = "gap"
)

// Insight is one generated finding. Insights are computed fresh per report
// request and not persisted by the pipeline itself.
type Insight struct {
	Type            Type        `json:"type"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	ImpactScore     int         `json:"impact_score"`
	ConfidenceScore int         `json:"confidence_score"`
	ThemeIDs        []uuid.UUID `json:"theme_ids,omitempty"`
	EvidenceAt      time.Time   `json:"evidence_at"`
}

const (
	// coverageMinMentions is how much theme signal a stated problem needs
	// before it stops counting as a gap.
	coverageMinMentions = 3

	// materialGrowthPct is the week-over-week growth that makes a trend
	// insight.
	materialGrowthPct = 50.0

	highAlignment = 70
	lowAlignment  = 50
	highPriority  = 70
)

// Generate derives insights from scored themes and the active strategy.
// Pure: inputs are read-only snapshots.
func Generate(themes []store.Theme, strategy store.Strategy, now time.Time) []Insight {
	var out []Insight
	out = append(out, gaps(themes, strategy, now)...)
	out = append(out, opportunities(themes)...)
	out = append(out, risks(themes)...)
	out = append(out, trends(themes)...)

	// Present by mean of impact and confidence, newest evidence first on
	// ties.
	sort.SliceStable(out, func(i, j int) bool {
		mi := out[i].ImpactScore + out[i].ConfidenceScore
		mj := out[j].ImpactScore + out[j].ConfidenceScore
		if mi != mj {
			return mi > mj
		}
		return out[i].EvidenceAt.After(out[j].EvidenceAt)
	})
	return out
}

// gaps flags stated problems with no meaningful supporting theme.
func gaps(themes []store.Theme, strategy store.Strategy, now time.Time) []Insight {
	var out []Insight
	for _, problem := range strategy.ProblemsWeSolve {
		covered := false
		for _, th := range themes {
			if th.MentionCount >= coverageMinMentions && themeMentionsProblem(th, problem) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		out = append(out, Insight{
			Type:            TypeGap,
			Title:           "No customer signal for: " + problem,
			Description:     "The strategy claims this problem but no theme supports it with meaningful feedback volume.",
			ImpactScore:     65,
			ConfidenceScore: 80,
			EvidenceAt:      now,
		})
	}
	return out
}

func opportunities(themes []store.Theme) []Insight {
	var out []Insight
	for _, th := range themes {
		if th.AlignmentScore == nil || *th.AlignmentScore < highAlignment || th.Trend != "rising" {
			continue
		}
		impact := th.PriorityScore
		if th.FinalPriorityScore != nil {
			impact = *th.FinalPriorityScore
		}
		out = append(out, Insight{
			Type:            TypeOpportunity,
			Title:           "Rising on-strategy demand: " + th.Name,
			Description:     th.Description,
			ImpactScore:     impact,
			ConfidenceScore: confidenceFromVolume(th.MentionCount),
			ThemeIDs:        []uuid.UUID{th.ID},
			EvidenceAt:      th.UpdatedAt,
		})
	}
	return out
}

func risks(themes []store.Theme) []Insight {
	var out []Insight
	for _, th := range themes {
		if th.AlignmentScore == nil || *th.AlignmentScore >= lowAlignment || th.PriorityScore < highPriority {
			continue
		}
		out = append(out, Insight{
			Type:            TypeRisk,
			Title:           "High customer priority conflicts with strategy: " + th.Name,
			Description:     th.Description,
			ImpactScore:     th.PriorityScore,
			ConfidenceScore: confidenceFromBreadth(th.CustomerCount),
			ThemeIDs:        []uuid.UUID{th.ID},
			EvidenceAt:      th.UpdatedAt,
		})
	}
	return out
}

func trends(themes []store.Theme) []Insight {
	var out []Insight
	for _, th := range themes {
		if th.WeekOverWeekChange < materialGrowthPct {
			continue
		}
		impact := int(th.WeekOverWeekChange / 2)
		if impact > 100 {
			impact = 100
		}
		out = append(out, Insight{
			Type:            TypeTrend,
			Title:           "Mentions growing fast: " + th.Name,
			Description:     th.Description,
			ImpactScore:     impact,
			ConfidenceScore: confidenceFromVolume(th.MentionCount),
			ThemeIDs:        []uuid.UUID{th.ID},
			EvidenceAt:      th.UpdatedAt,
		})
	}
	return out
}

func confidenceFromVolume(mentions int) int {
	c := 50 + mentions*2
	if c > 95 {
		c = 95
	}
	return c
}

func confidenceFromBreadth(customers int) int {
	c := 60 + customers*3
	if c > 90 {
		c = 90
	}
	return c
}

func themeMentionsProblem(th store.Theme, problem string) bool {
	text := " " + normalizer.Normalize(th.Name+" "+th.Description) + " "
	tokens := strings.Fields(normalizer.Normalize(problem))
	if len(tokens) == 0 {
		return false
	}
	hits := 0
	significant := 0
	for _, tok := range tokens {
		if len(tok) < 3 {
			continue
		}
		significant++
		if strings.Contains(text, " "+tok+" ") {
			hits++
		}
	}
	if significant == 0 {
		return false
	}
	return float64(hits)/float64(significant) >= 0.5
}
