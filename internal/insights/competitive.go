package insights

import (
	"fmt"
	"sort"
	"strings"

	"github.com/brightpath-labs/compass/internal/normalizer"
	"github.com/brightpath-labs/compass/internal/store"
)

// ThreatLevel classifies a competitor's pressure on the company.
type ThreatLevel string

const (
	ThreatCritical ThreatLevel = "critical"
	ThreatHigh     ThreatLevel = "high"
	ThreatMedium   ThreatLevel = "medium"
	ThreatLow      ThreatLevel = "low"
)

// CompetitiveAssessment is the verdict for one named competitor.
type CompetitiveAssessment struct {
	Competitor   string      `json:"competitor"`
	ThreatLevel  ThreatLevel `json:"threat_level"`
	MentionCount int         `json:"mention_count"`
	AvgSentiment float64     `json:"avg_sentiment"`
	Rationale    string      `json:"rationale"`
}

// AnalyzeCompetitors maps each competitor named in the strategy to a threat
// level from how often feedback mentions them and how negative the
// surrounding sentiment toward us is. Pure over the snapshots.
func AnalyzeCompetitors(strategy store.Strategy, feedback []store.FeedbackItem) []CompetitiveAssessment {
	var out []CompetitiveAssessment
	for _, comp := range strategy.Competitors {
		norm := " " + normalizer.Normalize(comp) + " "

		mentions := 0
		var sentimentSum float64
		for _, item := range feedback {
			text := " " + normalizer.Normalize(item.SourceText+" "+item.Summary) + " "
			if strings.Contains(text, norm) {
				mentions++
				sentimentSum += item.SentimentScore
			}
		}

		avg := 0.0
		if mentions > 0 {
			avg = sentimentSum / float64(mentions)
		}
		level := threatLevel(mentions, avg)
		out = append(out, CompetitiveAssessment{
			Competitor:   comp,
			ThreatLevel:  level,
			MentionCount: mentions,
			AvgSentiment: avg,
			Rationale:    rationale(comp, mentions, avg),
		})
	}

	// critical > high > medium > low, stable by mention count within a tier.
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := threatRank(out[i].ThreatLevel), threatRank(out[j].ThreatLevel)
		if ri != rj {
			return ri > rj
		}
		return out[i].MentionCount > out[j].MentionCount
	})
	return out
}

// threatLevel weights mention volume by how negative the sentiment toward us
// is in those mentions. Negative sentiment amplifies; positive dampens.
func threatLevel(mentions int, avgSentiment float64) ThreatLevel {
	pressure := float64(mentions) * (1 - avgSentiment)
	switch {
	case pressure >= 20:
		return ThreatCritical
	case pressure >= 10:
		return ThreatHigh
	case pressure >= 4:
		return ThreatMedium
	default:
		return ThreatLow
	}
}

func threatRank(l ThreatLevel) int {
	switch l {
	case ThreatCritical:
		return 4
	case ThreatHigh:
		return 3
	case ThreatMedium:
		return 2
	case ThreatLow:
		return 1
	default:
		return 0
	}
}

func rationale(comp string, mentions int, avg float64) string {
	if mentions == 0 {
		return fmt.Sprintf("%s is not referenced in recent feedback.", comp)
	}
	tone := "neutral"
	if avg <= -0.2 {
		tone = "negative"
	} else if avg >= 0.2 {
		tone = "positive"
	}
	return fmt.Sprintf("%d feedback mentions of %s with %s sentiment toward us (avg %.2f).",
		mentions, comp, tone, avg)
}
