package alignment

// Recommendation is the action category derived from alignment and customer
// priority.
type Recommendation string

const (
	HighPriority       Recommendation = "high_priority"
	MediumPriority     Recommendation = "medium_priority"
	LowPriority        Recommendation = "low_priority"
	ExploreLightweight Recommendation = "explore_lightweight"
	OffStrategy        Recommendation = "off_strategy"
	NeedsReview        Recommendation = "needs_review"
)

// Recommend maps (alignment_score, priority_score) onto a recommendation.
// A high customer signal that conflicts with strategy is never silently
// dropped: low alignment with priority >= 80 goes to review instead of
// off_strategy.
func Recommend(alignmentScore, priorityScore int) Recommendation {
	switch {
	case alignmentScore >= 70 && priorityScore >= 70:
		return HighPriority
	case alignmentScore >= 70:
		return MediumPriority
	case alignmentScore >= 50 && priorityScore >= 60:
		return LowPriority
	case alignmentScore >= 50:
		return ExploreLightweight
	case priorityScore >= 80:
		return NeedsReview
	default:
		return OffStrategy
	}
}

// FinalPriority discounts the customer-signal priority by the alignment
// score: round(priority * alignment / 100).
func FinalPriority(priorityScore, alignmentScore int) int {
	return (priorityScore*alignmentScore + 50) / 100
}
