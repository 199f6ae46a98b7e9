// Package themes clusters tagged feedback into recurring themes.
package themes

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/store"
)

const (
	// DefaultMinSupport is the minimum number of feedback items sharing a
	// tag set before it becomes a theme.
	DefaultMinSupport = 3

	// recencyHalfLife halves a mention's weight in the priority score for
	// every week of age.
	recencyHalfLife = 7 * 24 * time.Hour

	// trendBand is the relative change below which a theme counts as flat.
	trendBand = 0.2
)

// Options tunes a discovery run.
type Options struct {
	MinSupport int
	Now        time.Time
	Window     time.Duration // length of the current period; prior period is the one before it
}

func (o Options) withDefaults() Options {
	if o.MinSupport <= 0 {
		o.MinSupport = DefaultMinSupport
	}
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
	if o.Window <= 0 {
		o.Window = 7 * 24 * time.Hour
	}
	return o
}

// Candidate is a discovered theme before persistence.
type Candidate struct {
	TagIDs             []uuid.UUID
	TagSetKey          string
	Name               string
	Description        string
	FeedbackIDs        []uuid.UUID
	CustomerCount      int
	MentionCount       int
	AvgSentiment       float64
	PriorityScore      int
	Trend              string
	WeekOverWeekChange float64
}

// TagSetKey canonicalizes a tag-id set into a stable string key.
func TagSetKey(tagIDs []uuid.UUID) string {
	keys := make([]string, len(tagIDs))
	for i, id := range tagIDs {
		keys[i] = id.String()
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// Discover groups the current period's feedback by co-occurring tag set and
// returns the sets with enough support as theme candidates. Pure: it mutates
// neither input slice. prior is the previous period's feedback, used only for
// trend comparison.
func Discover(current, prior []store.FeedbackItem, tagsByID map[uuid.UUID]store.Tag, opts Options) []Candidate {
	opts = opts.withDefaults()

	currentGroups := groupByTagSet(current)
	priorGroups := groupByTagSet(prior)

	var out []Candidate
	for key, items := range currentGroups {
		if len(items) < opts.MinSupport {
			continue
		}

		c := Candidate{
			TagSetKey:    key,
			TagIDs:       items[0].TagIDs,
			MentionCount: len(items),
		}

		customers := make(map[uuid.UUID]struct{})
		var sentimentSum, weightedMentions float64
		for _, item := range items {
			c.FeedbackIDs = append(c.FeedbackIDs, item.ID)
			customers[item.CustomerID] = struct{}{}
			sentimentSum += item.SentimentScore
			weightedMentions += recencyWeight(opts.Now.Sub(item.CreatedAt))
		}
		c.CustomerCount = len(customers)
		c.AvgSentiment = sentimentSum / float64(len(items))
		c.PriorityScore = priorityScore(weightedMentions, c.CustomerCount, c.AvgSentiment)
		c.Trend, c.WeekOverWeekChange = trend(len(items), len(priorGroups[key]))
		c.Name, c.Description = describe(c, tagsByID)

		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		return out[i].TagSetKey < out[j].TagSetKey
	})
	return out
}

func groupByTagSet(items []store.FeedbackItem) map[string][]store.FeedbackItem {
	groups := make(map[string][]store.FeedbackItem)
	for _, item := range items {
		if len(item.TagIDs) == 0 {
			continue
		}
		groups[TagSetKey(item.TagIDs)] = append(groups[TagSetKey(item.TagIDs)], item)
	}
	return groups
}

// recencyWeight decays a mention's contribution exponentially with age.
func recencyWeight(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Exp2(-float64(age) / float64(recencyHalfLife))
}

// priorityScore blends engagement volume, customer breadth and sentiment
// intensity into 0..100. Each component saturates so no single signal
// dominates.
func priorityScore(weightedMentions float64, customerCount int, avgSentiment float64) int {
	mentions := saturate(weightedMentions / 20)
	customers := saturate(float64(customerCount) / 10)
	intensity := math.Abs(avgSentiment)

	return int(math.Round(40*mentions + 30*customers + 30*intensity))
}

func saturate(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < 0 {
		return 0
	}
	return x
}

// trend compares the current period's mentions against the prior period's.
func trend(current, prior int) (string, float64) {
	if prior == 0 {
		if current > 0 {
			return "rising", 100
		}
		return "flat", 0
	}
	change := float64(current-prior) / float64(prior)
	pct := math.Round(change * 1000) / 10
	switch {
	case change >= trendBand:
		return "rising", pct
	case change <= -trendBand:
		return "falling", pct
	default:
		return "flat", pct
	}
}

func describe(c Candidate, tagsByID map[uuid.UUID]store.Tag) (string, string) {
	labels := make([]string, 0, len(c.TagIDs))
	for _, id := range c.TagIDs {
		if tag, ok := tagsByID[id]; ok {
			labels = append(labels, tag.Label)
		}
	}
	sort.Strings(labels)
	if len(labels) == 0 {
		labels = []string{"untagged"}
	}

	name := strings.Join(labels, " + ")
	desc := fmt.Sprintf("Recurring feedback about %s: %d mentions from %d customers.",
		strings.Join(labels, ", "), c.MentionCount, c.CustomerCount)
	return name, desc
}

// Store is the slice of persistence the engine needs.
type Store interface {
	ListFeedbackSince(ctx context.Context, companyID uuid.UUID, since time.Time) ([]store.FeedbackItem, error)
	ListActiveTags(ctx context.Context, companyID uuid.UUID) ([]store.Tag, error)
	UpsertTheme(ctx context.Context, theme store.Theme) (uuid.UUID, error)
}

// Publisher emits pipeline events. May be nil.
type Publisher interface {
	Publish(subject string, data any) error
}

type Engine struct {
	store  Store
	bus    Publisher
	opts   Options
	logger *slog.Logger
}

func NewEngine(s Store, bus Publisher, opts Options, logger *slog.Logger) *Engine {
	return &Engine{store: s, bus: bus, opts: opts.withDefaults(), logger: logger}
}

// Result summarises a discovery run.
type Result struct {
	Scanned    int         `json:"feedback_scanned"`
	Discovered int         `json:"themes_discovered"`
	ThemeIDs   []uuid.UUID `json:"theme_ids"`
}

// DiscoverThemes scans the last two periods of feedback, derives candidates
// from the current one, and upserts them keyed by tag set.
func (e *Engine) DiscoverThemes(ctx context.Context, companyID uuid.UUID) (*Result, error) {
	opts := e.opts
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	since := opts.Now.Add(-2 * opts.Window)
	items, err := e.store.ListFeedbackSince(ctx, companyID, since)
	if err != nil {
		return nil, err
	}

	cutoff := opts.Now.Add(-opts.Window)
	var current, prior []store.FeedbackItem
	for _, item := range items {
		if item.CreatedAt.Before(cutoff) {
			prior = append(prior, item)
		} else {
			current = append(current, item)
		}
	}

	tags, err := e.store.ListActiveTags(ctx, companyID)
	if err != nil {
		return nil, err
	}
	tagsByID := make(map[uuid.UUID]store.Tag, len(tags))
	for _, t := range tags {
		tagsByID[t.ID] = t
	}

	candidates := Discover(current, prior, tagsByID, opts)
	result := &Result{Scanned: len(items), Discovered: len(candidates)}

	for _, c := range candidates {
		id, err := e.store.UpsertTheme(ctx, store.Theme{
			CompanyID:          companyID,
			Name:               c.Name,
			Description:        c.Description,
			TagSetKey:          c.TagSetKey,
			TagIDs:             c.TagIDs,
			FeedbackIDs:        c.FeedbackIDs,
			CustomerCount:      c.CustomerCount,
			MentionCount:       c.MentionCount,
			AvgSentiment:       c.AvgSentiment,
			PriorityScore:      c.PriorityScore,
			Trend:              c.Trend,
			WeekOverWeekChange: c.WeekOverWeekChange,
		})
		if err != nil {
			return nil, fmt.Errorf("save theme %q: %w", c.Name, err)
		}
		result.ThemeIDs = append(result.ThemeIDs, id)

		if e.bus != nil {
			if err := e.bus.Publish("compass.theme.discovered", map[string]any{
				"theme_id":       id,
				"name":           c.Name,
				"priority_score": c.PriorityScore,
				"trend":          c.Trend,
			}); err != nil {
				e.logger.Warn("failed to publish theme event", "error", err)
			}
		}
	}

	e.logger.Info("theme discovery complete",
		"company_id", companyID,
		"feedback_scanned", len(items),
		"themes", len(candidates),
	)
	return result, nil
}
