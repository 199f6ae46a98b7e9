// Package dedup finds and merges near-duplicate canonical tags.
package dedup

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/store"
)

// DefaultThreshold is the similarity above which two tags are duplicates.
const DefaultThreshold = 0.85

// TagStore is the slice of the persistence layer the detector needs.
type TagStore interface {
	ListActiveTags(ctx context.Context, companyID uuid.UUID) ([]store.Tag, error)
	MergeTagGroup(ctx context.Context, survivorID uuid.UUID, loserIDs []uuid.UUID) error
}

// Publisher emits pipeline events. May be nil.
type Publisher interface {
	Publish(subject string, data any) error
}

// Group is one set of duplicate tags with its chosen survivor.
type Group struct {
	SurvivorID uuid.UUID   `json:"survivor_id"`
	LoserIDs   []uuid.UUID `json:"loser_ids"`
	Labels     []string    `json:"labels"`
}

// CleanupResult summarises a cleanup run.
type CleanupResult struct {
	Groups     int     `json:"groups"`
	TagsMerged int     `json:"tags_merged"`
	WouldMerge int     `json:"would_merge"`
	Failed     int     `json:"failed_groups"`
	Threshold  float64 `json:"threshold"`
	Execute    bool    `json:"execute"`
	Details    []Group `json:"details,omitempty"`
}

type Detector struct {
	tags      TagStore
	bus       Publisher
	threshold float64
	logger    *slog.Logger
}

func New(tags TagStore, bus Publisher, threshold float64, logger *slog.Logger) *Detector {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Detector{tags: tags, bus: bus, threshold: threshold, logger: logger}
}

// GroupDuplicates greedily clusters tags into duplicate groups. Tags are
// processed in descending mention-count order; each tag joins the first
// existing group whose representative (its first member) exceeds the
// threshold, otherwise it starts its own group. Only groups of two or more
// come back, so every returned group is mergeable, and a tag appears in at
// most one group.
func GroupDuplicates(tags []store.Tag, threshold float64) [][]store.Tag {
	ordered := make([]store.Tag, len(tags))
	copy(ordered, tags)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].MentionCount != ordered[j].MentionCount {
			return ordered[i].MentionCount > ordered[j].MentionCount
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	var groups [][]store.Tag
	for _, tag := range ordered {
		placed := false
		for i := range groups {
			rep := groups[i][0]
			if Similarity(rep.NormalizedLabel, tag.NormalizedLabel) > threshold {
				groups[i] = append(groups[i], tag)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []store.Tag{tag})
		}
	}

	var duplicates [][]store.Tag
	for _, g := range groups {
		if len(g) >= 2 {
			duplicates = append(duplicates, g)
		}
	}
	return duplicates
}

// DetectDuplicates scans a company's active tags and returns the duplicate
// groups without merging anything.
func (d *Detector) DetectDuplicates(ctx context.Context, companyID uuid.UUID) ([]Group, error) {
	tags, err := d.tags.ListActiveTags(ctx, companyID)
	if err != nil {
		return nil, err
	}
	var out []Group
	for _, g := range GroupDuplicates(tags, d.threshold) {
		out = append(out, toGroup(g))
	}
	return out, nil
}

// RunCleanup merges every detected duplicate group. Each group merges in its
// own transaction; one group's failure doesn't stop the rest.
func (d *Detector) RunCleanup(ctx context.Context, companyID uuid.UUID, execute bool) (*CleanupResult, error) {
	tags, err := d.tags.ListActiveTags(ctx, companyID)
	if err != nil {
		return nil, err
	}

	groups := GroupDuplicates(tags, d.threshold)
	result := &CleanupResult{
		Groups:    len(groups),
		Threshold: d.threshold,
		Execute:   execute,
	}

	d.logger.Info("duplicate cleanup starting",
		"company_id", companyID,
		"active_tags", len(tags),
		"groups", len(groups),
		"execute", execute,
	)

	for _, g := range groups {
		detail := toGroup(g)
		if !execute {
			// Dry run: report what a real run would merge, never as merged.
			result.WouldMerge += len(detail.LoserIDs)
			result.Details = append(result.Details, detail)
			continue
		}
		if err := d.tags.MergeTagGroup(ctx, detail.SurvivorID, detail.LoserIDs); err != nil {
			d.logger.Error("merge failed", "survivor", detail.SurvivorID, "losers", detail.LoserIDs, "error", err)
			result.Failed++
			continue
		}
		if d.bus != nil {
			if err := d.bus.Publish("compass.tags.merged", detail); err != nil {
				d.logger.Warn("failed to publish merge event", "error", err)
			}
		}
		result.TagsMerged += len(detail.LoserIDs)
		result.Details = append(result.Details, detail)
	}

	d.logger.Info("duplicate cleanup complete",
		"company_id", companyID,
		"tags_merged", result.TagsMerged,
		"would_merge", result.WouldMerge,
		"failed_groups", result.Failed,
	)
	return result, nil
}

// toGroup picks the survivor deterministically: highest mention count, then
// oldest, then smallest id.
func toGroup(g []store.Tag) Group {
	survivor := g[0]
	for _, t := range g[1:] {
		if betterSurvivor(t, survivor) {
			survivor = t
		}
	}

	out := Group{SurvivorID: survivor.ID}
	for _, t := range g {
		out.Labels = append(out.Labels, t.Label)
		if t.ID != survivor.ID {
			out.LoserIDs = append(out.LoserIDs, t.ID)
		}
	}
	return out
}

func betterSurvivor(a, b store.Tag) bool {
	if a.MentionCount != b.MentionCount {
		return a.MentionCount > b.MentionCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
