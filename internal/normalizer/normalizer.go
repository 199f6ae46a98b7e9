// Package normalizer maps noisy candidate tag labels onto canonical tags.
package normalizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/fault"
	"github.com/brightpath-labs/compass/internal/store"
)

// TagStore is the slice of the persistence layer the resolver needs.
type TagStore interface {
	GetTagByNormalizedLabel(ctx context.Context, companyID uuid.UUID, normalized string) (*store.Tag, error)
	CreateTag(ctx context.Context, companyID uuid.UUID, label, normalized string) (uuid.UUID, bool, error)
	IncrementTagMentions(ctx context.Context, tagID uuid.UUID) error
}

type Resolver struct {
	tags   TagStore
	logger *slog.Logger
}

func NewResolver(tags TagStore, logger *slog.Logger) *Resolver {
	return &Resolver{tags: tags, logger: logger}
}

// Normalize reduces a raw label to its canonical form: case fold, punctuation
// stripped, whitespace collapsed, per-word plural fold.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			b.WriteRune(' ')
		}
		// Remaining punctuation drops entirely.
	}

	words := strings.Fields(b.String())
	for i, w := range words {
		words[i] = singular(w)
	}
	return strings.Join(words, " ")
}

// singular applies a light plural fold. It is deliberately rule-based: the
// goal is folding "crashes"/"crash" and "exports"/"export" together, not full
// lemmatization.
func singular(w string) string {
	switch {
	case len(w) > 3 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "ss"):
		return w
	case len(w) > 3 && (strings.HasSuffix(w, "ses") || strings.HasSuffix(w, "xes") ||
		strings.HasSuffix(w, "zes") || strings.HasSuffix(w, "ches") || strings.HasSuffix(w, "shes")):
		return w[:len(w)-2]
	case len(w) > 2 && strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	default:
		return w
	}
}

// displayLabel is the cleaned form kept as the tag's visible label: original
// casing, whitespace collapsed.
func displayLabel(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// Resolve returns the id of the active tag for a raw candidate label,
// creating it on first sighting. Creation is idempotent under concurrent
// identical input: when the insert loses the unique-index race the resolver
// re-reads the winner's row instead of failing.
func (r *Resolver) Resolve(ctx context.Context, companyID uuid.UUID, rawLabel string) (uuid.UUID, error) {
	if strings.TrimSpace(rawLabel) == "" {
		return uuid.Nil, fault.Validationf("empty tag label")
	}
	normalized := Normalize(rawLabel)
	if normalized == "" {
		return uuid.Nil, fault.Validationf("tag label %q normalizes to nothing", rawLabel)
	}

	tag, err := r.tags.GetTagByNormalizedLabel(ctx, companyID, normalized)
	if err == nil {
		if err := r.tags.IncrementTagMentions(ctx, tag.ID); err != nil {
			return uuid.Nil, fmt.Errorf("bump tag mentions: %w", err)
		}
		return tag.ID, nil
	}
	if !fault.IsNotFound(err) {
		return uuid.Nil, fmt.Errorf("lookup tag: %w", err)
	}

	id, inserted, err := r.tags.CreateTag(ctx, companyID, displayLabel(rawLabel), normalized)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create tag: %w", err)
	}
	if !inserted {
		// Lost the create race: a concurrent caller inserted the same
		// normalized label first. Read their row.
		tag, err := r.tags.GetTagByNormalizedLabel(ctx, companyID, normalized)
		if err != nil {
			return uuid.Nil, fmt.Errorf("re-read tag after create race: %w", err)
		}
		id = tag.ID
		r.logger.Debug("tag create race resolved", "label", normalized, "tag_id", id)
	}

	if err := r.tags.IncrementTagMentions(ctx, id); err != nil {
		return uuid.Nil, fmt.Errorf("bump tag mentions: %w", err)
	}
	return id, nil
}
