package normalizer

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/fault"
	"github.com/brightpath-labs/compass/internal/store"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"lowercases", "Slow Loading", "slow loading"},
		{"trailing whitespace", "slow loading ", "slow loading"},
		{"internal whitespace collapses", "slow   loading", "slow loading"},
		{"punctuation drops", "slow loading!!!", "slow loading"},
		{"hyphen becomes space", "mobile-access", "mobile access"},
		{"plural folds", "export errors", "export error"},
		{"ies plural folds", "missing categories", "missing category"},
		{"es after sibilant folds", "app crashes", "app crash"},
		{"double s kept", "data access", "data access"},
		{"short words kept", "os", "os"},
		{"mixed", "  Mobile_Field/Access ", "mobile field access"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalize_EquivalentLabels(t *testing.T) {
	// Labels that must land on the same canonical tag.
	pairs := [][2]string{
		{"Slow Loading", "slow loading "},
		{"export-errors", "Export Errors"},
		{"App crashes!", "app crash"},
	}
	for _, p := range pairs {
		if Normalize(p[0]) != Normalize(p[1]) {
			t.Errorf("expected %q and %q to normalize identically, got %q vs %q",
				p[0], p[1], Normalize(p[0]), Normalize(p[1]))
		}
	}
}

// fakeTagStore drives the resolver without a database.
type fakeTagStore struct {
	byLabel    map[string]*store.Tag
	mentions   map[uuid.UUID]int
	loseRace   bool // next CreateTag reports not-inserted
	racedLabel string
}

func newFakeTagStore() *fakeTagStore {
	return &fakeTagStore{
		byLabel:  make(map[string]*store.Tag),
		mentions: make(map[uuid.UUID]int),
	}
}

func (f *fakeTagStore) GetTagByNormalizedLabel(_ context.Context, companyID uuid.UUID, normalized string) (*store.Tag, error) {
	if t, ok := f.byLabel[normalized]; ok {
		return t, nil
	}
	return nil, fault.NotFound("tag", normalized)
}

func (f *fakeTagStore) CreateTag(_ context.Context, companyID uuid.UUID, label, normalized string) (uuid.UUID, bool, error) {
	if f.loseRace {
		// Simulate a concurrent winner appearing between lookup and insert.
		f.loseRace = false
		winner := &store.Tag{ID: uuid.New(), CompanyID: companyID, Label: label, NormalizedLabel: normalized, Active: true}
		f.byLabel[normalized] = winner
		f.racedLabel = normalized
		return uuid.Nil, false, nil
	}
	id := uuid.New()
	f.byLabel[normalized] = &store.Tag{ID: id, CompanyID: companyID, Label: label, NormalizedLabel: normalized, Active: true}
	return id, true, nil
}

func (f *fakeTagStore) IncrementTagMentions(_ context.Context, tagID uuid.UUID) error {
	f.mentions[tagID]++
	return nil
}

func TestResolve_SameTagForEquivalentLabels(t *testing.T) {
	fake := newFakeTagStore()
	r := NewResolver(fake, slog.Default())
	company := uuid.New()

	id1, err := r.Resolve(context.Background(), company, "Slow Loading")
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	id2, err := r.Resolve(context.Background(), company, "slow loading ")
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same tag id for equivalent labels, got %s and %s", id1, id2)
	}
	if len(fake.byLabel) != 1 {
		t.Errorf("expected exactly one tag created, got %d", len(fake.byLabel))
	}
	if fake.mentions[id1] != 2 {
		t.Errorf("expected 2 mentions recorded, got %d", fake.mentions[id1])
	}
}

func TestResolve_EmptyInput(t *testing.T) {
	r := NewResolver(newFakeTagStore(), slog.Default())

	for _, raw := range []string{"", "   ", "\t\n"} {
		_, err := r.Resolve(context.Background(), uuid.New(), raw)
		if err == nil {
			t.Errorf("expected error for input %q", raw)
			continue
		}
		if !fault.IsValidation(err) {
			t.Errorf("expected validation error for %q, got %v", raw, err)
		}
	}
}

func TestResolve_CreateRace(t *testing.T) {
	fake := newFakeTagStore()
	fake.loseRace = true
	r := NewResolver(fake, slog.Default())
	company := uuid.New()

	id, err := r.Resolve(context.Background(), company, "billing issues")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	winner := fake.byLabel[fake.racedLabel]
	if id != winner.ID {
		t.Errorf("expected resolver to adopt the race winner %s, got %s", winner.ID, id)
	}
	if len(fake.byLabel) != 1 {
		t.Errorf("expected exactly one active tag after race, got %d", len(fake.byLabel))
	}
}
