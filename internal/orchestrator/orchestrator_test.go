package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/brightpath-labs/compass/internal/fault"
	"github.com/brightpath-labs/compass/internal/store"
	"github.com/brightpath-labs/compass/internal/understanding"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAnalyzer struct {
	analysis *understanding.Analysis
	err      error
}

func (f *fakeAnalyzer) AnalyzeFeedback(_ context.Context, _ string) (*understanding.Analysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

type fakeResolver struct {
	ids      map[string]uuid.UUID
	failWith map[string]error
}

func (f *fakeResolver) Resolve(_ context.Context, _ uuid.UUID, label string) (uuid.UUID, error) {
	if err, ok := f.failWith[label]; ok {
		return uuid.Nil, err
	}
	id, ok := f.ids[label]
	if !ok {
		id = uuid.New()
		if f.ids == nil {
			f.ids = make(map[string]uuid.UUID)
		}
		f.ids[label] = id
	}
	return id, nil
}

type fakeFeedbackStore struct {
	created []store.FeedbackItem
	err     error
}

func (f *fakeFeedbackStore) CreateFeedbackItem(_ context.Context, item store.FeedbackItem) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.created = append(f.created, item)
	return uuid.New(), nil
}

func floatPtr(f float64) *float64 { return &f }

func TestProcessSurveyResponseRejectsEmptyText(t *testing.T) {
	o := New(&fakeAnalyzer{}, &fakeResolver{}, &fakeFeedbackStore{}, discard())

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := o.ProcessSurveyResponse(context.Background(), uuid.New(), uuid.New(), "resp-1", text)
		if !fault.IsValidation(err) {
			t.Errorf("text %q: want validation error, got %v", text, err)
		}
	}
}

func TestProcessSurveyResponsePropagatesUpstreamFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{err: fault.Upstream("understanding", fmt.Errorf("timeout"))}
	o := New(analyzer, &fakeResolver{}, &fakeFeedbackStore{}, discard())

	_, err := o.ProcessSurveyResponse(context.Background(), uuid.New(), uuid.New(), "resp-1", "some feedback")
	if !fault.IsUpstream(err) {
		t.Fatalf("want upstream error, got %v", err)
	}
}

func TestProcessSurveyResponseCollectsTagFailures(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: &understanding.Analysis{
		Summary:       "exports fail on big projects",
		Sentiment:     understanding.Sentiment{Score: -0.7, Label: "negative"},
		CandidateTags: []string{"export timeout", "!!!", "large projects"},
	}}
	resolver := &fakeResolver{failWith: map[string]error{
		"!!!": fault.Validationf("tag label %q normalizes to nothing", "!!!"),
	}}
	fs := &fakeFeedbackStore{}
	o := New(analyzer, resolver, fs, discard())

	result, err := o.ProcessSurveyResponse(context.Background(), uuid.New(), uuid.New(), "resp-1", "exports keep failing")
	if err != nil {
		t.Fatal(err)
	}

	if len(result.TagIDs) != 2 {
		t.Fatalf("tag ids = %d, want 2", len(result.TagIDs))
	}
	if len(result.TagFailures) != 1 || result.TagFailures[0].Label != "!!!" {
		t.Fatalf("tag failures = %+v, want one for %q", result.TagFailures, "!!!")
	}
	if len(result.NormalizedTags) != 2 {
		t.Fatalf("normalized tags = %v", result.NormalizedTags)
	}
	if result.NormalizedTags[0] != "export timeout" {
		t.Errorf("normalized[0] = %q", result.NormalizedTags[0])
	}

	if len(fs.created) != 1 {
		t.Fatalf("persisted items = %d, want 1", len(fs.created))
	}
	if got := len(fs.created[0].TagIDs); got != 2 {
		t.Errorf("persisted tag links = %d, want 2", got)
	}
	if fs.created[0].Summary != "exports fail on big projects" {
		t.Errorf("persisted summary = %q", fs.created[0].Summary)
	}
}

func TestProcessSurveyResponseDeduplicatesResolvedTags(t *testing.T) {
	shared := uuid.New()
	analyzer := &fakeAnalyzer{analysis: &understanding.Analysis{
		Summary:       "s",
		Sentiment:     understanding.Sentiment{Score: 0.2, Label: "positive"},
		CandidateTags: []string{"Slow Loading", "slow loading "},
	}}
	resolver := &fakeResolver{ids: map[string]uuid.UUID{
		"Slow Loading":  shared,
		"slow loading ": shared,
	}}
	o := New(analyzer, resolver, &fakeFeedbackStore{}, discard())

	result, err := o.ProcessSurveyResponse(context.Background(), uuid.New(), uuid.New(), "resp-1", "loading is slow")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.TagIDs) != 1 || result.TagIDs[0] != shared {
		t.Fatalf("tag ids = %v, want exactly [%s]", result.TagIDs, shared)
	}
}

func TestPriorityScore(t *testing.T) {
	tests := []struct {
		name      string
		sentiment float64
		urgency   *float64
		want      int
	}{
		{name: "neutral without urgency", sentiment: 0, want: 0},
		{name: "strong negative without urgency", sentiment: -1, want: 60},
		{name: "strong positive without urgency", sentiment: 1, want: 60},
		{name: "moderate negative without urgency", sentiment: -0.5, want: 30},
		{name: "urgency dominates", sentiment: 0, urgency: floatPtr(1), want: 60},
		{name: "urgent strong negative", sentiment: -1, urgency: floatPtr(1), want: 100},
		{name: "mild but urgent", sentiment: -0.25, urgency: floatPtr(0.9), want: 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := priorityScore(tt.sentiment, tt.urgency); got != tt.want {
				t.Errorf("priorityScore(%f, %v) = %d, want %d", tt.sentiment, tt.urgency, got, tt.want)
			}
		})
	}
}

func TestHandleFeedbackReceivedBadPayload(t *testing.T) {
	fs := &fakeFeedbackStore{}
	o := New(&fakeAnalyzer{}, &fakeResolver{}, fs, discard())

	o.HandleFeedbackReceived("compass.feedback.received", []byte("not json"))
	o.HandleFeedbackReceived("compass.feedback.received", []byte(`{"company_id":"nope"}`))

	if len(fs.created) != 0 {
		t.Fatalf("bad payloads must not persist anything, got %d items", len(fs.created))
	}
}
