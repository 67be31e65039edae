package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/hubenschmidt/coachserver/internal/langconfig"
	"github.com/hubenschmidt/coachserver/internal/model"
	"github.com/hubenschmidt/coachserver/internal/upstream"
)

type stubCoach struct {
	cf  *model.CoachingFeedback
	err error
}

func (s *stubCoach) GenerateCoaching(ctx context.Context, req upstream.CoachingRequest) (*model.CoachingFeedback, error) {
	return s.cf, s.err
}

func fastPaceMetrics() *model.VoiceMetrics {
	return &model.VoiceMetrics{
		PaceWPM:           220,
		VolumeConsistency: 0.9,
		ClarityScore:      0.9,
		AdvancedMetrics:   model.AdvancedMetrics{ConfidenceScore: 0.5},
	}
}

func TestGenerate_RulePathFiresPaceWarning(t *testing.T) {
	g := New(langconfig.English, &stubCoach{}, "ollama")
	items, _ := g.Generate(context.Background(), fastPaceMetrics(), 1, 5, time.Second, false)
	if len(items) != 1 || items[0].Type != model.FeedbackPace || items[0].Severity != model.SeverityWarning {
		t.Fatalf("expected single pace warning, got %+v", items)
	}
}

func TestGenerate_SuppressesDuplicateAcrossThreeChunks(t *testing.T) {
	g := New(langconfig.English, &stubCoach{}, "ollama")
	vm := fastPaceMetrics()

	items1, _ := g.Generate(context.Background(), vm, 1, 100, time.Second, false)
	items2, _ := g.Generate(context.Background(), vm, 2, 100, time.Second, false)
	items3, _ := g.Generate(context.Background(), vm, 3, 100, time.Second, false)

	if len(items1) != 1 {
		t.Fatalf("expected first chunk to fire, got %+v", items1)
	}
	if len(items2) != 0 || len(items3) != 0 {
		t.Fatalf("expected suppression across next 2 chunks, got %+v %+v", items2, items3)
	}
}

func TestGenerate_LLMDueOnFrequencyBoundary(t *testing.T) {
	cf := &model.CoachingFeedback{FeedbackSummary: "great job"}
	g := New(langconfig.French, &stubCoach{cf: cf}, "ollama")

	_, coaching1 := g.Generate(context.Background(), fastPaceMetrics(), 1, 3, time.Second, false)
	_, coaching2 := g.Generate(context.Background(), fastPaceMetrics(), 3, 3, time.Second, false)

	if coaching1 != nil {
		t.Fatalf("expected no coaching on non-boundary chunk, got %+v", coaching1)
	}
	if coaching2 == nil || coaching2.FeedbackSummary != "great job" {
		t.Fatalf("expected coaching on boundary chunk, got %+v", coaching2)
	}
}

func TestGenerate_LowPrioritySkipsLLMEvenWhenDue(t *testing.T) {
	cf := &model.CoachingFeedback{FeedbackSummary: "great job"}
	g := New(langconfig.French, &stubCoach{cf: cf}, "ollama")

	_, coaching := g.Generate(context.Background(), fastPaceMetrics(), 3, 3, time.Second, true)
	if coaching != nil {
		t.Fatalf("expected low-priority chunk to skip LLM path, got %+v", coaching)
	}
}

func TestGenerate_LLMFailureDowngradesToFallback(t *testing.T) {
	g := New(langconfig.English, &stubCoach{err: context.DeadlineExceeded}, "ollama")
	_, coaching := g.Generate(context.Background(), fastPaceMetrics(), 1, 1, time.Second, false)
	if coaching == nil || coaching.Source != model.SourceFallback {
		t.Fatalf("expected fallback coaching, got %+v", coaching)
	}
}
