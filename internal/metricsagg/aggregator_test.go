package metricsagg

import (
	"testing"

	"github.com/hubenschmidt/coachserver/internal/langconfig"
	"github.com/hubenschmidt/coachserver/internal/model"
)

func metricsWithQuality(q float64) *model.VoiceMetrics {
	return &model.VoiceMetrics{
		PaceAnalysis:    model.SubScore{Score: q},
		VolumeAnalysis:  model.SubScore{Score: q},
		ClarityScore:    q,
		VoiceActivityRatio: 0.7,
		AdvancedMetrics: model.AdvancedMetrics{ConfidenceScore: q},
		LanguageScore:   q,
	}
}

func TestUpdate_QualityMilestoneFiresOnce(t *testing.T) {
	agg := New(langconfig.French)

	var fireCount int
	for i := 0; i < 5; i++ {
		pm := agg.Update(metricsWithQuality(0.95))
		for _, m := range pm.Milestones {
			if m.Kind == "quality_milestone" {
				fireCount++
			}
		}
	}
	if fireCount != 1 {
		t.Fatalf("expected quality_milestone to fire exactly once, fired %d times", fireCount)
	}
}

func TestUpdate_ChunkCountMilestoneAtTen(t *testing.T) {
	agg := New(langconfig.English)

	var seenAt10 bool
	for i := 0; i < 12; i++ {
		pm := agg.Update(metricsWithQuality(0.5))
		for _, m := range pm.Milestones {
			if m.Kind == "chunk_count_milestone" && m.Detail == "chunks_10" {
				seenAt10 = true
			}
		}
	}
	if !seenAt10 {
		t.Fatal("expected chunk_count_milestone chunks_10 to fire")
	}
}

func TestShouldRun_IntervalAndQualitySpike(t *testing.T) {
	agg := New(langconfig.French)
	if !agg.ShouldRun(3, 3, 0.5) {
		t.Fatal("expected run on interval boundary")
	}
	if agg.ShouldRun(4, 3, 0.5) {
		t.Fatal("expected no run off interval boundary with low quality")
	}
	if !agg.ShouldRun(4, 3, 0.9) {
		t.Fatal("expected run on quality spike regardless of interval")
	}
}

func TestStability_OutlierRemoval(t *testing.T) {
	// With the 5.0 reading kept, stability would be about 0.47.
	values := []float64{0.7, 0.71, 0.69, 0.72, 0.7, 0.71, 0.69, 0.72, 0.7, 5.0}
	s := stability(values)
	if s < 0.9 || s > 1 {
		t.Fatalf("expected stability in [0.9,1] once the outlier is removed, got %v", s)
	}
}
