package analyzer

import (
	"math"
	"testing"

	"github.com/hubenschmidt/coachserver/internal/langconfig"
)

func synthesizeSpeech(durationSec float64, sampleRate int, freq float64) []float32 {
	n := int(durationSec * float64(sampleRate))
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		// amplitude-modulated tone to mimic syllable-like energy bursts
		env := 0.5 + 0.5*math.Sin(2*math.Pi*3*t)
		out[i] = float32(env * 0.2 * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

func silence(durationSec float64, sampleRate int) []float32 {
	return make([]float32, int(durationSec*float64(sampleRate)))
}

func TestAnalyze_RejectsShortChunk(t *testing.T) {
	a := New(langconfig.French)
	_, err := a.Analyze(make([]float32, 10), 16000)
	if err == nil {
		t.Fatal("expected error for sub-minimum chunk duration")
	}
}

func TestAnalyze_SilenceYieldsLowActivityError(t *testing.T) {
	a := New(langconfig.English)
	samples := silence(1.0, 16000)
	_, err := a.Analyze(samples, 16000)
	if err == nil {
		t.Fatal("expected AudioQualityError for near-total silence")
	}
}

func TestAnalyze_SpeechLikeSignalProducesMetrics(t *testing.T) {
	a := New(langconfig.French)
	samples := synthesizeSpeech(1.0, 16000, 180)
	vm, err := a.Analyze(samples, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vm.Duration <= 0 {
		t.Fatalf("expected positive duration, got %v", vm.Duration)
	}
	if vm.VoiceActivityRatio <= 0 {
		t.Fatalf("expected positive activity ratio, got %v", vm.VoiceActivityRatio)
	}
	if vm.Language != "fr" {
		t.Fatalf("expected language fr, got %s", vm.Language)
	}
}

func TestTrendLabel_InsufficientData(t *testing.T) {
	if got := trendLabel([]float64{0.1, 0.2}); got != "insufficient_data" {
		t.Fatalf("expected insufficient_data, got %s", got)
	}
}

func TestTrendLabel_Improving(t *testing.T) {
	window := []float64{0.1, 0.1, 0.1, 0.5, 0.6, 0.7}
	if got := trendLabel(window); got != "improving" {
		t.Fatalf("expected improving, got %s", got)
	}
}

func TestEstimateWordCount_MatchesProxyFormula(t *testing.T) {
	got := estimateWordCount(3.0, 0.9)
	want := int(3.0 * 0.9 * wordsPerSecond)
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}
