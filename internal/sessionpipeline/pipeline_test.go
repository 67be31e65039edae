package sessionpipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/hubenschmidt/coachserver/internal/langconfig"
	"github.com/hubenschmidt/coachserver/internal/model"
)

func speechSamples(n int, sampleRate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = float32(0.3 * math.Sin(2*math.Pi*150*t))
	}
	return out
}

func newTestPipeline(parallel bool) *Pipeline {
	return New(Config{
		SessionID:                  "sess-1",
		Language:                   langconfig.English,
		EnableParallelProcessing:   parallel,
		FeedbackFrequency:          1000, // keep LLM path unexercised in this test
		MetricsCalculationInterval: 3,
		ChunkTimeoutSeconds:        5,
	})
}

func chunkAt(n int, samples []float32, sampleRate int) model.AudioChunk {
	return model.AudioChunk{
		SessionID:   "sess-1",
		ChunkID:     "chunk-1",
		ChunkNumber: n,
		Samples:     samples,
		SampleRate:  sampleRate,
		Timestamp:   time.Now().UTC(),
	}
}

func TestProcess_ParallelModeProducesCoachingResult(t *testing.T) {
	p := newTestPipeline(true)
	samples := speechSamples(16000, 16000)

	envs := p.Process(context.Background(), chunkAt(1, samples, 16000))
	if len(envs) == 0 || envs[0].Type != EnvelopeCoachingResult {
		t.Fatalf("expected first envelope to be coaching_result, got %+v", envs)
	}
	if envs[0].Coaching.VoiceAnalysis == nil {
		t.Fatal("expected voice analysis to be populated")
	}
}

func TestProcess_SequentialModeProducesCoachingResult(t *testing.T) {
	p := newTestPipeline(false)
	samples := speechSamples(16000, 16000)

	envs := p.Process(context.Background(), chunkAt(1, samples, 16000))
	if len(envs) == 0 || envs[0].Type != EnvelopeCoachingResult {
		t.Fatalf("expected first envelope to be coaching_result, got %+v", envs)
	}
}

func TestProcess_SilentChunkYieldsAudioProcessingError(t *testing.T) {
	p := newTestPipeline(true)
	samples := make([]float32, 16000) // silence

	envs := p.Process(context.Background(), chunkAt(1, samples, 16000))
	if len(envs) != 1 || envs[0].Type != EnvelopeAudioProcessingErr {
		t.Fatalf("expected single audio_processing_error envelope, got %+v", envs)
	}
}

func TestSummary_ProcessingEfficiencyFormula(t *testing.T) {
	p := newTestPipeline(true)
	samples := speechSamples(16000, 16000)

	for i := 1; i <= 3; i++ {
		p.Process(context.Background(), chunkAt(i, samples, 16000))
	}

	summary := p.Summary()
	if summary.ChunksProcessed != 3 {
		t.Fatalf("expected 3 chunks processed, got %d", summary.ChunksProcessed)
	}
	if summary.SuccessRate != 1.0 {
		t.Fatalf("expected success rate 1.0, got %v", summary.SuccessRate)
	}
	wantEfficiency := 0.5*summary.SuccessRate + 0.5*math.Min(100.0/summary.AverageChunkMS, 1.0)
	if math.Abs(summary.ProcessingEfficiency-wantEfficiency) > 1e-9 {
		t.Fatalf("processing efficiency formula mismatch: got %v want %v", summary.ProcessingEfficiency, wantEfficiency)
	}
}

func TestSummary_ErrorsCountedOnAnalyzerFailure(t *testing.T) {
	p := newTestPipeline(true)
	silent := make([]float32, 16000)
	speech := speechSamples(16000, 16000)

	p.Process(context.Background(), chunkAt(1, silent, 16000))
	p.Process(context.Background(), chunkAt(2, speech, 16000))

	summary := p.Summary()
	if summary.Errors != 1 {
		t.Fatalf("expected 1 error recorded, got %d", summary.Errors)
	}
	if summary.ErrorRate != 0.5 {
		t.Fatalf("expected error rate 0.5, got %v", summary.ErrorRate)
	}
}
