// Package sessionpipeline implements SessionPipeline (C5): per-chunk
// orchestration of VoiceAnalyzer, FeedbackGenerator, and
// MetricsAggregator with parallel or sequential scheduling, priority
// derivation, and deadline-bounded gather semantics (§4.5).
package sessionpipeline

import (
	"context"
	"sync"
	"time"

	"github.com/hubenschmidt/coachserver/internal/analyzer"
	"github.com/hubenschmidt/coachserver/internal/errs"
	"github.com/hubenschmidt/coachserver/internal/feedback"
	"github.com/hubenschmidt/coachserver/internal/langconfig"
	"github.com/hubenschmidt/coachserver/internal/metricsagg"
	"github.com/hubenschmidt/coachserver/internal/model"
	"github.com/hubenschmidt/coachserver/internal/upstream"
)

// EnvelopeType enumerates the output stream's envelope kinds (§4.5).
type EnvelopeType string

const (
	EnvelopeCoachingResult     EnvelopeType = "coaching_result"
	EnvelopeRealtimeFeedback   EnvelopeType = "realtime_feedback"
	EnvelopePerformanceUpdate  EnvelopeType = "performance_update"
	EnvelopeMilestoneAchieved  EnvelopeType = "milestone_achieved"
	EnvelopeErrorResult        EnvelopeType = "error_result"
	EnvelopeAudioProcessingErr EnvelopeType = "audio_processing_error"
)

// Envelope is one item in the pipeline's output stream.
type Envelope struct {
	Type         EnvelopeType        `json:"type"`
	SessionID    string              `json:"session_id"`
	ChunkID      string              `json:"chunk_id"`
	Timestamp    time.Time           `json:"timestamp"`
	Coaching     *model.CoachingResult `json:"coaching_result,omitempty"`
	Realtime     *model.FeedbackItem   `json:"realtime_feedback,omitempty"`
	Performance  *model.PerformanceMetrics `json:"performance_update,omitempty"`
	Milestone    *model.Milestone    `json:"milestone_achieved,omitempty"`
	Error        *errs.Envelope      `json:"error,omitempty"`
}

// Config configures one session's pipeline.
type Config struct {
	SessionID                string
	Language                 langconfig.Language
	EnableParallelProcessing bool
	FeedbackFrequency        int
	MetricsCalculationInterval int
	ChunkTimeoutSeconds      float64
	Coach                    upstream.CoachClient
	CoachEngine              string
}

// Pipeline owns non-shared VoiceAnalyzer, FeedbackGenerator, and
// MetricsAggregator instances for exactly one session (§3 Ownership
// summary).
type Pipeline struct {
	cfg Config

	analyzer  *analyzer.Analyzer
	generator *feedback.Generator
	aggregator *metricsagg.Aggregator

	chunksProcessed int
	errorsCount     int
	stageMu         sync.Mutex
	stageTimeMS     map[string]float64
	chunkDurationsMS []float64
	startedAt       time.Time
}

// New creates a Pipeline for a single session.
func New(cfg Config) *Pipeline {
	if cfg.ChunkTimeoutSeconds <= 0 {
		cfg.ChunkTimeoutSeconds = 5
	}
	if cfg.FeedbackFrequency <= 0 {
		cfg.FeedbackFrequency = 5
	}
	if cfg.MetricsCalculationInterval <= 0 {
		cfg.MetricsCalculationInterval = 3
	}
	return &Pipeline{
		cfg:        cfg,
		analyzer:   analyzer.New(cfg.Language),
		generator:  feedback.New(cfg.Language, cfg.Coach, cfg.CoachEngine),
		aggregator: metricsagg.New(cfg.Language),
		stageTimeMS: map[string]float64{},
		startedAt:   time.Now().UTC(),
	}
}

func (p *Pipeline) timeoutDuration() time.Duration {
	return time.Duration(p.cfg.ChunkTimeoutSeconds * float64(time.Second))
}

// ConfigUpdate carries the whitelisted runtime knobs a client may
// change mid-session via a config_update message (§4.6).
type ConfigUpdate struct {
	EnableParallelProcessing   *bool
	FeedbackFrequency         *int
	MetricsCalculationInterval *int
}

// ApplyConfig mutates the pipeline's own Config in place, so the next
// Process call picks up the new scheduling/frequency knobs. Callers
// must not invoke this concurrently with Process for the same
// session (same single-goroutine ownership contract as the rest of
// Pipeline, §3 Ownership summary).
func (p *Pipeline) ApplyConfig(cu ConfigUpdate) {
	if cu.EnableParallelProcessing != nil {
		p.cfg.EnableParallelProcessing = *cu.EnableParallelProcessing
	}
	if cu.FeedbackFrequency != nil {
		p.cfg.FeedbackFrequency = *cu.FeedbackFrequency
	}
	if cu.MetricsCalculationInterval != nil {
		p.cfg.MetricsCalculationInterval = *cu.MetricsCalculationInterval
	}
}

// Process runs VoiceAnalyzer then, depending on mode, FeedbackGenerator
// and MetricsAggregator in parallel (default) or sequentially, and
// returns the envelopes produced for this chunk (§4.5).
func (p *Pipeline) Process(ctx context.Context, chunk model.AudioChunk) []Envelope {
	p.chunksProcessed++
	now := time.Now().UTC()

	cctx, cancel := context.WithTimeout(ctx, p.timeoutDuration())
	defer cancel()

	vmStart := time.Now()
	vm, err := p.analyzer.Analyze(chunk.Samples, chunk.SampleRate)
	p.recordStage("analyzer", vmStart)
	if err != nil {
		p.errorsCount++
		return []Envelope{p.errorEnvelope(chunk, now, err, true)}
	}

	priority := model.PriorityFromActivity(vm.VoiceActivityRatio)
	priorityLow := priority == model.PriorityLow

	var feedbackItems []model.FeedbackItem
	var coaching *model.CoachingFeedback
	var perf *model.PerformanceMetrics

	if p.cfg.EnableParallelProcessing {
		feedbackItems, coaching, perf = p.runParallel(cctx, vm, chunk.ChunkNumber, priorityLow)
	} else {
		feedbackItems, coaching, perf = p.runSequential(cctx, vm, chunk.ChunkNumber, priorityLow)
	}

	p.chunkDurationsMS = append(p.chunkDurationsMS, float64(time.Since(vmStart).Milliseconds()))

	return p.assembleEnvelopes(chunk, now, vm, feedbackItems, coaching, perf)
}

type feedbackOutcome struct {
	items    []model.FeedbackItem
	coaching *model.CoachingFeedback
}

type metricsOutcome struct {
	perf *model.PerformanceMetrics
}

// runParallel executes FeedbackGenerator and MetricsAggregator as two
// concurrent sub-tasks and awaits both with gather-style semantics,
// bounded by ctx's deadline (§4.5 Scheduling model, §5 Suspension
// points). Each worker only ever writes to its own local variables and
// publishes its outcome over a buffered channel; the caller goroutine
// is the sole reader/writer of items/coaching/perf, so there is no
// data race on them even when ctx expires before both outcomes arrive
// (the trailing goroutine simply finishes into its buffered channel
// and exits without anyone listening).
func (p *Pipeline) runParallel(ctx context.Context, vm *model.VoiceMetrics, chunkNumber int, priorityLow bool) ([]model.FeedbackItem, *model.CoachingFeedback, *model.PerformanceMetrics) {
	feedbackCh := make(chan feedbackOutcome, 1)
	metricsCh := make(chan metricsOutcome, 1)

	go func() {
		start := time.Now()
		items, coaching := p.generator.Generate(ctx, vm, chunkNumber, p.cfg.FeedbackFrequency, p.timeoutDuration(), priorityLow)
		p.recordStage("feedback", start)
		feedbackCh <- feedbackOutcome{items: items, coaching: coaching}
	}()

	go func() {
		start := time.Now()
		var perf *model.PerformanceMetrics
		if p.aggregator.ShouldRun(chunkNumber, p.cfg.MetricsCalculationInterval, vm.LanguageScore) {
			perf = p.aggregator.Update(vm)
		}
		p.recordStage("metrics", start)
		metricsCh <- metricsOutcome{perf: perf}
	}()

	var items []model.FeedbackItem
	var coaching *model.CoachingFeedback
	var perf *model.PerformanceMetrics
	gotFeedback, gotMetrics := false, false

	for !gotFeedback || !gotMetrics {
		select {
		case r := <-feedbackCh:
			items, coaching = r.items, r.coaching
			gotFeedback = true
		case r := <-metricsCh:
			perf = r.perf
			gotMetrics = true
		case <-ctx.Done():
			// Best-effort: whichever outcome already arrived is kept;
			// the stage still in flight is treated as cancelled and
			// simply omits its contribution (§5 Cancellation/timeouts).
			return items, coaching, perf
		}
	}

	return items, coaching, perf
}

func (p *Pipeline) runSequential(ctx context.Context, vm *model.VoiceMetrics, chunkNumber int, priorityLow bool) ([]model.FeedbackItem, *model.CoachingFeedback, *model.PerformanceMetrics) {
	fStart := time.Now()
	items, coaching := p.generator.Generate(ctx, vm, chunkNumber, p.cfg.FeedbackFrequency, p.timeoutDuration(), priorityLow)
	p.recordStage("feedback", fStart)

	var perf *model.PerformanceMetrics
	mStart := time.Now()
	if p.aggregator.ShouldRun(chunkNumber, p.cfg.MetricsCalculationInterval, vm.LanguageScore) {
		perf = p.aggregator.Update(vm)
	}
	p.recordStage("metrics", mStart)

	return items, coaching, perf
}

func (p *Pipeline) recordStage(name string, start time.Time) {
	elapsed := float64(time.Since(start).Milliseconds())
	p.stageMu.Lock()
	p.stageTimeMS[name] += elapsed
	p.stageMu.Unlock()
}

func (p *Pipeline) assembleEnvelopes(chunk model.AudioChunk, ts time.Time, vm *model.VoiceMetrics, items []model.FeedbackItem, coaching *model.CoachingFeedback, perf *model.PerformanceMetrics) []Envelope {
	result := &model.CoachingResult{
		SessionID:        p.cfg.SessionID,
		ChunkID:          chunk.ChunkID,
		ChunkNumber:      chunk.ChunkNumber,
		Timestamp:        ts,
		VoiceAnalysis:    vm,
		CoachingFeedback: coaching,
		PerformanceMetrics: perf,
		RealTimeInsights: items,
		SessionProgress: &model.SessionProgress{
			ChunksProcessed: p.chunksProcessed,
			Theme:           p.primaryTheme(items),
		},
		PipelineInfo: model.PipelineInfo{
			Mode:           p.modeLabel(),
			PipelineTimeMS: lastOrZero(p.chunkDurationsMS),
		},
	}

	envelopes := []Envelope{{
		Type:      EnvelopeCoachingResult,
		SessionID: p.cfg.SessionID,
		ChunkID:   chunk.ChunkID,
		Timestamp: ts,
		Coaching:  result,
	}}

	for i := range items {
		envelopes = append(envelopes, Envelope{
			Type:      EnvelopeRealtimeFeedback,
			SessionID: p.cfg.SessionID,
			ChunkID:   chunk.ChunkID,
			Timestamp: ts,
			Realtime:  &items[i],
		})
	}

	if perf != nil {
		envelopes = append(envelopes, Envelope{
			Type:        EnvelopePerformanceUpdate,
			SessionID:   p.cfg.SessionID,
			ChunkID:     chunk.ChunkID,
			Timestamp:   ts,
			Performance: perf,
		})
		for i := range perf.Milestones {
			envelopes = append(envelopes, Envelope{
				Type:      EnvelopeMilestoneAchieved,
				SessionID: p.cfg.SessionID,
				ChunkID:   chunk.ChunkID,
				Timestamp: ts,
				Milestone: &perf.Milestones[i],
			})
		}
	}

	return envelopes
}

func (p *Pipeline) primaryTheme(items []model.FeedbackItem) string {
	if len(items) == 0 {
		return ""
	}
	return string(items[0].Type)
}

func (p *Pipeline) modeLabel() string {
	if p.cfg.EnableParallelProcessing {
		return "parallel"
	}
	return "sequential"
}

// errorEnvelope builds the typed error_result (or audio_processing_error
// for analyzer hard-failures) envelope of §4.5's failure semantics.
func (p *Pipeline) errorEnvelope(chunk model.AudioChunk, ts time.Time, err error, analyzerFailure bool) Envelope {
	ce, ok := err.(*errs.CoachError)
	if !ok {
		ce = errs.Wrap(errs.PipelineResourceError, "pipeline stage failed", err)
	}
	env := ce.ToEnvelope()

	typ := EnvelopeErrorResult
	if analyzerFailure {
		typ = EnvelopeAudioProcessingErr
	}

	return Envelope{
		Type:      typ,
		SessionID: p.cfg.SessionID,
		ChunkID:   chunk.ChunkID,
		Timestamp: ts,
		Error:     &env,
	}
}

func lastOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

// Summary returns cumulative PipelineStats, including
// processing_efficiency = 0.5*success_rate + 0.5*min(100ms/avg_chunk_ms, 1)
// per §4.5.
func (p *Pipeline) Summary() model.PipelineStats {
	total := p.chunksProcessed
	successRate := 1.0
	if total > 0 {
		successRate = float64(total-p.errorsCount) / float64(total)
	}

	avgChunkMS := mean(p.chunkDurationsMS)
	speedFactor := 1.0
	if avgChunkMS > 0 {
		speedFactor = 100.0 / avgChunkMS
		if speedFactor > 1 {
			speedFactor = 1
		}
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(p.errorsCount) / float64(total)
	}

	p.stageMu.Lock()
	stageTimes := copyStageTimes(p.stageTimeMS)
	p.stageMu.Unlock()

	return model.PipelineStats{
		ChunksProcessed:      total,
		Errors:               p.errorsCount,
		StageTimeMS:          stageTimes,
		SuccessRate:          successRate,
		AverageChunkMS:       avgChunkMS,
		TotalDurationSeconds: time.Since(p.startedAt).Seconds(),
		ErrorRate:            errorRate,
		ProcessingEfficiency: 0.5*successRate + 0.5*speedFactor,
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func copyStageTimes(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
