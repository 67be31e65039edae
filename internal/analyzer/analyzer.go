// Package analyzer implements VoiceAnalyzer (C2): stateful
// per-session DSP over audio chunks, producing VoiceMetrics.
package analyzer

import (
	"math"
	"time"

	"github.com/hubenschmidt/coachserver/internal/errs"
	"github.com/hubenschmidt/coachserver/internal/langconfig"
	"github.com/hubenschmidt/coachserver/internal/model"
)

const slidingWindowLen = 10

// minChunkDuration is the minimum chunk length this analyzer accepts
// (§4.2: "For each chunk of length ≥ 100 ms").
const minChunkDuration = 100 * time.Millisecond

// wordsPerSecond is the estimated-words proxy constant; see
// SPEC_FULL.md §9 Open Question (i) and DESIGN.md.
const wordsPerSecond = 2.5

// Analyzer holds per-session DSP state: sliding windows of pace,
// volume, and clarity readings used to compute trend labels.
type Analyzer struct {
	lang *langconfig.Config

	paceWindow    []float64
	volumeWindow  []float64
	clarityWindow []float64
}

// New creates an Analyzer bound to a language configuration.
func New(lang langconfig.Language) *Analyzer {
	return &Analyzer{lang: langconfig.MustGet(lang)}
}

// Analyze computes VoiceMetrics for one chunk of mono float32 samples
// at sampleRate (§4.2).
func (a *Analyzer) Analyze(samples []float32, sampleRate int) (*model.VoiceMetrics, error) {
	duration := float64(len(samples)) / float64(sampleRate)
	if time.Duration(duration*float64(time.Second)) < minChunkDuration {
		return nil, errs.New(errs.ValidationError, "chunk shorter than minimum analysis window", nil)
	}

	frames := extractFrames(samples, sampleRate)
	if len(frames) == 0 {
		// Transient: too few frames to window this chunk; the caller
		// may retry on the next chunk without aborting the session.
		return nil, errs.New(errs.PipelineResourceError, "insufficient frames for analysis", nil)
	}

	rmsValues := make([]float64, len(frames))
	zcrValues := make([]float64, len(frames))
	centroids := make([]float64, len(frames))
	rolloffs := make([]float64, len(frames))
	var pitchValues []float64

	for i, f := range frames {
		rmsValues[i] = f.rms
		zcrValues[i] = f.zcr
		centroids[i] = f.spectralCentroid
		rolloffs[i] = f.spectralRolloff
		if f.pitchHz > 0 {
			pitchValues = append(pitchValues, f.pitchHz)
		}
	}

	avgVolume := mean(rmsValues)
	volumeStd := stdev(rmsValues, avgVolume)
	avgCentroid := mean(centroids)
	avgRolloff := mean(rolloffs)
	avgZCR := mean(zcrValues)
	avgPitch := mean(pitchValues)
	pitchVar := variance(pitchValues, avgPitch)
	tempo := estimateTempo(rmsValues, sampleRate)

	activity := detectVoiceActivity(rmsValues)
	if activity.activityRatio < 0.02 && duration > 0.5 {
		return nil, errs.New(errs.AudioQualityError, "voice activity ratio too low for meaningful analysis", map[string]any{
			"activity_ratio": activity.activityRatio,
		})
	}

	paceAnalysis := a.analyzePace(duration, activity.activityRatio)
	volumeAnalysis := a.analyzeVolume(avgVolume, volumeStd)
	pitchAnalysis := a.analyzePitch(pitchValues, avgPitch, pitchVar)
	clarityAnalysis := a.analyzeClarity(avgZCR, avgCentroid, avgVolume)

	a.pushWindow(&a.paceWindow, paceAnalysis.Score)
	a.pushWindow(&a.volumeWindow, volumeAnalysis.Score)
	a.pushWindow(&a.clarityWindow, clarityAnalysis.Score)

	languageScore := a.calculateLanguageScore(paceAnalysis, volumeAnalysis, pitchAnalysis, clarityAnalysis)

	vm := &model.VoiceMetrics{
		Duration:           duration,
		AvgVolume:          avgVolume,
		VolumeConsistency:  volumeAnalysis.Extra["consistency_score"].(float64),
		AvgPitch:           avgPitch,
		PitchVariance:      pitchVar,
		SpectralCentroid:   avgCentroid,
		Tempo:              tempo,
		ZeroCrossingRate:   avgZCR,
		SpectralRolloff:    avgRolloff,
		VoiceActivityRatio: activity.activityRatio,
		SpeechSegments:     activity.segments,
		EstimatedWords:     estimateWordCount(duration, activity.activityRatio),
		ClarityScore:       clarityAnalysis.Score,
		PaceWPM:            paceAnalysis.WordsPerMinute,
		PaceAnalysis:       paceAnalysis,
		VolumeAnalysis:     volumeAnalysis,
		PitchAnalysis:      pitchAnalysis,
		ClarityAnalysis:    clarityAnalysis,
		PaceTrend:          trendLabel(a.paceWindow),
		VolumeTrend:        trendLabel(a.volumeWindow),
		ClarityTrend:       trendLabel(a.clarityWindow),
		LanguageScore:      languageScore,
		AdvancedMetrics:    advancedMetrics(rmsValues, zcrValues, activity),
		Language:           string(a.lang.Language),
	}

	return vm, nil
}

func (a *Analyzer) pushWindow(w *[]float64, v float64) {
	*w = append(*w, v)
	if len(*w) > slidingWindowLen {
		*w = (*w)[len(*w)-slidingWindowLen:]
	}
}

// trendLabel compares the last 3 readings to the prior readings in
// the window (§4.2 step 4).
func trendLabel(window []float64) model.Trend {
	if len(window) < 6 {
		return model.TrendInsufficientData
	}
	recent := window[len(window)-3:]
	prior := window[:len(window)-3]
	recentMean := mean(recent)
	priorMean := mean(prior)

	delta := recentMean - priorMean
	const epsilon = 0.02
	switch {
	case delta > epsilon:
		return model.TrendImproving
	case delta < -epsilon:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

func variance(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return sumSq / float64(len(xs))
}

func estimateTempo(rmsValues []float64, sampleRate int) float64 {
	if len(rmsValues) < 2 {
		return 0
	}
	m := mean(rmsValues)
	var peaks int
	for i := 1; i < len(rmsValues)-1; i++ {
		if rmsValues[i] > m && rmsValues[i] > rmsValues[i-1] && rmsValues[i] > rmsValues[i+1] {
			peaks++
		}
	}
	frameDurationSec := float64(frameHopMS) / 1000.0
	totalSeconds := float64(len(rmsValues)) * frameDurationSec
	if totalSeconds <= 0 {
		return 0
	}
	return float64(peaks) / totalSeconds * 60.0
}

// estimateWordCount implements §9 Open Question (i): the
// activity-ratio × 2.5 words/s proxy, retained for S1 fidelity.
func estimateWordCount(duration, activityRatio float64) int {
	if duration <= 0 || activityRatio <= 0 {
		return 0
	}
	return int(duration * activityRatio * wordsPerSecond)
}

func advancedMetrics(rmsValues, zcrValues []float64, activity voiceActivity) model.AdvancedMetrics {
	rhythmRegularity := 1.0
	if m := mean(rmsValues); m > 0 {
		rhythmRegularity = clamp01(1.0 - stdev(rmsValues, m)/m)
	}

	pauseEffectiveness := clamp01(1.0 - math.Abs(activity.activityRatio-0.7))
	speechContinuity := clamp01(activity.activityRatio)

	confidence := clamp01(0.5*rhythmRegularity + 0.5*speechContinuity)
	nervousness := clamp01(1.0 - confidence)

	return model.AdvancedMetrics{
		RhythmRegularity:     rhythmRegularity,
		PauseEffectiveness:   pauseEffectiveness,
		SpeechContinuity:     speechContinuity,
		ConfidenceScore:      confidence,
		NervousnessIndicator: nervousness,
	}
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
