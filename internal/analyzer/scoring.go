package analyzer

import (
	"math"

	"github.com/hubenschmidt/coachserver/internal/model"
)

// voiceActivity is the output of frame-level VAD (§4.2 step 2).
type voiceActivity struct {
	activityRatio float64
	segments      []model.Segment
}

// detectVoiceActivity thresholds per-frame RMS at mean(RMS) × 0.1 and
// groups continuous voiced frames into segments.
func detectVoiceActivity(rmsValues []float64) voiceActivity {
	if len(rmsValues) == 0 {
		return voiceActivity{}
	}
	threshold := mean(rmsValues) * 0.1

	var segments []model.Segment
	voicedFrames := 0
	inSegment := false
	start := 0

	for i, v := range rmsValues {
		voiced := v > threshold
		if voiced {
			voicedFrames++
		}
		if voiced && !inSegment {
			start = i
			inSegment = true
		} else if !voiced && inSegment {
			segments = append(segments, model.Segment{Start: start, End: i})
			inSegment = false
		}
	}
	if inSegment {
		segments = append(segments, model.Segment{Start: start, End: len(rmsValues)})
	}

	return voiceActivity{
		activityRatio: float64(voicedFrames) / float64(len(rmsValues)),
		segments:      segments,
	}
}

// analyzePace computes WPM from activity ratio and scores it against
// the language's optimal pace band (§4.2 step 3 Pace).
func (a *Analyzer) analyzePace(duration, activityRatio float64) model.SubScore {
	wpm := 0.0
	if duration > 0 {
		wpm = activityRatio * duration * a.lang.Audio.OptimalPaceSylPerSec * 60 / duration
	}

	min := a.lang.Audio.NaturalPaceMin
	max := a.lang.Audio.NaturalPaceMax
	optimum := (min + max) / 2

	var score float64
	switch {
	case wpm >= min && wpm <= max:
		score = 1.0
	case wpm < min:
		if min == 0 {
			score = 0
		} else {
			score = clamp01(1.0 - (min-wpm)/min)
		}
	default:
		score = clamp01(1.0 - (wpm-max)/max)
	}

	return model.SubScore{
		Score:          score,
		IsOptimal:      wpm >= min && wpm <= max,
		WordsPerMinute: wpm,
		Extra: map[string]any{
			"optimum_wpm": optimum,
		},
	}
}

// analyzeVolume computes consistency = 1 - stdev/mean combined with
// level plausibility against the dynamic range optimum (§4.2 step 3 Volume).
func (a *Analyzer) analyzeVolume(avgVolume, volumeStd float64) model.SubScore {
	consistency := 1.0
	if avgVolume > 0 {
		consistency = clamp01(1.0 - volumeStd/avgVolume)
	}

	target := a.lang.Audio.DynamicRangeOptimal
	levelScore := 1.0
	if target > 0 {
		levelScore = clamp01(1.0 - math.Abs(avgVolume-target)/target)
	}

	score := 0.5*consistency + 0.5*levelScore

	return model.SubScore{
		Score:     score,
		IsOptimal: consistency >= a.lang.Audio.VolumeConsistencyThresh,
		Extra: map[string]any{
			"consistency_score": consistency,
			"level_score":       levelScore,
		},
	}
}

// analyzePitch computes variation_ratio = stdev/mean, flags monotone
// delivery below the language's monotone threshold, and penalizes
// excess variation above 1.3x expected (§4.2 step 3 Pitch).
func (a *Analyzer) analyzePitch(pitchValues []float64, avgPitch, pitchVar float64) model.SubScore {
	if len(pitchValues) == 0 || avgPitch == 0 {
		return model.SubScore{Score: 0, Label: "no_pitch_detected"}
	}

	variationRatio := math.Sqrt(pitchVar) / avgPitch
	expected := a.lang.Audio.PitchVarianceExpected

	monotone := variationRatio < a.lang.Audio.MonotoneThreshold
	excess := variationRatio > 1.3*expected

	score := 1.0
	switch {
	case monotone:
		score = clamp01(variationRatio / a.lang.Audio.MonotoneThreshold)
	case excess:
		score = clamp01(1.0 - (variationRatio-1.3*expected)/expected)
	}

	label := ""
	if monotone {
		label = "monotone"
	} else if excess {
		label = "excessive_variation"
	}

	return model.SubScore{
		Score:     score,
		Label:     label,
		IsOptimal: !monotone && !excess,
		Extra: map[string]any{
			"variation_ratio": variationRatio,
		},
	}
}

// analyzeClarity is a weighted combination of normalized centroid
// (+), normalized ZCR (−), normalized volume (+) (§4.2 step 3 Clarity).
func (a *Analyzer) analyzeClarity(avgZCR, avgCentroid, avgVolume float64) model.SubScore {
	zcrNorm := math.Min(avgZCR/0.1, 1.0)
	centroidNorm := math.Min(avgCentroid/2000.0, 1.0)
	volumeNorm := math.Min(avgVolume/0.1, 1.0)

	w := a.lang.Audio.ClarityWeight
	score := clamp01(w*centroidNorm + 0.3*(1.0-zcrNorm) + (1.0-w-0.3)*volumeNorm)

	return model.SubScore{
		Score:     score,
		IsOptimal: score >= 0.6,
		Extra: map[string]any{
			"overall_score": score,
		},
	}
}

// calculateLanguageScore combines the four sub-scores using the
// language's clarity weight to balance clarity against the others
// (§ GLOSSARY Language score).
func (a *Analyzer) calculateLanguageScore(pace, volume, pitch, clarity model.SubScore) float64 {
	w := a.lang.Audio.ClarityWeight
	other := (1.0 - w) / 3.0
	return clamp01(other*pace.Score + other*volume.Score + other*pitch.Score + w*clarity.Score)
}
