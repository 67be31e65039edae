package analyzer

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	frameWindowMS = 25
	frameHopMS    = 10
)

// frameFeatures holds the per-frame acoustic features computed over
// one analysis window (§4.2 step 1).
type frameFeatures struct {
	rms              float64
	zcr              float64
	spectralCentroid float64
	spectralRolloff  float64
	pitchHz          float64
}

// extractFrames slices samples into 25ms windows at a 10ms hop and
// computes RMS, ZCR, spectral centroid/rolloff (via FFT magnitude
// spectrum), and an autocorrelation pitch estimate per frame.
func extractFrames(samples []float32, sampleRate int) []frameFeatures {
	winLen := sampleRate * frameWindowMS / 1000
	hopLen := sampleRate * frameHopMS / 1000
	if winLen <= 0 || hopLen <= 0 || len(samples) < winLen {
		return nil
	}

	fft := fourier.NewFFT(winLen)
	out := make([]frameFeatures, 0, (len(samples)-winLen)/hopLen+1)

	for start := 0; start+winLen <= len(samples); start += hopLen {
		win := samples[start : start+winLen]
		out = append(out, analyzeFrame(win, sampleRate, fft))
	}
	return out
}

func analyzeFrame(win []float32, sampleRate int, fft *fourier.FFT) frameFeatures {
	n := len(win)

	var sumSq float64
	var zeroCrossings int
	for i, s := range win {
		sumSq += float64(s) * float64(s)
		if i > 0 && ((win[i-1] >= 0) != (s >= 0)) {
			zeroCrossings++
		}
	}
	rms := math.Sqrt(sumSq / float64(n))
	zcr := float64(zeroCrossings) / float64(n-1)

	in := make([]float64, n)
	for i, s := range win {
		in[i] = float64(s)
	}
	spec := fft.Coefficients(nil, in)

	var magSum, weighted float64
	mags := make([]float64, len(spec))
	for i, c := range spec {
		mag := math.Hypot(real(c), imag(c))
		mags[i] = mag
		freq := float64(i) * float64(sampleRate) / float64(n)
		weighted += mag * freq
		magSum += mag
	}
	centroid := 0.0
	if magSum > 0 {
		centroid = weighted / magSum
	}

	rolloff := spectralRolloff(mags, magSum, sampleRate, n, 0.85)
	pitch := autocorrelationPitch(win, sampleRate)

	return frameFeatures{
		rms:              rms,
		zcr:              zcr,
		spectralCentroid: centroid,
		spectralRolloff:  rolloff,
		pitchHz:          pitch,
	}
}

// spectralRolloff returns the frequency below which rolloffPct of the
// spectral energy is contained.
func spectralRolloff(mags []float64, total float64, sampleRate, n int, rolloffPct float64) float64 {
	if total <= 0 {
		return 0
	}
	threshold := total * rolloffPct
	var cum float64
	for i, m := range mags {
		cum += m
		if cum >= threshold {
			return float64(i) * float64(sampleRate) / float64(n)
		}
	}
	return float64(len(mags)-1) * float64(sampleRate) / float64(n)
}

// autocorrelationPitch estimates fundamental frequency via normalized
// autocorrelation, searching lags corresponding to 70-400Hz (typical
// speech range). Returns 0 for unvoiced/silent frames.
func autocorrelationPitch(win []float32, sampleRate int) float64 {
	n := len(win)
	minLag := sampleRate / 400
	maxLag := sampleRate / 70
	if maxLag >= n {
		maxLag = n - 1
	}
	if minLag >= maxLag {
		return 0
	}

	var energy float64
	for _, s := range win {
		energy += float64(s) * float64(s)
	}
	if energy < 1e-9 {
		return 0
	}

	bestLag := -1
	bestVal := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var sum float64
		for i := 0; i < n-lag; i++ {
			sum += float64(win[i]) * float64(win[i+lag])
		}
		norm := sum / energy
		if norm > bestVal {
			bestVal = norm
			bestLag = lag
		}
	}

	if bestLag <= 0 || bestVal < 0.3 {
		return 0
	}
	return float64(sampleRate) / float64(bestLag)
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

func stdev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
