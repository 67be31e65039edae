package audio

import (
	"bytes"
	"sync"
	"time"

	goaudiowav "github.com/go-audio/wav"

	"github.com/hubenschmidt/coachserver/internal/errs"
)

// DefaultMaxBufferSeconds is the default ring capacity in seconds.
const DefaultMaxBufferSeconds = 10.0

// Buffer is a fixed-capacity ring of mono float32 PCM samples at a
// canonical sample rate (C1 AudioBuffer). Exactly one producer may
// call Append and exactly one consumer may call ReadChunk/PeekChunk;
// concurrent use of Append against ReadChunk/PeekChunk/Available is
// safe, but multiple concurrent producers are disallowed by contract.
type Buffer struct {
	mu         sync.Mutex
	samples    []float32
	capacity   int
	sampleRate int

	writeOverwrites uint64 // count of samples dropped due to ring overflow
	decodeWarnings  uint64
}

// NewBuffer creates a Buffer canonicalized to sampleRate with a
// capacity of sampleRate*maxBufferSeconds samples.
func NewBuffer(sampleRate int, maxBufferSeconds float64) *Buffer {
	if maxBufferSeconds <= 0 {
		maxBufferSeconds = DefaultMaxBufferSeconds
	}
	cap := int(float64(sampleRate) * maxBufferSeconds)
	return &Buffer{
		samples:    make([]float32, 0, cap),
		capacity:   cap,
		sampleRate: sampleRate,
	}
}

// SampleRate returns the canonical sample rate this buffer stores at.
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// Append decodes data (in the given codec, at sourceRate), resamples
// it to the canonical rate, and writes it into the ring. If the
// write would exceed capacity, the oldest samples are dropped and the
// overwrite counter increments (§4.1 lossy backpressure).
func (b *Buffer) Append(data []byte, codec Codec, sourceRate int) error {
	samples, rate, err := Decode(data, codec, sourceRate)
	if err != nil {
		return errs.Wrap(errs.AudioFormatError, "failed to decode audio chunk", err)
	}
	if len(samples) == 0 {
		return errs.New(errs.AudioFormatError, "decoded zero samples", nil)
	}
	if rate != b.sampleRate {
		samples = Resample(samples, rate, b.sampleRate)
	}
	b.appendSamples(samples)
	return nil
}

// AppendSamples writes already-decoded, already-resampled samples
// directly into the ring (used by callers that decoded via a
// dedicated container parser, e.g. WAV upload).
func (b *Buffer) AppendSamples(samples []float32, sourceRate int) {
	if sourceRate != 0 && sourceRate != b.sampleRate {
		samples = Resample(samples, sourceRate, b.sampleRate)
	}
	b.appendSamples(samples)
}

func (b *Buffer) appendSamples(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, samples...)
	if over := len(b.samples) - b.capacity; over > 0 {
		b.samples = b.samples[over:]
		b.writeOverwrites += uint64(over)
	}
}

// ReadChunk removes and returns exactly n samples from the front of
// the ring, or (nil, false) if fewer than n samples are available.
// Never returns a partial chunk (§8 invariant 1).
func (b *Buffer) ReadChunk(n int) ([]float32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) < n {
		return nil, false
	}
	out := make([]float32, n)
	copy(out, b.samples[:n])
	b.samples = b.samples[n:]
	return out, true
}

// PeekChunk returns a copy of the first n samples without consuming
// them, or (nil, false) if fewer than n are available.
func (b *Buffer) PeekChunk(n int) ([]float32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) < n {
		return nil, false
	}
	out := make([]float32, n)
	copy(out, b.samples[:n])
	return out, true
}

// Available returns the number of samples currently buffered.
func (b *Buffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Clear empties the ring without resetting counters.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = b.samples[:0]
}

// Overwrites returns the cumulative count of samples dropped due to
// ring overflow since creation.
func (b *Buffer) Overwrites() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeOverwrites
}

// DecodeWarnings returns the buffer's decode-warning counter. No Buffer
// method increments it, so it stays 0; DecodeContainer reports its
// raw-PCM fallback through its warned return value instead.
func (b *Buffer) DecodeWarnings() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decodeWarnings
}

// DecodeContainer decodes a full audio file (WAV, or raw PCM as a
// fallback) into mono float32 samples at the file's native rate.
// MP3/M4A/OGG/FLAC are accepted by the REST surface's extension
// whitelist (§6) but, absent a pack-provided decoder for those
// formats, are treated as raw PCM with a decode warning attached,
// matching §4.1's format-detection-failure fallback.
func DecodeContainer(data []byte, ext string) (samples []float32, sampleRate int, warned bool, err error) {
	if ext == ".wav" {
		dec := goaudiowav.NewDecoder(bytes.NewReader(data))
		if !dec.IsValidFile() {
			return decodeRawFallback(data)
		}
		buf, derr := dec.FullPCMBuffer()
		if derr != nil || buf == nil || len(buf.Data) == 0 {
			return nil, 0, false, errs.New(errs.AudioFormatError, "wav decode produced zero samples", nil)
		}
		ch := buf.Format.NumChannels
		if ch < 1 {
			ch = 1
		}
		maxVal := float32(int(1) << uint(buf.SourceBitDepth-1))
		out := make([]float32, len(buf.Data)/ch)
		for i := range out {
			var sum float32
			for c := 0; c < ch; c++ {
				sum += float32(buf.Data[i*ch+c]) / maxVal
			}
			out[i] = sum / float32(ch)
		}
		return out, buf.Format.SampleRate, false, nil
	}
	return decodeRawFallback(data)
}

func decodeRawFallback(data []byte) ([]float32, int, bool, error) {
	samples := decodePCM(data)
	if len(samples) == 0 {
		return nil, 0, false, errs.New(errs.AudioFormatError, "decoded zero samples", nil)
	}
	return samples, 16000, true, nil
}

// Duration returns the playback duration of n samples at sampleRate.
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(sampleRate) * float64(time.Second))
}
