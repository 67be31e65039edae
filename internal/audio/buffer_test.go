package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"testing"
)

func pcm16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

func TestBuffer_ReadChunk_ExactOrNone(t *testing.T) {
	b := NewBuffer(16000, 1.0)

	if _, ok := b.ReadChunk(10); ok {
		t.Fatal("expected no chunk from empty buffer")
	}

	samples := make([]float32, 5)
	b.AppendSamples(samples, 16000)

	if _, ok := b.ReadChunk(10); ok {
		t.Fatal("expected no chunk when fewer samples than requested")
	}

	if chunk, ok := b.ReadChunk(5); !ok || len(chunk) != 5 {
		t.Fatalf("expected exact chunk of 5, got %d ok=%v", len(chunk), ok)
	}

	if b.Available() != 0 {
		t.Fatalf("expected 0 available after full read, got %d", b.Available())
	}
}

func TestBuffer_AvailableBounds(t *testing.T) {
	cap := 16000 // 1 second at 16kHz
	b := NewBuffer(16000, 1.0)

	for i := 0; i < 5; i++ {
		b.AppendSamples(make([]float32, 8000), 16000)
		if a := b.Available(); a < 0 || a > cap {
			t.Fatalf("available out of bounds: %d (cap=%d)", a, cap)
		}
	}
}

func TestBuffer_OverflowIsLossyAndCounted(t *testing.T) {
	b := NewBuffer(16000, 1.0) // capacity 16000 samples

	b.AppendSamples(make([]float32, 16000), 16000)
	if b.Overwrites() != 0 {
		t.Fatalf("expected no overwrites yet, got %d", b.Overwrites())
	}

	b.AppendSamples(make([]float32, 4000), 16000)
	if b.Overwrites() != 4000 {
		t.Fatalf("expected 4000 overwrites, got %d", b.Overwrites())
	}
	if b.Available() != 16000 {
		t.Fatalf("expected buffer capped at capacity 16000, got %d", b.Available())
	}
}

func TestBuffer_ConcurrentAppendAndRead(t *testing.T) {
	b := NewBuffer(16000, 10.0)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.AppendSamples(make([]float32, 16), 16000)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.ReadChunk(8)
		}
	}()

	wg.Wait()

	if a := b.Available(); a < 0 {
		t.Fatalf("available went negative: %d", a)
	}
}

func TestDecodeContainer_RawFallbackOnZeroSamples(t *testing.T) {
	_, _, _, err := DecodeContainer(nil, ".wav")
	if err == nil {
		t.Fatal("expected error decoding empty input")
	}
}

func TestAppend_DecodesPCM(t *testing.T) {
	b := NewBuffer(16000, 1.0)
	raw := pcm16([]float32{0.1, 0.2, -0.1, -0.2})
	if err := b.Append(raw, CodecPCM, 16000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Available() != 4 {
		t.Fatalf("expected 4 samples, got %d", b.Available())
	}
}
