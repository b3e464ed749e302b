package audio

import (
	"math"
	"testing"
)

func sinePCM(samples int, freq float64, amplitude float32) []byte {
	out := make([]float32, samples)
	for i := range out {
		out[i] = amplitude * float32(math.Sin(2*math.Pi*freq*float64(i)/float64(InputSampleRate)))
	}
	return FloatTo16BitPCM(out)
}

func TestAnalyzer_EmptyIsSilent(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	if got := a.Level(); got != 0 {
		t.Fatalf("Level() on empty analyzer = %v, want 0", got)
	}
}

func TestAnalyzer_SilenceStaysNearZero(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	a.Push(make([]byte, 4096*BytesPerSample))
	if got := a.Level(); got > 0.01 {
		t.Fatalf("silent input level = %v, want ~0", got)
	}
}

func TestAnalyzer_LouderSignalReadsHigher(t *testing.T) {
	t.Parallel()

	quiet := NewAnalyzer()
	quiet.Push(sinePCM(4096, 440, 0.05))
	loud := NewAnalyzer()
	loud.Push(sinePCM(4096, 440, 0.9))

	quietLevel := quiet.Level()
	loudLevel := loud.Level()
	if loudLevel <= quietLevel {
		t.Fatalf("loud level %v not above quiet level %v", loudLevel, quietLevel)
	}
	if loudLevel > 1 {
		t.Fatalf("level %v exceeds 1", loudLevel)
	}
}

func TestAnalyzer_SmoothingDampsDropout(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	a.Push(sinePCM(4096, 440, 0.9))
	var sustained float64
	for i := 0; i < smoothingFrames; i++ {
		sustained = a.Level()
	}

	// One silent frame should pull the reading down gradually, not to zero.
	a.Push(make([]byte, 4096*BytesPerSample))
	after := a.Level()
	if after >= sustained {
		t.Fatalf("level did not drop after silence: before=%v after=%v", sustained, after)
	}
	if after == 0 {
		t.Fatal("smoothed level collapsed to zero after one silent frame")
	}
}

func TestAnalyzer_IgnoresMalformedInput(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer()
	a.Push([]byte{0x01}) // odd length
	if got := a.Level(); got != 0 {
		t.Fatalf("level after malformed push = %v, want 0", got)
	}
}
