package audio

import (
	"math"
	"sync"
)

const (
	// analyzerBins is the number of frequency bins exposed, matching a
	// 512-point transform over the most recent input samples.
	analyzerBins   = 256
	analyzerWindow = analyzerBins * 2
	// smoothingFrames for the rolling energy average.
	smoothingFrames = 5
)

// Analyzer derives a scalar energy level from the live input stream for
// visualization. It is strictly best-effort: it never blocks the capture
// path and reports zero energy until samples arrive.
type Analyzer struct {
	mu      sync.Mutex
	window  []float32
	history [smoothingFrames]float64
	histIdx int
	filled  bool
}

// NewAnalyzer creates an Analyzer with an empty window.
func NewAnalyzer() *Analyzer {
	return &Analyzer{window: make([]float32, 0, analyzerWindow)}
}

// Push feeds the latest captured PCM16 frame. Malformed buffers are ignored;
// visualization must never fail the capture path.
func (a *Analyzer) Push(pcm []byte) {
	if a == nil {
		return
	}
	samples, err := Int16PCMToFloat(pcm)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.window = append(a.window, samples...)
	if n := len(a.window); n > analyzerWindow {
		a.window = a.window[n-analyzerWindow:]
	}
	a.mu.Unlock()
}

// Level returns the current smoothed energy in [0, 1]: the mean magnitude
// across the frequency bins of the latest window, normalized and averaged
// over the last few readings.
func (a *Analyzer) Level() float64 {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.window) < analyzerWindow {
		return 0
	}

	mags := magnitudeSpectrum(a.window)
	var sum float64
	for _, m := range mags {
		sum += m
	}
	// A full-scale tone concentrates ~N/2 in one bin, so the mean over N/2
	// bins lands near the signal amplitude. That already reads in 0..1.
	level := sum / float64(len(mags))
	if level > 1 {
		level = 1
	}

	a.history[a.histIdx] = level
	a.histIdx = (a.histIdx + 1) % smoothingFrames
	if a.histIdx == 0 {
		a.filled = true
	}

	count := smoothingFrames
	if !a.filled {
		count = a.histIdx
	}
	if count == 0 {
		return level
	}
	var smoothed float64
	for i := 0; i < count; i++ {
		smoothed += a.history[i]
	}
	return smoothed / float64(count)
}

// magnitudeSpectrum computes the magnitudes of the first half of an in-place
// radix-2 FFT over the window.
func magnitudeSpectrum(window []float32) []float64 {
	n := len(window)
	re := make([]float64, n)
	im := make([]float64, n)
	for i, s := range window {
		re[i] = float64(s)
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wRe, wIm := math.Cos(angle), math.Sin(angle)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			for k := 0; k < length/2; k++ {
				i, j := start+k, start+k+length/2
				tRe := re[j]*curRe - im[j]*curIm
				tIm := re[j]*curIm + im[j]*curRe
				re[j], im[j] = re[i]-tRe, im[i]-tIm
				re[i], im[i] = re[i]+tRe, im[i]+tIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}

	mags := make([]float64, n/2)
	for i := range mags {
		mags[i] = math.Hypot(re[i], im[i])
	}
	return mags
}
