package voice

import (
	"sync"
	"time"

	"github.com/heavendeskai/askheaven/pkg/audio"
)

const (
	orbFrameInterval = 16 * time.Millisecond
	orbBaseRadius    = 50.0
	orbRadiusBoost   = 64.0
)

// OrbFrame is one rendered state of the session orb. Colors are CSS hex so
// any frontend can paint them directly.
type OrbFrame struct {
	Status Status  `json:"status"`
	Level  float64 `json:"level"`
	Radius float64 `json:"radius"`
	Core   string  `json:"core"`
	Glow   string  `json:"glow"`
	// Ring is the outer ring radius, slightly ahead of the core.
	Ring float64 `json:"ring"`
}

// orbPalette maps a session status to the orb's core and glow colors.
func orbPalette(status Status) (core, glow string) {
	switch status {
	case StatusSpeaking:
		return "#ffffff", "#3b82f6"
	case StatusListening:
		return "#ffffff", "#f87171"
	case StatusExecuting:
		return "#ffffff", "#4ade80"
	default:
		return "#ffffff22", "#ffffff11"
	}
}

// Visualizer periodically samples an energy analyzer and emits orb frames.
// A nil analyzer produces a static idle orb.
type Visualizer struct {
	analyzer *audio.Analyzer
	status   func() Status

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewVisualizer builds a visualizer over the given analyzer. status supplies
// the live session status for palette selection; nil means always idle.
func NewVisualizer(analyzer *audio.Analyzer, status func() Status) *Visualizer {
	return &Visualizer{analyzer: analyzer, status: status}
}

// Frame computes the current orb frame without waiting for a tick.
func (v *Visualizer) Frame() OrbFrame {
	var level float64
	if v != nil && v.analyzer != nil {
		level = v.analyzer.Level()
	}
	status := StatusDisconnected
	if v != nil && v.status != nil {
		status = v.status()
	}
	core, glow := orbPalette(status)
	radius := orbBaseRadius + level*orbRadiusBoost
	return OrbFrame{
		Status: status,
		Level:  level,
		Radius: radius,
		Core:   core,
		Glow:   glow,
		Ring:   radius + 10,
	}
}

// Start begins emitting frames to onFrame at roughly 60 Hz. Calling Start on
// a running visualizer is a no-op.
func (v *Visualizer) Start(onFrame func(OrbFrame)) {
	if v == nil || onFrame == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ticker != nil {
		return
	}
	v.ticker = time.NewTicker(orbFrameInterval)
	v.stop = make(chan struct{})
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		for {
			select {
			case <-v.ticker.C:
				onFrame(v.Frame())
			case <-v.stop:
				return
			}
		}
	}()
}

// Stop halts frame emission and waits for the emitter to exit. Safe to call
// without a prior Start and safe to call twice.
func (v *Visualizer) Stop() {
	if v == nil {
		return
	}
	v.mu.Lock()
	if v.ticker == nil {
		v.mu.Unlock()
		return
	}
	v.ticker.Stop()
	close(v.stop)
	v.ticker = nil
	v.mu.Unlock()
	v.wg.Wait()
}
