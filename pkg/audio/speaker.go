package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Speaker is the production playback Sink backed by an oto output device.
// It also serves as the playback Clock: Now is the time since the device
// opened, which is what scheduled start times are denominated in.
//
// The oto player pulls PCM from an internal buffer via io.Reader, so feeding
// consecutive chunks back to back is inherently gapless; completion of each
// scheduled unit is signalled by a timer armed against the same clock.
type Speaker struct {
	sampleRate int
	epoch      time.Time

	otoCtx *oto.Context

	mu      sync.Mutex
	player  *oto.Player
	buf     []byte
	cond    *sync.Cond
	playing bool
	closed  bool
	timer   *time.Timer
}

// NewSpeaker opens the output device at the given sample rate (mono PCM16).
func NewSpeaker(sampleRate int) (*Speaker, error) {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	// ~100ms device buffer keeps latency low without starving the pull loop.
	opts := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("open audio output: %w", err)
	}
	<-ready

	s := &Speaker{
		sampleRate: sampleRate,
		epoch:      time.Now(),
		otoCtx:     otoCtx,
		buf:        make([]byte, 0, sampleRate*BytesPerSample),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Now implements Clock.
func (s *Speaker) Now() time.Duration {
	return time.Since(s.epoch)
}

// Play implements Sink. The PCM is appended to the pull buffer (start times
// from the Scheduler are already back to back, so order is position) and done
// fires when the unit's scheduled end passes on the clock.
func (s *Speaker) Play(pcm []byte, start, duration time.Duration, done func()) {
	if s == nil || len(pcm) == 0 {
		if done != nil {
			done()
		}
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	delay := start + duration - s.Now()
	if delay < 0 {
		delay = 0
	}
	s.timer = time.AfterFunc(delay, done)
	s.mu.Unlock()
	s.cond.Signal()
}

// Stop implements Sink: it silences playback at once and discards buffered
// audio, leaving the device ready for the next Play.
func (s *Speaker) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.buf = s.buf[:0]
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	player := s.player
	s.player = nil
	s.playing = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		// Pause first so stale audio stops immediately, then drop the
		// device-side buffer before releasing the player.
		player.Pause()
		player.Reset()
		player.Close()
	}
}

// Read implements io.Reader for the oto player pull loop.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed && s.playing {
		s.cond.Wait()
	}
	if s.closed || !s.playing {
		// Feed silence so oto drains gracefully instead of erroring.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Close releases the output device. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	player := s.player
	s.player = nil
	s.playing = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		player.Close()
	}
	return nil
}
