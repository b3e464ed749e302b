package audio

import (
	"log/slog"
	"sync"
	"time"
)

// Clock is the playback audio clock. Zero is the moment the output device
// opened; values only move forward.
type Clock interface {
	Now() time.Duration
}

// Sink plays one scheduled PCM unit at a time. Play must not block; done is
// invoked once the unit has finished playing. Stop silences the active unit
// immediately and drops its pending done callback's effect (the Scheduler
// guards against stale completions on its own as well).
type Sink interface {
	Play(pcm []byte, start, duration time.Duration, done func())
	Stop()
}

// Scheduler keeps synthesized audio chunks playing in arrival order with no
// gap and no overlap. A single cursor tracks the next available start time on
// the output clock; each chunk starts at max(cursor, now) and advances the
// cursor by its duration.
type Scheduler struct {
	clock      Clock
	sink       Sink
	sampleRate int
	logger     *slog.Logger

	mu      sync.Mutex
	queue   [][]byte
	cursor  time.Duration
	playing bool
	gen     uint64

	onIdle func()
}

// NewScheduler creates a Scheduler draining into sink against clock.
// onIdle fires each time the queue empties after playback; it may be nil.
func NewScheduler(clock Clock, sink Sink, sampleRate int, onIdle func(), logger *slog.Logger) *Scheduler {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		clock:      clock,
		sink:       sink,
		sampleRate: sampleRate,
		onIdle:     onIdle,
		logger:     logger,
	}
}

// Enqueue appends a chunk and starts the drain loop if idle.
func (s *Scheduler) Enqueue(pcm []byte) {
	if s == nil || len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, pcm)
	if s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = true
	unit := s.nextUnitLocked()
	s.mu.Unlock()
	s.startUnit(unit)
}

// Flush stops the active unit, drops every queued chunk, and resets the
// cursor to the current clock time. The scheduler accepts new chunks
// immediately afterwards with no residual delay.
func (s *Scheduler) Flush() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.gen++
	dropped := len(s.queue)
	s.queue = nil
	s.playing = false
	s.cursor = s.clock.Now()
	s.mu.Unlock()
	s.sink.Stop()
	s.logger.Debug("playback flushed", "dropped", dropped)
}

// Pending returns the number of queued chunks not yet handed to the sink.
func (s *Scheduler) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Playing reports whether a unit is scheduled or audible.
func (s *Scheduler) Playing() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Cursor returns the next available start time on the output clock.
func (s *Scheduler) Cursor() time.Duration {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

type playUnit struct {
	pcm      []byte
	start    time.Duration
	duration time.Duration
	gen      uint64
}

// nextUnitLocked pops the head chunk and advances the cursor.
func (s *Scheduler) nextUnitLocked() playUnit {
	pcm := s.queue[0]
	s.queue = s.queue[1:]

	now := s.clock.Now()
	start := s.cursor
	if start < now {
		start = now
	}
	duration := BytesToDuration(len(pcm), s.sampleRate)
	s.cursor = start + duration

	return playUnit{pcm: pcm, start: start, duration: duration, gen: s.gen}
}

func (s *Scheduler) startUnit(unit playUnit) {
	s.sink.Play(unit.pcm, unit.start, unit.duration, func() {
		s.unitDone(unit.gen)
	})
}

// unitDone chains the drain loop: completion of one unit schedules the next,
// so chunks never overlap and never reorder. Completions from before a Flush
// carry a stale generation and are ignored.
func (s *Scheduler) unitDone(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if len(s.queue) > 0 {
		unit := s.nextUnitLocked()
		s.mu.Unlock()
		s.startUnit(unit)
		return
	}
	s.playing = false
	idle := s.onIdle
	s.mu.Unlock()
	if idle != nil {
		idle()
	}
}
