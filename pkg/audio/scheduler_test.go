package audio

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(d time.Duration) {
	c.mu.Lock()
	c.now = d
	c.mu.Unlock()
}

type playedUnit struct {
	start    time.Duration
	duration time.Duration
	done     func()
}

type fakeSink struct {
	mu    sync.Mutex
	plays []playedUnit
	stops int
}

func (s *fakeSink) Play(pcm []byte, start, duration time.Duration, done func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, playedUnit{start: start, duration: duration, done: done})
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *fakeSink) played() []playedUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]playedUnit, len(s.plays))
	copy(out, s.plays)
	return out
}

func chunkOf(d time.Duration) []byte {
	return make([]byte, DurationToBytes(d, OutputSampleRate))
}

func TestScheduler_GaplessBackToBack(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink, OutputSampleRate, nil, nil)

	s.Enqueue(chunkOf(200 * time.Millisecond))
	s.Enqueue(chunkOf(300 * time.Millisecond))
	s.Enqueue(chunkOf(150 * time.Millisecond))

	// Drain: each completion hands the next chunk to the sink.
	for i := 0; i < 3; i++ {
		plays := sink.played()
		if len(plays) != i+1 {
			t.Fatalf("after %d completions: %d plays, want %d", i, len(plays), i+1)
		}
		plays[i].done()
	}

	want := []struct{ start, duration time.Duration }{
		{0, 200 * time.Millisecond},
		{200 * time.Millisecond, 300 * time.Millisecond},
		{500 * time.Millisecond, 150 * time.Millisecond},
	}
	plays := sink.played()
	for i, w := range want {
		if plays[i].start != w.start || plays[i].duration != w.duration {
			t.Errorf("unit %d: start=%v duration=%v, want start=%v duration=%v",
				i, plays[i].start, plays[i].duration, w.start, w.duration)
		}
	}
	if s.Playing() {
		t.Error("scheduler still playing after queue drained")
	}
}

func TestScheduler_LateChunkStartsAtNow(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink, OutputSampleRate, nil, nil)

	s.Enqueue(chunkOf(100 * time.Millisecond))
	sink.played()[0].done()

	// The stream went quiet; the cursor is in the past by the time the next
	// chunk arrives.
	clock.set(900 * time.Millisecond)
	s.Enqueue(chunkOf(100 * time.Millisecond))

	plays := sink.played()
	if got := plays[1].start; got != 900*time.Millisecond {
		t.Fatalf("late chunk start = %v, want %v", got, 900*time.Millisecond)
	}
}

func TestScheduler_FlushDropsQueueAndResetsCursor(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink, OutputSampleRate, nil, nil)

	s.Enqueue(chunkOf(500 * time.Millisecond))
	s.Enqueue(chunkOf(500 * time.Millisecond))
	s.Enqueue(chunkOf(500 * time.Millisecond))

	clock.set(120 * time.Millisecond)
	s.Flush()

	if sink.stops != 1 {
		t.Fatalf("sink stops = %d, want 1", sink.stops)
	}
	if s.Pending() != 0 {
		t.Fatalf("pending after flush = %d, want 0", s.Pending())
	}
	if got := s.Cursor(); got != 120*time.Millisecond {
		t.Fatalf("cursor after flush = %v, want %v", got, 120*time.Millisecond)
	}

	// New audio after the flush starts immediately, not behind the dropped
	// chunks.
	s.Enqueue(chunkOf(100 * time.Millisecond))
	plays := sink.played()
	last := plays[len(plays)-1]
	if last.start != 120*time.Millisecond {
		t.Fatalf("post-flush chunk start = %v, want %v", last.start, 120*time.Millisecond)
	}
}

func TestScheduler_StaleCompletionIgnoredAfterFlush(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	sink := &fakeSink{}
	s := NewScheduler(clock, sink, OutputSampleRate, nil, nil)

	s.Enqueue(chunkOf(200 * time.Millisecond))
	s.Enqueue(chunkOf(200 * time.Millisecond))
	staleDone := sink.played()[0].done

	s.Flush()
	s.Enqueue(chunkOf(100 * time.Millisecond))

	before := len(sink.played())
	staleDone()
	if got := len(sink.played()); got != before {
		t.Fatalf("stale completion triggered %d extra plays", got-before)
	}
}

func TestScheduler_OnIdleFiresWhenDrained(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	sink := &fakeSink{}
	var idleCalls int
	s := NewScheduler(clock, sink, OutputSampleRate, func() { idleCalls++ }, nil)

	s.Enqueue(chunkOf(50 * time.Millisecond))
	s.Enqueue(chunkOf(50 * time.Millisecond))

	sink.played()[0].done()
	if idleCalls != 0 {
		t.Fatalf("onIdle fired with %d chunks still queued", s.Pending()+1)
	}
	sink.played()[1].done()
	if idleCalls != 1 {
		t.Fatalf("onIdle calls = %d, want 1", idleCalls)
	}
}
