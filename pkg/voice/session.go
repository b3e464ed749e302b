package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/heavendeskai/askheaven/pkg/assistant"
	"github.com/heavendeskai/askheaven/pkg/audio"
	"github.com/heavendeskai/askheaven/pkg/live/protocol"
)

// Status is the session's lifecycle state.
type Status string

const (
	// StatusConnecting covers dial, setup, and device bring-up.
	StatusConnecting Status = "connecting"
	// StatusListening means the mic is hot and the assistant is quiet.
	StatusListening Status = "listening"
	// StatusSpeaking means assistant audio is playing or queued.
	StatusSpeaking Status = "speaking"
	// StatusExecuting means a tool call batch is in flight.
	StatusExecuting Status = "executing"
	// StatusDisconnected is terminal; the session cannot be restarted.
	StatusDisconnected Status = "disconnected"
)

// transportLink is what the session needs from a transport.
type transportLink interface {
	Start(TransportHandlers)
	SendAudioFrame(pcm []byte) error
	SendToolResults(responses []protocol.FunctionResponse) error
	Close() error
}

// SessionConfig configures a voice session.
type SessionConfig struct {
	Transport TransportConfig

	// Persona is the base system instruction; empty uses the default.
	Persona string
	// Profile shapes the persona and gates premium tools.
	Profile *assistant.UserProfile

	// Dispatcher executes incoming tool calls. Required.
	Dispatcher *assistant.Dispatcher

	// OnStatus, when set, is called on every status change.
	OnStatus func(Status)

	Logger *slog.Logger
}

// Session is a live voice conversation: it pumps microphone frames to the
// model, schedules returned audio for gapless playback, runs tool calls, and
// tears everything down exactly once.
type Session struct {
	logger *slog.Logger

	transport transportLink
	capture   *audio.Capture
	scheduler *audio.Scheduler
	speaker   *audio.Speaker
	analyzer  *audio.Analyzer
	orb       *Visualizer

	dispatcher *assistant.Dispatcher
	onStatus   func(Status)

	status atomic.Value // Status

	teardownOnce sync.Once
	done         chan struct{}

	errMu sync.Mutex
	err   error
}

// StartSession connects to the live API, opens the audio devices, and begins
// streaming. On success the session is in StatusListening.
func StartSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("voice: session requires a dispatcher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	transportCfg := cfg.Transport
	if transportCfg.Instructions == "" {
		transportCfg.Instructions = assistant.SystemInstruction(cfg.Persona, cfg.Profile)
	}
	if transportCfg.Tools == nil {
		transportCfg.Tools = assistant.Declarations(cfg.Profile)
	}
	if transportCfg.Logger == nil {
		transportCfg.Logger = logger
	}

	session := newSession(cfg.Dispatcher, cfg.OnStatus, logger)
	session.setStatus(StatusConnecting)

	transport, err := ConnectTransport(ctx, transportCfg)
	if err != nil {
		session.setStatus(StatusDisconnected)
		return nil, err
	}
	session.transport = transport

	speaker, err := audio.NewSpeaker(audio.OutputSampleRate)
	if err != nil {
		_ = transport.Close()
		session.setStatus(StatusDisconnected)
		return nil, fmt.Errorf("voice: open speaker: %w", err)
	}
	session.speaker = speaker
	session.scheduler = audio.NewScheduler(speaker, speaker, audio.OutputSampleRate, session.onPlaybackIdle, logger)

	session.capture = audio.NewCapture(audio.CaptureConfig{Logger: logger})
	session.capture.OnFrame(session.onCaptureFrame)

	session.orb = NewVisualizer(session.analyzer, session.Status)

	transport.Start(session.handlers())

	if err := session.capture.Start(ctx); err != nil {
		session.teardown(err)
		return nil, err
	}

	session.setStatus(StatusListening)
	logger.Info("voice session started")
	return session, nil
}

func newSession(dispatcher *assistant.Dispatcher, onStatus func(Status), logger *slog.Logger) *Session {
	s := &Session{
		logger:     logger,
		analyzer:   audio.NewAnalyzer(),
		dispatcher: dispatcher,
		onStatus:   onStatus,
		done:       make(chan struct{}),
	}
	s.status.Store(StatusDisconnected)
	return s
}

func (s *Session) handlers() TransportHandlers {
	return TransportHandlers{
		OnAudioChunk:   s.onAudioChunk,
		OnToolCall:     s.onToolCall,
		OnInterrupted:  s.onInterrupted,
		OnTurnComplete: s.onTurnComplete,
		OnClosed:       s.onTransportClosed,
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	if s == nil {
		return StatusDisconnected
	}
	return s.status.Load().(Status)
}

func (s *Session) setStatus(next Status) {
	prev := s.status.Swap(next).(Status)
	if prev == next {
		return
	}
	if s.onStatus != nil {
		s.onStatus(next)
	}
}

// Visualizer returns the session's orb visualizer.
func (s *Session) Visualizer() *Visualizer {
	if s == nil {
		return nil
	}
	return s.orb
}

// SetMuted toggles the microphone. While muted, captured frames still feed
// the visualizer but are not transmitted.
func (s *Session) SetMuted(muted bool) {
	if s == nil || s.capture == nil {
		return
	}
	s.capture.SetMuted(muted)
}

// Muted reports whether the microphone is muted.
func (s *Session) Muted() bool {
	if s == nil || s.capture == nil {
		return false
	}
	return s.capture.Muted()
}

func (s *Session) onCaptureFrame(pcm []byte) {
	s.analyzer.Push(pcm)
	if s.capture.Muted() {
		return
	}
	switch s.Status() {
	case StatusDisconnected, StatusConnecting:
		return
	}
	if err := s.transport.SendAudioFrame(pcm); err != nil {
		s.logger.Error("voice session audio send failed", "error", err)
		s.teardown(err)
	}
}

func (s *Session) onAudioChunk(pcm []byte) {
	s.setStatus(StatusSpeaking)
	s.analyzer.Push(pcm)
	s.scheduler.Enqueue(pcm)
}

func (s *Session) onInterrupted() {
	// Runs inline on the read loop, so the flush completes before any
	// further chunk from the next turn can be enqueued.
	s.scheduler.Flush()
	s.setStatus(StatusListening)
}

func (s *Session) onToolCall(calls []protocol.FunctionCall) {
	if len(calls) == 0 {
		return
	}
	s.setStatus(StatusExecuting)
	go func() {
		responses := s.dispatcher.DispatchAll(context.Background(), calls)
		if err := s.transport.SendToolResults(responses); err != nil {
			s.logger.Error("voice session tool result send failed", "error", err)
			s.teardown(err)
			return
		}
		if s.Status() == StatusExecuting {
			s.setStatus(StatusListening)
		}
	}()
}

func (s *Session) onTurnComplete() {
	if s.Status() == StatusSpeaking && !s.scheduler.Playing() {
		s.setStatus(StatusListening)
	}
}

func (s *Session) onPlaybackIdle() {
	if s.Status() == StatusSpeaking {
		s.setStatus(StatusListening)
	}
}

func (s *Session) onTransportClosed(err error) {
	s.teardown(err)
}

// Close ends the session. It is idempotent and safe from any goroutine.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.teardown(nil)
	return nil
}

// Wait blocks until the session has fully torn down.
func (s *Session) Wait() {
	if s == nil {
		return
	}
	<-s.done
}

// Err returns the error that ended the session, if any. It blocks until
// teardown completes.
func (s *Session) Err() error {
	if s == nil {
		return nil
	}
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// teardown stops the pipeline in a fixed order: capture first so no new
// frames arrive, then playback, then the visualizer, then the transport.
func (s *Session) teardown(cause error) {
	s.teardownOnce.Do(func() {
		s.setErr(cause)
		if s.capture != nil {
			s.capture.Stop()
		}
		if s.scheduler != nil {
			s.scheduler.Flush()
		}
		if s.speaker != nil {
			_ = s.speaker.Close()
		}
		if s.orb != nil {
			s.orb.Stop()
		}
		if s.transport != nil {
			_ = s.transport.Close()
		}
		s.setStatus(StatusDisconnected)
		s.logger.Info("voice session ended", "error", cause)
		close(s.done)
	})
}
