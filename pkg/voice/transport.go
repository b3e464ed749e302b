// Package voice drives a real-time bidirectional voice session: the websocket
// transport to the model, the session controller that wires microphone
// capture, playback scheduling, and tool dispatch together, and the orb
// visualizer fed by live audio energy.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heavendeskai/askheaven/pkg/live/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// DefaultVoice is the prebuilt voice used when the caller does not pick one.
const DefaultVoice = "Fenrir"

// TransportConfig configures a live websocket connection.
type TransportConfig struct {
	// URL is the ws:// or wss:// endpoint of the live API.
	URL string
	// APIKey is sent as a bearer token on the handshake.
	APIKey string

	// Instructions is the assembled system instruction for the session.
	Instructions string
	// Tools are the function declarations advertised to the model.
	Tools []protocol.ToolDeclaration
	// Voice names the prebuilt voice. Empty means DefaultVoice.
	Voice string

	// ConnectTimeout bounds the dial plus setup acknowledgement. Zero means
	// 15 seconds.
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

func (c TransportConfig) normalized() TransportConfig {
	c.URL = strings.TrimSpace(c.URL)
	c.Voice = strings.TrimSpace(c.Voice)
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// TransportHandlers receives events decoded by the transport's read loop.
// All handlers are invoked synchronously from the read loop, so a handler
// completes before the next inbound frame is processed. Nil handlers are
// skipped.
type TransportHandlers struct {
	// OnAudioChunk receives decoded 24 kHz PCM for playback.
	OnAudioChunk func(pcm []byte)
	// OnToolCall receives a batch of function calls from the model.
	OnToolCall func(calls []protocol.FunctionCall)
	// OnInterrupted fires when the model reports the user barged in.
	OnInterrupted func()
	// OnTurnComplete fires when the model finishes a spoken turn.
	OnTurnComplete func()
	// OnClosed fires exactly once when the read loop exits. err is nil on a
	// clean close.
	OnClosed func(err error)
}

// Transport is a live websocket connection to the model. Writes are
// serialized; the read loop decodes server frames into handler calls.
type Transport struct {
	cfg  TransportConfig
	conn *websocket.Conn

	handlers TransportHandlers

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	started   atomic.Bool
	done      chan struct{}
}

// ConnectTransport dials the live endpoint, sends the session setup, and
// waits for the server's acknowledgement. The returned transport is idle
// until Start is called.
func ConnectTransport(ctx context.Context, cfg TransportConfig) (*Transport, error) {
	cfg = cfg.normalized()
	if cfg.URL == "" {
		return nil, fmt.Errorf("voice: transport URL must not be empty")
	}

	headers := make(http.Header)
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		headers.Set("Authorization", "Bearer "+key)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	dialer := websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(dialCtx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{Op: "dial", URL: cfg.URL, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &TransportError{Op: "dial", URL: cfg.URL, Err: err}
	}

	setup := protocol.ClientSetup{
		Setup: protocol.SetupConfig{
			SystemInstruction: cfg.Instructions,
			Tools:             cfg.Tools,
			Voice:             cfg.Voice,
			AudioIn: protocol.AudioFormat{
				MIMEType:     protocol.InputMIMEType,
				SampleRateHz: 16000,
				Channels:     1,
			},
			AudioOut: protocol.AudioFormat{
				MIMEType:     protocol.OutputMIMEType,
				SampleRateHz: 24000,
				Channels:     1,
			},
		},
	}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "setup", URL: cfg.URL, Err: err}
	}

	_ = conn.SetReadDeadline(time.Now().Add(cfg.ConnectTimeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, ErrConnectTimeout
	}
	_ = conn.SetReadDeadline(time.Time{})

	events, err := protocol.DecodeServerMessage(payload)
	if err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "setup", URL: cfg.URL, Err: err}
	}
	acked := false
	for _, event := range events {
		if _, ok := event.(protocol.SetupCompleteEvent); ok {
			acked = true
			break
		}
	}
	if !acked {
		_ = conn.Close()
		return nil, &TransportError{Op: "setup", URL: cfg.URL, Err: fmt.Errorf("server did not acknowledge setup")}
	}

	cfg.Logger.Info("voice transport connected", "url", cfg.URL, "voice", cfg.Voice)
	return &Transport{
		cfg:  cfg,
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Start registers the handlers and launches the read loop. It must be called
// at most once.
func (t *Transport) Start(handlers TransportHandlers) {
	if t == nil {
		return
	}
	t.handlers = handlers
	t.started.Store(true)
	go t.readLoop()
}

// SendAudioFrame transmits one captured 16 kHz PCM frame. A failed write is
// retried once before the error is surfaced.
func (t *Transport) SendAudioFrame(pcm []byte) error {
	return t.sendWithRetry("audio_frame", protocol.NewAudioFrame(pcm))
}

// SendToolResults transmits the responses for a tool call batch.
func (t *Transport) SendToolResults(responses []protocol.FunctionResponse) error {
	return t.sendWithRetry("tool_response", protocol.ClientToolResponse{FunctionResponses: responses})
}

func (t *Transport) sendWithRetry(op string, v any) error {
	if err := t.sendJSON(op, v); err != nil {
		t.cfg.Logger.Warn("voice transport send failed, retrying once", "op", op, "error", err)
		if retryErr := t.sendJSON(op, v); retryErr != nil {
			return retryErr
		}
	}
	return nil
}

func (t *Transport) sendJSON(op string, v any) error {
	if t == nil {
		return fmt.Errorf("voice: transport must not be nil")
	}
	if t.closed.Load() {
		return ErrSessionClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteJSON(v); err != nil {
		return &TransportError{Op: op, URL: t.cfg.URL, Err: err}
	}
	return nil
}

func (t *Transport) readLoop() {
	var loopErr error
	defer func() {
		close(t.done)
		if t.handlers.OnClosed != nil {
			t.handlers.OnClosed(loopErr)
		}
	}()

	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			if t.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			loopErr = &TransportError{Op: "read", URL: t.cfg.URL, Err: err}
			return
		}

		events, err := protocol.DecodeServerMessage(payload)
		if err != nil {
			t.cfg.Logger.Warn("voice transport dropped malformed frame", "error", err)
			continue
		}
		for _, event := range events {
			t.dispatch(event)
		}
	}
}

// dispatch runs each handler inline so ordering guarantees hold: an
// interruption is fully applied before the next audio chunk is seen.
func (t *Transport) dispatch(event protocol.ServerEvent) {
	switch e := event.(type) {
	case protocol.AudioChunkEvent:
		if t.handlers.OnAudioChunk != nil {
			t.handlers.OnAudioChunk(e.PCM)
		}
	case protocol.InterruptedEvent:
		if t.handlers.OnInterrupted != nil {
			t.handlers.OnInterrupted()
		}
	case protocol.ToolCallEvent:
		if t.handlers.OnToolCall != nil {
			t.handlers.OnToolCall(e.Calls)
		}
	case protocol.TurnCompleteEvent:
		if t.handlers.OnTurnComplete != nil {
			t.handlers.OnTurnComplete()
		}
	}
}

// Close shuts the connection down. It is safe to call more than once and
// from any goroutine; it returns after the read loop has exited.
func (t *Transport) Close() error {
	if t == nil {
		return nil
	}
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		_ = t.conn.Close()
		if !t.started.Load() {
			close(t.done)
		}
	})
	<-t.done
	return nil
}
