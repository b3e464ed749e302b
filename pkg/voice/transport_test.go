package voice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/heavendeskai/askheaven/pkg/audio"
	"github.com/heavendeskai/askheaven/pkg/live/protocol"
)

func newVoiceWebsocketTestServer(t *testing.T, handler func(conn *websocket.Conn)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return wsURL, server.Close
}

// ackSetup reads the client setup frame and acknowledges it.
func ackSetup(conn *websocket.Conn) (protocol.ClientSetup, error) {
	var setup protocol.ClientSetup
	if err := conn.ReadJSON(&setup); err != nil {
		return setup, err
	}
	return setup, conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})
}

func TestConnectTransport_SendsSetupAndAwaitsAck(t *testing.T) {
	t.Parallel()

	setupCh := make(chan protocol.ClientSetup, 1)
	serverURL, closeServer := newVoiceWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		setup, err := ackSetup(conn)
		if err != nil {
			return
		}
		setupCh <- setup
		// Hold the connection open until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	transport, err := ConnectTransport(context.Background(), TransportConfig{
		URL:          serverURL,
		APIKey:       "key-123",
		Instructions: "You are Heaven.",
		Tools:        []protocol.ToolDeclaration{{Name: "checkInbox"}},
	})
	if err != nil {
		t.Fatalf("ConnectTransport error: %v", err)
	}
	transport.Start(TransportHandlers{})
	defer transport.Close()

	setup := <-setupCh
	if setup.Setup.SystemInstruction != "You are Heaven." {
		t.Errorf("systemInstruction = %q", setup.Setup.SystemInstruction)
	}
	if setup.Setup.Voice != DefaultVoice {
		t.Errorf("voice = %q, want default %q", setup.Setup.Voice, DefaultVoice)
	}
	if setup.Setup.AudioIn.SampleRateHz != 16000 || setup.Setup.AudioOut.SampleRateHz != 24000 {
		t.Errorf("audio formats = %+v / %+v", setup.Setup.AudioIn, setup.Setup.AudioOut)
	}
	if len(setup.Setup.Tools) != 1 || setup.Setup.Tools[0].Name != "checkInbox" {
		t.Errorf("tools = %+v", setup.Setup.Tools)
	}
}

func TestConnectTransport_TimeoutWithoutAck(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newVoiceWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		var setup protocol.ClientSetup
		_ = conn.ReadJSON(&setup)
		// Never acknowledge.
		time.Sleep(2 * time.Second)
	})
	defer closeServer()

	_, err := ConnectTransport(context.Background(), TransportConfig{
		URL:            serverURL,
		ConnectTimeout: 150 * time.Millisecond,
	})
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("error = %v, want ErrConnectTimeout", err)
	}
}

func TestConnectTransport_DialFailure(t *testing.T) {
	t.Parallel()

	_, err := ConnectTransport(context.Background(), TransportConfig{
		URL:            "ws://127.0.0.1:1",
		ConnectTimeout: 500 * time.Millisecond,
	})
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if transportErr.Op != "dial" {
		t.Fatalf("op = %q, want dial", transportErr.Op)
	}
}

func TestTransport_DispatchesEventsInOrder(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x02}
	serverURL, closeServer := newVoiceWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if _, err := ackSetup(conn); err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{map[string]any{"inlineData": map[string]any{
						"mimeType": protocol.OutputMIMEType,
						"data":     audio.EncodeBase64(pcm),
					}}},
				},
			},
		})
		_ = conn.WriteJSON(map[string]any{
			"serverContent": map[string]any{"interrupted": true},
		})
		_ = conn.WriteJSON(map[string]any{
			"toolCall": map[string]any{"functionCalls": []any{
				map[string]any{"id": "c1", "name": "checkInbox"},
			}},
		})
		_ = conn.WriteJSON(map[string]any{
			"serverContent": map[string]any{"turnComplete": true},
		})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
	})
	defer closeServer()

	transport, err := ConnectTransport(context.Background(), TransportConfig{URL: serverURL})
	if err != nil {
		t.Fatalf("ConnectTransport error: %v", err)
	}

	var mu sync.Mutex
	var order []string
	closed := make(chan error, 1)
	record := func(what string) {
		mu.Lock()
		order = append(order, what)
		mu.Unlock()
	}
	transport.Start(TransportHandlers{
		OnAudioChunk:   func(got []byte) { record("audio:" + string(got)) },
		OnInterrupted:  func() { record("interrupted") },
		OnToolCall:     func(calls []protocol.FunctionCall) { record("tool:" + calls[0].ID) },
		OnTurnComplete: func() { record("turn_complete") },
		OnClosed:       func(err error) { closed <- err },
	})

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("transport closed with error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("transport did not close")
	}
	_ = transport.Close()

	want := []string{"audio:" + string(pcm), "interrupted", "tool:c1", "turn_complete"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("events = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("events = %v, want %v", order, want)
		}
	}
}

func TestTransport_SendAudioFrameAndToolResults(t *testing.T) {
	t.Parallel()

	type received struct {
		audio protocol.ClientAudioFrame
		tools protocol.ClientToolResponse
	}
	got := make(chan received, 1)
	serverURL, closeServer := newVoiceWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if _, err := ackSetup(conn); err != nil {
			return
		}
		var r received
		if err := conn.ReadJSON(&r.audio); err != nil {
			return
		}
		if err := conn.ReadJSON(&r.tools); err != nil {
			return
		}
		got <- r
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	transport, err := ConnectTransport(context.Background(), TransportConfig{URL: serverURL})
	if err != nil {
		t.Fatalf("ConnectTransport error: %v", err)
	}
	transport.Start(TransportHandlers{})
	defer transport.Close()

	pcm := []byte{0x0a, 0x0b, 0x0c, 0x0d}
	if err := transport.SendAudioFrame(pcm); err != nil {
		t.Fatalf("SendAudioFrame error: %v", err)
	}
	if err := transport.SendToolResults([]protocol.FunctionResponse{{
		ID:       "c1",
		Name:     "checkInbox",
		Response: map[string]any{"result": "Inbox is clear."},
	}}); err != nil {
		t.Fatalf("SendToolResults error: %v", err)
	}

	select {
	case r := <-got:
		decoded, err := audio.DecodeBase64(r.audio.Media.Data)
		if err != nil || string(decoded) != string(pcm) {
			t.Fatalf("audio payload = %v (err %v), want %v", decoded, err, pcm)
		}
		if len(r.tools.FunctionResponses) != 1 || r.tools.FunctionResponses[0].ID != "c1" {
			t.Fatalf("tool responses = %+v", r.tools.FunctionResponses)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive client frames")
	}
}

func TestTransport_SendAfterCloseFails(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newVoiceWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		if _, err := ackSetup(conn); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	transport, err := ConnectTransport(context.Background(), TransportConfig{URL: serverURL})
	if err != nil {
		t.Fatalf("ConnectTransport error: %v", err)
	}
	transport.Start(TransportHandlers{})

	if err := transport.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if err := transport.SendAudioFrame([]byte{1, 2}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("send after close = %v, want ErrSessionClosed", err)
	}
}
