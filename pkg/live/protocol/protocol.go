// Package protocol defines the wire frames exchanged with the live voice
// service, plus the decode step that maps each inbound frame onto tagged
// event variants.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/heavendeskai/askheaven/pkg/audio"
)

// Audio formats declared during setup. The upstream service synthesizes at
// 24 kHz regardless of the input rate.
const (
	InputMIMEType  = "audio/pcm;rate=16000"
	OutputMIMEType = "audio/pcm;rate=24000"
)

// AudioFormat declares one direction of the session's audio shape.
type AudioFormat struct {
	MIMEType     string `json:"mimeType"`
	SampleRateHz int    `json:"sampleRateHz"`
	Channels     int    `json:"channels"`
}

// Schema is the JSON-schema subset used by tool argument declarations.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// ToolDeclaration advertises one callable tool to the model.
type ToolDeclaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// SetupConfig is the session configuration sent on connect.
type SetupConfig struct {
	SystemInstruction string            `json:"systemInstruction,omitempty"`
	Tools             []ToolDeclaration `json:"tools,omitempty"`
	Voice             string            `json:"voice,omitempty"`
	AudioIn           AudioFormat       `json:"audioIn"`
	AudioOut          AudioFormat       `json:"audioOut"`
}

// ClientSetup is the first client frame of a session.
type ClientSetup struct {
	Setup SetupConfig `json:"setup"`
}

// MediaBlob carries base64-encoded PCM with its declared format.
type MediaBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// ClientAudioFrame transmits one captured microphone frame.
type ClientAudioFrame struct {
	Media MediaBlob `json:"media"`
}

// NewAudioFrame wraps raw input PCM for transmission.
func NewAudioFrame(pcm []byte) ClientAudioFrame {
	return ClientAudioFrame{Media: MediaBlob{
		MIMEType: InputMIMEType,
		Data:     audio.EncodeBase64(pcm),
	}}
}

// FunctionCall is one tool invocation requested by the model. ID correlates
// the eventual response.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FunctionResponse answers one FunctionCall. Response carries either a
// "result" or an "error" entry; the model always receives exactly one reply
// per call.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ClientToolResponse returns tool results for a batch of calls.
type ClientToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses"`
}

// Server frame shapes.

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	ToolCall      *toolCallBatch `json:"toolCall,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	InlineData *MediaBlob `json:"inlineData,omitempty"`
}

type toolCallBatch struct {
	FunctionCalls []FunctionCall `json:"functionCalls"`
}

// ServerEvent is one decoded inbound occurrence: exactly one of the concrete
// variants below.
type ServerEvent interface {
	serverEventType() string
}

// SetupCompleteEvent acknowledges the session configuration.
type SetupCompleteEvent struct{}

func (SetupCompleteEvent) serverEventType() string { return "setup_complete" }

// AudioChunkEvent carries one decoded chunk of synthesized output PCM.
type AudioChunkEvent struct {
	PCM []byte
}

func (AudioChunkEvent) serverEventType() string { return "audio_chunk" }

// ToolCallEvent carries a batch of tool invocations.
type ToolCallEvent struct {
	Calls []FunctionCall
}

func (ToolCallEvent) serverEventType() string { return "tool_call" }

// InterruptedEvent signals model-side barge-in detection: the user started
// speaking while synthesis was still streaming.
type InterruptedEvent struct{}

func (InterruptedEvent) serverEventType() string { return "interrupted" }

// TurnCompleteEvent marks the end of a model utterance.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) serverEventType() string { return "turn_complete" }

// DecodeServerMessage parses one inbound frame into its event variants, in
// the order they must be handled: audio before tool calls before the
// interruption flag. A frame with none of the known payloads decodes to an
// empty slice.
func DecodeServerMessage(data []byte) ([]ServerEvent, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode server frame: %w", err)
	}

	var events []ServerEvent
	if msg.SetupComplete != nil {
		events = append(events, SetupCompleteEvent{})
	}
	if msg.ServerContent != nil && msg.ServerContent.ModelTurn != nil {
		for _, p := range msg.ServerContent.ModelTurn.Parts {
			if p.InlineData == nil || strings.TrimSpace(p.InlineData.Data) == "" {
				continue
			}
			pcm, err := audio.DecodeBase64(p.InlineData.Data)
			if err != nil {
				return nil, err
			}
			events = append(events, AudioChunkEvent{PCM: pcm})
		}
	}
	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		events = append(events, ToolCallEvent{Calls: msg.ToolCall.FunctionCalls})
	}
	if msg.ServerContent != nil && msg.ServerContent.Interrupted {
		events = append(events, InterruptedEvent{})
	}
	if msg.ServerContent != nil && msg.ServerContent.TurnComplete {
		events = append(events, TurnCompleteEvent{})
	}
	return events, nil
}
