package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	// ErrMicPermission means the audio backend refused microphone access.
	ErrMicPermission = errors.New("microphone access denied")
	// ErrNoInputDevice means no capture device is available.
	ErrNoInputDevice = errors.New("no audio input device")
)

// CaptureConfig configures microphone capture.
type CaptureConfig struct {
	// SampleRate of the capture stream. Default 16000.
	SampleRate int
	// FrameSize is the number of samples per delivered frame. Default 4096.
	FrameSize int
	Logger    *slog.Logger
}

func (c CaptureConfig) normalized() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = InputSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = 4096
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// captureDevice is the hardware seam: the malgo device in production, a fake
// in tests.
type captureDevice interface {
	Start() error
	Close()
}

// Capture owns the microphone stream. The backend delivers samples at its own
// period size; Capture re-blocks them into fixed FrameSize frames and hands
// each one to the registered frame callback. The mute flag is written only by
// the user-facing toggle and read by the frame callback's owner; muting does
// not stop the hardware stream.
type Capture struct {
	cfg   CaptureConfig
	muted atomic.Bool

	mu      sync.Mutex
	onFrame func(pcm []byte)
	acc     []byte
	device  captureDevice
	started bool

	// newDevice builds the hardware device; replaced in tests.
	newDevice func(sampleRate int, onSamples func([]byte)) (captureDevice, error)
}

// NewCapture creates an idle capture pipeline.
func NewCapture(cfg CaptureConfig) *Capture {
	cfg = cfg.normalized()
	return &Capture{
		cfg:       cfg,
		acc:       make([]byte, 0, cfg.FrameSize*BytesPerSample*2),
		newDevice: initMalgoCapture,
	}
}

// OnFrame registers the per-frame callback. Must be set before Start.
func (c *Capture) OnFrame(fn func(pcm []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = fn
}

// SetMuted toggles transmission suppression. Capture keeps running.
func (c *Capture) SetMuted(muted bool) {
	c.muted.Store(muted)
}

// Muted reports the current mute flag.
func (c *Capture) Muted() bool {
	return c.muted.Load()
}

// Start acquires the microphone and begins frame delivery. It fails with
// ErrMicPermission when the backend refuses access and ErrNoInputDevice when
// no capture device exists.
func (c *Capture) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	device, err := c.newDevice(c.cfg.SampleRate, c.push)
	if err != nil {
		return err
	}
	if err := device.Start(); err != nil {
		device.Close()
		return fmt.Errorf("start capture device: %w", err)
	}
	c.device = device
	c.started = true
	c.cfg.Logger.Debug("microphone capture started",
		"sample_rate", c.cfg.SampleRate, "frame_size", c.cfg.FrameSize)
	return nil
}

// Stop releases the microphone and cancels frame delivery. Idempotent, and
// safe when Start was never called.
func (c *Capture) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	device := c.device
	c.device = nil
	c.started = false
	c.acc = c.acc[:0]
	c.mu.Unlock()

	if device != nil {
		device.Close()
		c.cfg.Logger.Debug("microphone capture stopped")
	}
}

// push accumulates backend samples and emits fixed-size frames. Frames are
// delivered even while muted; the callback's owner decides whether to
// transmit, so the energy meter keeps running on a muted mic.
func (c *Capture) push(samples []byte) {
	frameBytes := c.cfg.FrameSize * BytesPerSample

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.acc = append(c.acc, samples...)
	var frames [][]byte
	for len(c.acc) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, c.acc[:frameBytes])
		c.acc = c.acc[frameBytes:]
		frames = append(frames, frame)
	}
	onFrame := c.onFrame
	c.mu.Unlock()

	if onFrame == nil {
		return
	}
	for _, frame := range frames {
		onFrame(frame)
	}
}

// malgoCapture wraps a miniaudio capture device.
type malgoCapture struct {
	allocated *malgo.AllocatedContext
	device    *malgo.Device
}

func initMalgoCapture(sampleRate int, onSamples func([]byte)) (captureDevice, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	allocated, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicPermission, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onSamples(input)
		},
	}
	device, err := malgo.InitDevice(allocated.Context, deviceConfig, callbacks)
	if err != nil {
		_ = allocated.Uninit()
		return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}
	return &malgoCapture{allocated: allocated, device: device}, nil
}

func (m *malgoCapture) Start() error {
	return m.device.Start()
}

func (m *malgoCapture) Close() {
	_ = m.device.Stop()
	m.device.Uninit()
	_ = m.allocated.Uninit()
}
