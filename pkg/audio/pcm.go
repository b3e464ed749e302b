// Package audio implements the raw-PCM plumbing for Heaven's voice mode:
// sample conversion, microphone capture, gapless playback scheduling, and
// input energy analysis.
package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// InputSampleRate is the microphone capture rate sent to the live service.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of synthesized audio received from it.
	OutputSampleRate = 24000
	// BytesPerSample for mono PCM16.
	BytesPerSample = 2
)

// DecodeError reports a malformed audio payload (bad transport encoding or a
// truncated PCM buffer).
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// FloatTo16BitPCM converts float samples in [-1, 1] to little-endian signed
// 16-bit PCM. Out-of-range samples are clamped, never dropped.
func FloatTo16BitPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, sample := range samples {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		v := int16(sample * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Int16PCMToFloat converts little-endian signed 16-bit PCM back to float
// samples. A buffer with an odd byte count is malformed.
func Int16PCMToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, &DecodeError{Message: fmt.Sprintf("pcm16 buffer has odd length %d", len(pcm))}
	}
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768
	}
	return out, nil
}

// EncodeBase64 encodes raw bytes for text-framed transports.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 is the inverse of EncodeBase64.
func DecodeBase64(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, &DecodeError{Message: "decode base64 audio payload", Err: err}
	}
	return data, nil
}

// BytesToDuration returns the playback duration of a mono PCM16 buffer.
func BytesToDuration(n int, sampleRate int) time.Duration {
	if n <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// DurationToBytes returns the mono PCM16 byte count covering d.
func DurationToBytes(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := int(d * time.Duration(sampleRate) / time.Second)
	return samples * BytesPerSample
}
