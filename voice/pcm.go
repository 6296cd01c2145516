package voice

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// InputSampleRate is the capture rate expected by the live model.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of synthesized audio coming back.
	OutputSampleRate = 24000

	// BlockSize is the number of mono samples in one outbound frame.
	BlockSize = 4096

	InputMIMEType  = "audio/pcm;rate=16000"
	OutputMIMEType = "audio/pcm;rate=24000"
)

// FloatToPCM16 converts float samples in [-1,1] to 16-bit signed
// little-endian PCM. Values are clamped so a full-scale 1.0 sample maps to
// 32767 instead of wrapping negative.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(math.Round(float64(s) * 32768))
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// PCM16ToFloat converts 16-bit signed little-endian PCM to float samples.
// A trailing odd byte is ignored.
func PCM16ToFloat(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// EncodeBlock packs a block of captured samples into the text-safe frame
// payload sent to the transport.
func EncodeBlock(samples []float32) string {
	return base64.StdEncoding.EncodeToString(FloatToPCM16(samples))
}

// DecodeAudio unpacks an inbound base64 payload into float samples.
func DecodeAudio(encoded string) ([]float32, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}
	return PCM16ToFloat(data), nil
}

// SampleDuration returns the playback duration in seconds of a mono sample
// count at the given rate.
func SampleDuration(samples int, rate int) float64 {
	if rate <= 0 || samples <= 0 {
		return 0
	}
	return float64(samples) / float64(rate)
}
