package voice

import (
	"encoding/base64"
	"testing"
)

func TestFloatToPCM16_ClampsFullScale(t *testing.T) {
	cases := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{0.5, 16384},
		{-0.5, -16384},
		// Naive *32768 scaling would wrap 1.0 to -32768.
		{1.0, 32767},
		{-1.0, -32768},
		{1.5, 32767},
		{-1.5, -32768},
	}
	for _, tc := range cases {
		pcm := FloatToPCM16([]float32{tc.in})
		got := int16(uint16(pcm[0]) | uint16(pcm[1])<<8)
		if got != tc.want {
			t.Errorf("FloatToPCM16(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.999, -0.999}
	out := PCM16ToFloat(FloatToPCM16(in))
	if len(out) != len(in) {
		t.Fatalf("round trip length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		diff := out[i] - in[i]
		if diff < 0 {
			diff = -diff
		}
		// 16-bit quantization error bound.
		if diff > 1.0/32768 {
			t.Errorf("sample %d: %v -> %v, outside quantization error", i, in[i], out[i])
		}
	}
}

func TestDecodeAudio(t *testing.T) {
	if _, err := DecodeAudio("not base64!!"); err == nil {
		t.Fatal("DecodeAudio accepted malformed base64")
	}
	if _, err := DecodeAudio(""); err == nil {
		t.Fatal("DecodeAudio accepted empty payload")
	}

	encoded := base64.StdEncoding.EncodeToString([]byte{0x00, 0x40}) // 16384 LE
	samples, err := DecodeAudio(encoded)
	if err != nil {
		t.Fatalf("DecodeAudio: %v", err)
	}
	if len(samples) != 1 || samples[0] != 0.5 {
		t.Fatalf("DecodeAudio = %v, want [0.5]", samples)
	}
}

func TestSampleDuration(t *testing.T) {
	if got := SampleDuration(24000, OutputSampleRate); got != 1.0 {
		t.Fatalf("SampleDuration(24000, 24000) = %v, want 1.0", got)
	}
	if got := SampleDuration(12000, OutputSampleRate); got != 0.5 {
		t.Fatalf("SampleDuration(12000, 24000) = %v, want 0.5", got)
	}
	if got := SampleDuration(0, OutputSampleRate); got != 0 {
		t.Fatalf("SampleDuration(0, 24000) = %v, want 0", got)
	}
}
