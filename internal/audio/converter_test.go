package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestDecodeSamples_PCM16(t *testing.T) {
	raw := []int16{0, 16384, -16384, 32767, -32768}
	data := make([]byte, len(raw)*2)
	for i, s := range raw {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	samples, err := DecodeSamples(data, EncodingPCM16)
	if err != nil {
		t.Fatalf("DecodeSamples failed: %v", err)
	}
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768, -1}
	for i := range want {
		if math.Abs(float64(samples[i]-want[i])) > 1e-6 {
			t.Errorf("Sample %d: expected %f, got %f", i, want[i], samples[i])
		}
	}
}

func TestDecodeSamples_OddLength(t *testing.T) {
	if _, err := DecodeSamples([]byte{1, 2, 3}, EncodingPCM16); err == nil {
		t.Error("Expected error for odd PCM16 payload")
	}
}

func TestDecodeSamples_Empty(t *testing.T) {
	if _, err := DecodeSamples(nil, EncodingPCM16); err == nil {
		t.Error("Expected error for empty payload")
	}
}

func TestDecodeSamples_Mulaw(t *testing.T) {
	// 0xFF is μ-law silence, 0x00 the most negative code
	samples, err := DecodeSamples([]byte{0xFF, 0x7F, 0x00}, EncodingMulaw)
	if err != nil {
		t.Fatalf("DecodeSamples failed: %v", err)
	}
	if samples[0] != 0 || samples[1] != 0 {
		t.Errorf("Expected silence codes to decode to 0, got %f %f", samples[0], samples[1])
	}
	if samples[2] >= -0.9 {
		t.Errorf("Expected 0x00 to decode near full-scale negative, got %f", samples[2])
	}
}

func TestDecodeSamples_Float32(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(3)) // clipped

	samples, err := DecodeSamples(data, EncodingFloat32)
	if err != nil {
		t.Fatalf("DecodeSamples failed: %v", err)
	}
	if samples[0] != 0.25 || samples[1] != 1 {
		t.Errorf("Unexpected samples %v", samples)
	}
}

func TestDecodeSamples_Unsupported(t *testing.T) {
	if _, err := DecodeSamples([]byte{0, 0}, Encoding("opus")); err == nil {
		t.Error("Expected error for unsupported encoding")
	}
}

func TestResample(t *testing.T) {
	samples := make([]float32, 480) // 10ms at 48kHz
	out := Resample(samples, 48000, 16000)
	if len(out) != 160 {
		t.Errorf("Expected 160 samples, got %d", len(out))
	}
	if same := Resample(samples, 16000, 16000); len(same) != len(samples) {
		t.Error("Expected identity when rates match")
	}
}

func TestNormalizePeak(t *testing.T) {
	samples := []float32{0.1, -0.3, 0.2}
	out := NormalizePeak(samples, 0.9, 0.02)

	if got := PeakAmplitude(out); math.Abs(float64(got-0.9)) > 1e-6 {
		t.Errorf("Expected peak 0.9, got %f", got)
	}
	if out[0] <= 0 || out[1] >= 0 {
		t.Error("Expected signs to be preserved")
	}
}

func TestNormalizePeak_SkipsNearSilence(t *testing.T) {
	samples := []float32{0.001, -0.002}
	out := NormalizePeak(samples, 0.9, 0.02)
	if out[0] != samples[0] || out[1] != samples[1] {
		t.Error("Expected near-silent signal to be left untouched")
	}
}

func TestCalculateRMS(t *testing.T) {
	rms := CalculateRMS([]float32{0.5, -0.5, 0.5, -0.5})
	if math.Abs(rms-0.5) > 1e-9 {
		t.Errorf("Expected RMS 0.5, got %f", rms)
	}
	if CalculateRMS(nil) != 0 {
		t.Error("Expected RMS of empty input to be 0")
	}
}

func TestEncodeWAV(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1}
	wav := EncodeWAV(samples, 16000)

	if len(wav) != 44+len(samples)*2 {
		t.Fatalf("Expected %d bytes, got %d", 44+len(samples)*2, len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("Expected RIFF/WAVE/data markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if got := int16(binary.LittleEndian.Uint16(wav[44+6:])); got != math.MaxInt16 {
		t.Errorf("Expected full-scale sample to clip to %d, got %d", math.MaxInt16, got)
	}
}

func TestDurationMs(t *testing.T) {
	if got := DurationMs(16000, 16000); got != 1000 {
		t.Errorf("Expected 1000ms, got %f", got)
	}
	if got := DurationMs(100, 0); got != 0 {
		t.Errorf("Expected 0 for invalid rate, got %f", got)
	}
}
