package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Encoding names the sample formats accepted from the media transport
type Encoding string

const (
	EncodingPCM16   Encoding = "pcm16"   // 16-bit signed little-endian
	EncodingMulaw   Encoding = "mulaw"   // G.711 PCMU, 8-bit
	EncodingFloat32 Encoding = "float32" // IEEE-754 little-endian
)

// DecodeSamples converts raw transport bytes into float samples in [-1, 1]
func DecodeSamples(data []byte, enc Encoding) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}

	switch enc {
	case EncodingPCM16, "":
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("PCM16 payload length must be even, got %d", len(data))
		}
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
		}
		return out, nil

	case EncodingMulaw:
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = float32(mulawToLinear(b)) / 32768
		}
		return out, nil

	case EncodingFloat32:
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("float32 payload length must be a multiple of 4, got %d", len(data))
		}
		out := make([]float32, len(data)/4)
		for i := range out {
			out[i] = clamp(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", enc)
}

// mulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM (ITU-T G.711)
func mulawToLinear(mulawByte byte) int16 {
	const bias = 0x84

	// μ-law bytes are stored inverted
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	exponent := (mulawByte >> 4) & 0x07
	mantissa := int32(mulawByte & 0x0F)

	magnitude := ((mantissa << 3) + bias) << exponent
	magnitude -= bias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// Resample performs linear interpolation resampling
func Resample(samples []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	output := make([]float32, len(samples)*outputRate/inputRate)
	for i := range output {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}
		fraction := float32(srcPos - float64(idx0))
		output[i] = samples[idx0]*(1-fraction) + samples[idx1]*fraction
	}
	return output
}

// PeakAmplitude returns the largest absolute sample value
func PeakAmplitude(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// NormalizePeak scales samples so their peak reaches target.
// Signals whose peak is below noiseFloor are returned unchanged so that
// background noise is never amplified.
func NormalizePeak(samples []float32, target, noiseFloor float32) []float32 {
	peak := PeakAmplitude(samples)
	if len(samples) == 0 || peak < noiseFloor || peak == 0 || target <= 0 {
		return samples
	}

	gain := target / peak
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = clamp(s * gain)
	}
	return out
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DurationMs returns the playback length of n samples at rate
func DurationMs(n, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(n) * 1000 / float64(rate)
}

// EncodeWAV wraps samples in a mono 16-bit PCM WAV container
func EncodeWAV(samples []float32, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataLen := len(samples) * 2
	byteRate := sampleRate * channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + dataLen)
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16)) // fmt chunk size
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))  // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))

	pcm := make([]byte, dataLen)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(toPCM16(s)))
	}
	buf.Write(pcm)
	return buf.Bytes()
}

func toPCM16(s float32) int16 {
	s = clamp(s)
	if s >= 1 {
		return math.MaxInt16
	}
	return int16(s * 32768)
}

func clamp(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	case math.IsNaN(float64(s)):
		return 0
	}
	return s
}
