package audio

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/lexiqai/consult-gateway/internal/model"
)

const wavHeaderLen = 44

// DecodeWAV returns the samples of a mono PCM16 WAV produced by EncodeWAV
func DecodeWAV(data []byte) ([]float32, error) {
	if len(data) < wavHeaderLen || !bytes.Equal(data[:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, fmt.Errorf("not a WAV container")
	}
	if len(data) == wavHeaderLen {
		return nil, nil
	}
	return DecodeSamples(data[wavHeaderLen:], EncodingPCM16)
}

// MergeUnits joins a phrase that could not be transcribed yet with the one
// that followed it. When the result would exceed maxPhrase, the oldest audio
// is cut so the most recent speech survives.
func MergeUnits(first, second model.UtteranceAudioUnit, maxPhrase time.Duration) (model.UtteranceAudioUnit, error) {
	a, err := DecodeWAV(first.Audio)
	if err != nil {
		return second, fmt.Errorf("merge units: first: %w", err)
	}
	b, err := DecodeWAV(second.Audio)
	if err != nil {
		return first, fmt.Errorf("merge units: second: %w", err)
	}

	rate := second.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	samples := make([]float32, 0, len(a)+len(b))
	samples = append(samples, a...)
	samples = append(samples, b...)
	if limit := int(maxPhrase.Seconds() * float64(rate)); limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}

	durationMs := int64(DurationMs(len(samples), rate))
	start := first.StartMs
	if len(samples) < len(a)+len(b) {
		start = second.EndMs - durationMs
	}
	return model.UtteranceAudioUnit{
		SessionID:        second.SessionID,
		Channel:          second.Channel,
		Audio:            EncodeWAV(samples, rate),
		SampleRate:       rate,
		DurationMs:       durationMs,
		AverageVolume:    pooledRMS(first.AverageVolume, len(a), second.AverageVolume, len(b)),
		HasVoiceActivity: first.HasVoiceActivity || second.HasVoiceActivity,
		StartMs:          start,
		EndMs:            second.EndMs,
	}, nil
}

// pooledRMS combines two RMS levels measured over na and nb samples.
// Units carry their pre-normalization volume, so it is pooled rather than
// measured again on the normalized audio.
func pooledRMS(va float64, na int, vb float64, nb int) float64 {
	if na+nb == 0 {
		return 0
	}
	return math.Sqrt((va*va*float64(na) + vb*vb*float64(nb)) / float64(na+nb))
}
