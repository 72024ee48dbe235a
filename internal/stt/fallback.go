package stt

import (
	"fmt"
	"math"

	"github.com/lexiqai/consult-gateway/internal/model"
)

// Duration and loudness buckets for synthesized placeholders
const (
	shortPhraseMs  = 2000
	longPhraseMs   = 6000
	loudPhraseRMS  = 0.1
	fallbackFactor = 0.5 // share of the ceiling granted to a placeholder
)

// Fallback is a placeholder for a phrase the provider could not transcribe
type Fallback struct {
	Text       string
	Confidence float64
}

// SynthesizeFallback describes a phrase from its duration and loudness only.
// The text is always bracketed so no reader mistakes it for transcribed
// speech, and its confidence never exceeds ceiling.
func SynthesizeFallback(unit model.UtteranceAudioUnit, ceiling float64) Fallback {
	length := "medium"
	switch {
	case unit.DurationMs < shortPhraseMs:
		length = "short"
	case unit.DurationMs >= longPhraseMs:
		length = "long"
	}
	loudness := "soft-spoken"
	if unit.AverageVolume >= loudPhraseRMS {
		loudness = "clearly spoken"
	}

	text := fmt.Sprintf("[Transcript unavailable: %s, %s %s phrase, %.1fs]",
		length, loudness, unit.Channel, float64(unit.DurationMs)/1000)

	// Longer, louder phrases are more certainly speech, never more certainly transcribed
	conf := ceiling * fallbackFactor
	if length != "short" {
		conf += ceiling * 0.1
	}
	if loudness == "clearly spoken" {
		conf += ceiling * 0.1
	}
	return Fallback{Text: text, Confidence: math.Min(conf, ceiling)}
}
