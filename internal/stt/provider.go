// Package stt turns flushed utterance audio into text utterances.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyTranscript is returned when a provider hears nothing usable
var ErrEmptyTranscript = errors.New("empty transcript")

// Result is a provider transcription
type Result struct {
	Text string
	// SegmentConfidences holds per-segment or per-word likelihoods in [0,1]
	// when the provider reports them.
	SegmentConfidences []float64
}

// Provider transcribes one WAV-encoded phrase. Implementations must decode
// deterministically (zero temperature or the provider's equivalent).
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, language string) (*Result, error)
}
