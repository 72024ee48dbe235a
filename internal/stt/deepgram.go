package stt

import (
	"bytes"
	"context"
	"fmt"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// DeepgramProvider transcribes phrases with Deepgram's prerecorded REST API
type DeepgramProvider struct {
	client *api.Client
	model  string
}

// NewDeepgramProvider creates a provider for the given model (e.g. nova-2-medical)
func NewDeepgramProvider(apiKey, model string) (*DeepgramProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: api key must not be empty")
	}
	c := listenClient.NewREST(apiKey, &interfaces.ClientOptions{})
	return &DeepgramProvider{client: api.New(c), model: model}, nil
}

// Name implements Provider
func (d *DeepgramProvider) Name() string { return "deepgram" }

// Transcribe implements Provider
func (d *DeepgramProvider) Transcribe(ctx context.Context, audio []byte, language string) (*Result, error) {
	opts := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Language:    language,
		Punctuate:   true,
		SmartFormat: true,
	}

	res, err := d.client.FromStream(ctx, bytes.NewReader(audio), opts)
	if err != nil {
		return nil, fmt.Errorf("deepgram: transcribe: %w", err)
	}
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 ||
		len(res.Results.Channels[0].Alternatives) == 0 {
		return nil, ErrEmptyTranscript
	}

	alt := res.Results.Channels[0].Alternatives[0]
	out := &Result{Text: alt.Transcript}
	for _, w := range alt.Words {
		out.SegmentConfidences = append(out.SegmentConfidences, w.Confidence)
	}
	if len(out.SegmentConfidences) == 0 && alt.Confidence > 0 {
		out.SegmentConfidences = []float64{alt.Confidence}
	}
	return out, nil
}
