package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// WhisperProvider transcribes phrases with an OpenAI-compatible
// /audio/transcriptions endpoint (OpenAI Whisper or a local server).
type WhisperProvider struct {
	client oai.Client
	model  string
}

// WhisperOptions configures the transcription client
type WhisperOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewWhisperProvider creates a provider
func NewWhisperProvider(opts WhisperOptions) *WhisperProvider {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey), option.WithMaxRetries(0)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: opts.Timeout}))
	}
	model := opts.Model
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperProvider{client: oai.NewClient(reqOpts...), model: model}
}

// Name implements Provider
func (w *WhisperProvider) Name() string { return "whisper" }

// verboseSegment is the part of a verbose_json segment we read
type verboseSegment struct {
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// Transcribe implements Provider
func (w *WhisperProvider) Transcribe(ctx context.Context, audio []byte, language string) (*Result, error) {
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio), "utterance.wav", "audio/wav"),
		Model:          oai.AudioModel(w.model),
		Temperature:    oai.Float(0),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if language != "" {
		params.Language = oai.String(language)
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("whisper: transcribe: %w", err)
	}
	out := &Result{Text: resp.Text}
	out.SegmentConfidences = segmentConfidences(resp.RawJSON())
	return out, nil
}

// segmentConfidences maps verbose_json segments to likelihoods.
// A segment the model believes is not speech counts against its confidence.
func segmentConfidences(raw string) []float64 {
	if raw == "" {
		return nil
	}
	var body struct {
		Segments []verboseSegment `json:"segments"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil
	}
	out := make([]float64, 0, len(body.Segments))
	for _, s := range body.Segments {
		p := math.Exp(s.AvgLogprob) * (1 - s.NoSpeechProb)
		out = append(out, math.Max(0, math.Min(1, p)))
	}
	return out
}
