package stt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexiqai/consult-gateway/internal/model"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello there", "Hello there."},
		{"  it hurts   here  ", "It hurts here."},
		{"[MUSIC] it started yesterday (coughs) in the morning", "It started yesterday in the morning."},
		{"is it bad? i think so", "Is it bad? I think so."},
		{"*laughs* okay", "Okay."},
		{"no , not really", "No, not really."},
		{"three days ago,", "Three days ago."},
		{"Already done!", "Already done!"},
		{"[inaudible]", ""},
		{"...", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in), "input %q", tt.in)
	}
}

func TestScoreConfidence(t *testing.T) {
	assert.Zero(t, ScoreConfidence("", nil))

	fromSegments := ScoreConfidence("The pain started two days ago.", []float64{0.9, 0.95})
	assert.InDelta(t, 0.975, fromSegments, 0.001, "mean of segments plus punctuation reward")

	short := ScoreConfidence("Yes", nil)
	long := ScoreConfidence("The pain started two days ago after I lifted a heavy box at work", nil)
	assert.Less(t, short, long, "length-based confidence grows with text")

	repetitive := ScoreConfidence("the the the the the the the the", nil)
	varied := ScoreConfidence("the pain is sharp and it comes and goes", nil)
	assert.Less(t, repetitive, varied)

	fillers := ScoreConfidence("um uh so like um yeah okay", nil)
	assert.Less(t, fillers, varied)

	assert.Greater(t, ScoreConfidence("It hurts.", nil), ScoreConfidence("It hurts", nil))

	for _, s := range []float64{ScoreConfidence("ok", []float64{1.5, 2}), ScoreConfidence("x", []float64{-1})} {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestSynthesizeFallback(t *testing.T) {
	tests := []struct {
		name       string
		durationMs int64
		volume     float64
		words      []string
	}{
		{"short soft", 800, 0.02, []string{"short", "soft-spoken"}},
		{"medium loud", 3000, 0.2, []string{"medium", "clearly spoken"}},
		{"long soft", 9000, 0.05, []string{"long", "soft-spoken"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := SynthesizeFallback(model.UtteranceAudioUnit{
				Channel:       model.ChannelPatient,
				DurationMs:    tt.durationMs,
				AverageVolume: tt.volume,
			}, 0.6)
			assert.True(t, strings.HasPrefix(fb.Text, "[Transcript unavailable:"))
			assert.True(t, strings.HasSuffix(fb.Text, "]"))
			for _, w := range tt.words {
				assert.Contains(t, fb.Text, w)
			}
			assert.Contains(t, fb.Text, "patient")
			assert.Greater(t, fb.Confidence, 0.0)
			assert.LessOrEqual(t, fb.Confidence, 0.6)
		})
	}
}

func TestSynthesizeFallback_RespectsCeiling(t *testing.T) {
	fb := SynthesizeFallback(model.UtteranceAudioUnit{DurationMs: 10000, AverageVolume: 0.5}, 0.3)
	assert.LessOrEqual(t, fb.Confidence, 0.3)
}

func TestSegmentConfidences(t *testing.T) {
	raw := `{"text":"hi","segments":[{"avg_logprob":0,"no_speech_prob":0},{"avg_logprob":-0.6931,"no_speech_prob":0.5}]}`
	got := segmentConfidences(raw)
	if assert.Len(t, got, 2) {
		assert.InDelta(t, 1.0, got[0], 1e-6)
		assert.InDelta(t, 0.25, got[1], 1e-3)
	}
	assert.Nil(t, segmentConfidences(""))
	assert.Nil(t, segmentConfidences("not json"))
}
