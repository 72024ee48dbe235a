package audio

import (
	"time"

	"github.com/lexiqai/consult-gateway/internal/model"
)

// SegmenterConfig holds every threshold used to cut a channel into phrases.
// Durations are wall-clock lengths of audio, not processing time.
type SegmenterConfig struct {
	VAD              VADConfig
	SampleRate       int           // rate flushed audio is encoded at; frames are resampled to it
	PhraseEndSilence time.Duration // trailing silence that completes a phrase
	OrphanSilence    time.Duration // silence after which an idle rolling buffer is cleared
	MinVoice         time.Duration // shorter phrases are discarded
	MaxPhrase        time.Duration // longer phrases are flushed early
	TargetPeak       float32       // normalization target
	NoiseFloor       float32       // peaks below this are not normalized
}

// DefaultSegmenterConfig returns a default segmentation configuration
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		VAD:              DefaultVADConfig(),
		SampleRate:       16000,
		PhraseEndSilence: 1200 * time.Millisecond,
		OrphanSilence:    10 * time.Second,
		MinVoice:         400 * time.Millisecond,
		MaxPhrase:        15 * time.Second,
		TargetPeak:       0.9,
		NoiseFloor:       0.02,
	}
}

// FlushReason explains why a phrase was flushed
type FlushReason string

const (
	FlushPhraseEnd FlushReason = "phrase_end"
	FlushMaxLength FlushReason = "max_length"
	FlushForced    FlushReason = "forced"
)

// FlushFunc receives every phrase that survives the minimum-duration rule
type FlushFunc func(unit model.UtteranceAudioUnit, reason FlushReason)

// SegmenterStats is a snapshot of segmenter counters
type SegmenterStats struct {
	Frames       int64
	VoicedFrames int64
	Emitted      int64
	TooShort     int64
	OrphanResets int64
}

// phraseBuffer accumulates one phrase
type phraseBuffer struct {
	chunks       [][]float32
	samples      int   // all buffered samples, including pauses
	voicedEnd    int   // sample count up to and including the last voiced frame
	voicedFrames int   // frames classified as voice
	startMs      int64 // stream position of the first sample
}

func (p *phraseBuffer) append(samples []float32, voiced bool) {
	p.chunks = append(p.chunks, samples)
	p.samples += len(samples)
	if voiced {
		p.voicedEnd = p.samples
		p.voicedFrames++
	}
}

// trimmed returns the phrase without the silence after the last voiced frame
func (p *phraseBuffer) trimmed() []float32 {
	out := make([]float32, 0, p.voicedEnd)
	for _, c := range p.chunks {
		if len(out)+len(c) > p.voicedEnd {
			out = append(out, c[:p.voicedEnd-len(out)]...)
			break
		}
		out = append(out, c...)
	}
	return out
}

// Segmenter turns the frames of one (session, channel) into utterance audio units.
// It is owned by a single worker goroutine and is not safe for concurrent use.
type Segmenter struct {
	sessionID string
	channel   model.Channel
	config    SegmenterConfig
	onFlush   FlushFunc

	vad       *VADDetector
	ring      *SampleRing
	pending   [][]float32 // voiced run that has not yet confirmed speech
	phrase    *phraseBuffer
	silenceMs float64
	orphaned  bool
	origin    time.Time // timestamp of the first frame
	streamMs  float64   // stream position of the next sample
	stats     SegmenterStats
}

// NewSegmenter creates a segmenter for one channel of a session
func NewSegmenter(sessionID string, channel model.Channel, config SegmenterConfig, onFlush FlushFunc) *Segmenter {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	ringSamples := int(config.MaxPhrase.Seconds() * float64(config.SampleRate))
	return &Segmenter{
		sessionID: sessionID,
		channel:   channel,
		config:    config,
		onFlush:   onFlush,
		vad:       NewVADDetector(config.VAD),
		ring:      NewSampleRing(ringSamples),
	}
}

// Ingest processes one frame and may synchronously invoke the flush callback
func (s *Segmenter) Ingest(frame model.AudioFrame) {
	if len(frame.Samples) == 0 {
		return
	}
	samples := frame.Samples
	if frame.SampleRate > 0 && frame.SampleRate != s.config.SampleRate {
		samples = Resample(samples, frame.SampleRate, s.config.SampleRate)
	}
	frameMs := DurationMs(len(samples), s.config.SampleRate)
	s.stats.Frames++
	s.anchor(frame.Timestamp, frameMs)

	voiced, speaking, started := s.vad.ProcessFrame(CalculateRMS(samples))

	switch {
	case voiced:
		s.stats.VoicedFrames++
		s.silenceMs = 0
		s.orphaned = false

		if !speaking {
			s.pending = append(s.pending, samples)
			break
		}
		if started || s.phrase == nil {
			s.beginPhrase()
		}
		s.phrase.append(samples, true)
		s.ring.Write(samples)

	default:
		s.pending = nil
		s.silenceMs += frameMs

		if s.phrase != nil {
			s.phrase.append(samples, false)
			s.ring.Write(samples)
			if s.silenceMs >= float64(s.config.PhraseEndSilence.Milliseconds()) {
				s.streamMs += frameMs
				s.flush(FlushPhraseEnd)
				return
			}
		} else if !s.orphaned && s.silenceMs >= float64(s.config.OrphanSilence.Milliseconds()) {
			// Long idle stretch: drop whatever the rolling buffer still holds
			s.ring.Reset()
			s.vad.Reset()
			s.orphaned = true
			s.stats.OrphanResets++
		}
	}

	s.streamMs += frameMs

	if s.phrase != nil && DurationMs(s.phrase.samples, s.config.SampleRate) >= float64(s.config.MaxPhrase.Milliseconds()) {
		s.flush(FlushMaxLength)
	}
}

// anchor moves the stream position forward to the frame timestamp when
// frames went missing upstream, so positions stay on the sender's clock.
// Arrival jitter of up to one frame is absorbed.
func (s *Segmenter) anchor(ts time.Time, frameMs float64) {
	if ts.IsZero() {
		return
	}
	if s.origin.IsZero() {
		s.origin = ts
		return
	}
	if pos := float64(ts.Sub(s.origin).Microseconds()) / 1000; pos > s.streamMs+frameMs {
		s.streamMs = pos
	}
}

// beginPhrase opens a phrase, carrying over the voiced run that confirmed speech
func (s *Segmenter) beginPhrase() {
	var preroll int
	for _, c := range s.pending {
		preroll += len(c)
	}
	s.phrase = &phraseBuffer{
		startMs: int64(s.streamMs - DurationMs(preroll, s.config.SampleRate)),
	}
	for _, c := range s.pending {
		s.phrase.append(c, true)
		s.ring.Write(c)
	}
	s.pending = nil
}

// Flush emits the active phrase, if any, regardless of trailing silence.
// Used when a session or stream ends mid-phrase.
func (s *Segmenter) Flush() {
	if s.phrase != nil {
		s.flush(FlushForced)
	}
}

func (s *Segmenter) flush(reason FlushReason) {
	phrase := s.phrase
	s.phrase = nil
	s.pending = nil
	s.vad.Reset()

	var samples []float32
	if reason == FlushMaxLength {
		// The rolling buffer holds exactly the most recent MaxPhrase of speech
		samples = s.ring.Drain()
	} else {
		samples = phrase.trimmed()
	}
	s.ring.Reset()

	durationMs := DurationMs(len(samples), s.config.SampleRate)
	if durationMs < float64(s.config.MinVoice.Milliseconds()) {
		s.stats.TooShort++
		return
	}

	volume := CalculateRMS(samples)
	normalized := NormalizePeak(samples, s.config.TargetPeak, s.config.NoiseFloor)

	unit := model.UtteranceAudioUnit{
		SessionID:        s.sessionID,
		Channel:          s.channel,
		Audio:            EncodeWAV(normalized, s.config.SampleRate),
		SampleRate:       s.config.SampleRate,
		DurationMs:       int64(durationMs),
		AverageVolume:    volume,
		HasVoiceActivity: phrase.voicedFrames >= s.config.VAD.MinVoiceFrames,
		StartMs:          phrase.startMs,
		EndMs:            phrase.startMs + int64(durationMs),
	}
	s.stats.Emitted++
	if s.onFlush != nil {
		s.onFlush(unit, reason)
	}
}

// IsSpeaking reports whether a phrase is being accumulated
func (s *Segmenter) IsSpeaking() bool {
	return s.phrase != nil
}

// Stats returns a snapshot of the segmenter counters
func (s *Segmenter) Stats() SegmenterStats {
	return s.stats
}

// Reset drops all buffered audio without emitting
func (s *Segmenter) Reset() {
	s.phrase = nil
	s.pending = nil
	s.silenceMs = 0
	s.vad.Reset()
	s.ring.Reset()
}
