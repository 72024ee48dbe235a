package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/consult-gateway/internal/audio"
	"github.com/lexiqai/consult-gateway/internal/clinical"
	"github.com/lexiqai/consult-gateway/internal/model"
	"github.com/lexiqai/consult-gateway/internal/observability"
)

// session is the state of one live consultation
type session struct {
	id       string
	meta     clinical.SessionMeta
	registry *Registry
	ctx      context.Context
	cancel   context.CancelFunc
	workers  map[model.Channel]*channelWorker
	metrics  *observability.SessionMetrics
	logger   zerolog.Logger

	cycleMu sync.Mutex // one analysis cycle at a time
	wg      sync.WaitGroup
}

func newSession(r *Registry, id string, meta clinical.SessionMeta) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:       id,
		meta:     meta,
		registry: r,
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(map[model.Channel]*channelWorker, len(model.Channels)),
		logger:   observability.SessionLogger(id),
	}
	for _, ch := range model.Channels {
		s.workers[ch] = newChannelWorker(s, ch, r.config)
	}
	return s
}

func (s *session) start() {
	s.metrics = observability.NewSessionMetrics(s.id)
	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *channelWorker) {
			defer s.wg.Done()
			w.run(s.ctx)
		}(w)
	}
}

// stop cancels the workers and waits for them. Transcriptions already
// handed to a provider keep running and are discarded on completion.
func (s *session) stop() {
	s.cancel()
	s.wg.Wait()
	if s.metrics != nil {
		s.metrics.End()
	}
}

// busyRetry is how often a parked phrase polls a slot held by someone else
const busyRetry = 100 * time.Millisecond

// channelWorker serializes all segmentation work for one channel. At most
// one transcription per channel is in flight; a phrase that ends while the
// channel is busy or cooling down is parked and merged with whatever
// follows, then sent once the channel frees up.
type channelWorker struct {
	session   *session
	channel   model.Channel
	frames    chan model.AudioFrame
	flush     chan struct{}
	segmenter *audio.Segmenter
	maxPhrase time.Duration

	// Owned by the run goroutine
	parked *model.UtteranceAudioUnit
	busy   bool
	done   chan struct{}
	wake   <-chan time.Time
}

func newChannelWorker(s *session, ch model.Channel, config Config) *channelWorker {
	w := &channelWorker{
		session:   s,
		channel:   ch,
		frames:    make(chan model.AudioFrame, config.QueueSize),
		flush:     make(chan struct{}, 1),
		done:      make(chan struct{}, 1),
		maxPhrase: config.Segmenter.MaxPhrase,
	}
	w.segmenter = audio.NewSegmenter(s.id, ch, config.Segmenter, w.onPhrase)
	return w
}

func (w *channelWorker) push(f model.AudioFrame) bool {
	select {
	case w.frames <- f:
		return true
	default:
		observability.RecordFrameDropped(string(w.channel))
		return false
	}
}

func (w *channelWorker) requestFlush() {
	select {
	case w.flush <- struct{}{}:
	default:
	}
}

func (w *channelWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logStats()
			w.segmenter.Reset()
			return
		case f := <-w.frames:
			w.segmenter.Ingest(f)
		case <-w.flush:
			// Drain what already arrived so the flushed phrase is complete
			for drained := false; !drained; {
				select {
				case f := <-w.frames:
					w.segmenter.Ingest(f)
				default:
					drained = true
				}
			}
			w.segmenter.Flush()
		case <-w.done:
			w.busy = false
			w.dispatch()
		case <-w.wake:
			w.wake = nil
			w.dispatch()
		}
	}
}

// onPhrase runs on the worker goroutine for every flushed phrase
func (w *channelWorker) onPhrase(unit model.UtteranceAudioUnit, reason audio.FlushReason) {
	observability.RecordPhrase(string(w.channel), string(reason))

	if w.parked != nil {
		merged, err := audio.MergeUnits(*w.parked, unit, w.maxPhrase)
		if err != nil {
			w.session.logger.Warn().Err(err).Str("channel", string(w.channel)).Msg("Failed to merge parked phrase")
		}
		unit = merged
	}
	w.parked = &unit
	w.dispatch()
}

// dispatch sends the parked phrase to transcription if the channel is free
func (w *channelWorker) dispatch() {
	if w.parked == nil || w.busy {
		return
	}
	s := w.session
	r := s.registry

	if r.deps.Guard != nil {
		if !r.deps.Guard.IsOpen(s.id) {
			w.parked = nil
			return
		}
		st := r.deps.Guard.State(s.id, w.channel)
		wait := time.Until(st.AvailableAt)
		if st.InProgress {
			wait = busyRetry
		}
		if wait > 0 {
			if w.wake == nil {
				w.wake = time.After(wait)
			}
			s.logger.Debug().
				Str("channel", string(w.channel)).
				Dur("wait", wait).
				Int64("duration_ms", w.parked.DurationMs).
				Msg("Phrase parked until channel is free")
			return
		}
	}

	unit := *w.parked
	w.parked = nil
	w.busy = true

	// Provider calls outlive session teardown; the session check in the
	// transcriber discards their results
	ctx := context.WithoutCancel(s.ctx)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		utt, ok := r.deps.Transcriber.Transcribe(ctx, unit)
		w.done <- struct{}{}
		if !ok {
			return
		}
		r.onUtterance(s, *utt)
	}()
}

func (w *channelWorker) logStats() {
	st := w.segmenter.Stats()
	w.session.logger.Debug().
		Str("channel", string(w.channel)).
		Int64("frames", st.Frames).
		Int64("voiced_frames", st.VoicedFrames).
		Int64("phrases", st.Emitted).
		Int64("too_short", st.TooShort).
		Int64("orphan_resets", st.OrphanResets).
		Bool("phrase_dropped", w.segmenter.IsSpeaking()).
		Bool("parked_dropped", w.parked != nil).
		Msg("Channel worker stopped")
}
