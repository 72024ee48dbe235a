package stt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/consult-gateway/internal/guard"
	"github.com/lexiqai/consult-gateway/internal/model"
	"github.com/lexiqai/consult-gateway/internal/notify"
	"github.com/lexiqai/consult-gateway/internal/resilience"
)

type fakeProvider struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int32) (*Result, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Transcribe(ctx context.Context, _ []byte, _ string) (*Result, error) {
	return f.fn(ctx, f.calls.Add(1))
}

func textProvider(text string) *fakeProvider {
	return &fakeProvider{fn: func(context.Context, int32) (*Result, error) {
		return &Result{Text: text, SegmentConfidences: []float64{0.92, 0.95}}, nil
	}}
}

type memStore struct {
	mu   sync.Mutex
	utts []model.TextUtterance
	err  error
}

func (m *memStore) CreateUtterance(_ context.Context, u model.TextUtterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utts = append(m.utts, u)
	return m.err
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.utts)
}

type memPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (m *memPublisher) Publish(_ context.Context, e notify.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type fixture struct {
	gw        *Gateway
	provider  *fakeProvider
	store     *memStore
	publisher *memPublisher
	guard     *guard.Guard
}

func newFixture(p *fakeProvider, mutate func(*GatewayConfig)) *fixture {
	cfg := DefaultGatewayConfig()
	cfg.Timeout = time.Second
	cfg.Cooldown = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{provider: p, store: &memStore{}, publisher: &memPublisher{}, guard: guard.New(0)}
	f.guard.Open("s1")
	f.gw = NewGateway(p, f.guard, f.store, f.publisher, nil, cfg)
	return f
}

func patientUnit() model.UtteranceAudioUnit {
	return model.UtteranceAudioUnit{
		SessionID:        "s1",
		Channel:          model.ChannelPatient,
		Audio:            make([]byte, 44+48000),
		SampleRate:       16000,
		DurationMs:       1500,
		AverageVolume:    0.12,
		HasVoiceActivity: true,
		StartMs:          0,
		EndMs:            1500,
	}
}

func TestTranscribe_ProviderText(t *testing.T) {
	f := newFixture(textProvider("  my chest hurts [inaudible] when i breathe  "), nil)

	utt, ok := f.gw.Transcribe(context.Background(), patientUnit())
	require.True(t, ok)
	require.NotNil(t, utt)

	assert.Equal(t, "My chest hurts when i breathe.", utt.Text)
	assert.Equal(t, model.SourceSTT, utt.Source)
	assert.Equal(t, model.ChannelPatient, utt.Speaker)
	assert.True(t, utt.IsFinal)
	assert.NotEmpty(t, utt.ID)
	assert.Greater(t, utt.Confidence, 0.6)
	assert.Equal(t, int64(1500), utt.EndMs)

	assert.Equal(t, 1, f.store.count())
	require.Equal(t, 1, f.publisher.count())
	assert.Equal(t, notify.EventUtteranceNew, f.publisher.events[0].Type)
}

func TestTranscribe_NoVoiceActivitySkipsProvider(t *testing.T) {
	f := newFixture(textProvider("hello"), nil)
	unit := patientUnit()
	unit.HasVoiceActivity = false

	utt, ok := f.gw.Transcribe(context.Background(), unit)
	assert.False(t, ok)
	assert.Nil(t, utt)
	assert.Zero(t, f.provider.calls.Load())
	assert.Zero(t, f.store.count())
}

func TestTranscribe_TooShortProducesNothing(t *testing.T) {
	f := newFixture(textProvider("hi"), nil)
	unit := patientUnit()
	unit.DurationMs = 300

	_, ok := f.gw.Transcribe(context.Background(), unit)
	assert.False(t, ok)
	assert.Zero(t, f.provider.calls.Load())
	assert.Zero(t, f.store.count())
	assert.Zero(t, f.publisher.count())
}

func TestTranscribe_DebounceWithinCooldown(t *testing.T) {
	f := newFixture(textProvider("first phrase"), nil)

	_, ok := f.gw.Transcribe(context.Background(), patientUnit())
	require.True(t, ok)

	// Straggler flush right after the release
	_, ok = f.gw.Transcribe(context.Background(), patientUnit())
	assert.False(t, ok)

	assert.Equal(t, int32(1), f.provider.calls.Load())
	assert.Equal(t, 1, f.store.count())

	// The other channel is independent
	unit := patientUnit()
	unit.Channel = model.ChannelClinician
	_, ok = f.gw.Transcribe(context.Background(), unit)
	assert.True(t, ok)
}

func TestTranscribe_CooldownExpires(t *testing.T) {
	f := newFixture(textProvider("phrase"), func(c *GatewayConfig) { c.Cooldown = 20 * time.Millisecond })

	_, ok := f.gw.Transcribe(context.Background(), patientUnit())
	require.True(t, ok)
	time.Sleep(40 * time.Millisecond)
	_, ok = f.gw.Transcribe(context.Background(), patientUnit())
	assert.True(t, ok)
	assert.Equal(t, int32(2), f.provider.calls.Load())
}

func TestTranscribe_ConcurrentFlushesSerialize(t *testing.T) {
	release := make(chan struct{})
	p := &fakeProvider{fn: func(context.Context, int32) (*Result, error) {
		<-release
		return &Result{Text: "slow answer"}, nil
	}}
	f := newFixture(p, nil)

	done := make(chan bool)
	go func() {
		_, ok := f.gw.Transcribe(context.Background(), patientUnit())
		done <- ok
	}()
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, ok := f.gw.Transcribe(context.Background(), patientUnit())
	assert.False(t, ok, "second flush while the first is in flight is dropped")

	close(release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestTranscribe_TimeoutFallsBack(t *testing.T) {
	p := &fakeProvider{fn: func(ctx context.Context, _ int32) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	f := newFixture(p, func(c *GatewayConfig) { c.Timeout = 20 * time.Millisecond })

	utt, ok := f.gw.Transcribe(context.Background(), patientUnit())
	require.True(t, ok)
	require.NotNil(t, utt)

	assert.NotEmpty(t, utt.Text)
	assert.LessOrEqual(t, utt.Confidence, 0.6)
	assert.Equal(t, model.SourceFallback, utt.Source)
	assert.True(t, strings.HasPrefix(utt.Text, "[Transcript unavailable"))
	assert.Equal(t, int32(2), p.calls.Load(), "retried exactly once")

	assert.Equal(t, 1, f.store.count(), "fallback is still persisted")
	assert.Equal(t, 1, f.publisher.count(), "fallback is still emitted")
}

func TestTranscribe_RetrySucceeds(t *testing.T) {
	p := &fakeProvider{fn: func(_ context.Context, call int32) (*Result, error) {
		if call == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return &Result{Text: "second try"}, nil
	}}
	f := newFixture(p, nil)

	utt, ok := f.gw.Transcribe(context.Background(), patientUnit())
	require.True(t, ok)
	assert.Equal(t, "Second try.", utt.Text)
	assert.Equal(t, model.SourceSTT, utt.Source)
}

func TestTranscribe_EmptyTextFallsBackWithoutRetry(t *testing.T) {
	f := newFixture(textProvider(" [silence] ... "), nil)

	utt, ok := f.gw.Transcribe(context.Background(), patientUnit())
	require.True(t, ok)
	assert.Equal(t, model.SourceFallback, utt.Source)
	assert.LessOrEqual(t, utt.Confidence, 0.6)
	assert.Equal(t, int32(1), f.provider.calls.Load())
}

func TestTranscribe_OpenBreakerFallsBack(t *testing.T) {
	f := newFixture(textProvider("never reached"), nil)
	cb := resilience.NewCircuitBreaker("stt-test", 1, time.Minute)
	cb.RecordResult(false)
	f.gw.breaker = cb

	utt, ok := f.gw.Transcribe(context.Background(), patientUnit())
	require.True(t, ok)
	assert.Equal(t, model.SourceFallback, utt.Source)
	assert.Zero(t, f.provider.calls.Load())
}

func TestTranscribe_StorageFailureDoesNotStopEmission(t *testing.T) {
	f := newFixture(textProvider("still delivered"), nil)
	f.store.err = errors.New("db down")

	_, ok := f.gw.Transcribe(context.Background(), patientUnit())
	assert.True(t, ok)
	assert.Equal(t, 1, f.publisher.count())
}

func TestAccept_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(textProvider("unused"), nil)
	utt := model.TextUtterance{ID: "u-1", SessionID: "s1", Speaker: model.ChannelPatient, Text: "Hello.", Source: model.SourceSTT}

	assert.True(t, f.gw.Accept(context.Background(), utt))
	assert.False(t, f.gw.Accept(context.Background(), utt))

	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 1, f.publisher.count())
}

func TestTranscribe_DuplicateIDIsDropped(t *testing.T) {
	f := newFixture(textProvider("same id"), func(c *GatewayConfig) { c.Cooldown = 0 })
	f.gw.newID = func() string { return "fixed" }

	_, ok := f.gw.Transcribe(context.Background(), patientUnit())
	require.True(t, ok)
	_, ok = f.gw.Transcribe(context.Background(), patientUnit())
	assert.False(t, ok)

	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 1, f.publisher.count())
}

func TestTranscribe_EndedSessionIsDiscarded(t *testing.T) {
	f := newFixture(textProvider("late result"), nil)
	f.gw.WithSessionCheck(func(string) bool { return false })

	_, ok := f.gw.Transcribe(context.Background(), patientUnit())
	assert.False(t, ok)
	assert.Equal(t, int32(1), f.provider.calls.Load())
	assert.Zero(t, f.store.count())
	assert.Zero(t, f.publisher.count())
}
