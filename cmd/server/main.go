package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/consult-gateway/internal/api"
	"github.com/lexiqai/consult-gateway/internal/audio"
	"github.com/lexiqai/consult-gateway/internal/clinical"
	"github.com/lexiqai/consult-gateway/internal/config"
	"github.com/lexiqai/consult-gateway/internal/guard"
	"github.com/lexiqai/consult-gateway/internal/ingest"
	"github.com/lexiqai/consult-gateway/internal/knowledge"
	"github.com/lexiqai/consult-gateway/internal/llm"
	"github.com/lexiqai/consult-gateway/internal/notify"
	"github.com/lexiqai/consult-gateway/internal/observability"
	"github.com/lexiqai/consult-gateway/internal/pipeline"
	"github.com/lexiqai/consult-gateway/internal/resilience"
	"github.com/lexiqai/consult-gateway/internal/storage"
	"github.com/lexiqai/consult-gateway/internal/stt"
	"github.com/lexiqai/consult-gateway/internal/suggest"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_provider", cfg.STTProvider).
		Bool("llm_enabled", cfg.LLMEnabled).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Consultation gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Gateway stopped with error")
	}
	logger.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	reconnect := &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     config.Millis(cfg.ReconnectBackoff),
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
	var checks []observability.Check

	// Persistence
	var store storage.Store = storage.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pool, err := resilience.Connect(ctx, "postgres", func(ctx context.Context) (*pgxpool.Pool, error) {
			return storage.NewPool(ctx, cfg.DatabaseURL)
		}, reconnect, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := storage.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
		checks = append(checks, observability.Check{Name: "postgres", Fn: func(ctx context.Context) (bool, error) {
			if err := pool.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}})
		logger.Info().Msg("Using Postgres storage")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory storage")
	}
	guarded := storage.NewGuarded(store)
	checks = append(checks, observability.Check{Name: "storage", Fn: guarded.Check})

	// Event delivery
	hub := notify.NewHub()
	publisher := notify.Multi{hub}
	if cfg.RedisAddr != "" {
		client, err := resilience.Connect(ctx, "redis", func(ctx context.Context) (*redis.Client, error) {
			return notify.NewRedisClient(ctx, notify.RedisOptions{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
		}, reconnect, logger)
		if err != nil {
			return err
		}
		rp := notify.NewRedisPublisher(client)
		defer rp.Close()
		publisher = append(publisher, rp)
		checks = append(checks, observability.Check{Name: "redis", Fn: rp.Ping})
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Publishing events to Redis")
	}

	// Providers
	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second
	sttBreaker := newBreaker("stt", cfg.CircuitBreakerMaxFailures, resetTimeout, logger)
	llmBreaker := newBreaker("llm", cfg.CircuitBreakerMaxFailures, resetTimeout, logger)

	sttProvider, err := newSTTProvider(cfg)
	if err != nil {
		return err
	}

	var provider llm.Provider
	if cfg.LLMEnabled {
		oai, err := llm.NewOpenAIProvider(llm.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.LLMModel,
			Timeout: config.Millis(cfg.LLMTimeout),
		})
		if err != nil {
			return err
		}
		provider = llm.NewResilient(oai, config.Millis(cfg.LLMTimeout), llmBreaker)
	} else {
		logger.Warn().Msg("Language model disabled, using keyword analysis and rule suggestions")
	}

	kb := knowledge.Default()
	if cfg.KnowledgeBasePath != "" {
		if kb, err = knowledge.Load(cfg.KnowledgeBasePath); err != nil {
			return err
		}
	}
	logger.Info().Int("protocols", kb.Len()).Msg("Knowledge base loaded")

	// Pipeline
	g := guard.New(config.Millis(cfg.TranscribeCooldown))

	gwCfg := stt.DefaultGatewayConfig()
	gwCfg.Language = cfg.STTLanguage
	gwCfg.Timeout = config.Millis(cfg.STTTimeout)
	gwCfg.Cooldown = config.Millis(cfg.TranscribeCooldown)
	gwCfg.FallbackCeiling = cfg.FallbackCeiling
	gwCfg.MinDuration = config.Millis(cfg.MinVoiceDuration)
	gateway := stt.NewGateway(sttProvider, g, guarded, publisher, sttBreaker, gwCfg)

	analyzer := clinical.NewAnalyzer(provider, clinical.Config{Window: cfg.ContextWindow})

	engine := suggest.NewEngine(provider, kb, suggest.DefaultRules(), guarded, publisher, suggest.Config{
		MinInterval:   config.Millis(cfg.SuggestionInterval),
		MaxPerSession: cfg.SuggestionMaxPerSession,
		MaxPerBatch:   cfg.SuggestionMaxPerBatch,
		MinConfidence: cfg.SuggestionMinConfidence,
	})

	registry := pipeline.NewRegistry(pipeline.Deps{
		Transcriber: gateway,
		Analyzer:    analyzer,
		Generator:   engine,
		Guard:       g,
		Store:       guarded,
	}, pipeline.Config{Segmenter: segmenterConfig(cfg), QueueSize: cfg.FrameQueueSize})
	gateway.WithSessionCheck(registry.Active)
	engine.WithSessionCheck(registry.Active)

	// HTTP surface
	mux := http.NewServeMux()
	mux.Handle("/ws/ingest", ingest.NewHandler(registry))
	mux.Handle("/ws/events", hub)
	api.Routes(mux, registry)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks...))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Websockets are long-lived, so there is no write timeout
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/ingest", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.GRPCPort != "" {
		eg.Go(func() error {
			logger.Info().Str("port", cfg.GRPCPort).Msg("gRPC health listening")
			return observability.NewGRPCHealth(10*time.Second, checks...).Serve(ctx, ":"+cfg.GRPCPort)
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		registry.Close()
		return err
	})
	return eg.Wait()
}

func newBreaker(name string, maxFailures int, reset time.Duration, logger zerolog.Logger) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(name, maxFailures, reset)
	return cb.OnStateChange(func(name string, state resilience.CircuitState, failed bool) {
		observability.UpdateCircuitBreakerState(name, int(state))
		if !failed {
			return
		}
		observability.IncrementCircuitBreakerFailures(name)
		if state == resilience.StateOpen {
			_, requests, failures, rate := cb.GetStats()
			logger.Warn().
				Str("breaker", name).
				Int64("requests", requests).
				Int64("failures", failures).
				Float64("failure_rate", rate).
				Msg("Circuit breaker opened")
		}
	})
}

func newSTTProvider(cfg *config.Config) (stt.Provider, error) {
	switch cfg.STTProvider {
	case "deepgram":
		return stt.NewDeepgramProvider(cfg.DeepgramAPIKey, cfg.DeepgramModel)
	case "whisper":
		return stt.NewWhisperProvider(stt.WhisperOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.WhisperBaseURL,
			Model:   cfg.WhisperModel,
			Timeout: config.Millis(cfg.STTTimeout),
		}), nil
	}
	return nil, fmt.Errorf("unknown STT_PROVIDER %q", cfg.STTProvider)
}

func segmenterConfig(cfg *config.Config) audio.SegmenterConfig {
	sc := audio.DefaultSegmenterConfig()
	sc.VAD.VoiceThreshold = cfg.VoiceThreshold
	sc.VAD.MinVoiceFrames = cfg.MinVoiceFrames
	sc.PhraseEndSilence = config.Millis(cfg.PhraseEndSilence)
	sc.OrphanSilence = config.Millis(cfg.OrphanSilence)
	sc.MinVoice = config.Millis(cfg.MinVoiceDuration)
	sc.MaxPhrase = config.Millis(cfg.MaxPhraseDuration)
	sc.TargetPeak = float32(cfg.NormalizeTarget)
	sc.NoiseFloor = float32(cfg.NormalizeNoiseFloor)
	return sc
}
