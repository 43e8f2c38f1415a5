// Command attune runs the utterance-intent pipeline as a service: it
// consumes a streaming ASR transcript feed, segments it into utterances,
// classifies intents, and routes imperative commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/attune/internal/action"
	"github.com/MrWong99/attune/internal/config"
	"github.com/MrWong99/attune/internal/health"
	"github.com/MrWong99/attune/internal/intent"
	"github.com/MrWong99/attune/internal/intent/llmdetect"
	"github.com/MrWong99/attune/internal/observe"
	"github.com/MrWong99/attune/internal/pipeline"
	"github.com/MrWong99/attune/internal/utterance"
	"github.com/MrWong99/attune/pkg/asr/stream"
	"github.com/MrWong99/attune/pkg/record"
	recordpg "github.com/MrWong99/attune/pkg/record/postgres"
)

// tickInterval drives the cooperative timeout checks (utterance closes,
// conflict resolution).
const tickInterval = 100 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "attune: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "attune: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	sessionID := uuid.NewString()
	slog.Info("attune starting",
		"config", *configPath,
		"session_id", sessionID,
		"metrics_addr", cfg.Server.MetricsAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "attune"})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Recorder ──────────────────────────────────────────────────────────────
	var (
		recorder record.Recorder = record.Nop{}
		dbStore  *recordpg.Store
	)
	if dsn := cfg.Record.PostgresDSN; dsn != "" {
		dbStore, err = recordpg.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect recording store", "err", err)
			return 1
		}
		defer dbStore.Close()
		recorder = dbStore
		slog.Info("session recording enabled")
	}

	// ── Intent detector ───────────────────────────────────────────────────────
	detector, err := buildDetector(cfg)
	if err != nil {
		slog.Error("failed to build intent detector", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	p := pipeline.New(pipeline.Config{
		StabilizerWindowSize:              cfg.Pipeline.StabilizerWindowSize,
		MinWordConfidence:                 cfg.Pipeline.MinWordConfidence,
		RequireRepetitionForLowConfidence: cfg.Pipeline.RequireRepetitionForLowConfidence,
		SilenceGapThreshold:               cfg.Pipeline.SilenceGapThreshold.Std(),
		PunctuationPauseThreshold:         cfg.Pipeline.PunctuationPauseThreshold.Std(),
		MaxUtteranceDuration:              cfg.Pipeline.MaxUtteranceDuration.Std(),
		MaxUtteranceLength:                cfg.Pipeline.MaxUtteranceLength,
		IntentMinConfidence:               cfg.Intent.MinConfidence,
		CandidateMinConfidence:            cfg.Intent.CandidateMinConfidence,
		DeduplicationSimilarityThreshold:  cfg.Pipeline.DeduplicationSimilarityThreshold,
		DeduplicationWindow:               cfg.Pipeline.DeduplicationWindow.Std(),
		ConflictWindow:                    conflictWindowOrDefault(cfg),
		Cooldowns:                         cfg.Pipeline.SubtypeCooldowns(),
		Detector:                          detector,
		Metrics:                           metrics,
		Recorder:                          recorder,
		SessionID:                         sessionID,
	})
	subscribeLogging(p)

	// ── Run loop ──────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Tick()
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	if url := cfg.Asr.StreamURL; url != "" {
		source, err := stream.Dial(ctx, url, stream.WithToken(cfg.Asr.Token))
		if err != nil {
			slog.Error("failed to connect ASR stream", "url", url, "err", err)
			return 1
		}
		g.Go(func() error {
			defer source.Close()
			for {
				select {
				case ev, ok := <-source.Events():
					if !ok {
						return errors.New("asr stream closed")
					}
					p.ProcessAsrEvent(ev)
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
		slog.Info("consuming ASR stream", "url", url)
	} else {
		slog.Warn("asr.stream_url is empty; no event source is connected")
	}

	if addr := cfg.Server.MetricsAddr; addr != "" {
		srv := newHTTPServer(addr, dbStore)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			slog.Info("serving metrics and health endpoints", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	slog.Info("pipeline ready, press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// Flush the open utterance so a final spoken sentence is not lost.
	p.ForceClose()
	slog.Info("attune stopped")
	return 0
}

// buildDetector selects the configured intent detector implementation.
func buildDetector(cfg *config.Config) (intent.Detector, error) {
	heuristicOpts := []intent.Option{}
	if cfg.Intent.MinConfidence > 0 {
		heuristicOpts = append(heuristicOpts, intent.WithMinConfidence(cfg.Intent.MinConfidence))
	}
	if cfg.Intent.CandidateMinConfidence > 0 {
		heuristicOpts = append(heuristicOpts, intent.WithCandidateMinConfidence(cfg.Intent.CandidateMinConfidence))
	}
	heuristic := intent.NewDetector(heuristicOpts...)

	if cfg.Intent.Detector != "llm" {
		return heuristic, nil
	}
	return llmdetect.New(llmdetect.Config{
		Provider: cfg.Intent.LLM.Provider,
		Model:    cfg.Intent.LLM.Model,
		APIKey:   cfg.Intent.LLM.APIKey,
		Fallback: heuristic,
		OnError: func(err error) {
			slog.Warn("llm detector fell back to heuristics", "err", err)
		},
	})
}

// conflictWindowOrDefault applies the documented 1.5s default when the
// config leaves the window unset.
func conflictWindowOrDefault(cfg *config.Config) time.Duration {
	if d := cfg.Pipeline.ConflictWindow.Std(); d > 0 {
		return d
	}
	return action.DefaultConflictWindow
}

// subscribeLogging attaches the default observability subscribers.
func subscribeLogging(p *pipeline.Pipeline) {
	p.OnUtteranceFinal(func(u utterance.Utterance) {
		slog.Info("utterance",
			"id", u.ID,
			"close_reason", u.CloseReason,
			"text", u.StableText,
			"duration", u.ClosedAt.Sub(u.OpenedAt),
		)
	})
	p.OnIntentFinal(func(ev pipeline.IntentEvent) {
		slog.Info("intent",
			"utterance_id", ev.UtteranceID,
			"type", ev.Intent.Type,
			"subtype", ev.Intent.Subtype,
			"confidence", ev.Intent.Confidence,
		)
	})
	p.OnActionTriggered(func(ev action.Event) {
		slog.Info("action",
			"name", ev.ActionName,
			"utterance_id", ev.UtteranceID,
			"debounced", ev.WasDebounced,
		)
	})
	p.OnError(func(err error) {
		slog.Error("pipeline error", "err", err)
	})
}

// newHTTPServer builds the metrics/health listener. The recording store's
// ping doubles as the readiness probe when recording is enabled.
func newHTTPServer(addr string, dbStore *recordpg.Store) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	var checks []health.Check
	if dbStore != nil {
		checks = append(checks, health.Check{Name: "database", Probe: dbStore.Ping})
	}
	health.New(checks...).Routes(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// newLogger builds the process logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogLevelDebug:
		l = slog.LevelDebug
	case config.LogLevelWarn:
		l = slog.LevelWarn
	case config.LogLevelError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
