package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrsingh-rishi/rtms-scribe/config"
	"github.com/mrsingh-rishi/rtms-scribe/metrics"
	"github.com/mrsingh-rishi/rtms-scribe/output"
	"github.com/mrsingh-rishi/rtms-scribe/rtms"
	"github.com/mrsingh-rishi/rtms-scribe/server"
	"github.com/mrsingh-rishi/rtms-scribe/session"
	"github.com/mrsingh-rishi/rtms-scribe/stt"
	"github.com/mrsingh-rishi/rtms-scribe/transcript"
	"github.com/mrsingh-rishi/rtms-scribe/workers"
)

const (
	feedEventBuffer = 64
	drainTimeout    = 2 * time.Minute
)

func main() {
	// Load .env if present
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, falling back to environment variables")
	}

	cfg, err := config.Loader{}.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	store, err := transcript.NewFileStore(cfg.TranscriptPath, feedEventBuffer)
	if err != nil {
		logger.Error("failed to open transcript", "error", err)
		os.Exit(1)
	}
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		logger.Warn("OPENAI_API_KEY is not set; transcription requests will be rejected")
	}
	whisper := stt.NewWhisperClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.WhisperModel, cfg.WhisperLanguage, logger)

	worker, err := workers.NewTranscriptionWorker(whisper, store, cfg.MaxInFlight, logger, m)
	if err != nil {
		logger.Error("failed to create transcription worker", "error", err)
		os.Exit(1)
	}
	worker.Start()

	controller := session.NewController(session.Config{
		Credentials:      rtms.Credentials{ClientID: cfg.RTMSClientID, Secret: cfg.RTMSSecret},
		Format:           cfg.AudioFormat(),
		WindowSeconds:    cfg.WindowSeconds,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, worker, logger, m)

	feed, err := output.NewLiveFeed(store.Events(), logger)
	if err != nil {
		logger.Error("failed to create live feed", "error", err)
		os.Exit(1)
	}
	feed.Start()

	srv := server.New(server.Options{
		WebhookSecretToken: cfg.WebhookSecretToken,
		SDKKey:             cfg.SDKKey,
		SDKSecret:          cfg.SDKSecret,
		MetricsHandler:     promhttp.Handler(),
	}, controller, feed, logger, m)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()
	logger.Info("rtms-scribe started",
		"port", cfg.Port,
		"transcript", store.Path(),
		"window_seconds", cfg.WindowSeconds,
		"max_inflight", cfg.MaxInFlight)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server stopped", "error", err)
	}

	if err := srv.Shutdown(); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	controller.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := worker.Drain(ctx); err != nil {
		logger.Warn("transcription backlog not drained", "error", err)
	}
	worker.Stop()
	feed.Stop()
	logger.Info("shutdown complete")
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
