package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gijiroku/internal/config"
	"gijiroku/internal/diarize"
	"gijiroku/internal/httpapi"
	"gijiroku/internal/observability"
	"gijiroku/internal/staging"
	"gijiroku/internal/summary"
	"gijiroku/internal/transcription"
	"gijiroku/internal/upload"
	"gijiroku/internal/upstream/awstranscribe"
	"gijiroku/internal/upstream/openai"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	upstreamHTTPClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}
	upstreamClient := openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, upstreamHTTPClient, openai.WithObserver(metrics.ObserveUpstream))
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("APP_OPENAI_API_KEY is not set; requests must supply Authorization: Bearer <key>")
	}

	transcriber, err := newTranscriber(ctx, cfg, upstreamClient, logger)
	if err != nil {
		logger.Error("transcription backend setup failed", "backend", cfg.TranscriptionBackend, "error", err)
		os.Exit(1)
	}

	stage := staging.New(cfg.StagingDir)
	summarizer := summary.New(upstreamClient, summary.Options{
		Model:           cfg.SummaryModel,
		API:             cfg.SummaryAPI,
		MaxOutputTokens: cfg.SummaryMaxOutputTokens,
		Timeout:         cfg.SummaryTimeout,
		Logger:          logger,
	})
	transcriptionService := transcription.New(transcription.Dependencies{
		Credentials: upstreamClient,
		Validator:   upload.NewValidator(cfg.MaxUploadMB),
		Stage:       stage,
		Transcriber: transcriber,
		Summarizer:  summarizer,
		Metrics:     metrics,
		Logger:      logger,
	}, cfg.MaxUploadMinutes)

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Transcription:  transcriptionService,
		Upstream:       upstreamClient,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	srv := newHTTPServer(cfg, handler)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", cfg.ListenAddr,
			"backend", cfg.TranscriptionBackend,
			"model", cfg.TranscriptionModel,
			"summary_model", cfg.SummaryModel,
			"staging_dir", stage.Dir(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

const (
	uploadReadTimeout = 5 * time.Minute
	writeMargin       = 30 * time.Second
)

// newHTTPServer sizes the write deadline from the end of the request headers:
// it has to cover reading the upload body and the whole pipeline run.
func newHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       uploadReadTimeout,
		WriteTimeout:      uploadReadTimeout + cfg.RequestTimeout + writeMargin,
		IdleTimeout:       60 * time.Second,
	}
}

func newTranscriber(ctx context.Context, cfg config.Config, client *openai.Client, logger *slog.Logger) (diarize.Transcriber, error) {
	switch cfg.TranscriptionBackend {
	case config.BackendAWS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		awsClient := awstranscribe.New(s3.NewFromConfig(awsCfg), transcribe.NewFromConfig(awsCfg), awstranscribe.Options{
			Bucket:       cfg.AWSBucket,
			MaxSpeakers:  cfg.AWSMaxSpeakers,
			PollInterval: cfg.AWSPollInterval,
			Logger:       logger,
		})
		return diarize.NewAWS(awsClient, cfg.TranscriptionTimeout), nil
	default:
		return diarize.NewOpenAI(client, cfg.TranscriptionModel, cfg.TranscriptionFormat, cfg.TranscriptionTimeout), nil
	}
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
