// main package for the tts-task-service
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

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-task-service/internal/api"
	"github.com/book-expert/tts-task-service/internal/config"
	"github.com/book-expert/tts-task-service/internal/core"
	"github.com/book-expert/tts-task-service/internal/manager"
	"github.com/book-expert/tts-task-service/internal/notify"
	"github.com/book-expert/tts-task-service/internal/prompt"
	"github.com/book-expert/tts-task-service/internal/synth"
	"github.com/book-expert/tts-task-service/internal/task"
	"github.com/book-expert/tts-task-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
)

const shutdownGracePeriod = 10 * time.Second

// ErrUnknownEngineKind indicates an unsupported engine.kind config value.
var ErrUnknownEngineKind = errors.New("unknown engine kind")

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "tts-task-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func newSynthesizer(cfg *config.Config, log *logger.Logger) (core.Synthesizer, error) {
	timeout := time.Duration(cfg.Engine.TimeoutSeconds) * time.Second

	switch cfg.Engine.Kind {
	case "http":
		return synth.NewHTTPSynthesizer(synth.HTTPConfig{
			BaseURL:     cfg.Engine.ServiceURL,
			Timeout:     timeout,
			Language:    cfg.Engine.Language,
			Temperature: cfg.Engine.Temperature,
			Reentrant:   cfg.Engine.Reentrant,
		}), nil
	case "exec":
		synthesizer, err := synth.NewExecSynthesizer(cfg.Engine.BinaryPath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create exec synthesizer: %w", err)
		}

		return synthesizer, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngineKind, cfg.Engine.Kind)
	}
}

// newArtifactSink wires the optional NATS publisher. An empty URL disables it.
func newArtifactSink(cfg *config.Config, log *logger.Logger) (core.ArtifactSink, func(), error) {
	if cfg.NATS.URL == "" {
		return nil, func() {}, nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	publisher, err := notify.New(
		natsConnection,
		cfg.NATS.AudioObjectStoreBucket,
		cfg.NATS.AudioChunkCreatedSubject,
		log,
	)
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create artifact publisher: %w", err)
	}

	return publisher, natsConnection.Close, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, log)
}

func serve(cfg *config.Config, log *logger.Logger) error {
	registry, err := prompt.New(cfg.Paths.PromptsDir, log)
	if err != nil {
		return fmt.Errorf("failed to create prompt registry: %w", err)
	}

	synthesizer, err := newSynthesizer(cfg, log)
	if err != nil {
		return err
	}

	sink, closeSink, err := newArtifactSink(cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	store := task.NewStore()
	pool := worker.New(store, synthesizer, sink, log, worker.Options{
		Workers:       cfg.Tasks.Workers,
		QueueSize:     cfg.Tasks.QueueSize,
		InvokeTimeout: time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
	})
	taskManager := manager.New(store, registry, pool, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolDone := make(chan struct{})

	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.RegisterRoutes(router, taskManager, log)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		listenErr := server.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serverErr <- listenErr
		}

		close(serverErr)
	}()

	log.System("tts-task-service listening on %s with %d workers", server.Addr, cfg.Tasks.Workers)

	select {
	case <-ctx.Done():
		log.System("Shutdown signal received")
	case listenErr := <-serverErr:
		stop()

		if listenErr != nil {
			<-poolDone

			return fmt.Errorf("http server failed: %w", listenErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Error("HTTP server shutdown failed: %v", shutdownErr)
	}

	<-poolDone
	log.System("tts-task-service stopped")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
