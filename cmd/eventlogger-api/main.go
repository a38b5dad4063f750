package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	// Application
	"github.com/dreschagin/eventlogger/internal/application/eventlogger"
	"github.com/dreschagin/eventlogger/internal/application/port"

	// Infrastructure
	wsInfra "github.com/dreschagin/eventlogger/internal/infrastructure/notification/websocket"
	"github.com/dreschagin/eventlogger/internal/infrastructure/observability/cloudwatch"
	"github.com/dreschagin/eventlogger/internal/infrastructure/observability/metrics"

	// Interfaces
	httpInterface "github.com/dreschagin/eventlogger/internal/interfaces/http"
	"github.com/dreschagin/eventlogger/internal/interfaces/http/handler"
	"github.com/dreschagin/eventlogger/internal/interfaces/http/middleware"

	// Shared
	"github.com/dreschagin/eventlogger/pkg/config"
	"github.com/dreschagin/eventlogger/pkg/logger"
)

func main() {
	// 1. Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Инициализируем logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting Event Logger")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Удаленное хранилище и identity
	backend, err := buildRemoteSink(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize remote sink", err)
		os.Exit(1)
	}
	defer backend.close(log)

	identityProvider, closeIdentity, err := buildIdentity(cfg, log)
	if err != nil {
		log.Error("Failed to initialize identity provider", err)
		os.Exit(1)
	}
	defer closeIdentity()

	// 4. Метрики: Prometheus всегда, CloudWatch по флагу
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics := metrics.New(registry)

	pipelineMetrics := port.FanoutMetrics{promMetrics}
	var metricsPublisher *cloudwatch.MetricsPublisher
	if cfg.CloudWatch.MetricsEnabled {
		publisherImpl, initErr := cloudwatch.NewMetricsPublisher(ctx, cloudwatch.MetricsPublisherConfig{
			Namespace:       cfg.CloudWatch.MetricsNamespace,
			Region:          cfg.CloudWatch.Region,
			Endpoint:        cfg.CloudWatch.Endpoint,
			AccessKeyID:     cfg.CloudWatch.AccessKeyID,
			SecretAccessKey: cfg.CloudWatch.SecretAccessKey,
			DefaultDimensions: map[string]string{
				"Collection": cfg.Events.Collection,
			},
			FlushInterval: cfg.CloudWatch.MetricsInterval,
		}, log)
		if initErr != nil {
			log.Error("Failed to initialize CloudWatch metrics publisher", initErr)
			os.Exit(1)
		}
		metricsPublisher = publisherImpl
		pipelineMetrics = append(pipelineMetrics, publisherImpl)
		log.Info("CloudWatch metrics publisher initialized")
	} else {
		log.Warn("CloudWatch metrics publishing is disabled")
	}

	// 5. Локальная запись: stdout или файл, копия строк уходит в live tail
	hub := wsInfra.NewHub(log)
	localOut, closeLocal, err := openLocalOutput(cfg.Events.LocalFile)
	if err != nil {
		log.Error("Failed to open local sink output", err)
		os.Exit(1)
	}
	defer closeLocal()

	// 6. Конвейер событий
	events, err := eventlogger.Init(
		eventlogger.NewConfig(cfg.EventLoggerOverrides(func(eventName, message string) {
			log.Warn("Event delivery failed", "event", eventName, "error", message)
		})),
		backend.sink,
		eventlogger.Options{
			Identity: identityProvider,
			Local:    eventlogger.NewLocalSink(localOut, hub),
			Metrics:  pipelineMetrics,
			Logger:   log,
		},
	)
	if err != nil {
		log.Error("Failed to initialize event logger", err)
		os.Exit(1)
	}

	// 7. HTTP handlers
	authConfig := middleware.AuthConfig{
		Enabled:     cfg.Security.AuthEnabled,
		BearerToken: cfg.Security.AuthToken,
		OnFailure:   promMetrics.AuthFailures.Inc,
	}

	handlers := httpInterface.Handlers{
		Events: handler.NewEventsHandler(events, cfg.Ingest.MaxBodyBytes, log),
		Tail:   handler.NewTailHandler(hub, cfg.Security.AllowedOrigins, authConfig, log),
		Health: handler.NewHealthHandler(events, log),
	}
	if backend.archive != nil {
		handlers.Archive = handler.NewArchiveHandler(backend.archive, func() string {
			return events.Config().Collection()
		}, log)
	}

	router := httpInterface.NewRouter(handlers, promMetrics, registry, cfg.Security, cfg.Ingest, log)

	// 8. Запускаем WebSocket hub
	go hub.Run(ctx)
	log.Info("WebSocket hub started")

	// 9. Настраиваем HTTP сервер
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Канал для получения сигналов ОС
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("HTTP server starting", "port", cfg.Server.Port, "remote_sink", cfg.RemoteSink)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}()

	// 10. Ожидаем сигнал для graceful shutdown
	<-sigChan
	log.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Сначала перестаем принимать запросы, потом сливаем очередь событий
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", err)
	}

	if err := eventlogger.Reset(shutdownCtx); err != nil {
		log.Error("Failed to close event logger", err)
	}

	// Останавливаем live tail
	cancel()

	if metricsPublisher != nil {
		log.Info("Flushing CloudWatch metrics buffer...")
		if err := metricsPublisher.Close(shutdownCtx); err != nil {
			log.Error("Failed to flush CloudWatch metrics", err)
		}
	}

	log.Info("Server stopped gracefully")
}

// openLocalOutput открывает файл локальной записи на дозапись. Пустой путь означает stdout.
func openLocalOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, file.Close, nil
}
