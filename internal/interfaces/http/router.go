package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreschagin/eventlogger/internal/infrastructure/observability/metrics"
	"github.com/dreschagin/eventlogger/internal/interfaces/http/handler"
	"github.com/dreschagin/eventlogger/internal/interfaces/http/middleware"
	"github.com/dreschagin/eventlogger/pkg/config"
	"github.com/dreschagin/eventlogger/pkg/logger"
)

// Handlers собирает handler'ы приложения. Archive может быть nil.
type Handlers struct {
	Events  *handler.EventsHandler
	Tail    *handler.TailHandler
	Health  *handler.HealthHandler
	Archive *handler.ArchiveHandler
}

// Router настраивает маршруты приложения
type Router struct {
	mux      *http.ServeMux
	handlers Handlers
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	security config.SecurityConfig
	ingest   config.IngestConfig
	logger   *logger.Logger
}

// NewRouter создает новый router
func NewRouter(
	handlers Handlers,
	m *metrics.Metrics,
	registry *prometheus.Registry,
	security config.SecurityConfig,
	ingest config.IngestConfig,
	logger *logger.Logger,
) *Router {
	return &Router{
		mux:      http.NewServeMux(),
		handlers: handlers,
		metrics:  m,
		registry: registry,
		security: security,
		ingest:   ingest,
		logger:   logger,
	}
}

// Setup настраивает все маршруты
func (rt *Router) Setup() http.Handler {
	// Пробы и метрики доступны без авторизации
	rt.mux.HandleFunc("/healthz", rt.handlers.Health.Healthz)
	rt.mux.HandleFunc("/readyz", rt.handlers.Health.Readyz)
	rt.mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))

	authConfig := middleware.AuthConfig{
		Enabled:     rt.security.AuthEnabled,
		BearerToken: rt.security.AuthToken,
		OnFailure:   rt.metrics.AuthFailures.Inc,
	}
	authMiddleware := middleware.Auth(authConfig, rt.logger)

	// Прием событий ограничен по частоте на клиента
	limiter := middleware.NewIPRateLimiter(rt.ingest.RateLimitRPS, rt.ingest.RateLimitBurst)
	ingest := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(middleware.RateLimit(limiter, rt.metrics.RateLimitDropped.Inc)(h))
	}

	rt.mux.Handle("/api/v1/events", ingest(rt.handlers.Events.Log))
	rt.mux.Handle("/api/v1/events/async", ingest(rt.handlers.Events.LogAsync))
	rt.mux.Handle("/api/v1/events/flush", authMiddleware(http.HandlerFunc(rt.handlers.Events.Flush)))
	rt.mux.Handle("/api/v1/config", authMiddleware(http.HandlerFunc(rt.handlers.Events.Config)))
	if rt.handlers.Archive != nil {
		rt.mux.Handle("/api/v1/archives", authMiddleware(http.HandlerFunc(rt.handlers.Archive.List)))
	}

	// WebSocket проверяет токен сам: браузер передает его в query
	rt.mux.HandleFunc("/ws/tail", rt.handlers.Tail.HandleConnection)

	// Применяем middleware
	var handler http.Handler = rt.mux
	handler = middleware.Compression(handler)
	handler = rt.metrics.Middleware(handler)
	handler = middleware.Logger(rt.logger)(handler)
	handler = middleware.Recovery(rt.logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
