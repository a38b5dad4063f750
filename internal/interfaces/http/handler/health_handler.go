package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/eventlogger"
	"github.com/dreschagin/eventlogger/internal/interfaces/http/middleware"
	"github.com/dreschagin/eventlogger/pkg/logger"
)

// HealthHandler отвечает на liveness и readiness пробы
type HealthHandler struct {
	events *eventlogger.EventLogger
	logger *logger.Logger
}

func NewHealthHandler(events *eventlogger.EventLogger, logger *logger.Logger) *HealthHandler {
	return &HealthHandler{events: events, logger: logger}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz не готов, пока включена удаленная запись, а хранилище недоступно
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.events.Config().RemoteEnabled() {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.events.RemoteReady(ctx); err != nil {
			h.logger.Warn("Remote sink not ready", "error", err.Error())
			middleware.WriteError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
