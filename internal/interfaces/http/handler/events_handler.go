package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dreschagin/eventlogger/internal/application/eventlogger"
	"github.com/dreschagin/eventlogger/internal/domain/valueobject"
	"github.com/dreschagin/eventlogger/internal/interfaces/http/middleware"
	"github.com/dreschagin/eventlogger/pkg/logger"
)

// EventsHandler принимает события по HTTP и передает их в конвейер
type EventsHandler struct {
	events       *eventlogger.EventLogger
	maxBodyBytes int64
	logger       *logger.Logger
}

// NewEventsHandler создает новый handler
func NewEventsHandler(events *eventlogger.EventLogger, maxBodyBytes int64, logger *logger.Logger) *EventsHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}

	return &EventsHandler{
		events:       events,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

type logEventRequest struct {
	Name   string                 `json:"name"`
	Level  string                 `json:"level"`
	Params map[string]interface{} `json:"params"`
	UserID string                 `json:"user_id"`
}

// Log обрабатывает POST /api/v1/events и ждет результата удаленной записи
func (h *EventsHandler) Log(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	req, level, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if req.UserID != "" {
		ctx = eventlogger.WithUserID(ctx, req.UserID)
	}

	res := h.events.Log(ctx, req.Name, level, req.Params)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	middleware.WriteJSON(w, status, res)
}

// LogAsync обрабатывает POST /api/v1/events/async: удаленная доставка идет в фоне
func (h *EventsHandler) LogAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	req, level, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if req.UserID != "" {
		ctx = eventlogger.WithUserID(ctx, req.UserID)
	}

	name := req.Name
	h.events.LogSync(ctx, name, level, req.Params, func(res eventlogger.Result) {
		if !res.Success {
			h.logger.Debug("Async delivery failed", "event", name, "error", res.Error)
		}
	})

	middleware.WriteJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// Flush обрабатывает POST /api/v1/events/flush
func (h *EventsHandler) Flush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	res := h.events.FlushBatch(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	middleware.WriteJSON(w, status, res)
}

func (h *EventsHandler) decodeEvent(w http.ResponseWriter, r *http.Request) (logEventRequest, valueobject.Level, bool) {
	var req logEventRequest

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return req, 0, false
		}
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return req, 0, false
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		middleware.WriteError(w, http.StatusBadRequest, "name is required")
		return req, 0, false
	}

	level := valueobject.LevelInfo
	if req.Level != "" {
		parsed, err := valueobject.ParseLevel(req.Level)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return req, 0, false
		}
		level = parsed
	}

	return req, level, true
}

type configView struct {
	RemoteEnabled    bool                   `json:"remote_enabled"`
	LocalEnabled     bool                   `json:"local_enabled"`
	MaxRetries       int                    `json:"max_retries"`
	RetryDelay       string                 `json:"retry_delay"`
	IncludeUserInfo  bool                   `json:"include_user_info"`
	GlobalParameters map[string]interface{} `json:"global_parameters,omitempty"`
	MinimumLevel     string                 `json:"minimum_level"`
	BatchMode        bool                   `json:"batch_mode"`
	BatchSize        int                    `json:"batch_size"`
	BatchTimeout     string                 `json:"batch_timeout"`
	Collection       string                 `json:"collection"`
	Category         string                 `json:"category"`
	QueueLength      int                    `json:"queue_length"`
}

// configPatch: отсутствующие поля не меняются
type configPatch struct {
	RemoteEnabled         *bool                  `json:"remote_enabled"`
	LocalEnabled          *bool                  `json:"local_enabled"`
	MaxRetries            *int                   `json:"max_retries"`
	RetryDelay            *string                `json:"retry_delay"`
	IncludeUserInfo       *bool                  `json:"include_user_info"`
	GlobalParameters      map[string]interface{} `json:"global_parameters"`
	ClearGlobalParameters bool                   `json:"clear_global_parameters"`
	MinimumLevel          *string                `json:"minimum_level"`
	BatchMode             *bool                  `json:"batch_mode"`
	BatchSize             *int                   `json:"batch_size"`
	BatchTimeout          *string                `json:"batch_timeout"`
	Collection            *string                `json:"collection"`
	Category              *string                `json:"category"`
}

func (p configPatch) overrides() (eventlogger.Overrides, error) {
	o := eventlogger.Overrides{
		RemoteEnabled:         p.RemoteEnabled,
		LocalEnabled:          p.LocalEnabled,
		MaxRetries:            p.MaxRetries,
		IncludeUserInfo:       p.IncludeUserInfo,
		GlobalParameters:      p.GlobalParameters,
		ClearGlobalParameters: p.ClearGlobalParameters,
		BatchMode:             p.BatchMode,
		BatchSize:             p.BatchSize,
		Collection:            p.Collection,
		Category:              p.Category,
	}

	if p.RetryDelay != nil {
		d, err := time.ParseDuration(*p.RetryDelay)
		if err != nil {
			return o, errors.New("invalid retry_delay")
		}
		o.RetryDelay = &d
	}
	if p.BatchTimeout != nil {
		d, err := time.ParseDuration(*p.BatchTimeout)
		if err != nil {
			return o, errors.New("invalid batch_timeout")
		}
		o.BatchTimeout = &d
	}
	if p.MinimumLevel != nil {
		level, err := valueobject.ParseLevel(*p.MinimumLevel)
		if err != nil {
			return o, err
		}
		o.MinimumLevel = &level
	}

	return o, nil
}

// Config обрабатывает GET и PATCH /api/v1/config
func (h *EventsHandler) Config(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		middleware.WriteJSON(w, http.StatusOK, h.view(h.events.Config()))

	case http.MethodPatch:
		var patch configPatch
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		o, err := patch.overrides()
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		updated := h.events.UpdateConfig(r.Context(), o)
		middleware.WriteJSON(w, http.StatusOK, h.view(updated))

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch)
	}
}

func (h *EventsHandler) view(cfg eventlogger.Config) configView {
	return configView{
		RemoteEnabled:    cfg.RemoteEnabled(),
		LocalEnabled:     cfg.LocalEnabled(),
		MaxRetries:       cfg.MaxRetries(),
		RetryDelay:       cfg.RetryDelay().String(),
		IncludeUserInfo:  cfg.IncludeUserInfo(),
		GlobalParameters: cfg.GlobalParameters(),
		MinimumLevel:     cfg.MinimumLevel().String(),
		BatchMode:        cfg.BatchMode(),
		BatchSize:        cfg.BatchSize(),
		BatchTimeout:     cfg.BatchTimeout().String(),
		Collection:       cfg.Collection(),
		Category:         cfg.Category(),
		QueueLength:      h.events.QueueLength(),
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	middleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}
