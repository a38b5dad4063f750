package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dreschagin/eventlogger/internal/infrastructure/storage/s3"
	"github.com/dreschagin/eventlogger/internal/interfaces/http/middleware"
	"github.com/dreschagin/eventlogger/pkg/logger"
)

// ArchiveLister перечисляет объекты архива за день
type ArchiveLister interface {
	ListArchives(ctx context.Context, collection string, day time.Time, limit int) ([]s3.ArchiveObject, error)
}

// ArchiveHandler отдает список объектов S3 архива
type ArchiveHandler struct {
	archive           ArchiveLister
	defaultCollection func() string
	logger            *logger.Logger
}

func NewArchiveHandler(archive ArchiveLister, defaultCollection func() string, logger *logger.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		archive:           archive,
		defaultCollection: defaultCollection,
		logger:            logger,
	}
}

// List обрабатывает GET /api/v1/archives?collection=&day=2026-02-07&limit=24
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	query := r.URL.Query()

	collection := query.Get("collection")
	if collection == "" {
		collection = h.defaultCollection()
	}

	day := time.Now().UTC()
	if raw := query.Get("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			middleware.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	objects, err := h.archive.ListArchives(r.Context(), collection, day, limit)
	if err != nil {
		h.logger.Error("Failed to list archives", err, "collection", collection)
		middleware.WriteError(w, http.StatusBadGateway, "failed to list archives")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"collection": collection,
		"day":        day.Format("2006-01-02"),
		"objects":    objects,
	})
}
