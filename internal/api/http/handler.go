package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veranemoloko/batchdl/internal/domain"
	"github.com/veranemoloko/batchdl/internal/downloader"
	errs "github.com/veranemoloko/batchdl/internal/errors"
	"github.com/veranemoloko/batchdl/internal/validation"
)

// BatchService defines the download engine operations exposed over HTTP.
type BatchService interface {
	Download(ctx context.Context, request domain.BatchRequest) (*downloader.BatchResponse, error)
	OnGoingDownloads(ctx context.Context) ([]*downloader.BatchResponse, error)
	Batch(ctx context.Context, id int64) (*downloader.BatchResponse, error)
}

// BatchHandler handles HTTP requests for batches.
type BatchHandler struct {
	service   BatchService
	validator *validation.Validator
	logger    *slog.Logger
}

// NewBatchHandler creates a new BatchHandler with the provided service, validator and logger.
func NewBatchHandler(service BatchService, validator *validation.Validator, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{
		service:   service,
		validator: validator,
		logger:    logger,
	}
}

// CreateBatch handles the HTTP POST /batches request to enqueue a new batch.
func (h *BatchHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	var req domain.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.ValidateBatch(req); err != nil {
		logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch, err := h.service.Download(ctx, req.ToBatchRequest())
	if err != nil {
		logger.Error("failed to create batch", "error", err)
		writeError(w, statusFor(err), "failed to create batch")
		return
	}

	logger.Info("batch created", "batch_id", batch.ID(), "downloads_count", len(batch.Responses()))

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"batch_id": batch.ID(),
	})
}

// ListBatches handles the HTTP GET /batches request listing unfinished batches.
func (h *BatchHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.OnGoingDownloads(r.Context())
	if err != nil {
		h.requestLogger(r).Error("failed to list batches", "error", err)
		writeError(w, statusFor(err), "failed to list batches")
		return
	}

	views := make([]domain.BatchView, 0, len(batches))
	for _, batch := range batches {
		views = append(views, batch.View())
	}
	writeJSON(w, http.StatusOK, views)
}

// GetBatch handles the HTTP GET /batches/{batchID} request.
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, batch.View())
}

// CancelBatch handles the HTTP DELETE /batches/{batchID} request.
func (h *BatchHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := batch.Cancel(r.Context()); err != nil {
		h.requestLogger(r).Error("failed to cancel batch", "batch_id", batch.ID(), "error", err)
		writeError(w, statusFor(err), "failed to cancel batch")
		return
	}

	h.requestLogger(r).Info("batch cancelled", "batch_id", batch.ID())
	writeJSON(w, http.StatusAccepted, batch.View())
}

func (h *BatchHandler) lookup(w http.ResponseWriter, r *http.Request) (*downloader.BatchResponse, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "batchID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid batch ID")
		return nil, false
	}

	batch, err := h.service.Batch(r.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrBatchNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return nil, false
		}
		h.requestLogger(r).Error("failed to get batch", "batch_id", id, "error", err)
		writeError(w, statusFor(err), "failed to get batch")
		return nil, false
	}
	return batch, true
}

func (h *BatchHandler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", middleware.GetReqID(r.Context()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrClosed), errors.Is(err, errs.ErrNotReady),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
