package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jwebster45206/pbem-engine/internal/worker"
	"github.com/jwebster45206/pbem-engine/pkg/game"
)

// maxBatch bounds ?n= on the batch endpoint
const maxBatch = 100

// Pipeline is the part of worker.Processor the API exposes
type Pipeline interface {
	ProcessNext(ctx context.Context) (worker.Result, error)
	ProcessBatch(ctx context.Context, n int) worker.BatchResult
	Stats(ctx context.Context) (game.Stats, error)
}

// ProcessHandler runs the pipeline on demand
// Routes:
// POST /v1/process          - Process the next pending message
// POST /v1/process/batch?n= - Process up to n messages
// GET  /v1/stats            - Queue statistics
type ProcessHandler struct {
	pipeline     Pipeline
	defaultBatch int
	logger       *slog.Logger
}

func NewProcessHandler(pipeline Pipeline, defaultBatch int, logger *slog.Logger) *ProcessHandler {
	if defaultBatch <= 0 {
		defaultBatch = 10
	}
	return &ProcessHandler{
		pipeline:     pipeline,
		defaultBatch: defaultBatch,
		logger:       logger,
	}
}

// Register mounts the routes on mux
func (h *ProcessHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/process", h.handleProcess)
	mux.HandleFunc("POST /v1/process/batch", h.handleBatch)
	mux.HandleFunc("GET /v1/stats", h.handleStats)
}

func (h *ProcessHandler) handleProcess(w http.ResponseWriter, r *http.Request) {
	res, err := h.pipeline.ProcessNext(r.Context())
	if err != nil {
		h.writePipelineError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

func (h *ProcessHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	n := h.defaultBatch
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxBatch {
			writeError(w, h.logger, http.StatusBadRequest, "n must be an integer between 1 and "+strconv.Itoa(maxBatch))
			return
		}
		n = v
	}

	res := h.pipeline.ProcessBatch(r.Context(), n)
	if res.Processed == 0 && res.Busy {
		writeJSON(w, h.logger, http.StatusConflict, res)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

func (h *ProcessHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pipeline.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to load stats", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load stats")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, stats)
}

func (h *ProcessHandler) writePipelineError(w http.ResponseWriter, err error) {
	if errors.Is(err, worker.ErrBusy) {
		writeError(w, h.logger, http.StatusConflict, err.Error())
		return
	}
	h.logger.Error("Pipeline run failed", "error", err)
	writeError(w, h.logger, http.StatusInternalServerError, err.Error())
}
