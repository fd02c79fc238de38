package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/services"
	"github.com/redis/go-redis/v9"
)

type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Service    string            `json:"service"`
	Components map[string]string `json:"components"`
}

// Pinger is anything with a health probe
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store       Pinger
	redisClient *redis.Client
	llmService  services.LLMService
	logger      *slog.Logger
}

// NewHealthHandler creates the health handler. redisClient may be nil when
// Redis is not configured.
func NewHealthHandler(store Pinger, redisClient *redis.Client, llmService services.LLMService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:       store,
		redisClient: redisClient,
		llmService:  llmService,
		logger:      logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]string)
	overallStatus := "healthy"

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Database health check failed", "error", err)
		components["database"] = "unhealthy"
		overallStatus = "degraded"
	} else {
		components["database"] = "healthy"
	}

	switch {
	case h.redisClient == nil:
		components["redis"] = "disabled"
	case h.redisClient.Ping(ctx).Err() != nil:
		h.logger.Warn("Redis health check failed")
		components["redis"] = "unhealthy"
		overallStatus = "degraded"
	default:
		components["redis"] = "healthy"
	}

	if h.llmService == nil {
		components["llm"] = "unconfigured"
		overallStatus = "degraded"
	} else {
		components["llm"] = h.llmService.Name()
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, h.logger, statusCode, HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Service:    "pbem-engine",
		Components: components,
	})
}
