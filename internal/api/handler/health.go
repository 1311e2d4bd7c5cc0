package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Check: проверка одной зависимости (хранилище, Redis).
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Check
	logger *zap.Logger
}

func NewHealthHandler(checks map[string]Check, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

type healthBody struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := healthBody{Status: "ok", Components: make(map[string]string, len(h.checks))}
	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("component", name), zap.Error(err))
			body.Components[name] = "down"
			body.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		body.Components[name] = "up"
	}
	writeJSON(w, code, body)
}
