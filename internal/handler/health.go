package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/store"
	"github.com/tunesmith/api/pkg/response"
)

// HealthChecker probes one dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	store     store.Store
	queue     HealthChecker
	generator HealthChecker
	audio     HealthChecker
}

func NewHealthHandler(st store.Store, queue, generator, audio HealthChecker) *HealthHandler {
	return &HealthHandler{
		store:     st,
		queue:     queue,
		generator: generator,
		audio:     audio,
	}
}

// Health handles GET /health. The store is load-bearing; remote tiers
// are reported but degrade the status rather than fail it.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]bool{
		"store": h.store.Ping(ctx) == nil,
	}
	if h.queue != nil {
		checks["queue"] = h.queue.HealthCheck(ctx) == nil
	}
	if h.generator != nil {
		checks["generator"] = h.generator.HealthCheck(ctx) == nil
	}
	if h.audio != nil {
		checks["audio"] = h.audio.HealthCheck(ctx) == nil
	}

	status := "ok"
	if !checks["store"] {
		status = "down"
	} else {
		for _, ok := range checks {
			if !ok {
				status = "degraded"
				break
			}
		}
	}

	resp := model.HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	}
	if status == "down" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return response.OK(c, resp)
}
