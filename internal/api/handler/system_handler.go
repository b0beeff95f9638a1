package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openreel/publisher-be/internal/queue"
)

// Health handles GET /health
// Pings every backing service and reports queue depth. Any failing check
// turns the response into a 503 so load balancers stop routing here.
func (h *SystemHandler) Health(c *gin.Context) {
	services := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()

		if err != nil {
			healthy = false
			services[name] = fmt.Sprintf("unhealthy: %v", err)
			continue
		}
		services[name] = "healthy"
	}

	body := gin.H{
		"status":   "healthy",
		"services": services,
	}

	if stats, err := h.queue.Stats(c.Request.Context(), queue.TypeUploadVideos); err == nil {
		body["queue"] = stats
	}

	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	c.JSON(http.StatusOK, body)
}
