package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openreel/publisher-be/internal/api/dto"
	"github.com/openreel/publisher-be/internal/video"
)

// ListDestinations handles GET /api/v1/destinations
// Returns the owner's per-destination enabled flags.
func (h *VideoHandler) ListDestinations(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}

	configs, err := h.store.ListDestinationConfigs(c.Request.Context(), owner)
	if err != nil {
		h.logger.Error("failed to list destination configs", slog.Int64("owner", owner), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list destinations",
		})
		return
	}

	c.JSON(http.StatusOK, dto.DestinationConfigsResponse{Destinations: configs})
}

// SetDestination handles PUT /api/v1/destinations/:destination
// Switches one destination on or off for the owner. Disabled destinations
// are skipped by upload passes and excluded from aggregate status.
func (h *VideoHandler) SetDestination(c *gin.Context) {
	dest := video.Destination(c.Param("destination"))
	if !dest.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unknown destination: " + c.Param("destination"),
		})
		return
	}

	var req dto.SetDestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
		})
		return
	}

	if err := h.store.SetDestinationEnabled(c.Request.Context(), req.Owner, dest, *req.Enabled); err != nil {
		h.logger.Error("failed to update destination config",
			slog.Int64("owner", req.Owner),
			slog.String("destination", string(dest)),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to update destination",
		})
		return
	}

	h.logger.Info("destination config updated",
		slog.Int64("owner", req.Owner),
		slog.String("destination", string(dest)),
		slog.Bool("enabled", *req.Enabled),
	)

	c.JSON(http.StatusOK, video.DestinationConfig{
		Destination: dest,
		Enabled:     *req.Enabled,
	})
}
