package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/protagonist-labs/device-gateway/internal/usage"
)

// Usage handles GET /v1/usage/:device_id. The lookup is unauthenticated:
// any caller can query any device's usage by id. Unknown devices read as
// zero usage rather than an error.
func (h *Handler) Usage(c *gin.Context) {
	deviceID := strings.TrimSpace(c.Param("device_id"))
	today := usage.DayKeyUTC(time.Now())

	total, err := h.store.DailyTotal(c.Request.Context(), deviceID, today)
	if err != nil {
		c.Data(http.StatusInternalServerError, "application/json", BuildErrorResponseBody(http.StatusInternalServerError, "usage lookup failed"))
		log.WithFields(log.Fields{"component": "gateway", "device_id": deviceID}).WithError(err).Error("usage lookup failed")
		return
	}

	limit := h.guard.Limit()
	remaining := limit - total
	if remaining < 0 {
		remaining = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id":        deviceID,
		"date":             today,
		"tokens_used":      total,
		"tokens_limit":     limit,
		"tokens_remaining": remaining,
	})
}

// Health handles GET /health. Liveness only; no dependencies are touched.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
