package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Register handles POST /v1/register. Registration is public and idempotent:
// device ids are self-asserted, and re-registering an existing id is a no-op
// success. Usage is bounded per id, which is the only real protection here.
func (h *Handler) Register(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		body = nil
	}

	deviceID := strings.TrimSpace(gjson.GetBytes(body, "device_id").String())
	if deviceID == "" {
		c.Data(http.StatusBadRequest, "application/json", BuildErrorResponseBody(http.StatusBadRequest, "device_id is required"))
		return
	}

	created, err := h.registry.Register(c.Request.Context(), deviceID)
	if err != nil {
		c.Data(http.StatusInternalServerError, "application/json", BuildErrorResponseBody(http.StatusInternalServerError, "registration failed"))
		log.WithFields(log.Fields{"component": "gateway", "device_id": deviceID}).WithError(err).Error("device registration failed")
		return
	}

	status := "already_registered"
	if created {
		status = "registered"
		log.WithFields(log.Fields{"component": "gateway", "device_id": deviceID}).Info("registered new device")
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "device_id": deviceID})
}
