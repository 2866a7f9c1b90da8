// Package middleware provides the gin middleware chain for the gateway:
// request correlation and device-bearer admission.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/protagonist-labs/device-gateway/internal/api/handlers"
	"github.com/protagonist-labs/device-gateway/internal/quota"
)

const (
	deviceIDContextKey  = "deviceID"
	requestIDContextKey = "requestID"
	requestIDHeader     = "X-Request-ID"
)

// RequestID attaches a correlation id to every request, echoing a
// caller-supplied X-Request-ID when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDContextKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// DeviceAuth extracts the caller's device id from the bearer credential and
// runs quota admission. Checks are ordered: missing/empty bearer (401),
// unknown device (401), quota exceeded (429). The device id is stored as gin
// context value "deviceID" for downstream handlers.
func DeviceAuth(guard *quota.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c == nil || c.Request == nil {
			return
		}

		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			abortWithError(c, http.StatusUnauthorized, "missing authorization header")
			return
		}
		deviceID := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if deviceID == "" {
			abortWithError(c, http.StatusUnauthorized, "empty device_id")
			return
		}

		if err := guard.Admit(c.Request.Context(), deviceID); err != nil {
			var quotaErr *quota.QuotaExceededError
			switch {
			case errors.Is(err, quota.ErrUnknownDevice):
				abortWithError(c, http.StatusUnauthorized, err.Error())
			case errors.As(err, &quotaErr):
				log.WithFields(log.Fields{
					"component": "gateway",
					"device_id": deviceID,
					"used":      quotaErr.Used,
					"limit":     quotaErr.Limit,
				}).Warn("daily token limit reached")
				abortWithError(c, http.StatusTooManyRequests, quotaErr.Error())
			default:
				log.WithFields(log.Fields{"component": "gateway", "device_id": deviceID}).WithError(err).Error("admission check failed")
				abortWithError(c, http.StatusInternalServerError, "admission check failed")
			}
			return
		}

		c.Set(deviceIDContextKey, deviceID)
		c.Next()
	}
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.Abort()
	c.Data(status, "application/json", handlers.BuildErrorResponseBody(status, msg))
}
