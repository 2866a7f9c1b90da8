// Package api assembles the gateway's gin router.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/protagonist-labs/device-gateway/internal/api/handlers"
	"github.com/protagonist-labs/device-gateway/internal/api/middleware"
	"github.com/protagonist-labs/device-gateway/internal/quota"
)

// NewRouter wires the route table. Register, usage lookup, and health are
// public; the relay routes require bearer device authentication and quota
// admission.
func NewRouter(h *handlers.Handler, guard *quota.Guard) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())

	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	v1.POST("/register", h.Register)
	v1.GET("/usage/:device_id", h.Usage)

	authed := v1.Group("")
	authed.Use(middleware.DeviceAuth(guard))
	authed.POST("/chat/completions", h.ChatCompletions)
	authed.POST("/audio/transcriptions", h.Transcriptions)
	authed.POST("/search", h.Search)

	return r
}
