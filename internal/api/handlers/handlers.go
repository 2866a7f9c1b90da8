// Package handlers provides the HTTP-facing gateway handlers: device
// registration, chat completion relay (buffered and streamed), audio
// transcription relay, web search, and usage introspection. Error responses
// use an OpenAI-compatible envelope so existing client SDKs can parse them.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"github.com/protagonist-labs/device-gateway/internal/quota"
	"github.com/protagonist-labs/device-gateway/internal/upstream"
)

// ErrorResponse represents a standard error response format for the API.
// It contains a single ErrorDetail field.
type ErrorResponse struct {
	// Error contains detailed information about the error that occurred.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail provides specific information about an error that occurred.
type ErrorDetail struct {
	// Message is a human-readable message providing more details about the error.
	Message string `json:"message"`

	// Type is the category of error that occurred (e.g., "invalid_request_error").
	Type string `json:"type"`

	// Code is a short code identifying the error, if applicable.
	Code string `json:"code,omitempty"`
}

// BuildErrorResponseBody builds an OpenAI-compatible JSON error response body.
// If errText is already valid JSON, it is returned as-is to preserve upstream
// error payloads.
func BuildErrorResponseBody(status int, errText string) []byte {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	if strings.TrimSpace(errText) == "" {
		errText = http.StatusText(status)
	}

	trimmed := strings.TrimSpace(errText)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return []byte(trimmed)
	}

	errType := "invalid_request_error"
	var code string
	switch status {
	case http.StatusUnauthorized:
		errType = "authentication_error"
		code = "invalid_device"
	case http.StatusTooManyRequests:
		errType = "rate_limit_error"
		code = "daily_limit_exceeded"
	case http.StatusServiceUnavailable:
		errType = "server_error"
		code = "service_unavailable"
	default:
		if status >= http.StatusInternalServerError {
			errType = "server_error"
			code = "internal_server_error"
		}
	}

	payload, err := json.Marshal(ErrorResponse{
		Error: ErrorDetail{
			Message: errText,
			Type:    errType,
			Code:    code,
		},
	})
	if err != nil {
		return []byte(fmt.Sprintf(`{"error":{"message":%q,"type":"server_error","code":"internal_server_error"}}`, errText))
	}
	return payload
}

// DeviceRegistry is the registry surface the handlers need.
type DeviceRegistry interface {
	Register(ctx context.Context, deviceID string) (created bool, err error)
}

// UsageStore is the ledger surface the handlers need.
type UsageStore interface {
	Record(ctx context.Context, deviceID, endpoint string, tokensIn, tokensOut int64) error
	DailyTotal(ctx context.Context, deviceID, dayKey string) (int64, error)
}

// Handler holds the gateway's collaborators. All upstream credentials and
// limits are passed in at construction time; there is no process-wide state.
type Handler struct {
	registry DeviceRegistry
	store    UsageStore
	guard    *quota.Guard
	openai   *upstream.OpenAIClient
	brave    *upstream.BraveClient
}

func New(registry DeviceRegistry, store UsageStore, guard *quota.Guard, openai *upstream.OpenAIClient, brave *upstream.BraveClient) *Handler {
	return &Handler{
		registry: registry,
		store:    store,
		guard:    guard,
		openai:   openai,
		brave:    brave,
	}
}

// recordUsage appends one ledger row on a detached context so a caller
// disconnect cannot cancel the bookkeeping write. Failures are logged, not
// surfaced; the client already has its response.
func (h *Handler) recordUsage(deviceID, endpoint string, tokensIn, tokensOut int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.Record(ctx, deviceID, endpoint, tokensIn, tokensOut); err != nil {
		log.WithFields(log.Fields{
			"component": "gateway",
			"device_id": deviceID,
			"endpoint":  endpoint,
		}).WithError(err).Error("failed to record usage")
	}
}
