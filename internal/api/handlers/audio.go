package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/protagonist-labs/device-gateway/internal/upstream"
)

const transcriptionEndpoint = "audio/transcriptions"

// Transcriptions handles POST /v1/audio/transcriptions. The multipart
// payload is forwarded unchanged; token cost is a deterministic estimate
// derived from the returned transcript length, since the provider reports
// no token usage for audio.
func (h *Handler) Transcriptions(c *gin.Context) {
	deviceID := strings.TrimSpace(c.GetString("deviceID"))

	body, err := c.GetRawData()
	if err != nil {
		c.Data(http.StatusBadRequest, "application/json", BuildErrorResponseBody(http.StatusBadRequest, "failed to read request body"))
		return
	}

	respBody, errMsg := h.openai.Transcription(c.Request.Context(), c.GetHeader("Content-Type"), body)
	if errMsg != nil {
		c.Data(errMsg.Status(), "application/json", BuildErrorResponseBody(errMsg.Status(), errMsg.Message()))
		return
	}

	estimate := upstream.EstimateTranscriptionTokens(gjson.GetBytes(respBody, "text").String())
	h.recordUsage(deviceID, transcriptionEndpoint, estimate, 0)
	c.Data(http.StatusOK, "application/json", respBody)
}
