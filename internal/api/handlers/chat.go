package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/protagonist-labs/device-gateway/internal/upstream"
	"github.com/protagonist-labs/device-gateway/internal/usage"
)

const chatEndpoint = "chat/completions"

// ChatCompletions handles POST /v1/chat/completions. The caller's JSON body
// is forwarded verbatim with the server's credential substituted for
// authorization. Buffered and streamed modes differ only in how usage is
// extracted; both end with exactly one ledger append on success.
func (h *Handler) ChatCompletions(c *gin.Context) {
	deviceID := strings.TrimSpace(c.GetString("deviceID"))

	body, err := c.GetRawData()
	if err != nil {
		c.Data(http.StatusBadRequest, "application/json", BuildErrorResponseBody(http.StatusBadRequest, "failed to read request body"))
		return
	}

	if gjson.GetBytes(body, "stream").Bool() {
		h.chatCompletionsStream(c, deviceID, body)
		return
	}

	respBody, errMsg := h.openai.ChatCompletion(c.Request.Context(), body)
	if errMsg != nil {
		// Propagate the upstream status and body; failed calls never
		// append a usage record.
		c.Data(errMsg.Status(), "application/json", BuildErrorResponseBody(errMsg.Status(), errMsg.Message()))
		return
	}

	u := upstream.ExtractUsage(respBody)
	h.recordUsage(deviceID, chatEndpoint, u.PromptTokens, u.CompletionTokens)
	c.Data(http.StatusOK, "application/json", respBody)
}

// chatCompletionsStream relays the upstream event stream line by line,
// preserving SSE framing, while opportunistically capturing the terminal
// usage chunk. The ledger write runs after the stream ends, on a detached
// context, so it survives client disconnects.
func (h *Handler) chatCompletionsStream(c *gin.Context, deviceID string, body []byte) {
	body = upstream.EnsureStreamUsage(body)

	dataChan, errChan := h.openai.ChatCompletionStream(c.Request.Context(), body)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, _ := c.Writer.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	var captured usage.TokenUsage
	sentPayload := false
	bootstrapFailed := false
	defer func() {
		// Record whatever usage was captured, zero if none was seen. A call
		// that failed before the stream started costs nothing.
		if bootstrapFailed {
			return
		}
		h.recordUsage(deviceID, chatEndpoint, captured.PromptTokens, captured.CompletionTokens)
	}()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case line, ok := <-dataChan:
			if !ok {
				if errMsg := <-errChan; errMsg != nil && !sentPayload {
					// Upstream failed before the stream started:
					// surface the error as a single event rather
					// than a raw failure.
					bootstrapFailed = true
					_, _ = c.Writer.WriteString("data: " + string(BuildErrorResponseBody(errMsg.Status(), errMsg.Message())) + "\n\n")
					flush()
				}
				return
			}
			if len(line) == 0 {
				continue
			}
			if u, ok := upstream.ExtractStreamUsage(line); ok {
				captured = u
			}
			if _, err := c.Writer.Write(append(line, '\n', '\n')); err != nil {
				log.WithFields(log.Fields{"component": "gateway", "device_id": deviceID}).WithError(err).Debug("client write failed mid-stream")
				return
			}
			sentPayload = true
			flush()
		}
	}
}
