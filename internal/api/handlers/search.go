package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

const searchEndpoint = "search"

// Search handles POST /v1/search. Each completed search costs a flat
// (1, 0) regardless of result size.
func (h *Handler) Search(c *gin.Context) {
	deviceID := strings.TrimSpace(c.GetString("deviceID"))

	body, err := c.GetRawData()
	if err != nil {
		body = nil
	}

	query := strings.TrimSpace(gjson.GetBytes(body, "query").String())
	if query == "" {
		c.Data(http.StatusBadRequest, "application/json", BuildErrorResponseBody(http.StatusBadRequest, "query is required"))
		return
	}

	if !h.brave.Configured() {
		c.Data(http.StatusServiceUnavailable, "application/json", BuildErrorResponseBody(http.StatusServiceUnavailable, "search not configured on server"))
		return
	}

	count := int(gjson.GetBytes(body, "count").Int())
	results, errMsg := h.brave.Search(c.Request.Context(), query, count)
	if errMsg != nil {
		c.Data(errMsg.Status(), "application/json", BuildErrorResponseBody(errMsg.Status(), errMsg.Message()))
		return
	}

	h.recordUsage(deviceID, searchEndpoint, 1, 0)
	c.JSON(http.StatusOK, gin.H{"results": results})
}
