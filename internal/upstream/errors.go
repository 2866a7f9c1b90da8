package upstream

import (
	"net/http"
	"strings"
)

// ErrorMessage carries an upstream failure back to the gateway layer.
// When the provider answered with a non-2xx status, Body holds its response
// verbatim so the gateway can propagate it instead of masking it.
type ErrorMessage struct {
	StatusCode int
	Body       []byte
	Err        error
}

// Status returns the HTTP status to relay, defaulting to 502 when the
// upstream never produced one (transport errors, timeouts).
func (m *ErrorMessage) Status() int {
	if m == nil || m.StatusCode <= 0 {
		return http.StatusBadGateway
	}
	return m.StatusCode
}

// Message returns the upstream body when present, otherwise the transport
// error text.
func (m *ErrorMessage) Message() string {
	if m == nil {
		return ""
	}
	if body := strings.TrimSpace(string(m.Body)); body != "" {
		return body
	}
	if m.Err != nil {
		return strings.TrimSpace(m.Err.Error())
	}
	return ""
}
