package usage

import "time"

// Record is one append-only usage row, created after an upstream call
// completes. TokensIn/TokensOut are true token counts for chat completions
// and deterministic estimates for non-token endpoints.
type Record struct {
	ID        int64  `json:"id"`
	DeviceID  string `json:"device_id"`
	Date      string `json:"date"`
	Endpoint  string `json:"endpoint"`
	TokensIn  int64  `json:"tokens_in"`
	TokensOut int64  `json:"tokens_out"`
	CreatedAt string `json:"created_at"`
}

// TokenUsage carries prompt/completion token counts extracted from an
// upstream response.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// DayKeyUTC returns the YYYY-MM-DD key for the UTC calendar day.
// The daily cap resets globally at UTC midnight; there is no per-device
// timezone adjustment.
func DayKeyUTC(now time.Time) string {
	if now.IsZero() {
		now = time.Now()
	}
	return now.UTC().Format("2006-01-02")
}
