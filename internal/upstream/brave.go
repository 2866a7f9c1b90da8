package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"
)

const (
	defaultBraveBaseURL = "https://api.search.brave.com/res/v1"
	searchTimeout       = 15 * time.Second

	maxSearchCount     = 10
	defaultSearchCount = 5
)

// SearchResult is one normalized web-search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// BraveClient calls the Brave Search API with the gateway's subscription
// token. A zero-value key means search is not configured on this server.
type BraveClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewBraveClient(baseURL, apiKey string) *BraveClient {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBraveBaseURL
	}
	return &BraveClient{
		baseURL: base,
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: searchTimeout},
	}
}

// Configured reports whether a subscription token is present.
func (b *BraveClient) Configured() bool {
	return b != nil && b.apiKey != ""
}

// ClampCount normalizes a requested result count into [1, 10], defaulting
// to 5 when unset.
func ClampCount(count int) int {
	if count <= 0 {
		return defaultSearchCount
	}
	if count > maxSearchCount {
		return maxSearchCount
	}
	return count
}

// Search queries the web endpoint and normalizes the result list to
// {title, url, snippet} tuples.
func (b *BraveClient) Search(ctx context.Context, query string, count int) ([]SearchResult, *ErrorMessage) {
	if !b.Configured() {
		return nil, &ErrorMessage{StatusCode: http.StatusServiceUnavailable, Err: fmt.Errorf("brave search: not configured")}
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(ClampCount(count)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, &ErrorMessage{Err: fmt.Errorf("brave search: build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &ErrorMessage{Err: fmt.Errorf("brave search: %w", err)}
	}
	defer resp.Body.Close()

	// Accept-Encoding is set explicitly, so the transport does not
	// decompress for us.
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return nil, &ErrorMessage{Err: fmt.Errorf("brave search: gzip reader: %w", gzErr)}
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &ErrorMessage{Err: fmt.Errorf("brave search: read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ErrorMessage{StatusCode: resp.StatusCode, Err: fmt.Errorf("brave search error: %s", strings.TrimSpace(string(body)))}
	}

	results := []SearchResult{}
	for _, item := range gjson.GetBytes(body, "web.results").Array() {
		results = append(results, SearchResult{
			Title:   item.Get("title").String(),
			URL:     item.Get("url").String(),
			Snippet: item.Get("description").String(),
		})
	}
	return results, nil
}
