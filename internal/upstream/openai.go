// Package upstream relays admitted requests to the configured providers and
// normalizes usage accounting across buffered and streamed response modes.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/protagonist-labs/device-gateway/internal/usage"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	completionTimeout    = 120 * time.Second

	dataPrefix = "data: "
	doneEvent  = "data: [DONE]"
)

// OpenAIClient forwards chat completion and transcription requests to an
// OpenAI-compatible provider, authenticated with the gateway's own key.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		baseURL: base,
		apiKey:  strings.TrimSpace(apiKey),
		client: &http.Client{
			Timeout: completionTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *OpenAIClient) newRequest(ctx context.Context, path, contentType string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// ChatCompletion forwards the caller's JSON body verbatim and returns the
// provider's 2xx body unchanged. Non-2xx responses come back as an
// ErrorMessage carrying the upstream status and body.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, body []byte) ([]byte, *ErrorMessage) {
	req, err := c.newRequest(ctx, "/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, &ErrorMessage{Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ErrorMessage{Err: fmt.Errorf("openai: chat completion: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrorMessage{Err: fmt.Errorf("openai: read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ErrorMessage{StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// ChatCompletionStream opens a streaming upstream connection and forwards
// each event-stream line as it arrives. The data channel closes when the
// upstream stream ends; a pre-stream failure is delivered on the error
// channel before any data is sent.
func (c *OpenAIClient) ChatCompletionStream(ctx context.Context, body []byte) (<-chan []byte, <-chan *ErrorMessage) {
	dataChan := make(chan []byte)
	errChan := make(chan *ErrorMessage, 1)

	req, err := c.newRequest(ctx, "/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		errChan <- &ErrorMessage{Err: err}
		close(dataChan)
		close(errChan)
		return dataChan, errChan
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		errChan <- &ErrorMessage{Err: fmt.Errorf("openai: chat completion stream: %w", err)}
		close(dataChan)
		close(errChan)
		return dataChan, errChan
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		errChan <- &ErrorMessage{StatusCode: resp.StatusCode, Body: respBody}
		close(dataChan)
		close(errChan)
		return dataChan, errChan
	}

	go func() {
		defer close(dataChan)
		defer close(errChan)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := bytes.Clone(scanner.Bytes())
			select {
			case <-ctx.Done():
				return
			case dataChan <- line:
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			log.WithField("component", "upstream").WithError(err).Warn("chat completion stream ended early")
			errChan <- &ErrorMessage{Err: fmt.Errorf("openai: read stream: %w", err)}
		}
	}()
	return dataChan, errChan
}

// Transcription forwards a raw multipart payload unchanged, preserving the
// caller's Content-Type boundary.
func (c *OpenAIClient) Transcription(ctx context.Context, contentType string, body []byte) ([]byte, *ErrorMessage) {
	req, err := c.newRequest(ctx, "/audio/transcriptions", contentType, bytes.NewReader(body))
	if err != nil {
		return nil, &ErrorMessage{Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ErrorMessage{Err: fmt.Errorf("openai: transcription: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErrorMessage{Err: fmt.Errorf("openai: read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ErrorMessage{StatusCode: resp.StatusCode, Body: respBody}
	}
	return respBody, nil
}

// ExtractUsage pulls prompt/completion token counts out of a buffered
// completion body. Missing fields read as zero.
func ExtractUsage(body []byte) usage.TokenUsage {
	return usage.TokenUsage{
		PromptTokens:     gjson.GetBytes(body, "usage.prompt_tokens").Int(),
		CompletionTokens: gjson.GetBytes(body, "usage.completion_tokens").Int(),
	}
}

// ExtractStreamUsage opportunistically parses one event-stream line for a
// terminal usage object. Lines that are not data events, the [DONE] marker,
// or chunks without usage report ok=false; a malformed chunk never fails
// the stream.
func ExtractStreamUsage(line []byte) (usage.TokenUsage, bool) {
	trimmed := strings.TrimSpace(string(line))
	if !strings.HasPrefix(trimmed, dataPrefix) || trimmed == doneEvent {
		return usage.TokenUsage{}, false
	}
	payload := trimmed[len(dataPrefix):]
	if !gjson.Valid(payload) {
		return usage.TokenUsage{}, false
	}
	u := gjson.Get(payload, "usage")
	if !u.Exists() || u.Type == gjson.Null {
		return usage.TokenUsage{}, false
	}
	return usage.TokenUsage{
		PromptTokens:     u.Get("prompt_tokens").Int(),
		CompletionTokens: u.Get("completion_tokens").Int(),
	}, true
}

// EnsureStreamUsage injects stream_options.include_usage into a streaming
// request body when the caller did not set it, so the provider emits the
// final usage chunk the capture path depends on.
func EnsureStreamUsage(body []byte) []byte {
	if !gjson.GetBytes(body, "stream").Bool() {
		return body
	}
	if gjson.GetBytes(body, "stream_options.include_usage").Exists() {
		return body
	}
	out, err := sjson.SetBytes(body, "stream_options.include_usage", true)
	if err != nil {
		return body
	}
	return out
}

// EstimateTranscriptionTokens derives a deterministic token estimate from
// transcript length, roughly one token per four characters, never below one.
// This is a known approximation for a non-token-based endpoint.
func EstimateTranscriptionTokens(text string) int64 {
	estimate := int64(len(text) / 4)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}
