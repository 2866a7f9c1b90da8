package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestOpenAIClient_ChatCompletion_Passthrough(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path=%q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","usage":{"prompt_tokens":10,"completion_tokens":20}}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-server")
	body, errMsg := client.ChatCompletion(context.Background(), []byte(`{"model":"gpt-4o-mini"}`))
	if errMsg != nil {
		t.Fatalf("errMsg=%+v", errMsg)
	}
	if gotAuth != "Bearer sk-server" {
		t.Fatalf("auth=%q, server credential not substituted", gotAuth)
	}
	if gotBody != `{"model":"gpt-4o-mini"}` {
		t.Fatalf("body=%q", gotBody)
	}

	u := ExtractUsage(body)
	if u.PromptTokens != 10 || u.CompletionTokens != 20 {
		t.Fatalf("usage=%+v", u)
	}
}

func TestOpenAIClient_ChatCompletion_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom"}}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-server")
	body, errMsg := client.ChatCompletion(context.Background(), []byte(`{}`))
	if body != nil {
		t.Fatalf("body=%q", body)
	}
	if errMsg == nil || errMsg.Status() != http.StatusInternalServerError {
		t.Fatalf("errMsg=%+v", errMsg)
	}
	if got := gjson.GetBytes(errMsg.Body, "error.message").String(); got != "boom" {
		t.Fatalf("upstream body not propagated: %s", errMsg.Body)
	}
}

func TestOpenAIClient_ChatCompletionStream_ForwardsLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range []string{
			`data: {"choices":[{"delta":{"content":"hi"}}]}`,
			``,
			`data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":20}}`,
			``,
			`data: [DONE]`,
		} {
			fmt.Fprintf(w, "%s\n", line)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-server")
	dataChan, errChan := client.ChatCompletionStream(context.Background(), []byte(`{"stream":true}`))

	var lines []string
	captured := false
	var prompt, completion int64
	for line := range dataChan {
		lines = append(lines, string(line))
		if u, ok := ExtractStreamUsage(line); ok {
			captured = true
			prompt, completion = u.PromptTokens, u.CompletionTokens
		}
	}
	if errMsg := <-errChan; errMsg != nil {
		t.Fatalf("errMsg=%+v", errMsg)
	}
	if len(lines) != 5 {
		t.Fatalf("lines=%d: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "data: ") || lines[4] != "data: [DONE]" {
		t.Fatalf("framing lost: %q", lines)
	}
	if !captured || prompt != 10 || completion != 20 {
		t.Fatalf("captured=%v prompt=%d completion=%d", captured, prompt, completion)
	}
}

func TestOpenAIClient_ChatCompletionStream_PreStreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-server")
	dataChan, errChan := client.ChatCompletionStream(context.Background(), []byte(`{"stream":true}`))

	if _, ok := <-dataChan; ok {
		t.Fatal("expected no data before error")
	}
	errMsg := <-errChan
	if errMsg == nil || errMsg.Status() != http.StatusTooManyRequests {
		t.Fatalf("errMsg=%+v", errMsg)
	}
}

func TestOpenAIClient_Transcription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/form-data") {
			t.Errorf("content-type=%q", ct)
		}
		fmt.Fprint(w, `{"text":"hello world"}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-server")
	body, errMsg := client.Transcription(context.Background(), "multipart/form-data; boundary=x", []byte("--x--"))
	if errMsg != nil {
		t.Fatalf("errMsg=%+v", errMsg)
	}
	if got := gjson.GetBytes(body, "text").String(); got != "hello world" {
		t.Fatalf("text=%q", got)
	}
}

func TestExtractStreamUsage_SkipsNonUsageLines(t *testing.T) {
	cases := []string{
		``,
		`: keep-alive`,
		`data: [DONE]`,
		`data: not json`,
		`data: {"choices":[{"delta":{"content":"x"}}]}`,
		`data: {"usage":null}`,
	}
	for _, line := range cases {
		if _, ok := ExtractStreamUsage([]byte(line)); ok {
			t.Fatalf("line %q should not yield usage", line)
		}
	}
}

func TestEnsureStreamUsage(t *testing.T) {
	out := EnsureStreamUsage([]byte(`{"model":"gpt-4o-mini","stream":true}`))
	if !gjson.GetBytes(out, "stream_options.include_usage").Bool() {
		t.Fatalf("include_usage not injected: %s", out)
	}

	// Caller's explicit choice is preserved.
	in := []byte(`{"stream":true,"stream_options":{"include_usage":false}}`)
	if got := EnsureStreamUsage(in); string(got) != string(in) {
		t.Fatalf("body rewritten: %s", got)
	}

	// Non-streaming bodies are untouched.
	in = []byte(`{"model":"gpt-4o-mini"}`)
	if got := EnsureStreamUsage(in); string(got) != string(in) {
		t.Fatalf("body rewritten: %s", got)
	}
}

func TestEstimateTranscriptionTokens(t *testing.T) {
	if got := EstimateTranscriptionTokens(""); got != 1 {
		t.Fatalf("empty estimate=%d", got)
	}
	if got := EstimateTranscriptionTokens(strings.Repeat("a", 40)); got != 10 {
		t.Fatalf("estimate=%d want 10", got)
	}
}
