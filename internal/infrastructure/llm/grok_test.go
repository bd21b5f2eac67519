package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, baseURL string, maxRetries int, breaker *CircuitBreaker) *GrokClient {
	t.Helper()
	if breaker == nil {
		breaker = NewCircuitBreaker(5, time.Minute)
	}
	c := NewGrokClient(ClientConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "grok-4-latest",
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
	}, breaker, zap.NewNop())
	c.backoffUnit = time.Millisecond
	return c
}

func chatOK(content string, usage chatUsage) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": usage,
	})
	return body
}

// === Success paths ===

func TestGrokClient_AnalyzeSuccess(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write(chatOK(`{"sentiment": "negative", "topics": ["billing"], "gaps": ["no ETA"], "summary": "billing complaint"}`,
			chatUsage{PromptTokens: 100, CompletionTokens: 30, TotalTokens: 130}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3, nil)
	got, err := c.Analyze(context.Background(), "[1] my bill is wrong\n[2] sorry to hear that")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotReq.Stream || gotReq.Temperature != 0 || gotReq.Model != "grok-4-latest" {
		t.Errorf("request = %+v, want stream=false temperature=0 model=grok-4-latest", gotReq)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", gotReq.Messages)
	}
	if gotReq.Messages[1].Content != "Conversation thread:\n\n[1] my bill is wrong\n[2] sorry to hear that" {
		t.Errorf("user message = %q", gotReq.Messages[1].Content)
	}

	if got.Insight["sentiment"] != "negative" {
		t.Errorf("sentiment = %v", got.Insight["sentiment"])
	}
	if got.PromptTokens != 100 || got.CompletionTokens != 30 || got.TotalTokens != 130 {
		t.Errorf("usage = %d/%d/%d", got.PromptTokens, got.CompletionTokens, got.TotalTokens)
	}
	if got.ParseError() {
		t.Error("unexpected parse_error")
	}
}

func TestGrokClient_FencedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatOK("```json\n{\"sentiment\": \"positive\"}\n```", chatUsage{}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0, nil)
	got, err := c.Analyze(context.Background(), "thread")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Insight["sentiment"] != "positive" {
		t.Errorf("insight = %v, want fenced JSON parsed", got.Insight)
	}
}

func TestGrokClient_PlainFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatOK("```\n{\"sentiment\": \"neutral\"}\n```", chatUsage{}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0, nil)
	got, err := c.Analyze(context.Background(), "thread")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Insight["sentiment"] != "neutral" {
		t.Errorf("insight = %v, want fence without language tag parsed", got.Insight)
	}
}

func TestGrokClient_NonJSONContentIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatOK("The customer is unhappy about billing.", chatUsage{TotalTokens: 10}))
	}))
	defer srv.Close()

	breaker := NewCircuitBreaker(5, time.Minute)
	c := newTestClient(t, srv.URL, 0, breaker)
	got, err := c.Analyze(context.Background(), "thread")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !got.ParseError() {
		t.Fatal("want parse_error marker for non-JSON content")
	}
	if got.Insight["raw"] != "The customer is unhappy about billing." {
		t.Errorf("raw = %v", got.Insight["raw"])
	}
	if breaker.State() != CircuitClosed {
		t.Error("parse failure must not count against the breaker")
	}
}

func TestGrokClient_CostTicks(t *testing.T) {
	ticks := int64(2500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatOK(`{}`, chatUsage{TotalTokens: 5, CostInUSDTicks: &ticks}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0, nil)
	got, err := c.Analyze(context.Background(), "thread")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.CostEstimate == nil || *got.CostEstimate != 0.0025 {
		t.Errorf("cost = %v, want 0.0025", got.CostEstimate)
	}
}

// === Failure classification ===

func TestGrokClient_ServerErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := NewCircuitBreaker(5, time.Minute)
	c := newTestClient(t, srv.URL, 3, breaker)
	_, err := c.Analyze(context.Background(), "thread")
	if err == nil {
		t.Fatal("want error")
	}
	if ErrorCode(err) != "http_500" {
		t.Errorf("code = %q, want http_500", ErrorCode(err))
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1 (non-retryable)", n)
	}
}

func TestGrokClient_RateLimitedRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(chatOK(`{"sentiment": "neutral"}`, chatUsage{}))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3, nil)
	got, err := c.Analyze(context.Background(), "thread")
	if err != nil {
		t.Fatalf("Analyze after retries: %v", err)
	}
	if got.Insight["sentiment"] != "neutral" {
		t.Errorf("insight = %v", got.Insight)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestGrokClient_RetriesExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2, nil)
	_, err := c.Analyze(context.Background(), "thread")
	if err == nil {
		t.Fatal("want error after exhausting retries")
	}
	if ErrorCode(err) != CodeRateLimit {
		t.Errorf("code = %q, want rate_limit", ErrorCode(err))
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", n)
	}
}

func TestGrokClient_NoChoicesFeedsBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [], "usage": {}}`))
	}))
	defer srv.Close()

	breaker := NewCircuitBreaker(1, time.Minute)
	c := newTestClient(t, srv.URL, 3, breaker)
	_, err := c.Analyze(context.Background(), "thread")
	if ErrorCode(err) != CodeNoChoices {
		t.Fatalf("code = %q, want no_choices", ErrorCode(err))
	}
	if breaker.State() != CircuitOpen {
		t.Error("no_choices should count as a breaker failure")
	}
}

func TestGrokClient_CircuitOpenShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	breaker := NewCircuitBreaker(1, time.Minute)
	breaker.RecordFailure()
	c := newTestClient(t, srv.URL, 3, breaker)

	_, err := c.Analyze(context.Background(), "thread")
	if !IsCircuitOpen(err) {
		t.Fatalf("err = %v, want circuit_open", err)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("calls = %d, want 0 (endpoint not hit)", n)
	}
	if breaker.State() != CircuitOpen {
		t.Error("refusal must not record an extra breaker failure")
	}
}

func TestGrokClient_MissingAPIKey(t *testing.T) {
	c := NewGrokClient(ClientConfig{BaseURL: "http://localhost:1"}, NewCircuitBreaker(5, time.Minute), zap.NewNop())
	_, err := c.Analyze(context.Background(), "thread")
	if ErrorCode(err) != CodeMissingAPIKey {
		t.Fatalf("code = %q, want missing_api_key", ErrorCode(err))
	}
}

func TestGrokClient_TransportErrorRetried(t *testing.T) {
	// Closed server: every attempt fails at the transport level.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := newTestClient(t, srv.URL, 1, nil)
	start := time.Now()
	_, err := c.Analyze(context.Background(), "thread")
	if err == nil {
		t.Fatal("want transport error")
	}
	if ErrorCode(err) != CodeTimeout {
		t.Errorf("code = %q, want timeout", ErrorCode(err))
	}
	// One backoff sleep (1ms unit) proves the retry happened.
	if time.Since(start) > time.Second {
		t.Error("retries took too long for millisecond backoff unit")
	}
}

// === Fence stripping ===

func TestStripFence(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"unterminated", "```json\n{\"a\": 1}", `{"a": 1}`},
	}
	for _, tc := range cases {
		if got := stripFence(tc.in); got != tc.want {
			t.Errorf("%s: stripFence = %q, want %q", tc.name, got, tc.want)
		}
	}
}
