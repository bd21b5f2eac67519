package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// systemPrompt instructs the model to emit only the JSON insight shape.
const systemPrompt = `You analyze customer support conversation threads from Twitter/X.
Given a full thread (messages in order), output a JSON object with:
- "sentiment": one of "positive", "negative", "neutral", or "mixed"
- "topics": list of short topic strings (e.g. ["billing", "delay", "refund"])
- "gaps": list of service or communication gaps (e.g. "slow response", "no ETA")
- "summary": one short sentence summarizing the conversation

Output only valid JSON, no markdown or extra text.`

// Error codes for failed analysis calls.
const (
	CodeCircuitOpen   = "circuit_open"
	CodeRateLimit     = "rate_limit"
	CodeTimeout       = "timeout"
	CodeNoChoices     = "no_choices"
	CodeMissingAPIKey = "missing_api_key"
)

// CallError is a classified analysis-call failure. Code is stable and
// machine-readable (e.g. "circuit_open", "rate_limit", "http_500").
type CallError struct {
	Code string
	Err  error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("grok call failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("grok call failed (%s)", e.Code)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ErrorCode extracts the classified code from an analysis error.
func ErrorCode(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return "error"
}

// IsCircuitOpen reports whether the error is a breaker refusal.
func IsCircuitOpen(err error) bool {
	return ErrorCode(err) == CodeCircuitOpen
}

// Analysis is a successful analysis result. Insight holds the parsed JSON
// object from the model; when the content was not valid JSON it holds
// {"raw": <content>, "parse_error": true} instead.
type Analysis struct {
	Insight          map[string]any
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostEstimate     *float64
}

// ParseError reports whether the model content failed JSON parsing.
func (a *Analysis) ParseError() bool {
	v, _ := a.Insight["parse_error"].(bool)
	return v
}

// ClientConfig configures the Grok chat-completions client.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// GrokClient calls the x.ai chat-completions endpoint (OpenAI-compatible) to
// analyze one conversation thread per request. Transient failures (429,
// timeout, transport) are retried with linear backoff; every failure feeds the
// circuit breaker.
type GrokClient struct {
	cfg     ClientConfig
	breaker *CircuitBreaker
	client  *http.Client
	logger  *zap.Logger

	// backoffUnit scales retry sleeps; tests shrink it.
	backoffUnit time.Duration
}

// NewGrokClient creates a client. The breaker is shared with the rest of the
// process; the client never constructs its own.
func NewGrokClient(cfg ClientConfig, breaker *CircuitBreaker, logger *zap.Logger) *GrokClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.ai/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &GrokClient{
		cfg:     cfg,
		breaker: breaker,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		logger:      logger.With(zap.String("component", "grok_client")),
		backoffUnit: time.Second,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

type chatUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	CostInUSDTicks   *int64 `json:"cost_in_usd_ticks"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
}

// BuildThreadText renders a thread for the prompt: one message per line,
// prefixed with its 1-based position.
func BuildThreadText(texts []string) string {
	var b strings.Builder
	for i, text := range texts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, text)
	}
	return b.String()
}

// Analyze sends the thread text for analysis and returns the parsed insight
// with usage accounting. Retries transient failures up to MaxRetries times;
// asks the breaker before every attempt and returns a circuit_open error
// without recording a further failure when refused.
func (c *GrokClient) Analyze(ctx context.Context, threadText string) (*Analysis, error) {
	if c.cfg.APIKey == "" {
		return nil, &CallError{Code: CodeMissingAPIKey}
	}

	body, err := json.Marshal(chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Conversation thread:\n\n" + threadText},
		},
		Model:       c.cfg.Model,
		Stream:      false,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr *CallError
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if !c.breaker.Allow() {
			return nil, &CallError{Code: CodeCircuitOpen}
		}

		result, callErr := c.doAttempt(ctx, body)
		if callErr == nil {
			c.breaker.RecordSuccess()
			return result, nil
		}

		c.breaker.RecordFailure()
		lastErr = callErr
		c.logger.Warn("grok call failed",
			zap.Int("attempt", attempt),
			zap.String("code", callErr.Code),
			zap.Error(callErr.Err))

		switch callErr.Code {
		case CodeRateLimit:
			if !c.sleep(ctx, 2*c.backoffUnit*time.Duration(attempt+1)) {
				return nil, lastErr
			}
		case CodeTimeout:
			if !c.sleep(ctx, c.backoffUnit*time.Duration(attempt+1)) {
				return nil, lastErr
			}
		default:
			// Non-retryable: http_<status>, no_choices
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// doAttempt performs one HTTP round trip and classifies the outcome.
func (c *GrokClient) doAttempt(ctx context.Context, body []byte) (*Analysis, *CallError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Code: CodeTimeout, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and transport failures are both retryable.
		return nil, &CallError{Code: CodeTimeout, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, &CallError{Code: CodeRateLimit}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &CallError{
			Code: fmt.Sprintf("http_%d", resp.StatusCode),
			Err:  fmt.Errorf("API error %d: %s", resp.StatusCode, truncateForLog(string(respBody), 200)),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Code: CodeTimeout, Err: err}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &CallError{Code: CodeNoChoices, Err: fmt.Errorf("parse response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &CallError{Code: CodeNoChoices}
	}

	content := parsed.Choices[0].Message.Content
	analysis := &Analysis{
		Insight:          parseInsightJSON(content),
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	if ticks := parsed.Usage.CostInUSDTicks; ticks != nil {
		cost := float64(*ticks) / 1_000_000
		analysis.CostEstimate = &cost
	}
	return analysis, nil
}

// sleep waits for d, returning false if the context was cancelled first.
func (c *GrokClient) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseInsightJSON parses the model content, tolerating a surrounding
// triple-backtick fence (optional json language tag). Non-JSON content still
// counts as success: the raw text is preserved under "raw" with a
// parse_error marker.
func parseInsightJSON(content string) map[string]any {
	raw := strings.TrimSpace(content)
	if raw == "" {
		return map[string]any{}
	}
	raw = stripFence(raw)

	var insight map[string]any
	if err := json.Unmarshal([]byte(raw), &insight); err != nil {
		return map[string]any{"raw": content, "parse_error": true}
	}
	return insight
}

// stripFence removes a surrounding ``` fence if present.
func stripFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	lines := strings.Split(raw, "\n")
	end := len(lines)
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}

// truncateForLog truncates a string for safe logging.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
