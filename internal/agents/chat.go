package agents

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/platform/httpx"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string
	Content string
}

// Usage is the token accounting reported by the provider for one call.
// Zero values mean the provider did not report usage.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Total returns the provider total, falling back to prompt+completion.
func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// Add folds another call's usage into this one.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.Total() + other.Total(),
	}
}

/*
ChatClient is the single LLM surface every agent talks through. One
implementation speaks the OpenAI-compatible Responses API; tests swap in a
scripted fake.
*/
type ChatClient interface {
	Chat(ctx context.Context, model string, msgs []Message) (string, Usage, error)
	ChatJSON(ctx context.Context, model string, msgs []Message, schemaName string, schema map[string]interface{}) (map[string]interface{}, Usage, error)
	ChatStream(ctx context.Context, model string, msgs []Message, onDelta func(delta string)) (string, Usage, error)
}

type chatClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int

	temperature *float64

	// Models that rejected the temperature parameter; omitted thereafter.
	noTempMu   sync.RWMutex
	noTempSeen map[string]bool
}

// NewChatClient builds the production Responses API client. The per-call
// timeout comes from Settings.RequestTimeout.
func NewChatClient(log *logger.Logger, cfg config.Settings) (ChatClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.OpenAIBaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	temp := 0.2
	return &chatClient{
		log:         log.With("service", "ChatClient"),
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.OpenAIAPIKey),
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  4,
		temperature: &temp,
		noTempSeen:  map[string]bool{},
	}, nil
}

type responsesRequest struct {
	Model string `json:"model"`

	Input []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"input"`

	Text struct {
		Format map[string]interface{} `json:"format,omitempty"`
	} `json:"text,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`

	Stream bool `json:"stream,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
	Usage   struct {
		InputTokens      int `json:"input_tokens"`
		OutputTokens     int `json:"output_tokens"`
		TotalTokens      int `json:"total_tokens"`
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

func (r responsesResponse) usage() Usage {
	u := Usage{
		PromptTokens:     r.Usage.InputTokens,
		CompletionTokens: r.Usage.OutputTokens,
		TotalTokens:      r.Usage.TotalTokens,
	}
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		u.PromptTokens = r.Usage.PromptTokens
		u.CompletionTokens = r.Usage.CompletionTokens
	}
	return u
}

func (r responsesResponse) outputText() string {
	var out strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" && c.Text != "" {
				out.WriteString(c.Text)
			}
		}
	}
	return out.String()
}

type providerHTTPError struct {
	StatusCode int
	Body       string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, e.Body)
}

func (e *providerHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func isUnsupportedTemperature(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "temperature") {
		return false
	}
	for _, marker := range []string{
		"unsupported parameter",
		"unknown parameter",
		"unrecognized parameter",
		"not supported",
		"does not support",
		"only the default",
		"unsupported_value",
		"invalid_request_error",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (c *chatClient) applyTemperature(req *responsesRequest) {
	if c.temperature == nil {
		return
	}
	c.noTempMu.RLock()
	skip := c.noTempSeen[strings.ToLower(req.Model)]
	c.noTempMu.RUnlock()
	if skip {
		return
	}
	req.Temperature = c.temperature
}

func (c *chatClient) noteNoTemp(model string) {
	c.noTempMu.Lock()
	c.noTempSeen[strings.ToLower(model)] = true
	c.noTempMu.Unlock()
}

func (c *chatClient) newRequest(model string, msgs []Message) responsesRequest {
	req := responsesRequest{Model: model}
	for _, m := range msgs {
		req.Input = append(req.Input, struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: m.Role, Content: m.Content})
	}
	c.applyTemperature(&req)
	return req
}

func (c *chatClient) doOnce(ctx context.Context, body responsesRequest) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/responses", &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if body.Stream && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil, nil
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &providerHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *chatClient) do(ctx context.Context, body responsesRequest, out *responsesResponse) error {
	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("llm decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}
		if body.Temperature != nil && isUnsupportedTemperature(err) {
			c.noteNoTemp(body.Model)
			body.Temperature = nil
			continue
		}
		if !httpx.Retryable(err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.Jitter(httpx.RetryAfter(resp, backoff, 10*time.Second))
		c.log.Warn("LLM request retrying",
			"model", body.Model,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (c *chatClient) Chat(ctx context.Context, model string, msgs []Message) (string, Usage, error) {
	req := c.newRequest(model, msgs)
	var resp responsesResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return "", Usage{}, err
	}
	if resp.Refusal != "" {
		return "", resp.usage(), fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := resp.outputText()
	if strings.TrimSpace(text) == "" {
		return "", resp.usage(), fmt.Errorf("no output_text found in response")
	}
	return text, resp.usage(), nil
}

func (c *chatClient) ChatJSON(ctx context.Context, model string, msgs []Message, schemaName string, schema map[string]interface{}) (map[string]interface{}, Usage, error) {
	if schemaName == "" {
		return nil, Usage{}, errors.New("schemaName required")
	}
	if schema == nil {
		return nil, Usage{}, errors.New("schema required")
	}
	req := c.newRequest(model, msgs)
	req.Text.Format = map[string]interface{}{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}
	var resp responsesResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, Usage{}, err
	}
	if resp.Refusal != "" {
		return nil, resp.usage(), fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := resp.outputText()
	if strings.TrimSpace(text) == "" {
		return nil, resp.usage(), fmt.Errorf("no output_text found in response")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, resp.usage(), fmt.Errorf("parse model JSON: %w; text=%s", err, text)
	}
	return obj, resp.usage(), nil
}

func (c *chatClient) ChatStream(ctx context.Context, model string, msgs []Message, onDelta func(delta string)) (string, Usage, error) {
	req := c.newRequest(model, msgs)
	req.Stream = true

	resp, raw, err := c.doOnce(ctx, req)
	if err != nil && req.Temperature != nil && isUnsupportedTemperature(err) {
		c.noteNoTemp(req.Model)
		req.Temperature = nil
		resp, raw, err = c.doOnce(ctx, req)
	}
	if err != nil {
		_ = raw
		return "", Usage{}, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	var usage Usage
	err = scanSSE(resp.Body, func(event, data string) error {
		if strings.TrimSpace(data) == "" || strings.TrimSpace(data) == "[DONE]" {
			return nil
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(data), &obj); err != nil {
			return nil
		}
		evt := strings.TrimSpace(event)
		if t, ok := obj["type"].(string); ok && strings.TrimSpace(t) != "" {
			evt = strings.TrimSpace(t)
		}
		if r, ok := obj["refusal"].(string); ok && strings.TrimSpace(r) != "" {
			return fmt.Errorf("model refused: %s", r)
		}
		if eAny, ok := obj["error"]; ok && eAny != nil {
			b, _ := json.Marshal(eAny)
			return fmt.Errorf("llm stream error: %s", string(b))
		}
		if d, ok := obj["delta"].(string); ok && d != "" && strings.Contains(evt, "output_text.delta") {
			full.WriteString(d)
			if onDelta != nil {
				onDelta(d)
			}
		}
		// Completed events carry the final usage block.
		if respAny, ok := obj["response"].(map[string]interface{}); ok {
			if u, ok := respAny["usage"].(map[string]interface{}); ok {
				usage = usageFromMap(u)
			}
		}
		return nil
	})
	if err != nil {
		return "", usage, err
	}
	return full.String(), usage, nil
}

func usageFromMap(u map[string]interface{}) Usage {
	asInt := func(key string) int {
		if f, ok := u[key].(float64); ok {
			return int(f)
		}
		return 0
	}
	out := Usage{
		PromptTokens:     asInt("input_tokens"),
		CompletionTokens: asInt("output_tokens"),
		TotalTokens:      asInt("total_tokens"),
	}
	if out.PromptTokens == 0 && out.CompletionTokens == 0 {
		out.PromptTokens = asInt("prompt_tokens")
		out.CompletionTokens = asInt("completion_tokens")
	}
	return out
}

// scanSSE parses a text/event-stream body, invoking onEvent once per event.
func scanSSE(r io.Reader, onEvent func(event, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		ev := eventName
		eventName = ""
		if onEvent == nil {
			return nil
		}
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = flush()
				break
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}

	return nil
}
