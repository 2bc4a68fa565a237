// Package openai implements the AI text-generation provider client.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/metrics"
)

const defaultBaseURL = "https://api.openai.com"

// ErrBadResponse covers non-2xx status codes and malformed response bodies.
var ErrBadResponse = errors.New("openai: bad response")

// ErrNotConfigured signals a missing API key.
var ErrNotConfigured = errors.New("openai: api key missing")

// ErrJSONParse signals that chat output could not be decoded as JSON even
// after brace extraction.
var ErrJSONParse = errors.New("openai: json parse failed")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tune a single completion request.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Client calls the chat completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

// New builds a Client.
func New(apiKey, baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		logger:     logger,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat runs one completion and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, messages []Message, model string, opts ChatOptions) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.6
	}
	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}
	if opts.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderRequest("openai", "error", time.Since(start))
		c.logger.Error("openai request failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		metrics.ObserveProviderRequest("openai", "error", time.Since(start))
		return "", fmt.Errorf("%w: read body: %v", ErrBadResponse, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ObserveProviderRequest("openai", "error", time.Since(start))
		c.logger.Error("openai bad response", zap.Int("code", resp.StatusCode), zap.ByteString("body", truncate(raw, 500)))
		return "", fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		metrics.ObserveProviderRequest("openai", "error", time.Since(start))
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	metrics.ObserveProviderRequest("openai", "ok", time.Since(start))
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ChatJSON runs a completion in JSON mode and decodes the output into out.
// Accounts or models that reject JSON mode get one retry without the flag,
// and content wrapped in prose falls back to brace extraction.
func (c *Client) ChatJSON(ctx context.Context, messages []Message, model string, opts ChatOptions, out any) error {
	opts.JSONMode = true
	content, err := c.Chat(ctx, messages, model, opts)
	if errors.Is(err, ErrBadResponse) {
		opts.JSONMode = false
		content, err = c.Chat(ctx, messages, model, opts)
	}
	if err != nil {
		return err
	}
	if json.Unmarshal([]byte(content), out) == nil {
		return nil
	}
	if m := jsonObject.FindString(content); m != "" {
		if json.Unmarshal([]byte(m), out) == nil {
			return nil
		}
	}
	c.logger.Warn("openai json parse failed", zap.String("snippet", snippet(content, 250)))
	return ErrJSONParse
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
