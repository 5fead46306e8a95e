// Package llm is the transport for council model calls against an
// OpenAI-compatible chat-completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Sentinel replaces model output whenever a call fails. It parses as an
// empty council record, so downstream stages degrade instead of aborting.
const Sentinel = `{"differentials":[],"next_steps":[],"confidence":0,"red_flag":false}`

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls a chat-completions endpoint with a per-call timeout and a
// bound on concurrent in-flight requests. Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	sem        *semaphore.Weighted
	logger     zerolog.Logger
}

// New builds a client for the given endpoint. maxConcurrent bounds in-flight
// requests across all callers; timeout applies per call.
func New(apiKey, baseURL string, timeout time.Duration, maxConcurrent int64) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         cachedDialContext,
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sem:    semaphore.NewWeighted(maxConcurrent),
		logger: log.With().Str("component", "llm").Logger(),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Call sends one chat request and returns the first choice's content. Every
// failure path (dispatch, network, non-200, malformed body, empty choices)
// returns Sentinel.
func (c *Client) Call(ctx context.Context, model string, messages []Message, temperature float64, maxTokens int) string {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.logger.Warn().Err(err).Str("model", model).Msg("LLM call aborted before dispatch")
		return Sentinel
	}
	defer c.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("model", model).Msg("Failed to marshal LLM request")
		return Sentinel
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		c.logger.Error().Err(err).Str("model", model).Msg("Failed to create LLM request")
		return Sentinel
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("model", model).Msg("LLM request failed")
		return Sentinel
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn().Err(err).Str("model", model).Msg("Failed to read LLM response")
		return Sentinel
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		var errResp apiError
		if jsonErr := json.Unmarshal(respBody, &errResp); jsonErr == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("model", model).
			Str("error", msg).
			Msg("LLM API error")
		return Sentinel
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.logger.Warn().Err(err).Str("model", model).Msg("Failed to parse LLM response")
		return Sentinel
	}
	if len(parsed.Choices) == 0 {
		c.logger.Warn().Str("model", model).Msg("LLM response contained no choices")
		return Sentinel
	}

	c.logger.Debug().
		Str("model", model).
		Dur("elapsed", time.Since(start)).
		Int("prompt_tokens", parsed.Usage.PromptTokens).
		Int("completion_tokens", parsed.Usage.CompletionTokens).
		Msg("LLM call complete")
	return parsed.Choices[0].Message.Content
}
