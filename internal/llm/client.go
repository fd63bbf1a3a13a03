// Package llm implements a rate-limit aware chat completion client for
// OpenAI-compatible endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Sleeper blocks for the given duration.
type Sleeper func(time.Duration)

// Option customizes a Client.
type Option func(*Client)

// WithSleeper replaces time.Sleep for every wait the client takes.
func WithSleeper(sleep Sleeper) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithUsage makes the client record completion tokens into u.
func WithUsage(u *Usage) Option {
	return func(c *Client) {
		c.usage = u
	}
}

// Client sends chat completions to a single endpoint and model, absorbing
// rate-limit rejections and throttling ahead of the next call.
type Client struct {
	cfg        Config
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      Sleeper
	usage      *Usage
	registry   *prometheus.Registry
	metrics    *metrics
}

// NewClient constructs a chat completion client. A nil httpClient uses a
// client without a timeout.
func NewClient(cfg Config, httpClient *http.Client, opts ...Option) (*Client, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		envKey := strings.TrimSpace(cfg.APIKeyEnv)
		if envKey == "" {
			envKey = defaultAPIKeyEnv
		}
		apiKey = strings.TrimSpace(os.Getenv(envKey))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm api key is required (set api_key or api_key_env)")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = defaultRetryAfter
	}
	if cfg.DefaultReset <= 0 {
		cfg.DefaultReset = defaultReset
	}
	if cfg.RequestsPerMinute < 0 {
		return nil, fmt.Errorf("requests_per_minute must be >= 0")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	registry := prometheus.NewRegistry()
	c := &Client{
		cfg: Config{
			BaseURL:           baseURL,
			Model:             model,
			DefaultRetryAfter: cfg.DefaultRetryAfter,
			DefaultReset:      cfg.DefaultReset,
			RequestsPerMinute: cfg.RequestsPerMinute,
		},
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		sleep:      time.Sleep,
		usage:      &Usage{},
		registry:   registry,
		metrics:    newMetrics(registry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Usage returns the accumulator the client records completion tokens into.
func (c *Client) Usage() *Usage {
	return c.usage
}

// Gatherer exposes the client's metrics.
func (c *Client) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Complete performs one logical completion call and returns the trimmed text
// of the first choice.
//
// 429 responses are retried without limit after the advised wait. A response
// without choices[0].message.content yields ErrorSentinel and a nil error.
// Transport failures and bodies that are not JSON are returned as errors.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		N:           req.N,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	for {
		c.pace()

		resp, err := c.doPost(ctx, body)
		if err != nil {
			return "", fmt.Errorf("post chat completion: %w", err)
		}
		c.metrics.observeResponse(resp.StatusCode)

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header, c.cfg.DefaultRetryAfter)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			log.Warn().Dur("wait", wait).Msg("rate limit hit, waiting before retry")
			c.wait(waitRateLimited, wait)
			continue
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("read chat response: %w", err)
		}

		var parsed chatResponse
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return "", fmt.Errorf("decode chat response (status %d): %w", resp.StatusCode, err)
		}
		content, ok := firstContent(parsed)
		if !ok {
			c.metrics.malformed.Inc()
			log.Error().
				Int("status", resp.StatusCode).
				Str("body", string(payload)).
				Msg("chat response missing choices[0].message.content")
			return ErrorSentinel, nil
		}

		c.throttle(ParseRateLimitState(resp.Header, c.cfg.DefaultReset), req.MaxTokens)

		tokens := parsed.Usage.CompletionTokens
		c.usage.Add(tokens)
		c.metrics.completionTokens.Add(float64(max(tokens, 0)))
		return strings.TrimSpace(content), nil
	}
}

func firstContent(resp chatResponse) (string, bool) {
	if len(resp.Choices) == 0 {
		return "", false
	}
	msg := resp.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", false
	}
	return *msg.Content, true
}

// throttle sleeps after a successful call when the remaining quota would
// starve the next one. Both checks are independent.
func (c *Client) throttle(state RateLimitState, maxTokens int) {
	if state.RemainingTokens < maxTokens {
		log.Info().
			Int("remaining_tokens", state.RemainingTokens).
			Dur("wait", state.ResetTokens).
			Msg("low on tokens, waiting for token reset")
		c.wait(waitTokens, state.ResetTokens)
	}
	if state.RemainingRequests < 2 {
		log.Info().
			Int("remaining_requests", state.RemainingRequests).
			Dur("wait", state.ResetRequests).
			Msg("low on requests, waiting for request reset")
		c.wait(waitRequests, state.ResetRequests)
	}
}

func (c *Client) pace() {
	d := c.limiter.Reserve().Delay()
	if d <= 0 {
		return
	}
	log.Debug().Dur("wait", d).Msg("pacing request")
	c.wait(waitPacing, d)
}

func (c *Client) wait(reason string, d time.Duration) {
	if d <= 0 {
		return
	}
	c.metrics.observeWait(reason, d)
	c.sleep(d)
}

func (c *Client) doPost(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.httpClient.Do(req)
}
