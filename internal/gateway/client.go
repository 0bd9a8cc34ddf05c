// Package gateway asks the LLM completion gateway for deal candidates and
// degrades to the fallback catalog whenever the gateway cannot deliver them.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"dealscout/deal-service/internal/catalog"
	"dealscout/deal-service/internal/config"
	"dealscout/deal-service/internal/logging"
	"dealscout/deal-service/internal/metrics"
	"dealscout/deal-service/internal/model"
)

const (
	completionsPath = "/llm/chat/completions"
	apiKeyHeader    = "x-appifex-key"
	breakerName     = "completion-gateway"
	maxBodyBytes    = 4 << 20
)

// ErrMissingAPIKey is returned by Fetch when no gateway credential is
// configured. It is a configuration error, not an upstream failure.
var ErrMissingAPIKey = errors.New("gateway API key not configured")

// Source tells which path produced a Result.
type Source string

const (
	SourceGateway  Source = "gateway"
	SourceFallback Source = "fallback"
)

// Result is the outcome of one Fetch. Reason is set only for fallbacks.
type Result struct {
	Source Source
	Reason string
	Deals  []model.RawDeal
}

func (r Result) IsFallback() bool { return r.Source == SourceFallback }

// Request describes what to ask the gateway for.
type Request struct {
	Query      string
	Categories []string
	Limit      int
}

// Client calls the completion gateway. Safe for concurrent use.
type Client struct {
	cfg     config.GatewayConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]model.RawDeal]
	limiter *rate.Limiter
	log     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient builds a Client from an explicit gateway configuration.
func NewClient(cfg config.GatewayConfig, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		log:     logging.With("gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	c.breaker = gobreaker.NewCircuitBreaker[[]model.RawDeal](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return c
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Fetch asks the gateway for req.Limit deals. Upstream failures of any
// kind yield a fallback Result, never an error. The only error is
// ErrMissingAPIKey.
func (c *Client) Fetch(ctx context.Context, req Request) (Result, error) {
	if c.cfg.APIKey == "" {
		return Result{}, ErrMissingAPIKey
	}

	start := time.Now()
	deals, err := c.fetch(ctx, req)
	if err != nil {
		metrics.RecordGatewayResult(true, time.Since(start))
		c.log.Warn().Err(err).Int("limit", req.Limit).Msg("gateway unavailable, serving fallback catalog")
		return Result{Source: SourceFallback, Reason: err.Error(), Deals: catalog.Fallback()}, nil
	}

	metrics.RecordGatewayResult(false, time.Since(start))
	c.log.Debug().Int("count", len(deals)).Dur("took", time.Since(start)).Msg("gateway deals received")
	return Result{Source: SourceGateway, Deals: deals}, nil
}

func (c *Client) fetch(ctx context.Context, req Request) ([]model.RawDeal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.breaker.Execute(func() ([]model.RawDeal, error) {
		return c.complete(ctx, req)
	})
}

// ─── Wire types ──────────────────────────────────────────────────────────────

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ─── Call ────────────────────────────────────────────────────────────────────

func (c *Client) complete(ctx context.Context, req Request) ([]model.RawDeal, error) {
	payload, err := json.Marshal(chatRequest{
		Model:          c.cfg.Model,
		Messages:       []chatMessage{{Role: "user", Content: BuildPrompt(req)}},
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.URL, "/") + completionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(apiKeyHeader, c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http POST: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, errors.New("response has no choices")
	}
	return interpret(chat.Choices[0].Message.Content)
}

// interpret reads completion content as {"deals": [...]}, then as a bare
// array, then falls back to the lenient Parse for fenced or wrapped text.
func interpret(content string) ([]model.RawDeal, error) {
	if v, err := decode(content); err == nil {
		if obj, ok := v.(map[string]any); ok {
			if arr, ok := obj["deals"].([]any); ok && allObjects(arr) {
				return toRawDeals(arr)
			}
		}
		if arr, ok := v.([]any); ok && allObjects(arr) {
			return toRawDeals(arr)
		}
	}
	return Parse(content)
}

// BuildPrompt renders the instruction sent to the completion model.
func BuildPrompt(req Request) string {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = "best trending deals"
	}
	categories := "all categories"
	if len(req.Categories) > 0 {
		categories = strings.Join(req.Categories, ", ")
	}

	return "Return recent product deals as strict JSON array only. " +
		"No markdown, no commentary. " +
		"Each item must include keys: " +
		"title, marketplace, category, price, original_price, discount_percent, product_url, image_url. " +
		"Use only marketplaces: Amazon, Walmart, Target. " +
		fmt.Sprintf("Focus query: %s. Categories: %s. ", query, categories) +
		fmt.Sprintf("Return exactly %d items with realistic prices and discounts.", req.Limit)
}
