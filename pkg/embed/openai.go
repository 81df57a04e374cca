package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxBatch matches the OpenAI embeddings input limit.
	DefaultMaxBatch = 2048
	// maxAttempts bounds retries for one Embed call.
	maxAttempts = 3
	// retryBase is the backoff unit: base * 2^attempt plus jitter.
	retryBase = 500 * time.Millisecond
	// maxErrBody caps how much of an error response body is kept.
	maxErrBody = 512
)

// ClientConfig configures an OpenAI-compatible embeddings client.
type ClientConfig struct {
	BaseURL  string // e.g. https://api.openai.com/v1
	APIKey   string
	Model    string // e.g. text-embedding-3-small
	MaxBatch int    // 0 selects DefaultMaxBatch

	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client calls the /embeddings endpoint of an OpenAI-compatible API.
type Client struct {
	baseURL  string
	apiKey   string
	model    string
	maxBatch int
	http     *http.Client
	log      zerolog.Logger
}

// NewClient validates the configuration and returns a ready client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embed: base URL cannot be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embed: model cannot be empty")
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		maxBatch: cfg.MaxBatch,
		http:     cfg.HTTPClient,
		log:      log,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// MaxBatch returns the largest accepted batch size.
func (c *Client) MaxBatch() int { return c.maxBatch }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests vectors for the texts, retrying transient failures. The
// result preserves input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if len(texts) > c.maxBatch {
		return nil, fmt.Errorf("embed: batch of %d exceeds limit %d", len(texts), c.maxBatch)
	}

	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt, lastErr)
			c.log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("retrying embedding request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		vectors, err := c.doRequest(ctx, body, len(texts))
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		var pe *ProviderError
		if !errors.As(err, &pe) || !pe.Retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("embed: giving up after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doRequest(ctx context.Context, body []byte, want int) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		pe := &ProviderError{
			Status:    resp.StatusCode,
			Body:      string(data),
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
		return nil, retryAfterError(pe, resp.Header.Get("Retry-After"))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(parsed.Data) != want {
		return nil, fmt.Errorf("embed: expected %d vectors, got %d", want, len(parsed.Data))
	}

	vectors := make([][]float32, want)
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, fmt.Errorf("embed: response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// retryAfterHint carries a server-suggested delay alongside the provider
// error.
type retryAfterHint struct {
	*ProviderError
	delay time.Duration
}

func retryAfterError(pe *ProviderError, header string) error {
	if header == "" {
		return pe
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return pe
	}
	return &retryAfterHint{ProviderError: pe, delay: time.Duration(secs) * time.Second}
}

// Unwrap exposes the wrapped provider error to errors.As.
func (e *retryAfterHint) Unwrap() error { return e.ProviderError }

func (e *retryAfterHint) Error() string { return e.ProviderError.Error() }

// backoff computes the delay before the given attempt, preferring the
// server's Retry-After hint when present.
func backoff(attempt int, lastErr error) time.Duration {
	var hint *retryAfterHint
	if errors.As(lastErr, &hint) {
		return hint.delay
	}
	delay := retryBase * time.Duration(1<<(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(retryBase)))
	return delay + jitter
}
