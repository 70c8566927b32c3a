// Package extraction talks to the service that turns offer pages or pasted
// text into structured detail fields.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"bonus-planner-api/internal/models"
	"bonus-planner-api/internal/resilience"
)

// NotAvailable fills fields the extractor could not answer.
const NotAvailable = "N/A"

// Request asks for the given fields of one offer. Exactly one of URL or
// Content is set.
type Request struct {
	URL     string   `json:"url,omitempty"`
	Content string   `json:"content,omitempty"`
	Fields  []string `json:"fields"`
}

// Extractor returns the detail fields of an offer.
type Extractor interface {
	Extract(ctx context.Context, req Request) (models.Details, error)
}

type extractResponse struct {
	Details map[string]string `json:"details"`
	Error   string            `json:"error,omitempty"`
}

// ClientConfig configures the HTTP extractor.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   resilience.Config
}

// Client calls POST {BaseURL}/v1/extract behind a circuit breaker.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates an HTTP extractor.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker("extraction", logger),
		logger:  logger,
	}
}

// Extract sends the request, retrying transient failures.
func (c *Client) Extract(ctx context.Context, req Request) (models.Details, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction request: %w", err)
	}

	var details models.Details
	err = resilience.RetryWithBackoff(ctx, c.cfg.Retry, func() error {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return resilience.Permanent(fmt.Errorf("extraction service unavailable: %w", err))
		}
		if err != nil {
			c.logger.Debug("extraction attempt failed", zap.Error(err))
			return err
		}
		details = result.(models.Details)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return Complete(details, req.Fields), nil
}

func (c *Client) do(ctx context.Context, body []byte) (models.Details, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to build extraction request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction response: %w", err)
	}

	var out extractResponse
	decodeErr := json.Unmarshal(data, &out)

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("extraction service returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, resilience.Permanent(fmt.Errorf("extraction rejected (%d): %s", resp.StatusCode, msg))
	}

	if decodeErr != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to decode extraction response: %w", decodeErr))
	}
	return models.Details(out.Details), nil
}

// Complete returns d with every requested field present, filling gaps with N/A.
func Complete(d models.Details, fields []string) models.Details {
	out := d.Clone()
	for _, f := range fields {
		if strings.TrimSpace(out[f]) == "" {
			out[f] = NotAvailable
		}
	}
	return out
}

// Static answers every request with fixed details, or fails with Err. It
// stands in for Client in tests.
type Static struct {
	Details models.Details
	Err     error
}

// Extract returns the configured details or error.
func (s Static) Extract(ctx context.Context, req Request) (models.Details, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return Complete(s.Details, req.Fields), nil
}
