package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/creatorlab/gramsync/pkg/config"
	"github.com/creatorlab/gramsync/pkg/logging"
	"github.com/creatorlab/gramsync/pkg/telemetry"
)

// Client calls the Instagram Graph API with client-side rate limiting
// and exponential-backoff retries.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	version    string
	maxRetries int
	retryBase  time.Duration
	logger     *zap.Logger
}

// New creates a new Graph API client
func New(cfg *config.GraphConfig) *Client {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		version:    cfg.APIVersion,
		maxRetries: cfg.MaxRetries,
		retryBase:  time.Duration(cfg.RetryBaseMS) * time.Millisecond,
		logger:     logging.GetLogger().With(zap.String("component", "graph-client")),
	}
}

// Paging is the Graph API pagination envelope
type Paging struct {
	Cursors struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

// listEnvelope is the wire shape of a list endpoint response
type listEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Paging *Paging         `json:"paging"`
	Error  *apiErrorBody   `json:"error"`
}

// nodeEnvelope carries only the possible sibling error of a node response
type nodeEnvelope struct {
	Error *apiErrorBody `json:"error"`
}

// getList fetches an endpoint returning {data: [...], paging?, error?}.
// 4xx responses other than 429 abort immediately; 429 and 5xx are
// retried; token-classified errors abort with *TokenError.
func (c *Client) getList(ctx context.Context, path string, query url.Values, token string) ([]json.RawMessage, *Paging, error) {
	body, status, err := c.doWithRetry(ctx, path, query, token)
	if err != nil {
		return nil, nil, err
	}

	var envelope listEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logger.Error("Non-JSON response from list endpoint",
			zap.String("path", path), zap.Int("status", status))
		return nil, nil, fmt.Errorf("invalid JSON response from %s: %w", path, err)
	}
	if envelope.Error != nil {
		return nil, nil, classify(envelope.Error.toAPIError(status))
	}
	if len(envelope.Data) == 0 {
		return nil, nil, fmt.Errorf("response from %s has no data field", path)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(envelope.Data, &items); err != nil {
		return nil, nil, fmt.Errorf("data field from %s is not an array: %w", path, err)
	}
	return items, envelope.Paging, nil
}

// getNode fetches an endpoint returning the object itself (with a
// possible sibling error field). Arrays are rejected.
func (c *Client) getNode(ctx context.Context, path string, query url.Values, token string) (json.RawMessage, error) {
	body, status, err := c.doWithRetry(ctx, path, query, token)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("expected object from %s, got array", path)
	}

	var envelope nodeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logger.Error("Non-JSON response from node endpoint",
			zap.String("path", path), zap.Int("status", status))
		return nil, fmt.Errorf("invalid JSON response from %s: %w", path, err)
	}
	if envelope.Error != nil {
		return nil, classify(envelope.Error.toAPIError(status))
	}
	return body, nil
}

// doWithRetry issues the request under the shared retry policy and
// returns the raw body for bodies the caller should decode. Responses
// whose HTTP status signals a non-retryable client error are converted
// to errors here.
func (c *Client) doWithRetry(ctx context.Context, path string, query url.Values, token string) ([]byte, int, error) {
	rawURL := c.buildURL(path, query, token)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			c.logger.Warn("Retrying Graph API call",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limit wait failed: %w", err)
		}

		body, status, err := c.doOnce(ctx, path, rawURL)
		if err != nil {
			// Transport-level failure, treated as transient
			lastErr = err
			continue
		}

		if status >= 400 {
			apiErr := decodeErrorBody(body, status)
			classified := classify(apiErr)
			if _, isToken := classified.(*TokenError); isToken {
				return nil, status, classified
			}
			if status == http.StatusTooManyRequests || status >= 500 {
				lastErr = classified
				continue
			}
			// Other 4xx are not retryable
			return nil, status, classified
		}

		return body, status, nil
	}

	c.logger.Error("Graph API call failed after retries",
		zap.String("path", path),
		zap.Int("attempts", c.maxRetries),
		zap.Error(lastErr))
	return nil, 0, fmt.Errorf("request to %s failed after %d attempts: %w", path, c.maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, path, rawURL string) ([]byte, int, error) {
	ctx, span := telemetry.StartSpan(ctx, "graph."+spanName(path))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, res.StatusCode, nil
}

func (c *Client) buildURL(path string, query url.Values, token string) string {
	q := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("access_token", token)
	return fmt.Sprintf("%s/%s/%s?%s", c.baseURL, c.version, strings.TrimLeft(path, "/"), q.Encode())
}

// backoffDelay is exponential with jitter: base*2^(attempt-1) plus up to
// half of itself.
func (c *Client) backoffDelay(attempt int) time.Duration {
	base := float64(c.retryBase) * math.Pow(2, float64(attempt-1))
	jitter := rand.Float64() * base / 2
	return time.Duration(base + jitter)
}

// decodeErrorBody extracts the Graph error object from an error
// response, falling back to a synthetic APIError when the body is not
// the expected envelope.
func decodeErrorBody(body []byte, status int) *APIError {
	var envelope nodeEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error.toAPIError(status)
	}
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &APIError{HTTPStatus: status, Message: fmt.Sprintf("HTTP %d: %s", status, msg)}
}

// spanName reduces a request path to a stable span label
func spanName(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 1 {
		return parts[len(parts)-1]
	}
	return "node"
}
