// Package lichess provides a client for the Lichess opening explorer
// API (masters database).
package lichess

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the opening explorer operations.
type Client interface {
	// Masters returns per-move game counts from the masters database
	// for the position given as a FEN string.
	Masters(ctx context.Context, fen string) (*Response, error)
}

// Response is the parsed explorer reply for one position.
type Response struct {
	White uint64      `json:"white"`
	Draws uint64      `json:"draws"`
	Black uint64      `json:"black"`
	Moves []MoveStats `json:"moves"`
}

// TotalGames is the number of database games reaching the position.
func (r *Response) TotalGames() uint64 {
	return r.White + r.Draws + r.Black
}

// MoveStats is the per-move slice of the database at one position.
type MoveStats struct {
	UCI   string `json:"uci"`
	SAN   string `json:"san"`
	White uint64 `json:"white"`
	Draws uint64 `json:"draws"`
	Black uint64 `json:"black"`
}

// Games is the number of games in which the move was played.
func (m MoveStats) Games() uint64 {
	return m.White + m.Draws + m.Black
}

// Option configures the explorer client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithToken sets an API token. Optional; it raises the explorer rate
// limits.
func WithToken(token string) Option {
	return func(c *httpClient) {
		c.token = token
	}
}

// WithRateLimit throttles requests client-side. The explorer imposes
// its own limits; staying under them avoids 429 churn.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an opening explorer client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://explorer.lichess.ovh",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes a request with exponential backoff on transient
// failures, waiting for the rate limiter before every attempt.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, 0, eris.Wrap(err, "lichess: rate limiter")
			}
		}

		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "lichess: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("lichess: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Masters(ctx context.Context, fen string) (*Response, error) {
	q := url.Values{}
	q.Set("fen", fen)
	q.Set("topGames", "0")
	q.Set("moves", "30")
	reqURL := fmt.Sprintf("%s/masters?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "lichess: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "lichess: request failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("lichess: unexpected status %d: %s", statusCode, string(body))
	}

	var result Response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "lichess: unmarshal response")
	}

	return &result, nil
}
