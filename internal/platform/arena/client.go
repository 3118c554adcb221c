// Package arena is the HTTP client for the agent arena: it starts agent work
// and reports whether an agent has produced a decision.
package arena

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/arenarelay/internal/crypto"
	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// Config configures a Client.
type Config struct {
	// StartURL receives a POST per trigger.
	StartURL string
	// ResultsURL is queried with recipient_id and since parameters.
	ResultsURL string
	// Secret is sent as a bearer token.
	Secret string
	// SigningSecret, when set, adds HMAC signature headers to every request.
	SigningSecret string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// RequestsPerSecond and Burst throttle outbound calls. Zero disables it.
	RequestsPerSecond float64
	Burst             int
}

// Client implements domain.Triggerer and domain.ResultStore over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	signer     *crypto.HMACSigner
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		signer:     crypto.NewHMACSigner(cfg.SigningSecret),
	}
}

// StartWork posts req to the start endpoint. Any non-2xx response is an error.
func (c *Client) StartWork(ctx context.Context, req domain.TriggerRequest) error {
	if c.cfg.StartURL == "" {
		return fmt.Errorf("arena: start work: start url not configured")
	}
	if _, err := c.do(ctx, http.MethodPost, c.cfg.StartURL, req); err != nil {
		return fmt.Errorf("arena: start work %s: %w", req.RecipientID, err)
	}
	return nil
}

// HasResultSince reports whether the results endpoint returns at least one
// decision by recipientID at or after since.
func (c *Client) HasResultSince(ctx context.Context, recipientID string, since time.Time) (bool, error) {
	if c.cfg.ResultsURL == "" {
		return false, fmt.Errorf("arena: results: results url not configured")
	}
	u, err := url.Parse(c.cfg.ResultsURL)
	if err != nil {
		return false, fmt.Errorf("arena: parse results url: %w", err)
	}
	q := u.Query()
	q.Set("recipient_id", recipientID)
	q.Set("since", since.UTC().Format(time.RFC3339Nano))
	u.RawQuery = q.Encode()

	body, err := c.do(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("arena: results %s: %w", recipientID, err)
	}

	var decisions []json.RawMessage
	if err := json.Unmarshal(body, &decisions); err != nil {
		return false, fmt.Errorf("arena: decode results: %w", err)
	}
	return len(decisions) > 0, nil
}

func (c *Client) do(ctx context.Context, method, target string, reqBody any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var data []byte
	if reqBody != nil {
		var err error
		if data, err = json.Marshal(reqBody); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Secret)
	}
	for k, v := range c.signer.Headers(method, req.URL.Path, data) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx status codes to errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := truncate(string(bytes.TrimSpace(body)), maxErrorBody)
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUnauthorized, statusCode, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

// maxErrorBody caps how much of a response body is quoted in errors.
const maxErrorBody = 200

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Compile-time interface checks.
var (
	_ domain.Triggerer   = (*Client)(nil)
	_ domain.ResultStore = (*Client)(nil)
)
