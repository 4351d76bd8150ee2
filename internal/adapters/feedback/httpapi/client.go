// Package httpapi delivers end-of-call feedback to the feedback service's
// HTTP API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets how many attempts a submission gets. Zero or less
// means a single attempt.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxTries = max(n, 1) }
}

// WithBackOff overrides the delay policy between attempts. newBackOff is
// called once per submission.
func WithBackOff(newBackOff func() backoff.BackOff) ClientOption {
	return func(c *Client) { c.newBackOff = newBackOff }
}

// Client implements ports.FeedbackSink over HTTP.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	maxTries   int
	newBackOff func() backoff.BackOff
	httpClient *http.Client
}

var _ ports.FeedbackSink = (*Client)(nil)

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		timeout:  defaultTimeout,
		maxTries: defaultMaxRetries,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type feedbackRequest struct {
	SessionID   string    `json:"session_id,omitempty"`
	Rating      *int      `json:"rating,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SubmitFeedback posts to {base}/appointments/{id}/feedback. Transport
// errors, 429 and 5xx responses are retried with exponential backoff; other
// 4xx responses fail immediately.
func (c *Client) SubmitFeedback(ctx context.Context, sub *domain.FeedbackSubmission) error {
	body, err := json.Marshal(feedbackRequest{
		SessionID:   sub.SessionID,
		Rating:      sub.Rating,
		Comment:     sub.Comment,
		Notes:       sub.Notes,
		SubmittedAt: sub.SubmittedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}
	endpoint := c.baseURL + "/appointments/" + url.PathEscape(sub.AppointmentID) + "/feedback"

	var b backoff.BackOff = backoff.NewExponentialBackOff()
	if c.newBackOff != nil {
		b = c.newBackOff()
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.post(ctx, endpoint, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.maxTries)))
	return err
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("feedback request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := fmt.Errorf("feedback service error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return apiErr
	}
	return backoff.Permanent(apiErr)
}
