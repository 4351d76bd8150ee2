// Package httpapi reads appointments from the appointment service's HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/televisit/internal/core/domain"
	"github.com/tjfontaine/televisit/internal/core/ports"
)

const defaultTimeout = 10 * time.Second

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client implements ports.AppointmentSource over HTTP.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

var _ ports.AppointmentSource = (*Client)(nil)

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: defaultTimeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type appointmentResponse struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	ScheduledTime   time.Time `json:"scheduled_time"`
	CounterpartName string    `json:"counterpart_name"`
	CounterpartRole string    `json:"counterpart_role"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GetAppointment fetches GET {base}/appointments/{id}.
func (c *Client) GetAppointment(ctx context.Context, appointmentID string) (*domain.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/appointments/" + url.PathEscape(appointmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.ErrUpstream("appointment service unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound("appointment " + appointmentID + " not found")
	case resp.StatusCode != http.StatusOK:
		msg := fmt.Sprintf("appointment service error (status %d)", resp.StatusCode)
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg += ": " + apiErr.Error.Message
		}
		return nil, domain.ErrUpstream(msg).WithRetryable(resp.StatusCode >= 500)
	}

	var result appointmentResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal appointment: %w", err)
	}

	return &domain.Appointment{
		ID:              result.ID,
		Type:            result.Type,
		Status:          result.Status,
		ScheduledTime:   result.ScheduledTime,
		CounterpartName: result.CounterpartName,
		CounterpartRole: result.CounterpartRole,
	}, nil
}
