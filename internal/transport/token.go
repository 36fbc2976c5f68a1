// Package transport connects the dashboard to the room server: it fetches join
// credentials from the token endpoint and holds the websocket room connection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Credentials are the short-lived join details issued by the token endpoint.
type Credentials struct {
	ServerURL        string `json:"serverUrl"`
	ParticipantToken string `json:"participantToken"`
}

// TokenError is returned when the token endpoint answers with a non-2xx status.
type TokenError struct {
	StatusCode int
	Body       string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Body)
}

// TokenClient requests join credentials for a room.
type TokenClient struct {
	endpoint string
	client   *http.Client
}

// NewTokenClient creates a client for endpoint with an instrumented transport.
func NewTokenClient(endpoint string, timeout time.Duration) *TokenClient {
	return &TokenClient{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return "token " + r.URL.Path
				}),
			),
		},
	}
}

// Fetch requests credentials for participant to join room.
func (c *TokenClient) Fetch(ctx context.Context, room, participant string) (*Credentials, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse token endpoint: %w", err)
	}
	q := u.Query()
	q.Set("roomName", room)
	q.Set("participantName", participant)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TokenError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var creds Credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if creds.ServerURL == "" || creds.ParticipantToken == "" {
		return nil, errors.New("token response missing serverUrl or participantToken")
	}
	return &creds, nil
}
