// Package httpapi provides a mail transport backed by a JSON HTTP email API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"time"

	"github.com/bissquit/outreach-queue/internal/transport"
)

const defaultTimeout = 10 * time.Second

// Config holds HTTP API transport configuration.
type Config struct {
	Endpoint    string
	APIKey      string
	FromAddress string
	Timeout     time.Duration
}

// Transport posts messages to an HTTP email API.
type Transport struct {
	config     Config
	httpClient *http.Client
}

// New creates a new HTTP API transport.
func New(config Config) (*Transport, error) {
	if config.Endpoint == "" {
		return nil, errors.New("api transport: endpoint is required")
	}
	if config.APIKey == "" {
		return nil, errors.New("api transport: api key is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("api transport: from address is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("api transport configured",
		"endpoint", config.Endpoint,
		"from_address", config.FromAddress,
		"timeout", config.Timeout,
	)

	return &Transport{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

type sendRequest struct {
	From    string            `json:"from"`
	To      string            `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	Headers map[string]string `json:"headers,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send posts a single message to the API.
func (t *Transport) Send(ctx context.Context, msg transport.Message) (transport.Receipt, error) {
	from := mail.Address{Name: msg.FromName, Address: t.config.FromAddress}
	to := mail.Address{Name: msg.ToName, Address: msg.To}

	payload := sendRequest{
		From:    from.String(),
		To:      to.String(),
		Subject: msg.Subject,
		Text:    msg.Body,
	}
	if msg.Reference != "" {
		payload.Headers = map[string]string{"X-Outreach-Entry": msg.Reference}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return transport.Receipt{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return transport.Receipt{}, transport.NewNonRetryableError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return transport.Receipt{}, transport.NewRetryableError(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	return t.handleResponse(resp)
}

func (t *Transport) handleResponse(resp *http.Response) (transport.Receipt, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return transport.Receipt{}, transport.NewRetryableError(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out sendResponse
		if err := json.Unmarshal(body, &out); err != nil {
			slog.Warn("api transport returned unparseable body", "status", resp.StatusCode, "error", err)
		}
		return transport.Receipt{MessageID: out.ID}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return transport.Receipt{}, transport.NewRetryableError(&StatusError{Code: resp.StatusCode, Message: "rate limited"})

	// Credential and account problems are not a property of the message and
	// clear once the key is fixed.
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return transport.Receipt{}, transport.NewRetryableError(&StatusError{Code: resp.StatusCode, Message: string(body)})

	case resp.StatusCode >= 500:
		return transport.Receipt{}, transport.NewRetryableError(&StatusError{Code: resp.StatusCode, Message: string(body)})

	default:
		return transport.Receipt{}, transport.NewNonRetryableError(&StatusError{Code: resp.StatusCode, Message: string(body)})
	}
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("email api error %d: %s", e.Code, e.Message)
}
