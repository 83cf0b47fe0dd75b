package recharge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrRechargeRejected is returned when the billing core answers but refuses the activation.
	ErrRechargeRejected = errors.New("recharge rejected")
	// ErrUnavailable is returned when the billing core could not be reached.
	ErrUnavailable = errors.New("recharge endpoint unavailable")
	// ErrBadResponse is returned when the billing core answers with an unreadable body.
	ErrBadResponse = errors.New("recharge response unreadable")
)

// maxResponseBytes caps how much of a recharge response is read.
const maxResponseBytes = 64 << 10

// APIError is a non-2xx answer from the billing core.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s (status: %d)", e.Body, e.StatusCode)
}

// Outcome names the failure class of a Recharge error for metrics and logs.
func Outcome(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRechargeRejected):
		return "rejected"
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrBadResponse):
		return "bad_response"
	default:
		return "failed"
	}
}

// Client activates a purchased plan through the billing core's recharge endpoint.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// post sends payload as JSON and decodes a 2xx answer into out.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return nil
}

// Recharge activates the plan for the user. A nil error means the plan is active.
func (c *Client) Recharge(ctx context.Context, req RechargeRequest) error {
	var result RechargeResponse
	if err := c.post(ctx, "/recharge", req, &result); err != nil {
		return err
	}

	if !result.Success {
		if result.Message != "" {
			return fmt.Errorf("%w: %s", ErrRechargeRejected, result.Message)
		}
		return ErrRechargeRejected
	}

	return nil
}
