// Package engine is the client for the external workflow-execution engine.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UpstreamError is a non-2xx or transport-level failure from the engine.
// StatusCode is 0 when the failure happened before a response arrived.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("engine returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("engine call failed: %s", e.Message)
}

// Result is a successful engine response, stored verbatim in the ledger.
type Result struct {
	StatusCode int
	Body       string
}

type Client struct {
	baseURL    string
	licenseKey string
	client     *http.Client
}

func NewClient(baseURL, licenseKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		licenseKey: licenseKey,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type executePayload struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type executeRequest struct {
	Payload executePayload `json:"payload"`
}

// BuildPayload returns the serialized request body for a destination and
// data string, kept on the execution log alongside the attempt.
func BuildPayload(to, data string) (string, error) {
	b, err := json.Marshal(executeRequest{Payload: executePayload{To: to, Data: data}})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Execute invokes POST {base}/workflows/{agentId}/execute with the given
// serialized payload. Non-2xx responses and transport failures are both
// returned as *UpstreamError.
func (c *Client) Execute(ctx context.Context, agentID, payload string) (*Result, error) {
	url := fmt.Sprintf("%s/workflows/%s/execute", c.baseURL, agentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-license-key", c.licenseKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	return &Result{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
