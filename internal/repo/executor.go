package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aegisstack/aegis-detect/internal/models"
)

// ExecutionReceipt is the executor's acknowledgement of a dispatched action.
type ExecutionReceipt struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// ExecutorClient dispatches approved remediation actions to the execution
// service. Requests carry a bearer token.
type ExecutorClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewExecutorClient constructs a client for the remediation executor.
func NewExecutorClient(baseURL, token string, timeout time.Duration) *ExecutorClient {
	return &ExecutorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Execute dispatches one remediation action with its parameters.
func (c *ExecutorClient) Execute(ctx context.Context, action models.RemediationAction, params map[string]any) (ExecutionReceipt, error) {
	if c == nil || c.baseURL == "" {
		return ExecutionReceipt{}, fmt.Errorf("executor client not configured")
	}

	payload := map[string]any{
		"action_type": string(action),
		"params":      params,
	}

	var receipt ExecutionReceipt
	if err := postJSONTo(ctx, c.httpClient, c.baseURL+"/api/v1/actions/execute", c.token, payload, &receipt); err != nil {
		return ExecutionReceipt{}, fmt.Errorf("execute %s: %w", action, err)
	}
	return receipt, nil
}

// postJSONTo posts a JSON payload and decodes a JSON response, attaching a
// bearer token when provided. Shared by the policy and executor clients.
func postJSONTo(ctx context.Context, client *http.Client, endpoint, token string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
