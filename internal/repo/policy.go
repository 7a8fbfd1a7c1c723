package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aegisstack/aegis-detect/internal/models"
)

// PolicyDecision is the outcome of a policy check for a proposed action.
type PolicyDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// PolicyClient consults the policy-decision service before any remediation
// action is dispatched.
type PolicyClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPolicyClient constructs a client for the policy service. An empty
// baseURL yields a client that allows everything, for standalone runs.
func NewPolicyClient(baseURL string, timeout time.Duration) *PolicyClient {
	return &PolicyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Check asks the policy service whether the action may be executed in the
// given context.
func (c *PolicyClient) Check(ctx context.Context, action models.RemediationAction, actionContext map[string]any) (PolicyDecision, error) {
	if c == nil || c.baseURL == "" {
		return PolicyDecision{Allowed: true, Reason: "no policy service configured"}, nil
	}

	payload := map[string]any{
		"action":  string(action),
		"context": actionContext,
	}

	var decision PolicyDecision
	if err := postJSONTo(ctx, c.httpClient, c.baseURL+"/api/v1/policy/check", "", payload, &decision); err != nil {
		return PolicyDecision{}, fmt.Errorf("policy check failed: %w", err)
	}
	return decision, nil
}
