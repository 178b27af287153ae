// Package voice talks to the external voice-call provider that places the
// AI calls.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/unclebandit/gymcall-scheduler/internal/model"
)

// Provider places calls and reports on them.
type Provider interface {
	CreateCall(ctx context.Context, req CallRequest) (*Call, error)
	GetCall(ctx context.Context, callID string) (*Call, error)
}

type CallRequest struct {
	FromNumber string            `json:"from_number"`
	ToNumber   string            `json:"to_number"`
	AgentID    string            `json:"override_agent_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Variables  map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
}

type Analysis struct {
	Successful bool           `json:"call_successful"`
	Sentiment  string         `json:"user_sentiment"`
	Custom     map[string]any `json:"custom_analysis_data"`
}

// Call is the provider's view of a call.
type Call struct {
	CallID              string    `json:"call_id"`
	Status              string    `json:"call_status"`
	DisconnectionReason string    `json:"disconnection_reason,omitempty"`
	Analysis            *Analysis `json:"call_analysis,omitempty"`
}

// Ended reports whether the provider will not change the call any more.
func (c *Call) Ended() bool {
	return c.Status == "ended" || c.Status == "error"
}

// Failed reports a call that never connected to the lead.
func (c *Call) Failed() bool {
	if c.Status == "error" {
		return true
	}
	switch c.DisconnectionReason {
	case "dial_failed", "dial_busy", "invalid_destination", "error_unknown":
		return true
	}
	return false
}

// Outcome maps the provider's result onto a call outcome.
func (c *Call) Outcome() model.CallOutcome {
	switch c.DisconnectionReason {
	case "dial_no_answer":
		return model.OutcomeNoAnswer
	case "voicemail_reached":
		return model.OutcomeVoicemail
	}
	if c.Analysis == nil {
		return model.OutcomeUnknown
	}
	if v, ok := c.Analysis.Custom["outcome"].(string); ok {
		switch o := model.CallOutcome(strings.ToLower(v)); o {
		case model.OutcomeInterested, model.OutcomeNotInterested, model.OutcomeCallback:
			return o
		}
	}
	if c.Analysis.Successful {
		return model.OutcomeInterested
	}
	if strings.EqualFold(c.Analysis.Sentiment, "negative") {
		return model.OutcomeNotInterested
	}
	return model.OutcomeUnknown
}

// HTTPClient is a Provider over the provider's REST API.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voice provider returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying may help.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (c *HTTPClient) CreateCall(ctx context.Context, req CallRequest) (*Call, error) {
	if req.ToNumber == "" {
		return nil, fmt.Errorf("create call: lead has no phone number")
	}
	var call Call
	if err := c.do(ctx, http.MethodPost, "/v2/create-phone-call", req, &call); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	if call.Status == "" {
		call.Status = "registered"
	}
	return &call, nil
}

func (c *HTTPClient) GetCall(ctx context.Context, callID string) (*Call, error) {
	var call Call
	if err := c.do(ctx, http.MethodGet, "/v2/get-call/"+callID, nil, &call); err != nil {
		return nil, fmt.Errorf("get call %s: %w", callID, err)
	}
	return &call, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Provider = (*HTTPClient)(nil)
