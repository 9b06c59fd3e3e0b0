// Package notify delivers NotificationRequest payloads to an ntfy-compatible
// HTTP push service. No ntfy client library appears anywhere in the example
// pack, so this is a deliberate, narrowly-scoped standard-library exception:
// it's a single JSON POST with a bearer token, not a protocol worth pulling a
// dependency in for. See DESIGN.md.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agentexrun/orchestrator/apperr"
)

// Request mirrors the ntfy publish payload the agent's NotificationRequest
// type carries end to end.
type Request struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title,omitempty"`
	Message  string   `json:"message,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Priority int      `json:"priority,omitempty"`
	Click    string   `json:"click,omitempty"`
	Attach   string   `json:"attach,omitempty"`
	Icon     string   `json:"icon,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
	Delay    string   `json:"delay,omitempty"`
	Email    string   `json:"email,omitempty"`
	Call     string   `json:"call,omitempty"`
	Markdown bool     `json:"markdown,omitempty"`
}

// Action is one ntfy action button.
type Action struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	URL    string `json:"url,omitempty"`
	Clear  bool   `json:"clear,omitempty"`
}

// Sender delivers a Request. Workflows depend on this interface, not HTTPSender
// directly, so tests can substitute a recording fake.
type Sender interface {
	Send(ctx context.Context, req Request) error
}

// HTTPSender posts Requests to an ntfy server's publish endpoint.
type HTTPSender struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPSender returns an HTTPSender posting to baseURL with an optional
// bearer token. A nil http.Client defaults to http.DefaultClient.
func NewHTTPSender(baseURL, token string, client *http.Client) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{BaseURL: baseURL, Token: token, Client: client}
}

// Send POSTs req as JSON to the sender's base URL.
func (s *HTTPSender) Send(ctx context.Context, req Request) error {
	if req.Topic == "" {
		return apperr.NewClientErrorf("notify: request missing topic")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return apperr.WrapServiceError("notify: encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL, bytes.NewReader(body))
	if err != nil {
		return apperr.WrapServiceError("notify: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return apperr.WrapServiceError("notify: send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperr.NewServiceError(fmt.Sprintf("notify: server responded %d", resp.StatusCode))
	}
	return nil
}
