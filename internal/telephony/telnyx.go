package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"call-orchestrator/internal/config"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Client talks to the provider's call-control REST API.
//
// All failures surface as *ProviderError (or a wrapped transport error),
// never as a panic: the webhook router must keep cascading through legs
// when a transfer attempt fails.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	// Provider enforces per-key rate limits; smooth our outbound rate
	// rather than eating 429s mid-cascade.
	limiter *rate.Limiter
}

func NewClient(cfg config.TelnyxConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    cfg.APIBaseURL,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

// ProviderError is a non-2xx response from the provider API.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

// DialRequest starts a new outbound call on a call-control connection.
type DialRequest struct {
	To           string `json:"to"`
	From         string `json:"from"`
	ConnectionID string `json:"connection_id"`
	WebhookURL   string `json:"webhook_url,omitempty"`
}

type DialResult struct {
	CallControlID string `json:"call_control_id"`
}

func (c *Client) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	var out struct {
		Data DialResult `json:"data"`
	}
	if err := c.post(ctx, "/calls", req, &out); err != nil {
		return DialResult{}, err
	}
	return out.Data, nil
}

// TransferRequest redirects the main call to a new destination.
// SipAuthUsername/SipAuthPassword are set only for SIP-type legs.
type TransferRequest struct {
	CallControlID string `json:"-"`

	To          string `json:"to"`
	TimeoutSecs int    `json:"timeout_secs"`
	WebhookURL  string `json:"webhook_url"`

	// CommandID deduplicates retried deliveries of the same command.
	CommandID string `json:"command_id"`

	SipAuthUsername string `json:"sip_auth_username,omitempty"`
	SipAuthPassword string `json:"sip_auth_password,omitempty"`
}

func (c *Client) Transfer(ctx context.Context, req TransferRequest) error {
	if req.CommandID == "" {
		req.CommandID = TransferCommandID(req.CallControlID, req.To)
	}
	path := "/calls/" + req.CallControlID + "/actions/transfer"
	return c.post(ctx, path, req, nil)
}

// TransferCommandID derives a stable command id per (call, destination), so
// an in-handler retry of the same transfer dedupes on the provider side.
func TransferCommandID(callControlID, to string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(callControlID+"|"+NormalizeDestination(to))).String()
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("provider response decode failed: %w", err)
		}
	}
	return nil
}
