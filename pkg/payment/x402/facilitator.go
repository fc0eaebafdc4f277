package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fourotwo-xyz/web-scraper/pkg/payment"
)

// VerifyResponse is the facilitator's answer to /verify.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to /settle.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

type facilitatorRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload      json.RawMessage      `json:"paymentPayload"`
	PaymentRequirements payment.Requirements `json:"paymentRequirements"`
}

// FacilitatorClient talks to a remote x402 facilitator.
type FacilitatorClient struct {
	baseURL string
	client  *http.Client
}

// NewFacilitatorClient creates a client for baseURL.
func NewFacilitatorClient(baseURL string, timeout time.Duration) *FacilitatorClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FacilitatorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Verify asks the facilitator whether payload satisfies req.
func (c *FacilitatorClient) Verify(ctx context.Context, payload json.RawMessage, req payment.Requirements) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.post(ctx, "/verify", payload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle asks the facilitator to execute the payment.
func (c *FacilitatorClient) Settle(ctx context.Context, payload json.RawMessage, req payment.Requirements) (*SettleResponse, error) {
	var out SettleResponse
	if err := c.post(ctx, "/settle", payload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, payload json.RawMessage, req payment.Requirements, out any) error {
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         payment.ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: req,
	})
	if err != nil {
		return fmt.Errorf("x402: encode %s request: %w", path, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("x402: build %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("x402: facilitator %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("x402: read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("x402: facilitator %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("x402: decode %s response: %w", path, err)
	}
	return nil
}
