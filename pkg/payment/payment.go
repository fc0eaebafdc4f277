// Package payment defines the boundary between the freemium gate and the
// component that enforces payment for calls outside the free tier.
//
// The gate only knows Enforcer. Verification, settlement and protocol
// negotiation belong to the implementation behind it (see package x402).
package payment

import (
	"encoding/json"
	"net/http"
)

// ProtocolVersion is the x402 version advertised in payment challenges.
const ProtocolVersion = 1

// Enforcer either lets a request through by calling next, or terminates the
// exchange with a payment-required response.
type Enforcer interface {
	Enforce(w http.ResponseWriter, r *http.Request, next http.Handler)
}

// EnforcerFunc adapts a function to Enforcer.
type EnforcerFunc func(w http.ResponseWriter, r *http.Request, next http.Handler)

func (f EnforcerFunc) Enforce(w http.ResponseWriter, r *http.Request, next http.Handler) {
	f(w, r, next)
}

// Requirements are the machine-readable payment instructions of a challenge.
type Requirements struct {
	Scheme            string         `json:"scheme" yaml:"scheme"`
	Network           string         `json:"network" yaml:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired" yaml:"max_amount_required"`
	Asset             string         `json:"asset" yaml:"asset"`
	PayTo             string         `json:"payTo" yaml:"pay_to"`
	Resource          string         `json:"resource" yaml:"resource"`
	Description       string         `json:"description" yaml:"description"`
	MimeType          string         `json:"mimeType" yaml:"mime_type"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds" yaml:"max_timeout_seconds"`
	Extra             map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// ForRequest returns a copy of req with Resource pointing at r when unset.
func (req Requirements) ForRequest(r *http.Request) Requirements {
	if req.Resource != "" {
		return req
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	req.Resource = scheme + "://" + r.Host + r.URL.Path
	return req
}

// Challenge is the body of a 402 response.
type Challenge struct {
	X402Version int            `json:"x402Version"`
	Error       string         `json:"error"`
	Accepts     []Requirements `json:"accepts"`
}

// WritePaymentRequired writes a terminal 402 challenge listing accepted
// payment options.
func WritePaymentRequired(w http.ResponseWriter, accepts []Requirements, reason string) {
	if reason == "" {
		reason = "payment required"
	}
	if accepts == nil {
		accepts = []Requirements{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(Challenge{
		X402Version: ProtocolVersion,
		Error:       reason,
		Accepts:     accepts,
	})
}

// Deny returns an Enforcer that answers every request with a 402 challenge
// and never calls next. It keeps payable calls closed when no payment
// backend is configured.
func Deny(req Requirements) Enforcer {
	return EnforcerFunc(func(w http.ResponseWriter, r *http.Request, _ http.Handler) {
		WritePaymentRequired(w, []Requirements{req.ForRequest(r)}, "free tier exhausted; payment required")
	})
}
