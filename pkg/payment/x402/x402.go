// Package x402 is a payment.Enforcer that speaks the x402 HTTP payment
// protocol and delegates verification and settlement to a remote
// facilitator.
package x402

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fourotwo-xyz/web-scraper/pkg/payment"
)

const (
	// PaymentHeader carries the client's base64 encoded payment payload.
	PaymentHeader = "X-PAYMENT"
	// PaymentResponseHeader carries the base64 encoded settlement result.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// Facilitator verifies and settles payment payloads.
type Facilitator interface {
	Verify(ctx context.Context, payload json.RawMessage, req payment.Requirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload json.RawMessage, req payment.Requirements) (*SettleResponse, error)
}

// Config configures the middleware.
type Config struct {
	FacilitatorURL string
	Requirements   payment.Requirements
	Timeout        time.Duration // facilitator HTTP timeout
	ReplayTTL      time.Duration // how long a spent payload stays blocked
}

// Middleware enforces x402 payment for the requests the gate hands it.
type Middleware struct {
	requirements payment.Requirements
	facilitator  Facilitator
	replay       ReplayGuard
	replayTTL    time.Duration
	logger       *slog.Logger
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithReplayGuard replaces the in-memory replay guard.
func WithReplayGuard(g ReplayGuard) Option {
	return func(m *Middleware) { m.replay = g }
}

// WithFacilitator replaces the HTTP facilitator client.
func WithFacilitator(f Facilitator) Option {
	return func(m *Middleware) { m.facilitator = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Middleware) { m.logger = l }
}

// New creates the middleware.
func New(cfg Config, opts ...Option) *Middleware {
	ttl := cfg.ReplayTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	m := &Middleware{
		requirements: cfg.Requirements,
		facilitator:  NewFacilitatorClient(cfg.FacilitatorURL, cfg.Timeout),
		replay:       NewMemoryReplayGuard(),
		replayTTL:    ttl,
		logger:       slog.Default().With("component", "x402"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enforce implements payment.Enforcer.
func (m *Middleware) Enforce(w http.ResponseWriter, r *http.Request, next http.Handler) {
	req := m.requirements.ForRequest(r)
	accepts := []payment.Requirements{req}

	header := strings.TrimSpace(r.Header.Get(PaymentHeader))
	if header == "" {
		payment.WritePaymentRequired(w, accepts, "X-PAYMENT header is required")
		return
	}

	payload, err := decodePayload(header)
	if err != nil {
		payment.WritePaymentRequired(w, accepts, err.Error())
		return
	}

	ctx := r.Context()
	verify, err := m.facilitator.Verify(ctx, payload, req)
	if err != nil {
		m.logger.ErrorContext(ctx, "payment verification failed", "error", err)
		payment.WritePaymentRequired(w, accepts, "payment verification unavailable")
		return
	}
	if !verify.IsValid {
		reason := verify.InvalidReason
		if reason == "" {
			reason = "invalid payment"
		}
		payment.WritePaymentRequired(w, accepts, reason)
		return
	}

	key := payloadKey(payload)
	fresh, err := m.replay.Claim(ctx, key, m.replayTTL)
	if err != nil {
		m.logger.ErrorContext(ctx, "replay guard unavailable", "error", err)
		payment.WritePaymentRequired(w, accepts, "payment verification unavailable")
		return
	}
	if !fresh {
		payment.WritePaymentRequired(w, accepts, "payment already used")
		return
	}

	buf := newBufferedWriter()
	next.ServeHTTP(buf, r)

	// Only successful deliveries are charged.
	if buf.status >= 300 {
		m.release(ctx, key)
		buf.flushTo(w)
		return
	}

	settle, err := m.facilitator.Settle(ctx, payload, req)
	if err != nil {
		// The outcome is unknown, so the payload stays spent.
		m.logger.ErrorContext(ctx, "payment settlement failed", "error", err)
		payment.WritePaymentRequired(w, accepts, "payment settlement failed")
		return
	}
	if !settle.Success {
		m.release(ctx, key)
		reason := settle.ErrorReason
		if reason == "" {
			reason = "payment settlement failed"
		}
		payment.WritePaymentRequired(w, accepts, reason)
		return
	}

	if encoded, err := json.Marshal(settle); err == nil {
		w.Header().Set(PaymentResponseHeader, base64.StdEncoding.EncodeToString(encoded))
	}
	m.logger.InfoContext(ctx, "payment settled",
		"payer", settle.Payer,
		"transaction", settle.Transaction,
		"network", settle.Network,
	)
	buf.flushTo(w)
}

// release returns an unsettled payload to the client.
func (m *Middleware) release(ctx context.Context, key string) {
	if err := m.replay.Release(ctx, key); err != nil {
		m.logger.WarnContext(ctx, "replay claim release failed", "error", err)
	}
}

func decodePayload(header string) (json.RawMessage, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(header, "="))
		if err != nil {
			return nil, fmt.Errorf("malformed X-PAYMENT header: not base64")
		}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("malformed X-PAYMENT header: not JSON")
	}
	return json.RawMessage(raw), nil
}

func payloadKey(payload json.RawMessage) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		compact.Reset()
		compact.Write(payload)
	}
	sum := sha256.Sum256(compact.Bytes())
	return hex.EncodeToString(sum[:])
}

// bufferedWriter holds the downstream response until settlement succeeds.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
	wrote  bool
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wrote {
		return
	}
	b.status = code
	b.wrote = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wrote = true
	return b.body.Write(p)
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	for k, vs := range b.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
