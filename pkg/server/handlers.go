package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fourotwo-xyz/web-scraper/pkg/api"
	"github.com/fourotwo-xyz/web-scraper/pkg/attestation"
	"github.com/fourotwo-xyz/web-scraper/pkg/extract"
	"github.com/fourotwo-xyz/web-scraper/pkg/gate"
	"github.com/fourotwo-xyz/web-scraper/pkg/identity"
	"github.com/fourotwo-xyz/web-scraper/pkg/metering"
	"github.com/fourotwo-xyz/web-scraper/pkg/observability"
	"github.com/fourotwo-xyz/web-scraper/pkg/quota"
)

// TierInfo tells the caller how the call was admitted.
type TierInfo struct {
	Free      bool `json:"free"`
	Remaining int  `json:"remaining"`
}

// AttestationInfo is the off-chain attestation pair.
type AttestationInfo struct {
	AgentIdentity string `json:"agent_identity"`
	TaskReference string `json:"task_reference"`
	Digest        string `json:"digest,omitempty"`
}

// ExtractResponse is the body of a successful POST /v1/extract.
type ExtractResponse struct {
	Success      bool             `json:"success"`
	Data         *extract.Result  `json:"data"`
	Tier         TierInfo         `json:"tier"`
	Attestation  *AttestationInfo `json:"attestation,omitempty"`
	FeedbackAuth string           `json:"feedback_auth,omitempty"`
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	Identity  string                       `json:"identity"`
	Limit     int                          `json:"limit"`
	Consumed  int                          `json:"consumed"`
	Remaining int                          `json:"remaining"`
	Today     map[metering.EventType]int64 `json:"today,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "attestations": s.signer != nil}
	if s.signer != nil {
		body["agent_identity"] = s.signer.Address().Hex()
		body["feedback_authorization"] = s.signer.AuthorizationEnabled()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	req, ok := extractRequestFromContext(r.Context())
	if !ok {
		api.WriteInternal(w, r, errors.New("server: extract request missing from context"))
		return
	}
	tier, _ := gate.FromContext(r.Context())

	ctx, done := s.telemetry.TrackOperation(r.Context(), "extract",
		attribute.Bool("tier.free", tier.Free),
	)
	result, err := s.extractor.Extract(ctx, req.URL, req.Options())
	done(err)
	if err != nil {
		status := http.StatusServiceUnavailable
		var upErr *extract.UpstreamError
		if errors.As(err, &upErr) {
			status = upErr.StatusCode()
		}
		s.metrics.RecordUpstreamError(status)
		s.record(ctx, tier.Identity, metering.EventExtractionError, map[string]any{"status": status, "url": req.URL})
		s.logger.WarnContext(ctx, "extraction failed",
			"url", req.URL,
			"status", status,
			"error", err,
			"request_id", api.RequestIDFromContext(ctx),
		)
		api.WriteUpstream(w, r, status, "content extraction failed")
		return
	}

	deliveredAt := time.Now().UTC()
	s.record(ctx, tier.Identity, metering.EventDelivery, map[string]any{"url": req.URL, "free": tier.Free})

	resp := ExtractResponse{
		Success: true,
		Data:    result,
		Tier:    TierInfo{Free: tier.Free, Remaining: tier.Remaining},
	}

	client := req.ClientAddress
	if client == "" {
		client = identity.Wallet(r)
	}
	s.attest(ctx, &resp, tier.Identity, req.URL, deliveredAt, client)

	writeJSON(w, http.StatusOK, resp)
}

// attest adds the attestation to resp. Without a signer or a client identity
// there is nothing to attest. Signing failures are logged and the response
// goes out without it.
func (s *Server) attest(ctx context.Context, resp *ExtractResponse, id identity.CallerIdentity, resource string, deliveredAt time.Time, client string) {
	if s.signer == nil || client == "" {
		s.metrics.RecordAttestation(observability.AttestationDisabled)
		return
	}

	_, done := s.telemetry.TrackOperation(ctx, "attest")
	att, err := s.signer.Attest(resource, deliveredAt, client)
	done(err)
	if err != nil {
		s.metrics.RecordAttestation(observability.AttestationFailed)
		s.record(ctx, id, metering.EventAttestationFailed, map[string]any{"url": resource})
		s.logger.ErrorContext(ctx, "attestation signing failed",
			"task_reference", attestation.TaskReference(resource, deliveredAt).Hex(),
			"client", client,
			"error", err,
		)
		return
	}

	info := &AttestationInfo{
		AgentIdentity: att.Reference.AgentIdentity.Hex(),
		TaskReference: att.Reference.TaskReference.Hex(),
	}
	if digest, err := att.Reference.Digest(); err == nil {
		info.Digest = digest.Hex()
	} else {
		s.logger.WarnContext(ctx, "attestation digest failed", "error", err)
	}
	resp.Attestation = info
	if att.Authorization != nil {
		resp.FeedbackAuth = att.Authorization.Hex()
	}

	s.metrics.RecordAttestation(observability.AttestationIssued)
	s.record(ctx, id, metering.EventAttestation, map[string]any{
		"task_reference": info.TaskReference,
		"authorization":  att.Authorization != nil,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	id := identity.FromRequest(r)
	resp := UsageResponse{
		Identity:  id.String(),
		Limit:     s.quota.Limit(),
		Consumed:  s.quota.Consumed(id),
		Remaining: quota.Remaining(s.quota, id),
	}
	usage, err := s.meter.GetUsage(r.Context(), id.String(), metering.DailyPeriod())
	if err != nil {
		s.logger.WarnContext(r.Context(), "usage lookup failed", "identity", id, "error", err)
	} else {
		resp.Today = usage.Totals
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) record(ctx context.Context, id identity.CallerIdentity, ev metering.EventType, md map[string]any) {
	if id == "" {
		id = identity.Unknown
	}
	err := s.meter.Record(ctx, metering.Event{
		Identity:  id.String(),
		EventType: ev,
		Quantity:  1,
		Metadata:  md,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "metering failed", "event_type", ev, "error", err)
	}
}
