package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/fourotwo-xyz/web-scraper/pkg/api"
	"github.com/fourotwo-xyz/web-scraper/pkg/extract"
)

const maxBodyBytes = 1 << 20

// extractRequestSchema is checked before the freemium gate, so malformed
// requests never consume quota.
const extractRequestSchema = `{
	"type": "object",
	"required": ["url"],
	"additionalProperties": false,
	"properties": {
		"url": {"type": "string", "format": "uri", "pattern": "^https?://", "maxLength": 2048},
		"markdown": {"type": "boolean"},
		"html": {"type": "boolean"},
		"raw_html": {"type": "boolean"},
		"links": {"type": "boolean"},
		"screenshot": {"type": "boolean"},
		"only_main_content": {"type": "boolean"},
		"client_address": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"}
	}
}`

var extractRequestValidator = api.MustValidator("extract-request", extractRequestSchema)

// ExtractRequest is the body of POST /v1/extract.
type ExtractRequest struct {
	URL             string `json:"url"`
	Markdown        bool   `json:"markdown"`
	HTML            bool   `json:"html"`
	RawHTML         bool   `json:"raw_html"`
	Links           bool   `json:"links"`
	Screenshot      bool   `json:"screenshot"`
	OnlyMainContent bool   `json:"only_main_content"`
	ClientAddress   string `json:"client_address,omitempty"`
}

// Options returns the extraction flags of the request.
func (r ExtractRequest) Options() extract.Options {
	return extract.Options{
		Markdown:        r.Markdown,
		HTML:            r.HTML,
		RawHTML:         r.RawHTML,
		Links:           r.Links,
		Screenshot:      r.Screenshot,
		OnlyMainContent: r.OnlyMainContent,
	}
}

type extractRequestKey struct{}

func extractRequestFromContext(ctx context.Context) (ExtractRequest, bool) {
	req, ok := ctx.Value(extractRequestKey{}).(ExtractRequest)
	return req, ok
}

// validateExtractRequest decodes and validates the body, then hands the
// parsed request to next through the context.
func validateExtractRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			api.WriteBadRequest(w, r, "request body too large or unreadable")
			return
		}
		if err := extractRequestValidator.ValidateJSON(raw); err != nil {
			api.WriteBadRequest(w, r, err.Error())
			return
		}
		var req ExtractRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			api.WriteBadRequest(w, r, "request body is not valid JSON")
			return
		}
		ctx := context.WithValue(r.Context(), extractRequestKey{}, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
