// Package extract is the client for the upstream content-extraction
// service.
package extract

import (
	"context"
	"fmt"
	"net/http"
)

// Options selects which representations the upstream returns.
type Options struct {
	Markdown        bool `json:"markdown"`
	HTML            bool `json:"html"`
	RawHTML         bool `json:"raw_html"`
	Links           bool `json:"links"`
	Screenshot      bool `json:"screenshot"`
	OnlyMainContent bool `json:"only_main_content"`
}

// Formats maps the flags to upstream format names. Markdown is the default
// when nothing is selected.
func (o Options) Formats() []string {
	var out []string
	if o.Markdown {
		out = append(out, "markdown")
	}
	if o.HTML {
		out = append(out, "html")
	}
	if o.RawHTML {
		out = append(out, "rawHtml")
	}
	if o.Links {
		out = append(out, "links")
	}
	if o.Screenshot {
		out = append(out, "screenshot")
	}
	if len(out) == 0 {
		out = []string{"markdown"}
	}
	return out
}

// Result is the extracted content of one page.
type Result struct {
	URL         string         `json:"url"`
	StatusCode  int            `json:"status_code,omitempty"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Markdown    string         `json:"markdown,omitempty"`
	HTML        string         `json:"html,omitempty"`
	RawHTML     string         `json:"raw_html,omitempty"`
	Links       []string       `json:"links,omitempty"`
	Screenshot  string         `json:"screenshot,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Extractor fetches and converts a page.
type Extractor interface {
	Extract(ctx context.Context, url string, opts Options) (*Result, error)
}

// UpstreamError reports a failed extraction.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("extract: upstream failure: %s", e.Message)
	}
	return fmt.Sprintf("extract: upstream returned %d: %s", e.Status, e.Message)
}

// StatusCode is the HTTP status to relay to the caller. Anything that is
// not an upstream error status maps to 503.
func (e *UpstreamError) StatusCode() int {
	if e.Status >= 400 && e.Status <= 599 {
		return e.Status
	}
	return http.StatusServiceUnavailable
}
