package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted extraction API.
const DefaultBaseURL = "https://api.firecrawl.dev"

// Client calls the upstream /v1/scrape endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// NewClient creates a client for baseURL authenticated with apiKey.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Markdown   string         `json:"markdown"`
		HTML       string         `json:"html"`
		RawHTML    string         `json:"rawHtml"`
		Links      []string       `json:"links"`
		Screenshot string         `json:"screenshot"`
		Metadata   map[string]any `json:"metadata"`
	} `json:"data"`
}

// Extract implements Extractor.
func (c *Client) Extract(ctx context.Context, url string, opts Options) (*Result, error) {
	body, err := json.Marshal(scrapeRequest{
		URL:             url,
		Formats:         opts.Formats(),
		OnlyMainContent: opts.OnlyMainContent,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extract: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &UpstreamError{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: err.Error()}
	}

	var out scrapeResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &UpstreamError{Message: "malformed upstream response"}
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "extraction unsuccessful"
		}
		return nil, &UpstreamError{Message: msg}
	}

	res := &Result{
		URL:        url,
		Markdown:   out.Data.Markdown,
		HTML:       out.Data.HTML,
		RawHTML:    out.Data.RawHTML,
		Links:      out.Data.Links,
		Screenshot: out.Data.Screenshot,
		Metadata:   out.Data.Metadata,
	}
	if md := out.Data.Metadata; md != nil {
		res.Title, _ = md["title"].(string)
		res.Description, _ = md["description"].(string)
		if code, ok := md["statusCode"].(float64); ok {
			res.StatusCode = int(code)
		}
		if src, ok := md["sourceURL"].(string); ok && src != "" {
			res.URL = src
		}
	}
	return res, nil
}
