// Package websearch provides the Google Custom Search client backing the
// assistant's web_search tool and the passage topic selector.
package websearch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Constants for the search client configuration
const (
	// SearchURL is the Google Custom Search REST endpoint.
	SearchURL = "https://www.googleapis.com/customsearch/v1"
	// DefaultTimeout bounds one search or page-fetch call.
	DefaultTimeout = 10 * time.Second
	// DefaultResults is the number of hits returned when the caller does not ask for a count.
	DefaultResults = 5
	// MaxResults is the per-call cap imposed by the API.
	MaxResults = 10
	// maxPageBytes bounds how much of a fetched page is parsed for text.
	maxPageBytes = 1 << 20
)

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Opts holds configuration options for the search client.
type Opts struct {
	APIKey   string // Google API key
	EngineID string // Custom Search engine identifier (cx)
	BaseURL  string // endpoint override, used by tests
}

// Option defines a configuration option for the search client.
type Option func(*Opts)

// WithAPIKey sets the Google API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithEngineID sets the Custom Search engine identifier.
func WithEngineID(id string) Option {
	return func(o *Opts) {
		o.EngineID = id
	}
}

// WithBaseURL overrides the search endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// Client calls the Google Custom Search API.
type Client struct {
	apiKey   string
	engineID string
	baseURL  string
	http     *http.Client
}

// NewClient creates a search client, applying any provided options.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = SearchURL
	}
	return &Client{
		apiKey:   cfg.APIKey,
		engineID: cfg.EngineID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: DefaultTimeout},
	}
}

// Configured reports whether search credentials are present. Unconfigured
// clients return empty result sets and the assistant runs without the tool.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.engineID != ""
}

// Search runs one query and returns up to numResults hits. Search is a
// best-effort tool: failures and missing configuration yield an empty slice
// and the caller's completion proceeds without results.
func (c *Client) Search(ctx context.Context, query string, numResults int) []Result {
	if !c.Configured() {
		slog.Warn("WebSearch.Search: not configured, returning empty results")
		return nil
	}
	if numResults <= 0 {
		numResults = DefaultResults
	}
	if numResults > MaxResults {
		numResults = MaxResults
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(numResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		slog.Error("WebSearch.Search: failed to build request", "error", err)
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("WebSearch.Search: request failed", "error", err, "query", query)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("WebSearch.Search: API error", "status", resp.StatusCode, "body", string(body))
		return nil
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Error("WebSearch.Search: failed to decode response", "error", err)
		return nil
	}

	results := make([]Result, 0, len(payload.Items))
	for _, item := range payload.Items {
		results = append(results, Result{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
	}
	slog.Info("WebSearch.Search: search completed", "query", query, "count", len(results))
	return results
}

// FetchPageText fetches a page and extracts its visible text, for feeding a
// search hit into the topic-selection prompt. Returns "" on any failure; the
// caller falls back to the search snippet.
func (c *Client) FetchPageText(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		slog.Warn("WebSearch.FetchPageText: failed to build request", "error", err, "url", pageURL)
		return ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("WebSearch.FetchPageText: request failed", "error", err, "url", pageURL)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("WebSearch.FetchPageText: unexpected status", "status", resp.StatusCode, "url", pageURL)
		return ""
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		slog.Warn("WebSearch.FetchPageText: failed to parse page", "error", err, "url", pageURL)
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteByte('\n')
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	text := strings.TrimSpace(b.String())
	slog.Debug("WebSearch.FetchPageText: extracted page text", "url", pageURL, "length", len(text))
	return text
}
