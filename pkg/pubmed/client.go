// Package pubmed queries the NCBI E-utilities API and normalizes article
// summaries into search results.
package pubmed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
	"heartsearch/pkg/domain"
)

const (
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	DefaultTimeout = 10 * time.Second
	// MaxResults caps the lookup stage.
	MaxResults = 5
	// NoAbstract is the summary used when a record carries no abstract.
	NoAbstract = "No abstract available"
)

// ErrUpstream marks any failure talking to the literature database.
var ErrUpstream = errors.New("pubmed: upstream failure")

// UpstreamError describes a failed call to one of the two stages.
type UpstreamError struct {
	Stage      string // "esearch" or "esummary"
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("pubmed %s returned HTTP %d", e.Stage, e.StatusCode)
	}
	return fmt.Sprintf("pubmed %s: %v", e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// AppURL prefixes the internal research link placed first in sources.
	AppURL     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client runs the two-stage lookup/detail search.
type Client struct {
	baseURL string
	apiKey  string
	appURL  string
	http    *http.Client
}

// NewClient builds a Client with defaults applied.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		appURL:  strings.TrimRight(strings.TrimSpace(cfg.AppURL), "/"),
		http:    httpClient,
	}
}

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type summaryRecord struct {
	UID         string `json:"uid"`
	Title       string `json:"title"`
	Abstract    string `json:"abstract"`
	ELocationID string `json:"elocationid"`
	Error       string `json:"error"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

// Search looks up at most MaxResults article ids for query, fetches their
// summaries in one call and returns them normalized. No ids yields an empty
// slice and a nil error.
func (c *Client) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	ids, err := c.lookup(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.SearchResult{}, nil
	}
	return c.details(ctx, ids)
}

func (c *Client) lookup(ctx context.Context, query string) ([]string, error) {
	params := url.Values{
		"db":     {"pubmed"},
		"term":   {query},
		"retmax": {fmt.Sprintf("%d", MaxResults)},
		"format": {"json"},
	}
	var out esearchResponse
	if err := c.getJSON(ctx, "esearch", params, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.ESearchResult.IDList))
	for _, id := range out.ESearchResult.IDList {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Client) details(ctx context.Context, ids []string) ([]domain.SearchResult, error) {
	params := url.Values{
		"db":     {"pubmed"},
		"id":     {strings.Join(ids, ",")},
		"format": {"json"},
	}
	var out esummaryResponse
	if err := c.getJSON(ctx, "esummary", params, &out); err != nil {
		return nil, err
	}

	order := ids
	if raw, ok := out.Result["uids"]; ok {
		var uids []string
		if err := json.Unmarshal(raw, &uids); err == nil && len(uids) > 0 {
			order = uids
		}
	}

	results := make([]domain.SearchResult, 0, len(order))
	seen := make(map[string]struct{}, len(out.Result))
	for _, key := range order {
		seen[key] = struct{}{}
		if r, ok := c.normalize(key, out.Result[key]); ok {
			results = append(results, r)
		}
	}
	// Records the server returned outside its own index, in key order.
	var extra []string
	for key := range out.Result {
		if _, ok := seen[key]; !ok && key != "uids" {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		if r, ok := c.normalize(key, out.Result[key]); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

func (c *Client) normalize(key string, raw json.RawMessage) (domain.SearchResult, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" || trimmed == "false" {
		return domain.SearchResult{}, false
	}
	var rec summaryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.SearchResult{}, false
	}
	// esummary answers unknown ids with {"uid","error"} stubs.
	title := StripMarkup(rec.Title)
	if rec.Error != "" || title == "" {
		return domain.SearchResult{}, false
	}
	uid := rec.UID
	if uid == "" {
		uid = key
	}
	summary := strings.TrimSpace(rec.Abstract)
	if summary == "" {
		summary = NoAbstract
	}
	sources := []string{c.appURL + "/research/" + uid}
	if loc := strings.TrimSpace(rec.ELocationID); loc != "" {
		sources = append(sources, loc)
	}
	return domain.SearchResult{
		Title:   title,
		Summary: summary,
		Sources: sources,
	}, true
}

func (c *Client) getJSON(ctx context.Context, stage string, params url.Values, dst any) error {
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	reqURL := c.baseURL + "/" + stage + ".fcgi?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &UpstreamError{Stage: stage, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Stage: stage, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return &UpstreamError{Stage: stage, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &UpstreamError{Stage: stage, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// StripMarkup removes HTML/XML tags (PubMed titles carry <i>, <sup>, ...)
// and collapses whitespace.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}
