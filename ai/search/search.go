package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mydost/dost/ai/cache"
	"github.com/mydost/dost/store"
)

const (
	serperAPIURL     = "https://google.serper.dev/search"
	duckduckgoAPIURL = "https://api.duckduckgo.com/"

	cachePrefix = "web_search"

	// Serper gets a hard 5 s client timeout; a slow search is worse than none.
	serperTimeout     = 5 * time.Second
	duckduckgoTimeout = 10 * time.Second
)

// defaultEngineHosts are search engines we never scrape or cite. A result
// pointing back at an engine is recursive junk.
var defaultEngineHosts = []string{
	"google.",
	"serper.dev",
	"duckduckgo.com",
	"bing.com",
	"search.yahoo.com",
	"serpapi.com",
}

// Result is one organic search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// Response wraps the hit list with provenance.
type Response struct {
	Results   []Result `json:"results"`
	Provider  string   `json:"provider"`
	FromCache bool     `json:"from_cache"`
}

// Config represents search service configuration.
type Config struct {
	APIKey   string
	APIURL   string
	CacheTTL time.Duration
	// DenyHosts extends the built-in engine-host filter.
	DenyHosts []string
}

// Service runs web searches: cache, then Serper, then DuckDuckGo, then empty.
type Service struct {
	apiKey    string
	apiURL    string
	ddgURL    string
	cacheTTL  time.Duration
	denyHosts []string
	kv        cache.KV
	client    *http.Client
}

// NewService creates a search Service. An empty API key skips Serper and goes
// straight to the free fallback.
func NewService(cfg *Config, kv cache.KV) *Service {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = serperAPIURL
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Service{
		apiKey:    cfg.APIKey,
		apiURL:    apiURL,
		ddgURL:    duckduckgoAPIURL,
		cacheTTL:  cacheTTL,
		denyHosts: append(append([]string{}, defaultEngineHosts...), cfg.DenyHosts...),
		kv:        kv,
		client:    &http.Client{Timeout: duckduckgoTimeout},
	}
}

// Search returns up to limit results for query. It never returns an error;
// every failure path degrades to an empty result set.
func (s *Service) Search(ctx context.Context, query string, limit int) *Response {
	if limit <= 0 {
		limit = 5
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return &Response{Results: []Result{}, Provider: "none"}
	}

	key := cache.Key(cachePrefix, strings.ToLower(query))
	if raw, ok := s.kv.Get(ctx, key); ok {
		var results []Result
		if err := json.Unmarshal([]byte(raw), &results); err == nil {
			return &Response{Results: results, Provider: "cache", FromCache: true}
		}
		slog.Warn("dropping malformed cached search result", "query", query)
		s.kv.Delete(ctx, key)
	}

	if s.apiKey != "" {
		if results, err := s.searchSerper(ctx, query, limit); err != nil {
			slog.Warn("serper search failed, falling back to duckduckgo", "query", query, "error", err)
		} else if len(results) > 0 {
			results = s.filterEngineHosts(results)
			s.cacheResults(ctx, key, results)
			return &Response{Results: results, Provider: "serper"}
		}
	}

	if results, err := s.searchDuckDuckGo(ctx, query, limit); err != nil {
		slog.Warn("duckduckgo search failed", "query", query, "error", err)
	} else if len(results) > 0 {
		results = s.filterEngineHosts(results)
		s.cacheResults(ctx, key, results)
		return &Response{Results: results, Provider: "duckduckgo"}
	}

	return &Response{Results: []Result{}, Provider: "none"}
}

func (s *Service) cacheResults(ctx context.Context, key string, results []Result) {
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	s.kv.Set(ctx, key, string(raw), s.cacheTTL)
}

// HasCachedResults reports whether a query would hit the cache. The quota
// layer uses this: cached reads are free and never spend the sub-quota.
func (s *Service) HasCachedResults(ctx context.Context, query string) bool {
	_, ok := s.kv.Get(ctx, cache.Key(cachePrefix, strings.ToLower(strings.TrimSpace(query))))
	return ok
}

func (s *Service) searchSerper(ctx context.Context, query string, limit int) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, serperTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{
		"q":           query,
		"num":         limit,
		"autocorrect": true,
		"page":        1,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper returned status %d", resp.StatusCode)
	}

	var body struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Source  string `json:"source"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, err
	}

	results := make([]Result, 0, limit)
	for _, item := range body.Organic {
		if len(results) >= limit {
			break
		}
		results = append(results, Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Source:  item.Source,
		})
	}
	return results, nil
}

func (s *Service) searchDuckDuckGo(ctx context.Context, query string, limit int) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, duckduckgoTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ddgURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Dost/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	var body struct {
		Heading        string `json:"Heading"`
		Abstract       string `json:"Abstract"`
		AbstractURL    string `json:"AbstractURL"`
		AbstractSource string `json:"AbstractSource"`
		RelatedTopics  []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, err
	}

	results := []Result{}
	if body.Abstract != "" {
		title := body.Heading
		if title == "" {
			title = query
		}
		source := body.AbstractSource
		if source == "" {
			source = "DuckDuckGo"
		}
		results = append(results, Result{
			Title:   title,
			URL:     body.AbstractURL,
			Snippet: body.Abstract,
			Source:  source,
		})
	}
	for _, topic := range body.RelatedTopics {
		if len(results) >= limit {
			break
		}
		if topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{
			Title:   title,
			URL:     topic.FirstURL,
			Snippet: topic.Text,
			Source:  "DuckDuckGo",
		})
	}
	return results, nil
}

// filterEngineHosts drops results whose host is itself a search engine.
func (s *Service) filterEngineHosts(results []Result) []Result {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if r.URL == "" || s.isEngineHost(r.URL) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func (s *Service) isEngineHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, deny := range s.denyHosts {
		if strings.Contains(host, deny) {
			return true
		}
	}
	return false
}

// ExtractCitations numbers results 1-based and stamps them with fetch time.
func ExtractCitations(results []Result, fetchedAt time.Time) []store.Citation {
	citations := make([]store.Citation, 0, len(results))
	for i, r := range results {
		source := r.Source
		if source == "" {
			if u, err := url.Parse(r.URL); err == nil {
				source = u.Hostname()
			}
		}
		citations = append(citations, store.Citation{
			Number:    i + 1,
			Title:     r.Title,
			URL:       r.URL,
			Source:    source,
			FetchedAt: fetchedAt,
		})
	}
	return citations
}
