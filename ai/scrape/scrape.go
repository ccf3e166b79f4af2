package scrape

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/mydost/dost/ai/cache"
)

const (
	cachePrefix = "page_content"

	fetchTimeout  = 12 * time.Second
	renderTimeout = 15 * time.Second

	maxTextBytes  = 20000
	maxTitleChars = 200

	// Pages shorter than this after cleaning are candidates for JS rendering.
	minCleanedBytes = 800

	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Snapshot is one cleaned page.
type Snapshot struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Config represents scrape service configuration.
type Config struct {
	CacheTTL time.Duration
	// JSRenderEnabled allows the headless-browser branch for thin pages.
	JSRenderEnabled bool
	// JSRenderPercent samples what fraction of thin pages get rendered, 0-100.
	JSRenderPercent int
}

// Service fetches pages and reduces them to prompt-sized clean text.
// It never surfaces errors: a page that cannot be fetched is simply absent.
type Service struct {
	cacheTTL        time.Duration
	jsRenderEnabled bool
	jsRenderPercent int
	kv              cache.KV
	client          *http.Client

	// Caps headless renders across all requests; chromedp launches are
	// expensive enough to budget explicitly.
	renderLimiter *rate.Limiter
}

// NewService creates a scrape Service.
func NewService(cfg *Config, kv cache.KV) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 6 * time.Hour
	}
	return &Service{
		cacheTTL:        cacheTTL,
		jsRenderEnabled: cfg.JSRenderEnabled,
		jsRenderPercent: cfg.JSRenderPercent,
		kv:              kv,
		client:          &http.Client{Timeout: fetchTimeout},
		renderLimiter:   rate.NewLimiter(rate.Every(10*time.Second), 2),
	}
}

// FetchAndParse returns a cleaned snapshot for rawURL, or nil when the page
// cannot be fetched or parsed.
func (s *Service) FetchAndParse(ctx context.Context, rawURL string) *Snapshot {
	if rawURL == "" {
		return nil
	}

	key := cache.Key(cachePrefix, rawURL)
	if raw, ok := s.kv.Get(ctx, key); ok {
		var snapshot Snapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err == nil {
			return &snapshot
		}
	}

	pageHTML := s.fetch(ctx, rawURL)

	// The render decision keys on cleaned text, not raw markup: a script-heavy
	// app shell can be large while carrying almost no readable content.
	title, text := cleanPage(pageHTML, rawURL)
	if renderCandidate(text) && s.shouldRender() {
		if rendered := s.renderWithBrowser(ctx, rawURL); rendered != "" {
			if renderedTitle, renderedText := cleanPage(rendered, rawURL); len(renderedText) > len(text) {
				title, text = renderedTitle, renderedText
			}
		}
	}
	if text == "" {
		return nil
	}

	snapshot := &Snapshot{
		URL:       rawURL,
		Title:     truncateRunes(title, maxTitleChars),
		Text:      truncateBytes(text, maxTextBytes),
		FetchedAt: time.Now().UTC(),
	}

	if raw, err := json.Marshal(snapshot); err == nil {
		s.kv.Set(ctx, key, string(raw), s.cacheTTL)
	}
	return snapshot
}

func (s *Service) fetch(ctx context.Context, rawURL string) string {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Warn("page fetch failed", "url", rawURL, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return ""
	}
	return string(body)
}

// renderCandidate reports whether a page's cleaned text is thin enough to
// justify a headless render.
func renderCandidate(text string) bool {
	return len(text) < minCleanedBytes
}

func (s *Service) shouldRender() bool {
	if !s.jsRenderEnabled || s.jsRenderPercent <= 0 {
		return false
	}
	if rand.Intn(100)+1 > s.jsRenderPercent {
		return false
	}
	return s.renderLimiter.Allow()
}

func (s *Service) renderWithBrowser(ctx context.Context, rawURL string) string {
	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var rendered string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.OuterHTML("html", &rendered),
	)
	if err != nil {
		slog.Warn("headless render failed", "url", rawURL, "error", err)
		return ""
	}
	return rendered
}

// cleanPage extracts title and readable text, preferring readability's
// article extraction and falling back to whole-document visible text.
func cleanPage(pageHTML, rawURL string) (title, text string) {
	pageURL, _ := url.Parse(rawURL)

	article, err := readability.FromReader(strings.NewReader(pageHTML), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.Title, collapseWhitespace(article.TextContent)
	}

	return visibleText(pageHTML)
}

// visibleText strips script/style/noscript and joins the remaining text nodes.
func visibleText(pageHTML string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return "", ""
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, strings.Join(parts, " ")
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// truncateBytes cuts at a byte budget without splitting a multi-byte rune.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
