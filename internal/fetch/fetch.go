package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
	userAgent       = "deepresearch/1.0 (+https://github.com/mohammad-safakhou/deepresearch)"
)

// Page is the readable text extracted from a URL.
type Page struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
	Text     string `json:"text"`
	HTMLHash string `json:"html_hash"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}

// Fetcher turns a URL into readable text.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

type FetcherType string

const (
	ReadabilityFetcherType FetcherType = "readability"
	ChromedpFetcherType    FetcherType = "chromedp"
	NoneFetcherType        FetcherType = "none"
)

var (
	ErrInvalidURL         = errors.New("invalid url")
	ErrUnsupportedFetcher = errors.New("unsupported fetcher type")
)

// NewFetcher returns the configured fetcher, or nil for "none".
func NewFetcher(cfg config.WebFetchConfig) (Fetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	switch FetcherType(cfg.Fetcher) {
	case ReadabilityFetcherType, "":
		return NewReadability(timeout, maxChars), nil
	case ChromedpFetcherType:
		return &Chromedp{Timeout: timeout, MaxChars: maxChars}, nil
	case NoneFetcherType:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFetcher, cfg.Fetcher)
	}
}

func parseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}

// extract runs readability over rendered HTML and normalises the text.
func extract(html string, u *url.URL, maxChars int) (Page, error) {
	sum := sha1.Sum([]byte(html))
	page := Page{URL: u.String(), HTMLHash: hex.EncodeToString(sum[:]), Status: 200}

	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return page, fmt.Errorf("readability: %w", err)
	}
	page.Title = strings.TrimSpace(article.Title)
	page.Byline = strings.TrimSpace(article.Byline)
	page.Excerpt = helpers.PlainText(article.Excerpt)
	page.Text = helpers.Truncate(helpers.PlainText(article.TextContent), maxChars)
	return page, nil
}
