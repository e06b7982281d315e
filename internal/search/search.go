package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
	Source  string `json:"source"`
}

// WebSearcher discovers up to k results for q.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]Result, error)
}

type Provider string

const (
	TavilyProvider Provider = "tavily"
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported search provider")
	ErrEmptyQuery          = errors.New("search query is empty")
)

const defaultResults = 5

// NewWebSearcher builds the searcher selected by cfg.Provider.
func NewWebSearcher(cfg config.WebSearchConfig) (WebSearcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpc := helpers.NewHTTPClient(timeout, 2, 300*time.Millisecond)
	switch Provider(cfg.Provider) {
	case TavilyProvider:
		return NewTavily(cfg.TavilyMCPURL, cfg.TavilyAPIKey, cfg.TavilyTool, timeout), nil
	case SerperProvider:
		return &Serper{APIKey: cfg.SerperAPIKey, http: httpc}, nil
	case BraveProvider:
		return &Brave{APIKey: cfg.BraveAPIKey, http: httpc}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// Dedupe drops results whose canonical URL was already seen, keeping first occurrence.
func Dedupe(in []Result) []Result {
	seen := make(map[string]struct{}, len(in))
	out := make([]Result, 0, len(in))
	for _, r := range in {
		key, err := helpers.CanonicalURL(r.URL)
		if err != nil {
			key = strings.ToLower(strings.TrimSpace(r.Title))
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func limit(k int) int {
	if k <= 0 {
		return defaultResults
	}
	return k
}

func escapeQuery(q string) string { return url.QueryEscape(q) }
