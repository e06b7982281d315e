package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave searches with the Brave Search API.
type Brave struct {
	APIKey   string
	Endpoint string
	http     *helpers.HTTPClient
}

func (b *Brave) Discover(ctx context.Context, q string, k int) ([]Result, error) {
	if strings.TrimSpace(q) == "" {
		return nil, ErrEmptyQuery
	}
	k = limit(k)
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	// https://api.search.brave.com/app/documentation/web-search
	url := fmt.Sprintf("%s?q=%s&count=%d", endpoint, escapeQuery(q), k)
	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": b.APIKey,
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := b.http.DoJSON(ctx, "GET", url, headers, nil, &raw); err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	var out []Result
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, Result{Title: r.Title, URL: r.URL, Snippet: helpers.PlainText(r.Snippet), Source: string(BraveProvider)})
	}
	return out, nil
}
