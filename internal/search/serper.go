package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

const serperEndpoint = "https://google.serper.dev/search"

// Serper searches Google results through serper.dev.
type Serper struct {
	APIKey   string
	Endpoint string
	http     *helpers.HTTPClient
}

func (s *Serper) Discover(ctx context.Context, q string, k int) ([]Result, error) {
	if strings.TrimSpace(q) == "" {
		return nil, ErrEmptyQuery
	}
	k = limit(k)
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = serperEndpoint
	}
	// https://serper.dev/ docs
	payload := map[string]any{"q": q, "num": k}
	headers := map[string]string{"X-API-KEY": s.APIKey}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := s.http.DoJSON(ctx, "POST", endpoint, headers, payload, &raw); err != nil {
		return nil, fmt.Errorf("serper search: %w", err)
	}
	var out []Result
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, Result{Title: r.Title, URL: r.Link, Snippet: helpers.PlainText(r.Snippet), Source: string(SerperProvider)})
	}
	return out, nil
}
