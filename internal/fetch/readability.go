package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxBodyBytes = 5 << 20

// Readability downloads a page over plain HTTP and extracts the article text.
type Readability struct {
	client   *http.Client
	maxChars int
}

func NewReadability(timeout time.Duration, maxChars int) *Readability {
	return &Readability{client: &http.Client{Timeout: timeout}, maxChars: maxChars}
}

func (r *Readability) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := parseTarget(rawURL)
	if err != nil {
		return Page{}, err
	}
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return Page{URL: u.String(), Status: 599}, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Page{URL: u.String(), Status: resp.StatusCode}, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return Page{URL: u.String(), Status: resp.StatusCode}, fmt.Errorf("fetch %s: unsupported content type %q", u, ct)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{URL: u.String(), Status: resp.StatusCode}, fmt.Errorf("read %s: %w", u, err)
	}

	page, err := extract(string(body), u, r.maxChars)
	page.RenderMS = int(time.Since(t0) / time.Millisecond)
	return page, err
}
