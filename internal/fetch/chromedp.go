package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Chromedp renders the page in headless Chrome before extraction. Use it for
// sites that build their content with JavaScript.
type Chromedp struct {
	Timeout  time.Duration
	MaxChars int
}

func (f *Chromedp) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := parseTarget(rawURL)
	if err != nil {
		return Page{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	html, err := renderHTML(ctx, u.String())
	if err != nil {
		return Page{URL: u.String(), Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, fmt.Errorf("render %s: %w", u, err)
	}
	page, err := extract(html, u, f.MaxChars)
	page.RenderMS = int(time.Since(t0) / time.Millisecond)
	return page, err
}

func renderHTML(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
