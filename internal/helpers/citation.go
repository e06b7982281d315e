package helpers

import (
	"fmt"
	"net/url"
	"strings"
)

// Source is one entry of a report's reference list.
type Source struct {
	Title string
	URL   string
}

// SourceList renders sources as a numbered markdown list, dropping entries
// that canonicalise to an URL already listed. Entries without a title fall
// back to the host name.
func SourceList(sources []Source) string {
	seen := make(map[string]struct{}, len(sources))
	var b strings.Builder
	n := 0
	for _, s := range sources {
		link := strings.TrimSpace(s.URL)
		if link == "" {
			continue
		}
		key, err := CanonicalURL(link)
		if err != nil {
			key = link
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		n++

		title := strings.Join(strings.Fields(s.Title), " ")
		if title == "" {
			title = Domain(link)
		}
		if title == "" {
			title = link
		}
		fmt.Fprintf(&b, "%d. [%s](%s)", n, title, link)
		if d := Domain(link); d != "" && d != title {
			fmt.Fprintf(&b, " (%s)", d)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Domain returns the lower-cased host of raw without default ports or a
// leading "www.".
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	return strings.TrimPrefix(host, "www.")
}
