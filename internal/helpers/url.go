package helpers

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// ErrEmptyURL is returned by CanonicalURL for blank input.
var ErrEmptyURL = errors.New("empty url")

var clickIDParams = map[string]struct{}{
	"gclid":   {},
	"dclid":   {},
	"fbclid":  {},
	"msclkid": {},
	"igshid":  {},
	"ref_src": {},
}

// CanonicalURL reduces a result link to the key used to spot the same page
// returned by several searches. Scheme and host are lower-cased, "www.",
// default ports, fragments and tracking parameters are dropped and the
// remaining query is sorted. Links without a scheme are treated as https.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errors.New("url missing host")
	}
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	p := path.Clean("/" + u.Path)
	if p != "/" && strings.HasSuffix(u.Path, "/") {
		p += "/"
	}
	u.Path = p
	u.RawPath = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if _, drop := clickIDParams[lower]; drop || strings.HasPrefix(lower, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SameURL reports whether a and b canonicalise to the same page.
func SameURL(a, b string) bool {
	ca, err := CanonicalURL(a)
	if err != nil {
		return false
	}
	cb, err := CanonicalURL(b)
	return err == nil && ca == cb
}
