package policy

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

// SourcePolicy holds domain rules applied to search hits. A rule for a domain
// also covers its subdomains.
type SourcePolicy struct {
	block   map[string]struct{}
	paywall map[string]struct{}
}

// NewSourcePolicy builds a SourcePolicy from configuration.
func NewSourcePolicy(cfg config.SourcePolicyConfig) (*SourcePolicy, error) {
	block := hostSet(cfg.Block)
	paywall := hostSet(cfg.Paywall)
	for host := range block {
		if _, ok := paywall[host]; ok {
			return nil, fmt.Errorf("sources.policy: %s is both blocked and paywalled", host)
		}
	}
	return &SourcePolicy{block: block, paywall: paywall}, nil
}

// Blocked reports whether results from rawURL must be dropped.
func (p *SourcePolicy) Blocked(rawURL string) bool {
	if p == nil {
		return false
	}
	return matches(p.block, helpers.Domain(rawURL))
}

// SkipFetch reports whether the page behind rawURL should not be downloaded.
// Paywalled pages keep their search snippet.
func (p *SourcePolicy) SkipFetch(rawURL string) bool {
	if p == nil {
		return false
	}
	return matches(p.paywall, helpers.Domain(rawURL))
}

func matches(set map[string]struct{}, host string) bool {
	if host == "" || len(set) == 0 {
		return false
	}
	for {
		if _, ok := set[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return false
		}
		host = host[i+1:]
	}
}

func hostSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		host := normalizeHost(item)
		if host == "" {
			continue
		}
		set[host] = struct{}{}
	}
	return set
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.Contains(value, "://") {
		return helpers.Domain(value)
	}
	return strings.TrimPrefix(value, "www.")
}
