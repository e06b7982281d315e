package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/fetch"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/policy"
	"github.com/mohammad-safakhou/deepresearch/internal/search"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxEvidenceChars = 4000

// ErrNoEvidence is returned when every search came back empty.
var ErrNoEvidence = errors.New("web search returned no results")

// LLMResearcher searches the web for each planned query, ranks what it finds
// and has the research model write one section per outline heading.
type LLMResearcher struct {
	llm      llm.Provider
	model    string
	searcher search.WebSearcher
	fetcher  fetch.Fetcher
	policy   *policy.SourcePolicy
	cfg      config.ResearchConfig
	logger   *zap.Logger
}

// NewLLMResearcher wires a researcher. fetcher may be nil to rely on search snippets only.
func NewLLMResearcher(provider llm.Provider, model string, searcher search.WebSearcher, fetcher fetch.Fetcher, cfg config.ResearchConfig, logger *zap.Logger) *LLMResearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMResearcher{
		llm:      provider,
		model:    model,
		searcher: searcher,
		fetcher:  fetcher,
		cfg:      cfg.Normalize(),
		logger:   logger.Named("researcher"),
	}
}

// WithPolicy filters search hits through p. A nil policy keeps every hit.
func (r *LLMResearcher) WithPolicy(p *policy.SourcePolicy) *LLMResearcher {
	r.policy = p
	return r
}

func (r *LLMResearcher) MakeResearch(ctx context.Context, plan Plan, progress ProgressFunc) (Findings, error) {
	progress(ctx, MsgStartingResearch)
	r.logger.Info("making research", zap.String("model", r.model))

	queries, err := r.queries(ctx, plan)
	if err != nil {
		return Findings{}, err
	}

	progress(ctx, MsgSearching)
	r.logger.Info("searching the web for information", zap.Int("queries", len(queries)))
	hits, err := r.search(ctx, queries)
	if err != nil {
		return Findings{}, err
	}
	r.enrich(ctx, hits)
	evidence := r.rank(queries, hits)

	reply, err := r.llm.Generate(ctx, researcherPrompt(plan.Outline, evidence), r.model, map[string]interface{}{
		llm.OptionSystem: researcherSystem,
		llm.OptionJSON:   true,
	})
	if err != nil {
		return Findings{}, fmt.Errorf("research model: %w", err)
	}
	var out struct {
		Sections []Section `json:"sections"`
	}
	if err := decodeModelJSON(reply, schemaSections, &out); err != nil {
		return Findings{}, err
	}

	progress(ctx, MsgResearchDone)
	return Findings{Queries: queries, Evidence: evidence, Sections: out.Sections}, nil
}

// queries prefers the searches proposed with the outline and falls back to the query model.
func (r *LLMResearcher) queries(ctx context.Context, plan Plan) ([]string, error) {
	if qs := normalizeQueries(plan.Searches, r.cfg.MaxQueries); len(qs) > 0 {
		return qs, nil
	}
	reply, err := r.llm.Generate(ctx, queryPrompt(plan.Outline, r.cfg.MaxQueries), r.model, map[string]interface{}{
		llm.OptionSystem: querySystem,
		llm.OptionJSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("query model: %w", err)
	}
	var out struct {
		Queries []string `json:"queries"`
	}
	if err := decodeModelJSON(reply, schemaQueries, &out); err != nil {
		return nil, err
	}
	qs := normalizeQueries(out.Queries, r.cfg.MaxQueries)
	if len(qs) == 0 {
		return nil, fmt.Errorf("query model returned no usable queries")
	}
	return qs, nil
}

func (r *LLMResearcher) search(ctx context.Context, queries []string) ([]Evidence, error) {
	results := make([][]search.Result, len(queries))
	errs := make([]error, len(queries))

	var g errgroup.Group
	g.SetLimit(r.cfg.SearchConcurrency)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			res, err := r.searcher.Discover(ctx, q, r.cfg.ResultsPerQuery)
			if err != nil {
				r.logger.Warn("search failed", zap.String("query", q), zap.Error(err))
				errs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []Evidence
	blocked := 0
	for i, res := range results {
		for _, hit := range res {
			key, err := helpers.CanonicalURL(hit.URL)
			if err != nil {
				continue
			}
			if r.policy.Blocked(hit.URL) {
				blocked++
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			text := hit.Content
			if text == "" {
				text = hit.Snippet
			}
			out = append(out, Evidence{Query: queries[i], Title: hit.Title, URL: hit.URL, Text: text})
		}
	}
	if blocked > 0 {
		r.logger.Debug("dropped blocked results", zap.Int("count", blocked))
	}
	if len(out) == 0 {
		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("web search failed: %w", err)
		}
		return nil, ErrNoEvidence
	}
	return out, nil
}

// enrich replaces snippets of the first FetchTop hits with readable page text.
// Fetch failures keep the snippet.
func (r *LLMResearcher) enrich(ctx context.Context, hits []Evidence) {
	if r.fetcher == nil || r.cfg.FetchTop <= 0 {
		return
	}
	n := r.cfg.FetchTop
	if n > len(hits) {
		n = len(hits)
	}
	var g errgroup.Group
	g.SetLimit(r.cfg.SearchConcurrency)
	for i := 0; i < n; i++ {
		i := i
		if r.policy.SkipFetch(hits[i].URL) {
			continue
		}
		g.Go(func() error {
			page, err := r.fetcher.Fetch(ctx, hits[i].URL)
			if err != nil {
				r.logger.Debug("fetch failed", zap.String("url", hits[i].URL), zap.Error(err))
				return nil
			}
			if len(page.Text) > len(hits[i].Text) {
				hits[i].Text = page.Text
				hits[i].Fetched = true
			}
			return nil
		})
	}
	_ = g.Wait()
}

// rank keeps the best EvidencePerQuery hits per query. If the index cannot be
// built or matches nothing, hits are kept in search order.
func (r *LLMResearcher) rank(queries []string, hits []Evidence) []Evidence {
	limit := r.cfg.EvidencePerQuery * len(queries)
	fallback := func() []Evidence {
		if len(hits) > limit {
			return trimEvidence(hits[:limit])
		}
		return trimEvidence(hits)
	}

	idx, err := newEvidenceIndex()
	if err != nil {
		r.logger.Warn("ranking disabled", zap.Error(err))
		return fallback()
	}
	defer idx.close()
	for _, h := range hits {
		if err := idx.add(h); err != nil {
			r.logger.Warn("ranking disabled", zap.Error(err))
			return fallback()
		}
	}

	seen := make(map[string]struct{})
	var out []Evidence
	for _, q := range queries {
		top, err := idx.top(q, r.cfg.EvidencePerQuery)
		if err != nil {
			r.logger.Warn("ranking query failed", zap.String("query", q), zap.Error(err))
			continue
		}
		for _, e := range top {
			if _, dup := seen[e.URL]; dup {
				continue
			}
			seen[e.URL] = struct{}{}
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return fallback()
	}
	return trimEvidence(out)
}

func trimEvidence(in []Evidence) []Evidence {
	out := make([]Evidence, len(in))
	for i, e := range in {
		e.Text = helpers.Truncate(e.Text, maxEvidenceChars)
		out[i] = e
	}
	return out
}

func normalizeQueries(in []string, n int) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}
