package research

import (
	"context"
	"fmt"
	"sync"

	"github.com/mohammad-safakhou/deepresearch/internal/fetch"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"github.com/mohammad-safakhou/deepresearch/internal/search"
)

// scriptedLLM replays canned replies per system prompt and records every prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	replies map[string][]string
	prompts map[string][]string
	err     error
}

func newScriptedLLM(replies map[string][]string) *scriptedLLM {
	return &scriptedLLM{replies: replies, prompts: make(map[string][]string)}
}

func (s *scriptedLLM) Generate(_ context.Context, prompt, _ string, options map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	system, _ := options[llm.OptionSystem].(string)
	s.prompts[system] = append(s.prompts[system], prompt)
	if s.err != nil {
		return "", s.err
	}
	queue := s.replies[system]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted reply left for system prompt %.30q", system)
	}
	reply := queue[0]
	if len(queue) > 1 {
		s.replies[system] = queue[1:]
	}
	return reply, nil
}

func (s *scriptedLLM) calls(system string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[system]...)
}

type stubSearcher struct {
	results map[string][]search.Result
	errs    map[string]error
}

func (s stubSearcher) Discover(_ context.Context, q string, _ int) ([]search.Result, error) {
	if err := s.errs[q]; err != nil {
		return nil, err
	}
	return s.results[q], nil
}

type stubFetcher map[string]string

func (f stubFetcher) Fetch(_ context.Context, rawURL string) (fetch.Page, error) {
	text, ok := f[rawURL]
	if !ok {
		return fetch.Page{}, fmt.Errorf("not found: %s", rawURL)
	}
	return fetch.Page{URL: rawURL, Text: text, Status: 200}, nil
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) progress(_ context.Context, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

type stubPlanner struct {
	plan Plan
	err  error
	ask  string
}

func (p stubPlanner) MakePlan(ctx context.Context, _ string, ask AskFunc, _ ProgressFunc) (Plan, error) {
	if p.ask != "" {
		answer, err := ask(ctx, p.ask)
		if err != nil {
			return Plan{}, err
		}
		plan := p.plan
		plan.Clarifications = append(plan.Clarifications, Clarification{Question: p.ask, Answer: answer})
		return plan, nil
	}
	return p.plan, p.err
}

type stubResearcher struct {
	findings Findings
	err      error
	called   *bool
}

func (r stubResearcher) MakeResearch(context.Context, Plan, ProgressFunc) (Findings, error) {
	if r.called != nil {
		*r.called = true
	}
	return r.findings, r.err
}

type stubWriter struct {
	text   string
	err    error
	called *bool
}

func (w stubWriter) MakeReport(context.Context, Plan, Findings, ProgressFunc) (string, error) {
	if w.called != nil {
		*w.called = true
	}
	return w.text, w.err
}
