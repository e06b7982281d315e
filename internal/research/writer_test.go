package research

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestWriterAppendsSources(t *testing.T) {
	provider := newScriptedLLM(map[string][]string{writerSystem: {"```markdown\n# Report\nBody\n```"}})
	findings := Findings{
		Evidence: []Evidence{{Title: "Go Blog", URL: "https://go.dev/blog"}},
		Sections: []Section{
			{Title: "A", Content: "a", References: []string{"https://go.dev/blog", "https://pkg.go.dev/sync"}},
			{Title: "B", Content: "b", References: []string{"https://go.dev/blog?utm_source=feed"}},
		},
	}
	rec := &recorder{}
	text, err := NewLLMWriter(provider, "m", nil).MakeReport(context.Background(), Plan{Outline: "# Report"}, findings, rec.progress)
	if err != nil {
		t.Fatalf("MakeReport: %v", err)
	}
	want := "# Report\nBody\n\n## Sources\n\n" +
		"1. [Go Blog](https://go.dev/blog) (go.dev)\n" +
		"2. [pkg.go.dev](https://pkg.go.dev/sync)"
	if text != want {
		t.Fatalf("report =\n%s\nwant\n%s", text, want)
	}
	if got := rec.all(); strings.Join(got, "|") != strings.Join([]string{MsgAnalyzing, MsgGenerating, MsgReportDone}, "|") {
		t.Fatalf("progress = %q", got)
	}
	prompt := provider.calls(writerSystem)[0]
	if !strings.Contains(prompt, "## A\na") || !strings.Contains(prompt, "References: https://go.dev/blog, https://pkg.go.dev/sync") {
		t.Fatalf("writer prompt = %q", prompt)
	}
}

func TestWriterKeepsModelSources(t *testing.T) {
	reply := "# Report\n\n## Sources\n- https://go.dev"
	provider := newScriptedLLM(map[string][]string{writerSystem: {reply}})
	findings := Findings{Sections: []Section{{Title: "A", Content: "a", References: []string{"https://go.dev"}}}}
	text, err := NewLLMWriter(provider, "m", nil).MakeReport(context.Background(), Plan{}, findings, func(context.Context, string) {})
	if err != nil {
		t.Fatalf("MakeReport: %v", err)
	}
	if text != reply {
		t.Fatalf("report = %q, want model text unchanged", text)
	}
}

func TestWriterEmptyReply(t *testing.T) {
	provider := newScriptedLLM(map[string][]string{writerSystem: {"   "}})
	rec := &recorder{}
	_, err := NewLLMWriter(provider, "m", nil).MakeReport(context.Background(), Plan{}, Findings{}, rec.progress)
	if !errors.Is(err, ErrEmptyReport) {
		t.Fatalf("MakeReport error = %v, want ErrEmptyReport", err)
	}
	for _, msg := range rec.all() {
		if msg == MsgReportDone {
			t.Fatalf("completion reported for an empty report")
		}
	}
}
