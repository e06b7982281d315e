package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"go.uber.org/zap"
)

// ErrEmptyReport is returned when the writing model produces no text.
var ErrEmptyReport = errors.New("writer returned an empty report")

// LLMWriter turns the researched sections into the final markdown report.
type LLMWriter struct {
	llm    llm.Provider
	model  string
	logger *zap.Logger
}

func NewLLMWriter(provider llm.Provider, model string, logger *zap.Logger) *LLMWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMWriter{llm: provider, model: model, logger: logger.Named("writer")}
}

func (w *LLMWriter) MakeReport(ctx context.Context, plan Plan, findings Findings, progress ProgressFunc) (string, error) {
	progress(ctx, MsgAnalyzing)
	w.logger.Info("making report", zap.String("model", w.model), zap.Int("sections", len(findings.Sections)))

	progress(ctx, MsgGenerating)
	reply, err := w.llm.Generate(ctx, writerPrompt(plan.Outline, findings.Sections), w.model, map[string]interface{}{
		llm.OptionSystem: writerSystem,
	})
	if err != nil {
		return "", fmt.Errorf("writing model: %w", err)
	}
	text := helpers.StripFence(reply)
	if text == "" {
		return "", ErrEmptyReport
	}
	text = appendSources(text, findings)

	progress(ctx, MsgReportDone)
	return text, nil
}

// appendSources adds a Sources list built from the section references unless
// the report already carries one.
func appendSources(text string, findings Findings) string {
	if strings.Contains(strings.ToLower(text), "## sources") {
		return text
	}
	titles := make(map[string]string, len(findings.Evidence))
	for _, e := range findings.Evidence {
		if key, err := helpers.CanonicalURL(e.URL); err == nil {
			titles[key] = e.Title
		}
	}
	var sources []helpers.Source
	for _, s := range findings.Sections {
		for _, ref := range s.References {
			title := ""
			if key, err := helpers.CanonicalURL(ref); err == nil {
				title = titles[key]
			}
			sources = append(sources, helpers.Source{Title: title, URL: ref})
		}
	}
	list := helpers.SourceList(sources)
	if list == "" {
		return text
	}
	return text + "\n\n## Sources\n\n" + list
}
