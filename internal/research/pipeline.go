package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/mohammad-safakhou/deepresearch/internal/research")

// Progress messages, in the order a successful run emits them.
const (
	MsgPlanning         = "🤔 Planning your research..."
	MsgCreatingPlan     = "🧠 Creating research plan..."
	MsgNeedInput        = "❓ Need your input..."
	MsgPlanCreated      = "📋 **Research Plan Created:**\n\n%s"
	MsgStartingResearch = "🔍 Starting web research..."
	MsgSearching        = "🌐 Searching the web for information..."
	MsgResearchDone     = "📊 Research completed - organizing findings..."
	MsgAnalyzing        = "📝 Analyzing research data..."
	MsgGenerating       = "✍️ Generating comprehensive report..."
	MsgReportDone       = "✅ Report completed successfully!"
)

// ErrNoAskHandler is returned when the planner needs an answer but the caller
// supplied no way to ask.
var ErrNoAskHandler = errors.New("clarification needed but no ask handler is available")

// Pipeline runs plan, research and write strictly in sequence.
type Pipeline struct {
	planner    Planner
	researcher Researcher
	writer     Writer
	planDelay  time.Duration
	logger     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPlanDisplayDelay pauses after the outline is posted so it renders before research output.
func WithPlanDisplayDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.planDelay = d
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewPipeline(planner Planner, researcher Researcher, writer Writer, opts ...Option) *Pipeline {
	p := &Pipeline{
		planner:    planner,
		researcher: researcher,
		writer:     writer,
		planDelay:  500 * time.Millisecond,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("research")
	return p
}

// Execute runs the pipeline and returns only the report text.
func (p *Pipeline) Execute(ctx context.Context, question string, ask AskFunc, progress ProgressFunc) (string, error) {
	report, err := p.Run(ctx, question, ask, progress)
	if err != nil {
		return "", err
	}
	return report.Text, nil
}

// Run executes plan -> research -> write. The first failure aborts the run and is
// returned as a *PipelineError; partial results are discarded.
func (p *Pipeline) Run(ctx context.Context, question string, ask AskFunc, progress ProgressFunc) (*Report, error) {
	if progress == nil {
		progress = func(context.Context, string) {}
	}
	if ask == nil {
		ask = func(context.Context, string) (string, error) { return "", ErrNoAskHandler }
	}

	ctx, span := tracer.Start(ctx, "research.run", trace.WithAttributes(
		attribute.Int("question.length", len(question)),
	))
	defer span.End()
	start := time.Now()

	report := &Report{Question: question}

	p.logger.Info("creating research plan")
	progress(ctx, MsgPlanning)
	err := p.stage(ctx, StagePlan, func(ctx context.Context) error {
		plan, err := p.planner.MakePlan(ctx, question, ask, progress)
		if err != nil {
			return err
		}
		report.Plan = plan
		return nil
	})
	if err != nil {
		return nil, p.fail(span, err)
	}
	span.AddEvent("plan.complete", trace.WithAttributes(
		attribute.Int("plan.clarifications", len(report.Plan.Clarifications)),
	))

	p.logger.Info("plan created, starting research")
	progress(ctx, fmt.Sprintf(MsgPlanCreated, report.Plan.Outline))
	if p.planDelay > 0 {
		select {
		case <-time.After(p.planDelay):
		case <-ctx.Done():
			return nil, p.fail(span, &PipelineError{Stage: StageResearch, Err: ctx.Err()})
		}
	}

	err = p.stage(ctx, StageResearch, func(ctx context.Context) error {
		findings, err := p.researcher.MakeResearch(ctx, report.Plan, progress)
		if err != nil {
			return err
		}
		report.Findings = findings
		return nil
	})
	if err != nil {
		return nil, p.fail(span, err)
	}

	p.logger.Info("research completed, writing report", zap.Int("sections", len(report.Findings.Sections)))
	err = p.stage(ctx, StageWrite, func(ctx context.Context) error {
		text, err := p.writer.MakeReport(ctx, report.Plan, report.Findings, progress)
		if err != nil {
			return err
		}
		report.Text = text
		return nil
	})
	if err != nil {
		return nil, p.fail(span, err)
	}

	span.SetStatus(codes.Ok, "completed")
	p.logger.Info("report completed", zap.Duration("elapsed", time.Since(start)), zap.Int("chars", len(report.Text)))
	return report, nil
}

func (p *Pipeline) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "research."+string(stage))
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &PipelineError{Stage: stage, Err: err}
	}
	span.SetStatus(codes.Ok, "completed")
	return nil
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.logger.Error("research run failed", zap.Error(err))
	return err
}
