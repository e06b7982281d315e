package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/llm"
	"go.uber.org/zap"
)

// ErrBlankDecision is returned when the planning model asks an empty question
// or plans with empty instructions.
var ErrBlankDecision = errors.New("planning model returned a blank decision")

type decision struct {
	Action       string `json:"action"`
	Question     string `json:"question"`
	Instructions string `json:"instructions"`
}

type outlineReply struct {
	Outline  string   `json:"outline"`
	Searches []string `json:"searches"`
}

// LLMPlanner asks the planning model whether it needs input, relays its
// questions to the user, then has the outline model write the plan.
type LLMPlanner struct {
	llm               llm.Provider
	model             string
	maxClarifications int
	logger            *zap.Logger
}

func NewLLMPlanner(provider llm.Provider, model string, maxClarifications int, logger *zap.Logger) *LLMPlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxClarifications < 0 {
		maxClarifications = 0
	}
	return &LLMPlanner{llm: provider, model: model, maxClarifications: maxClarifications, logger: logger.Named("planner")}
}

func (p *LLMPlanner) MakePlan(ctx context.Context, question string, ask AskFunc, progress ProgressFunc) (Plan, error) {
	progress(ctx, MsgCreatingPlan)
	p.logger.Info("making plan", zap.String("model", p.model))

	var clarifications []Clarification
	instructions := ""
	for instructions == "" {
		if err := ctx.Err(); err != nil {
			return Plan{}, err
		}
		remaining := p.maxClarifications - len(clarifications)
		reply, err := p.llm.Generate(ctx, plannerPrompt(question, clarifications, remaining), p.model, map[string]interface{}{
			llm.OptionSystem:      plannerSystem,
			llm.OptionJSON:        true,
			llm.OptionTemperature: 0.2,
		})
		if err != nil {
			return Plan{}, fmt.Errorf("planning model: %w", err)
		}
		var d decision
		if err := decodeModelJSON(reply, schemaDecision, &d); err != nil {
			return Plan{}, err
		}

		d.Question = strings.TrimSpace(d.Question)
		d.Instructions = strings.TrimSpace(d.Instructions)

		switch d.Action {
		case "ask":
			if d.Question == "" {
				return Plan{}, fmt.Errorf("%w: empty question", ErrBlankDecision)
			}
			if remaining <= 0 {
				p.logger.Warn("clarification limit reached, planning without further input",
					zap.Int("asked", len(clarifications)))
				instructions = fallbackInstructions(question, clarifications)
				continue
			}
			progress(ctx, MsgNeedInput)
			p.logger.Info("asking user for input")
			answer, err := ask(ctx, d.Question)
			if err != nil {
				return Plan{}, fmt.Errorf("clarification: %w", err)
			}
			p.logger.Info("user input received")
			clarifications = append(clarifications, Clarification{Question: d.Question, Answer: answer})
		default:
			if d.Instructions == "" {
				return Plan{}, fmt.Errorf("%w: empty instructions", ErrBlankDecision)
			}
			instructions = d.Instructions
		}
	}

	p.logger.Info("creating outline")
	reply, err := p.llm.Generate(ctx, outlinePrompt(instructions), p.model, map[string]interface{}{
		llm.OptionSystem: outlineSystem,
		llm.OptionJSON:   true,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("outline model: %w", err)
	}
	var out outlineReply
	if err := decodeModelJSON(reply, schemaOutline, &out); err != nil {
		return Plan{}, err
	}
	return Plan{
		Outline:        strings.TrimSpace(out.Outline),
		Instructions:   instructions,
		Searches:       out.Searches,
		Clarifications: clarifications,
	}, nil
}

func fallbackInstructions(question string, clarifications []Clarification) string {
	var b strings.Builder
	b.WriteString(question)
	for _, c := range clarifications {
		fmt.Fprintf(&b, "\n%s %s", c.Question, c.Answer)
	}
	return b.String()
}
