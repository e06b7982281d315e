package research

import (
	"context"
	"fmt"
)

// AskFunc poses a clarification question and blocks until it is answered.
type AskFunc func(ctx context.Context, question string) (string, error)

// ProgressFunc delivers one human-readable status message.
type ProgressFunc func(ctx context.Context, message string)

// Clarification is one answered planner question.
type Clarification struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Plan is the outcome of the planning stage.
type Plan struct {
	Outline        string          `json:"outline"`
	Instructions   string          `json:"instructions"`
	Searches       []string        `json:"searches,omitempty"`
	Clarifications []Clarification `json:"clarifications,omitempty"`
}

// Section is one researched part of the outline.
type Section struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	References []string `json:"references,omitempty"`
}

// Evidence is a ranked search hit handed to the section model.
type Evidence struct {
	Query   string  `json:"query"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
	Fetched bool    `json:"fetched"`
}

// Findings is the outcome of the research stage.
type Findings struct {
	Queries  []string   `json:"queries"`
	Evidence []Evidence `json:"evidence"`
	Sections []Section  `json:"sections"`
}

// Report is the full product of one pipeline run.
type Report struct {
	Question string   `json:"question"`
	Plan     Plan     `json:"plan"`
	Findings Findings `json:"findings"`
	Text     string   `json:"text"`
}

// Planner turns a question into an outline, asking the user when needed.
type Planner interface {
	MakePlan(ctx context.Context, question string, ask AskFunc, progress ProgressFunc) (Plan, error)
}

// Researcher gathers sections for a plan. It never asks questions.
type Researcher interface {
	MakeResearch(ctx context.Context, plan Plan, progress ProgressFunc) (Findings, error)
}

// Writer produces the final report text.
type Writer interface {
	MakeReport(ctx context.Context, plan Plan, findings Findings, progress ProgressFunc) (string, error)
}

// Stage names a pipeline step.
type Stage string

const (
	StagePlan     Stage = "plan"
	StageResearch Stage = "research"
	StageWrite    Stage = "write"
)

// PipelineError wraps the first failure of a run with the stage that produced it.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
