package server

import (
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// TextRequest carries a question or an answer.
type TextRequest struct {
	Text string `json:"text"`
}

// InputResponse reports what POST /api/session/input did with the text.
type InputResponse struct {
	Status string `json:"status"` // started, answered
	RunID  string `json:"run_id,omitempty"`
}

// RunStarted is returned when a research run was accepted.
type RunStarted struct {
	RunID string `json:"run_id"`
}

// StatusResponse is a one-word acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// RunResponse is an archived research run.
type RunResponse struct {
	ID              string                `json:"id"`
	Question        string                `json:"question"`
	Clarifications  []store.Clarification `json:"clarifications,omitempty"`
	Status          string                `json:"status"`
	Report          string                `json:"report,omitempty"`
	Error           string                `json:"error,omitempty"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      time.Time             `json:"finished_at"`
	DurationSeconds float64               `json:"duration_seconds"`
}

func toRunResponse(r store.RunRecord) RunResponse {
	return RunResponse{
		ID:              r.ID,
		Question:        r.Question,
		Clarifications:  r.Clarifications,
		Status:          r.Status,
		Report:          r.Report,
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		DurationSeconds: r.Duration().Seconds(),
	}
}
