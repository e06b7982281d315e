package session

import (
	"context"
	"errors"
)

// Run is a research run bound to the session generation it started in. Every
// write it makes is dropped once Reset retires that generation.
type Run struct {
	id     string
	s      *Session
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the run identifier stamped on its completion.
func (r *Run) ID() string { return r.id }

// Context is cancelled when the run completes or the session is reset.
func (r *Run) Context() context.Context { return r.ctx }

// Progress posts a progress message unless the run is stale.
func (r *Run) Progress(_ context.Context, message string) {
	_ = r.s.postProgress(r.gen, r.id, message)
}

// Ask posts a clarification question and waits for the answer.
func (r *Run) Ask(ctx context.Context, question string) (string, error) {
	q, err := r.s.postQuestion(r.gen, r.id, question)
	if err != nil {
		return "", err
	}
	return q.Await(ctx)
}

// Complete posts the final report and releases the session.
func (r *Run) Complete(report string) error {
	return r.s.complete(r.gen, r.id, CompletionResult, report)
}

// Fail posts the failure message and releases the session.
func (r *Run) Fail(err error) error {
	if err == nil {
		err = errors.New("research failed")
	}
	return r.s.complete(r.gen, r.id, CompletionError, err.Error())
}

// Stale reports whether Reset has retired this run.
func (r *Run) Stale() bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.gen != r.s.generation
}

// Cancel cancels the run context without touching the session queues.
func (r *Run) Cancel() { r.cancel() }
