package chat

import (
	"context"

	"github.com/mohammad-safakhou/deepresearch/internal/executor"
	"github.com/mohammad-safakhou/deepresearch/internal/session"
)

// Local drives a session and executor in the same process.
type Local struct {
	Session  *session.Session
	Executor *executor.Executor
}

func (l Local) Submit(ctx context.Context, question string) (string, error) {
	return l.Executor.Submit(ctx, question)
}

func (l Local) Answer(_ context.Context, text string) error {
	return l.Session.SubmitAnswer(text)
}

func (l Local) State(context.Context) (session.State, error) {
	return l.Session.Snapshot(), nil
}

func (l Local) Poll(context.Context) (session.Updates, error) {
	return l.Session.Poll(), nil
}

func (l Local) Reset(context.Context) error {
	l.Session.Reset()
	return nil
}
