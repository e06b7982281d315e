package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/research"
	"github.com/mohammad-safakhou/deepresearch/internal/session"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrEmptyQuestion rejects a blank research request. No run is started.
	ErrEmptyQuestion = errors.New("please enter a question to research")
	// ErrRunActive is returned while another run holds the session.
	ErrRunActive = session.ErrRunActive
	// ErrShutdown is returned by Submit after Shutdown.
	ErrShutdown = errors.New("executor is shut down")
)

// Runner executes one research request. *research.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, question string, ask research.AskFunc, progress research.ProgressFunc) (*research.Report, error)
}

// Archive stores finished runs. *store.Store satisfies it.
type Archive interface {
	SaveRun(ctx context.Context, rec store.RunRecord) error
}

// Executor runs research requests in the background against a session.
type Executor struct {
	session    *session.Session
	runner     Runner
	archive    Archive
	metrics    *Metrics
	runTimeout time.Duration
	logger     *zap.Logger

	mu     sync.Mutex
	active *session.Run
	closed bool
	wg     sync.WaitGroup
}

// Option configures executor behaviour.
type Option func(*Executor)

// WithRunTimeout bounds a single run. Zero means no deadline.
func WithRunTimeout(d time.Duration) Option {
	return func(ex *Executor) {
		if d > 0 {
			ex.runTimeout = d
		}
	}
}

// WithArchive stores every finished run.
func WithArchive(a Archive) Option {
	return func(ex *Executor) {
		ex.archive = a
	}
}

// WithMetrics records run counters and durations.
func WithMetrics(m *Metrics) Option {
	return func(ex *Executor) {
		ex.metrics = m
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(ex *Executor) {
		if l != nil {
			ex.logger = l
		}
	}
}

// New creates a new Executor instance.
func New(s *session.Session, runner Runner, opts ...Option) *Executor {
	ex := &Executor{session: s, runner: runner, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ex)
	}
	ex.logger = ex.logger.Named("executor")
	return ex
}

// Submit validates question and starts exactly one background run for it.
// The run is detached from ctx: it ends with its own completion, a session
// Reset, Shutdown or the run deadline.
func (e *Executor) Submit(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrShutdown
	}
	run, err := e.session.BeginRun(context.WithoutCancel(ctx))
	if err != nil {
		return "", err
	}
	e.active = run
	e.metrics.started()
	e.logger.Info("research run started", zap.String("run_id", run.ID()))

	e.wg.Add(1)
	go e.execute(run, question)
	return run.ID(), nil
}

func (e *Executor) execute(run *session.Run, question string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		if e.active == run {
			e.active = nil
		}
		e.mu.Unlock()
	}()

	ctx := run.Context()
	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}

	started := time.Now()
	var clarifications []store.Clarification
	ask := func(ctx context.Context, q string) (string, error) {
		answer, err := run.Ask(ctx, q)
		if err == nil {
			clarifications = append(clarifications, store.Clarification{Question: q, Answer: answer})
		}
		return answer, err
	}

	report, err := e.run(ctx, question, ask, run.Progress)

	rec := store.RunRecord{
		ID:             run.ID(),
		Question:       question,
		Clarifications: clarifications,
		StartedAt:      started,
		FinishedAt:     time.Now(),
	}
	switch {
	case err == nil:
		rec.Status = store.StatusSucceeded
		rec.Report = report.Text
		if cerr := run.Complete(report.Text); cerr != nil {
			rec.Status = store.StatusCancelled
		}
	case run.Stale() || errors.Is(run.Context().Err(), context.Canceled):
		rec.Status = store.StatusCancelled
		rec.Error = err.Error()
		_ = run.Fail(err)
	default:
		rec.Status = store.StatusFailed
		rec.Error = err.Error()
		_ = run.Fail(err)
	}

	e.metrics.finished(rec.Status, rec.Duration())
	e.logger.Info("research run finished",
		zap.String("run_id", rec.ID),
		zap.String("status", rec.Status),
		zap.Duration("elapsed", rec.Duration()),
		zap.Int("clarifications", len(clarifications)))
	e.save(rec)
}

// run calls the runner and turns a panic into a failed run.
func (e *Executor) run(ctx context.Context, question string, ask research.AskFunc, progress research.ProgressFunc) (report *research.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("research run panicked", zap.Any("panic", r))
			report, err = nil, fmt.Errorf("research run panicked: %v", r)
		}
	}()
	report, err = e.runner.Run(ctx, question, ask, progress)
	if err == nil && report == nil {
		err = errors.New("research run returned no report")
	}
	return report, err
}

func (e *Executor) save(rec store.RunRecord) {
	if e.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.archive.SaveRun(ctx, rec); err != nil {
		e.logger.Warn("archive run", zap.String("run_id", rec.ID), zap.Error(err))
	}
}

// Active returns the id of the run in progress, or "".
func (e *Executor) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.ID()
}

// Wait blocks until every started run has finished.
func (e *Executor) Wait() { e.wg.Wait() }

// Shutdown rejects new runs, cancels the active one and waits for it to
// finish or for ctx to expire.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	if e.active != nil {
		e.active.Cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
