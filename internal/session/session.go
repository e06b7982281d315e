package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompletionKind distinguishes a finished report from a failure.
type CompletionKind string

const (
	CompletionResult CompletionKind = "result"
	CompletionError  CompletionKind = "error"
)

// Completion is the terminal output of one research run.
type Completion struct {
	RunID string         `json:"run_id,omitempty"`
	Kind  CompletionKind `json:"kind"`
	Text  string         `json:"text"`
}

// Updates is what a single Poll hands to a front end. At most one of the
// three fields is populated.
type Updates struct {
	Progress   []string    `json:"progress,omitempty"`
	Question   string      `json:"question,omitempty"`
	Completion *Completion `json:"completion,omitempty"`
}

// Empty reports whether the poll found nothing pending.
func (u Updates) Empty() bool {
	return len(u.Progress) == 0 && u.Question == "" && u.Completion == nil
}

// State is a read-only snapshot of the session flags and queue depths.
type State struct {
	Awaiting           bool   `json:"awaiting"`
	CurrentQuestion    string `json:"current_question,omitempty"`
	RunActive          bool   `json:"run_active"`
	RunID              string `json:"run_id,omitempty"`
	Generation         uint64 `json:"generation"`
	PendingProgress    int    `json:"pending_progress"`
	PendingQuestions   int    `json:"pending_questions"`
	PendingCompletions int    `json:"pending_completions"`
}

// EventKind labels an observer notification.
type EventKind string

const (
	EventRunStarted EventKind = "run_started"
	EventProgress   EventKind = "progress"
	EventQuestion   EventKind = "question"
	EventAnswer     EventKind = "answer"
	EventCompletion EventKind = "completion"
	EventReset      EventKind = "reset"
)

// Event describes a state change. Observers receive it after the session lock is released.
type Event struct {
	Kind       EventKind      `json:"kind"`
	RunID      string         `json:"run_id,omitempty"`
	Text       string         `json:"text,omitempty"`
	Completion CompletionKind `json:"completion,omitempty"`
	Generation uint64         `json:"generation"`
	At         time.Time      `json:"at"`
}

// Observer is notified of every accepted session write.
type Observer func(Event)

// Option configures a Session.
type Option func(*Session)

// WithAnswerTimeout bounds how long Await blocks. When fallback is non-empty it is
// returned on expiry instead of ErrAnswerTimeout.
func WithAnswerTimeout(d time.Duration, fallback string) Option {
	return func(s *Session) {
		s.answerTimeout = d
		s.defaultAnswer = fallback
	}
}

// WithObserver registers an observer. Observers must not call back into the session synchronously.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithLogger sets the logger used for dropped writes and timeouts.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session is the rendezvous between a research run and a front end. Progress,
// questions and completions travel in separate FIFO queues; answers travel on a
// per-question channel.
type Session struct {
	mu sync.Mutex

	progress    []string
	questions   []string
	completions []Completion

	pending *Question
	run     *Run

	generation uint64
	notify     chan struct{}

	answerTimeout time.Duration
	defaultAnswer string
	observers     []Observer
	logger        *zap.Logger
}

// New returns an idle session.
func New(opts ...Option) *Session {
	s := &Session{
		notify: make(chan struct{}),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Question is an outstanding clarification request.
type Question struct {
	Text string

	s         *Session
	gen       uint64
	runID     string
	answer    chan string
	cancelled chan struct{}
}

// PostQuestion enqueues a question for the front end and marks the session as awaiting.
func (s *Session) PostQuestion(text string) (*Question, error) {
	s.mu.Lock()
	gen := s.generation
	runID := s.currentRunIDLocked()
	s.mu.Unlock()
	return s.postQuestion(gen, runID, text)
}

// Ask posts a question and blocks until it is answered.
func (s *Session) Ask(ctx context.Context, text string) (string, error) {
	q, err := s.PostQuestion(text)
	if err != nil {
		return "", err
	}
	return q.Await(ctx)
}

// PostProgress enqueues a progress message.
func (s *Session) PostProgress(text string) {
	s.mu.Lock()
	gen := s.generation
	runID := s.currentRunIDLocked()
	s.mu.Unlock()
	_ = s.postProgress(gen, runID, text)
}

// SubmitAnswer delivers an answer to the outstanding question and clears the
// awaiting flag immediately. Without an outstanding question it returns
// ErrNoQuestionOutstanding and changes nothing.
func (s *Session) SubmitAnswer(text string) error {
	s.mu.Lock()
	q := s.pending
	if q == nil {
		s.mu.Unlock()
		return ErrNoQuestionOutstanding
	}
	s.pending = nil
	s.removeQuestionLocked(q.Text)
	q.answer <- text
	gen := s.generation
	s.broadcastLocked()
	s.mu.Unlock()

	s.emit(Event{Kind: EventAnswer, RunID: q.runID, Text: text, Generation: gen})
	return nil
}

// SubmitResult enqueues a successful report and ends the active run, if any.
func (s *Session) SubmitResult(text string) {
	s.mu.Lock()
	gen := s.generation
	runID := s.currentRunIDLocked()
	s.mu.Unlock()
	_ = s.complete(gen, runID, CompletionResult, text)
}

// SubmitError enqueues a failure message and ends the active run, if any.
func (s *Session) SubmitError(text string) {
	s.mu.Lock()
	gen := s.generation
	runID := s.currentRunIDLocked()
	s.mu.Unlock()
	_ = s.complete(gen, runID, CompletionError, text)
}

// Reset discards every queued item, clears the flags and cancels the active run.
// Writes still in flight from the cancelled run are dropped.
func (s *Session) Reset() {
	s.mu.Lock()
	s.generation++
	s.progress = nil
	s.questions = nil
	s.completions = nil
	if s.pending != nil {
		close(s.pending.cancelled)
		s.pending = nil
	}
	run := s.run
	s.run = nil
	gen := s.generation
	s.broadcastLocked()
	s.mu.Unlock()

	if run != nil {
		run.cancel()
	}
	s.emit(Event{Kind: EventReset, Generation: gen})
}

// Poll drains pending progress first. When no progress is queued it hands out one
// question, and when neither is queued one completion.
func (s *Session) Poll() Updates {
	s.mu.Lock()
	defer s.mu.Unlock()

	var u Updates
	switch {
	case len(s.progress) > 0:
		u.Progress = s.progress
		s.progress = nil
	case len(s.questions) > 0:
		u.Question = s.questions[0]
		s.questions = s.questions[1:]
	case len(s.completions) > 0:
		c := s.completions[0]
		s.completions = s.completions[1:]
		u.Completion = &c
	}
	return u
}

// Awaiting reports whether a question is waiting for an answer.
func (s *Session) Awaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// CurrentQuestion returns the outstanding question text, or "" when idle.
func (s *Session) CurrentQuestion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ""
	}
	return s.pending.Text
}

// RunActive reports whether a research run holds the session.
func (s *Session) RunActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Snapshot returns the current flags and queue depths without consuming anything.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Awaiting:           s.pending != nil,
		RunActive:          s.run != nil,
		RunID:              s.currentRunIDLocked(),
		Generation:         s.generation,
		PendingProgress:    len(s.progress),
		PendingQuestions:   len(s.questions),
		PendingCompletions: len(s.completions),
	}
	if s.pending != nil {
		st.CurrentQuestion = s.pending.Text
	}
	return st
}

// Updated returns a channel that is closed on the next state change.
func (s *Session) Updated() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify
}

// BeginRun binds a new research run to the current generation. Only one run may
// be active; the returned run's context is cancelled by Reset.
func (s *Session) BeginRun(parent context.Context) (*Run, error) {
	s.mu.Lock()
	if s.run != nil {
		s.mu.Unlock()
		return nil, ErrRunActive
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Run{
		id:     uuid.NewString(),
		s:      s,
		gen:    s.generation,
		ctx:    ctx,
		cancel: cancel,
	}
	s.run = r
	gen := s.generation
	s.broadcastLocked()
	s.mu.Unlock()

	s.emit(Event{Kind: EventRunStarted, RunID: r.id, Generation: gen})
	return r, nil
}

func (s *Session) postQuestion(gen uint64, runID, text string) (*Question, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrBlankQuestion
	}
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("dropping question from reset run", zap.String("run_id", runID))
		return nil, ErrStaleRun
	}
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrQuestionOutstanding
	}
	q := &Question{
		Text:      text,
		s:         s,
		gen:       gen,
		runID:     runID,
		answer:    make(chan string, 1),
		cancelled: make(chan struct{}),
	}
	s.pending = q
	s.questions = append(s.questions, text)
	s.broadcastLocked()
	s.mu.Unlock()

	s.emit(Event{Kind: EventQuestion, RunID: runID, Text: text, Generation: gen})
	return q, nil
}

func (s *Session) postProgress(gen uint64, runID, text string) error {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("dropping progress from reset run", zap.String("run_id", runID))
		return ErrStaleRun
	}
	s.progress = append(s.progress, text)
	s.broadcastLocked()
	s.mu.Unlock()

	s.emit(Event{Kind: EventProgress, RunID: runID, Text: text, Generation: gen})
	return nil
}

func (s *Session) complete(gen uint64, runID string, kind CompletionKind, text string) error {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("dropping completion from reset run", zap.String("run_id", runID), zap.String("kind", string(kind)))
		return ErrStaleRun
	}
	s.completions = append(s.completions, Completion{RunID: runID, Kind: kind, Text: text})
	var run *Run
	if s.run != nil && (runID == "" || s.run.id == runID) {
		run = s.run
		s.run = nil
	}
	s.broadcastLocked()
	s.mu.Unlock()

	if run != nil {
		run.cancel()
	}
	s.emit(Event{Kind: EventCompletion, RunID: runID, Text: text, Completion: kind, Generation: gen})
	return nil
}

// withdraw removes q if it is still outstanding. If an answer raced in first it is returned.
func (s *Session) withdraw(q *Question) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == q {
		s.pending = nil
		s.removeQuestionLocked(q.Text)
		s.broadcastLocked()
		return "", false
	}
	select {
	case a := <-q.answer:
		return a, true
	default:
		return "", false
	}
}

func (s *Session) removeQuestionLocked(text string) {
	for i, pending := range s.questions {
		if pending == text {
			s.questions = append(s.questions[:i], s.questions[i+1:]...)
			return
		}
	}
}

func (s *Session) currentRunIDLocked() string {
	if s.run == nil {
		return ""
	}
	return s.run.id
}

func (s *Session) broadcastLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Session) emit(e Event) {
	if len(s.observers) == 0 {
		return
	}
	e.At = time.Now().UTC()
	for _, o := range s.observers {
		o(e)
	}
}

// Await blocks until the question is answered, ctx is done, the session is
// reset or the configured answer timeout elapses.
func (q *Question) Await(ctx context.Context) (string, error) {
	var expired <-chan time.Time
	if q.s.answerTimeout > 0 {
		timer := time.NewTimer(q.s.answerTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case a := <-q.answer:
		return a, nil
	case <-q.cancelled:
		return "", ErrStaleRun
	case <-ctx.Done():
		if a, ok := q.s.withdraw(q); ok {
			return a, nil
		}
		return "", ctx.Err()
	case <-expired:
		if a, ok := q.s.withdraw(q); ok {
			return a, nil
		}
		if q.s.defaultAnswer != "" {
			q.s.logger.Warn("clarification timed out, using default answer",
				zap.String("run_id", q.runID), zap.Duration("timeout", q.s.answerTimeout))
			return q.s.defaultAnswer, nil
		}
		return "", ErrAnswerTimeout
	}
}
