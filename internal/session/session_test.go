package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type askResult struct {
	answer string
	err    error
}

func waitFor(t *testing.T, s *Session, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		ch := s.Updated()
		if cond() {
			return
		}
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("condition not met before deadline")
		}
	}
}

func TestAskAnswerRoundTrip(t *testing.T) {
	s := New()
	done := make(chan askResult, 1)
	go func() {
		a, err := s.Ask(context.Background(), "X")
		done <- askResult{a, err}
	}()

	waitFor(t, s, s.Awaiting)
	if got := s.CurrentQuestion(); got != "X" {
		t.Fatalf("expected current question X, got %q", got)
	}
	if u := s.Poll(); u.Question != "X" {
		t.Fatalf("expected question X from poll, got %+v", u)
	}
	if !s.Awaiting() {
		t.Fatalf("polling the question must not clear awaiting")
	}
	if err := s.SubmitAnswer("Y"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if s.Awaiting() {
		t.Fatalf("awaiting should clear as soon as the answer is submitted")
	}

	res := <-done
	if res.err != nil || res.answer != "Y" {
		t.Fatalf("expected answer Y, got %q err=%v", res.answer, res.err)
	}
}

func TestSubmitAnswerWhileIdleIsIgnored(t *testing.T) {
	s := New()
	err := s.SubmitAnswer("stray")
	if !errors.Is(err, ErrNoQuestionOutstanding) || !errors.Is(err, ErrProtocolMisuse) {
		t.Fatalf("expected ErrNoQuestionOutstanding, got %v", err)
	}
	if u := s.Poll(); !u.Empty() {
		t.Fatalf("stray answer must not surface, got %+v", u)
	}
}

func TestAnswerBeforePollRemovesQueuedQuestion(t *testing.T) {
	s := New()
	q, err := s.PostQuestion("which region?")
	if err != nil {
		t.Fatalf("PostQuestion: %v", err)
	}
	if err := s.SubmitAnswer("EU"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if u := s.Poll(); !u.Empty() {
		t.Fatalf("answered question should not be handed out, got %+v", u)
	}
	a, err := q.Await(context.Background())
	if err != nil || a != "EU" {
		t.Fatalf("expected EU, got %q err=%v", a, err)
	}
}

func TestPollOrdering(t *testing.T) {
	s := New()
	s.PostProgress("a")
	s.PostProgress("b")
	s.SubmitResult("report")
	if _, err := s.PostQuestion("q"); err != nil {
		t.Fatalf("PostQuestion: %v", err)
	}
	s.PostProgress("c")

	u := s.Poll()
	if len(u.Progress) != 3 || u.Progress[0] != "a" || u.Progress[2] != "c" {
		t.Fatalf("expected all progress drained in order, got %+v", u)
	}
	if u.Question != "" || u.Completion != nil {
		t.Fatalf("progress poll must not carry other items: %+v", u)
	}
	if u = s.Poll(); u.Question != "q" {
		t.Fatalf("expected question next, got %+v", u)
	}
	u = s.Poll()
	if u.Completion == nil || u.Completion.Kind != CompletionResult || u.Completion.Text != "report" {
		t.Fatalf("expected result completion, got %+v", u)
	}
	if u = s.Poll(); !u.Empty() {
		t.Fatalf("expected nothing pending, got %+v", u)
	}
}

func TestSecondQuestionRejected(t *testing.T) {
	s := New()
	if _, err := s.PostQuestion("first"); err != nil {
		t.Fatalf("PostQuestion: %v", err)
	}
	if _, err := s.PostQuestion("second"); !errors.Is(err, ErrQuestionOutstanding) {
		t.Fatalf("expected ErrQuestionOutstanding, got %v", err)
	}
	if got := s.CurrentQuestion(); got != "first" {
		t.Fatalf("first question must stay current, got %q", got)
	}
}

func TestBlankQuestionRejected(t *testing.T) {
	s := New()
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := s.PostQuestion(text); !errors.Is(err, ErrBlankQuestion) || !errors.Is(err, ErrProtocolMisuse) {
			t.Fatalf("PostQuestion(%q) error = %v, want ErrBlankQuestion", text, err)
		}
	}
	if s.Awaiting() {
		t.Fatalf("blank question left the session awaiting")
	}
	if st := s.Snapshot(); st.PendingQuestions != 0 {
		t.Fatalf("pending questions = %d, want 0", st.PendingQuestions)
	}
	if u := s.Poll(); !u.Empty() {
		t.Fatalf("unexpected updates %+v", u)
	}
}

func TestAwaitTimeoutFallsBackToDefault(t *testing.T) {
	s := New(WithAnswerTimeout(20*time.Millisecond, "use your judgement"))
	a, err := s.Ask(context.Background(), "scope?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if a != "use your judgement" {
		t.Fatalf("expected default answer, got %q", a)
	}
	if s.Awaiting() {
		t.Fatalf("timed out question must be withdrawn")
	}
}

func TestAwaitTimeoutWithoutDefault(t *testing.T) {
	s := New(WithAnswerTimeout(20*time.Millisecond, ""))
	if _, err := s.Ask(context.Background(), "scope?"); !errors.Is(err, ErrAnswerTimeout) {
		t.Fatalf("expected ErrAnswerTimeout, got %v", err)
	}
	if u := s.Poll(); !u.Empty() {
		t.Fatalf("withdrawn question must leave the queue, got %+v", u)
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan askResult, 1)
	go func() {
		a, err := s.Ask(ctx, "scope?")
		done <- askResult{a, err}
	}()
	waitFor(t, s, s.Awaiting)
	cancel()

	res := <-done
	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.err)
	}
	if s.Awaiting() {
		t.Fatalf("cancelled question must be withdrawn")
	}
}

func TestResetDropsWritesFromCancelledRun(t *testing.T) {
	s := New()
	run, err := s.BeginRun(context.Background())
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	run.Progress(context.Background(), "step 1")
	s.Reset()

	if run.Context().Err() == nil {
		t.Fatalf("reset must cancel the run context")
	}
	if !run.Stale() {
		t.Fatalf("run should be stale after reset")
	}
	run.Progress(context.Background(), "step 2")
	if err := run.Complete("late report"); !errors.Is(err, ErrStaleRun) {
		t.Fatalf("expected ErrStaleRun, got %v", err)
	}
	if _, err := run.Ask(context.Background(), "late question"); !errors.Is(err, ErrStaleRun) {
		t.Fatalf("expected ErrStaleRun from ask, got %v", err)
	}
	if u := s.Poll(); !u.Empty() {
		t.Fatalf("orphan writes must not surface, got %+v", u)
	}
	if s.Awaiting() || s.RunActive() {
		t.Fatalf("flags must be clear after reset: %+v", s.Snapshot())
	}

	next, err := s.BeginRun(context.Background())
	if err != nil {
		t.Fatalf("BeginRun after reset: %v", err)
	}
	if err := next.Complete("fresh"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	u := s.Poll()
	if u.Completion == nil || u.Completion.Text != "fresh" || u.Completion.RunID != next.ID() {
		t.Fatalf("expected fresh completion, got %+v", u)
	}
}

func TestResetUnblocksPendingAsk(t *testing.T) {
	s := New()
	run, err := s.BeginRun(context.Background())
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	done := make(chan askResult, 1)
	go func() {
		a, err := run.Ask(run.Context(), "scope?")
		done <- askResult{a, err}
	}()
	waitFor(t, s, s.Awaiting)
	s.Reset()

	res := <-done
	if res.err == nil {
		t.Fatalf("expected ask to fail after reset")
	}
	if err := s.SubmitAnswer("too late"); !errors.Is(err, ErrNoQuestionOutstanding) {
		t.Fatalf("expected no outstanding question, got %v", err)
	}
}

func TestBeginRunRejectsConcurrentRun(t *testing.T) {
	s := New()
	run, err := s.BeginRun(context.Background())
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if _, err := s.BeginRun(context.Background()); !errors.Is(err, ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	if err := run.Fail(errors.New("search provider down")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if s.RunActive() {
		t.Fatalf("run should be released after failure")
	}
	u := s.Poll()
	if u.Completion == nil || u.Completion.Kind != CompletionError || u.Completion.Text != "search provider down" {
		t.Fatalf("expected error completion, got %+v", u)
	}
	if _, err := s.BeginRun(context.Background()); err != nil {
		t.Fatalf("BeginRun after completion: %v", err)
	}
	s.Reset()
}

func TestUpdatedClosesOnWrite(t *testing.T) {
	s := New()
	ch := s.Updated()
	select {
	case <-ch:
		t.Fatalf("channel closed before any write")
	default:
	}
	s.PostProgress("hello")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("updated channel not closed after write")
	}
}

func TestObserverSeesAcceptedWrites(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds []EventKind
	)
	s := New(WithObserver(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	}))
	run, err := s.BeginRun(context.Background())
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	run.Progress(context.Background(), "working")
	s.Reset()
	run.Progress(context.Background(), "dropped")

	mu.Lock()
	defer mu.Unlock()
	want := []EventKind{EventRunStarted, EventProgress, EventReset}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}

func TestSnapshotDoesNotConsume(t *testing.T) {
	s := New()
	s.PostProgress("one")
	if _, err := s.PostQuestion("why?"); err != nil {
		t.Fatalf("PostQuestion: %v", err)
	}
	st := s.Snapshot()
	if !st.Awaiting || st.CurrentQuestion != "why?" || st.PendingProgress != 1 || st.PendingQuestions != 1 {
		t.Fatalf("unexpected snapshot %+v", st)
	}
	if u := s.Poll(); len(u.Progress) != 1 {
		t.Fatalf("snapshot must not consume progress, got %+v", u)
	}
}
