package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mohammad-safakhou/deepresearch/internal/chat"
	"github.com/mohammad-safakhou/deepresearch/internal/events"
	"github.com/mohammad-safakhou/deepresearch/internal/executor"
	"github.com/mohammad-safakhou/deepresearch/internal/research"
	"github.com/mohammad-safakhou/deepresearch/internal/session"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

type runnerFunc func(ctx context.Context, question string, ask research.AskFunc, progress research.ProgressFunc) (*research.Report, error)

func (f runnerFunc) Run(ctx context.Context, question string, ask research.AskFunc, progress research.ProgressFunc) (*research.Report, error) {
	return f(ctx, question, ask, progress)
}

func blockingRunner() runnerFunc {
	return func(ctx context.Context, _ string, _ research.AskFunc, progress research.ProgressFunc) (*research.Report, error) {
		progress(ctx, "Planning")
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

type fakeArchive struct {
	runs []store.RunRecord
}

func (a *fakeArchive) GetRun(_ context.Context, id string) (store.RunRecord, error) {
	for _, r := range a.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return store.RunRecord{}, store.ErrNotFound
}

func (a *fakeArchive) ListRuns(_ context.Context, limit int) ([]store.RunRecord, error) {
	if limit < len(a.runs) {
		return a.runs[:limit], nil
	}
	return a.runs, nil
}

type fakeEvents struct {
	recs []events.Record
	err  error
	n    int64
}

func (f *fakeEvents) Recent(_ context.Context, n int64) ([]events.Record, error) {
	f.n = n
	return f.recs, f.err
}

type harness struct {
	srv     http.Handler
	session *session.Session
	exec    *executor.Executor
}

func newHarness(t *testing.T, r executor.Runner, mutate func(*Deps)) *harness {
	t.Helper()
	s := session.New()
	ex := executor.New(s, r)
	d := Deps{Session: s, Executor: ex, StreamEnabled: true, KeepAlive: time.Second}
	if mutate != nil {
		mutate(&d)
	}
	t.Cleanup(func() {
		s.Reset()
		ex.Wait()
	})
	return &harness{srv: New(d), session: s, exec: ex}
}

func (h *harness) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, blockingRunner(), nil)
	rec := h.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestInputEmptyReturnsPrompt(t *testing.T) {
	h := newHarness(t, blockingRunner(), nil)
	rec := h.do(t, http.MethodPost, "/api/session/input", `{"text":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decode[HTTPError](t, rec).Error; got != chat.MsgEnterQuestion {
		t.Fatalf("error = %q", got)
	}
	if h.session.RunActive() {
		t.Fatalf("empty input must not start a run")
	}
}

func TestInputStartsRunAndRejectsSecond(t *testing.T) {
	h := newHarness(t, blockingRunner(), nil)

	rec := h.do(t, http.MethodPost, "/api/session/input", `{"text":"rust async"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[InputResponse](t, rec)
	if resp.Status != "started" || resp.RunID == "" {
		t.Fatalf("response = %+v", resp)
	}

	rec = h.do(t, http.MethodPost, "/api/runs", `{"text":"another"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second run status = %d, want 409", rec.Code)
	}

	st := decode[session.State](t, h.do(t, http.MethodGet, "/api/session/state", ""))
	if !st.RunActive || st.RunID != resp.RunID {
		t.Fatalf("state = %+v", st)
	}

	rec = h.do(t, http.MethodPost, "/api/session/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	h.exec.Wait()
	if u := decode[session.Updates](t, h.do(t, http.MethodGet, "/api/session/updates", "")); !u.Empty() {
		t.Fatalf("updates after reset = %+v", u)
	}
}

func TestInputAnswersOutstandingQuestion(t *testing.T) {
	h := newHarness(t, runnerFunc(func(ctx context.Context, q string, ask research.AskFunc, _ research.ProgressFunc) (*research.Report, error) {
		level, err := ask(ctx, "Which audience level?")
		if err != nil {
			return nil, err
		}
		return &research.Report{Text: q + " for " + level}, nil
	}), nil)

	if rec := h.do(t, http.MethodPost, "/api/session/input", `{"text":"intro to go"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d", rec.Code)
	}
	waitFor(t, "question", h.session.Awaiting)

	u := decode[session.Updates](t, h.do(t, http.MethodGet, "/api/session/updates", ""))
	if u.Question != "Which audience level?" {
		t.Fatalf("updates = %+v", u)
	}

	rec := h.do(t, http.MethodPost, "/api/session/input", `{"text":"beginner"}`)
	if rec.Code != http.StatusOK || decode[InputResponse](t, rec).Status != "answered" {
		t.Fatalf("answer via input = %d %s", rec.Code, rec.Body.String())
	}
	h.exec.Wait()

	u = decode[session.Updates](t, h.do(t, http.MethodGet, "/api/session/updates", ""))
	if u.Completion == nil || u.Completion.Kind != session.CompletionResult || u.Completion.Text != "intro to go for beginner" {
		t.Fatalf("completion = %+v", u.Completion)
	}
}

func TestAnswerWhileIdleIsIgnored(t *testing.T) {
	h := newHarness(t, blockingRunner(), nil)
	rec := h.do(t, http.MethodPost, "/api/session/answer", `{"text":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[StatusResponse](t, rec).Status; got != "ignored" {
		t.Fatalf("status = %q", got)
	}
	if st := h.session.Snapshot(); st.Awaiting || st.RunActive || st.PendingProgress != 0 {
		t.Fatalf("idle answer changed state: %+v", st)
	}
}

func TestBearerAuth(t *testing.T) {
	secret := []byte("s3cret")
	h := newHarness(t, blockingRunner(), func(d *Deps) { d.Secret = secret })

	if rec := h.do(t, http.MethodGet, "/api/session/state", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/api/session/state", "", "Authorization", "Bearer nope"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", rec.Code)
	}
	tok, err := SignToken("cli", secret, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if rec := h.do(t, http.MethodGet, "/api/session/state", "", "Authorization", "Bearer "+tok); rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d", rec.Code)
	}
	other, _ := SignToken("cli", []byte("other"), time.Minute)
	if rec := h.do(t, http.MethodGet, "/api/session/state", "", "Authorization", "Bearer "+other); rec.Code != http.StatusUnauthorized {
		t.Fatalf("foreign token status = %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz must stay public, got %d", rec.Code)
	}
}

func TestRunsArchive(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	archive := &fakeArchive{runs: []store.RunRecord{{
		ID:         "run-1",
		Question:   "q",
		Status:     store.StatusSucceeded,
		Report:     "# Report",
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
	}}}

	bare := newHarness(t, blockingRunner(), nil)
	if rec := bare.do(t, http.MethodGet, "/api/runs", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("no archive status = %d", rec.Code)
	}

	h := newHarness(t, blockingRunner(), func(d *Deps) { d.Archive = archive })
	list := decode[[]RunResponse](t, h.do(t, http.MethodGet, "/api/runs?limit=5", ""))
	if len(list) != 1 || list[0].ID != "run-1" || list[0].DurationSeconds != 90 {
		t.Fatalf("list = %+v", list)
	}
	if rec := h.do(t, http.MethodGet, "/api/runs?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
	got := decode[RunResponse](t, h.do(t, http.MethodGet, "/api/runs/run-1", ""))
	want := RunResponse{
		ID:              "run-1",
		Question:        "q",
		Status:          store.StatusSucceeded,
		Report:          "# Report",
		StartedAt:       started,
		FinishedAt:      started.Add(90 * time.Second),
		DurationSeconds: 90,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("run mismatch (-want +got):\n%s", diff)
	}
	if rec := h.do(t, http.MethodGet, "/api/runs/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing run status = %d", rec.Code)
	}
}

func TestRecentEvents(t *testing.T) {
	bare := newHarness(t, blockingRunner(), nil)
	if rec := bare.do(t, http.MethodGet, "/api/session/events", ""); rec.Code != http.StatusNotImplemented {
		t.Fatalf("no mirror status = %d", rec.Code)
	}

	log := &fakeEvents{recs: []events.Record{{ID: "1-0", Kind: session.EventProgress, RunID: "r1"}}}
	h := newHarness(t, blockingRunner(), func(d *Deps) { d.Events = log })
	recs := decode[[]events.Record](t, h.do(t, http.MethodGet, "/api/session/events?limit=7", ""))
	if len(recs) != 1 || recs[0].ID != "1-0" || recs[0].Kind != session.EventProgress || log.n != 7 {
		t.Fatalf("events = %+v n=%d", recs, log.n)
	}

	log.err = errors.New("redis down")
	if rec := h.do(t, http.MethodGet, "/api/session/events", ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("redis failure status = %d", rec.Code)
	}
}

func TestStreamDeliversUpdates(t *testing.T) {
	h := newHarness(t, blockingRunner(), nil)
	ts := httptest.NewServer(h.srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/session/stream", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	if _, err := h.exec.Submit(context.Background(), "stream me"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "data: ") {
				lines <- strings.TrimPrefix(sc.Text(), "data: ")
				return
			}
		}
		close(lines)
	}()

	select {
	case data, ok := <-lines:
		if !ok {
			t.Fatalf("stream closed before an update")
		}
		var u session.Updates
		if err := json.Unmarshal([]byte(data), &u); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		if len(u.Progress) != 1 || u.Progress[0] != "Planning" {
			t.Fatalf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no update streamed")
	}
}

func TestStreamDisabled(t *testing.T) {
	h := newHarness(t, blockingRunner(), func(d *Deps) { d.StreamEnabled = false })
	if rec := h.do(t, http.MethodGet, "/api/session/stream", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
