package chat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/executor"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/session"
)

// Remote talks to a deepresearch server over its HTTP API. Reads are retried;
// writes are sent once since starting a run or answering is not idempotent.
type Remote struct {
	base  string
	token string
	http  *helpers.HTTPClient
	send  *helpers.HTTPClient
}

// NewRemote targets baseURL (for example http://localhost:10001). token is
// sent as a bearer token when non-empty.
func NewRemote(baseURL, token string) *Remote {
	return &Remote{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  helpers.NewHTTPClient(15*time.Second, 1, 200*time.Millisecond),
		send:  helpers.NewHTTPClient(15*time.Second, 0, 0),
	}
}

func (r *Remote) headers() map[string]string {
	if r.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + r.token}
}

type textRequest struct {
	Text string `json:"text"`
}

func (r *Remote) Submit(ctx context.Context, question string) (string, error) {
	var out struct {
		RunID string `json:"run_id"`
	}
	err := r.send.DoJSON(ctx, http.MethodPost, r.base+"/api/runs", r.headers(), textRequest{Text: question}, &out)
	switch {
	case helpers.IsStatus(err, http.StatusBadRequest):
		return "", executor.ErrEmptyQuestion
	case helpers.IsStatus(err, http.StatusConflict):
		return "", executor.ErrRunActive
	case helpers.IsStatus(err, http.StatusServiceUnavailable):
		return "", executor.ErrShutdown
	case err != nil:
		return "", err
	}
	return out.RunID, nil
}

func (r *Remote) Answer(ctx context.Context, text string) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := r.send.DoJSON(ctx, http.MethodPost, r.base+"/api/session/answer", r.headers(), textRequest{Text: text}, &out); err != nil {
		return err
	}
	if out.Status == "ignored" {
		return session.ErrNoQuestionOutstanding
	}
	return nil
}

func (r *Remote) State(ctx context.Context) (session.State, error) {
	var st session.State
	err := r.http.DoJSON(ctx, http.MethodGet, r.base+"/api/session/state", r.headers(), nil, &st)
	return st, err
}

func (r *Remote) Poll(ctx context.Context) (session.Updates, error) {
	var u session.Updates
	err := r.http.DoJSON(ctx, http.MethodGet, r.base+"/api/session/updates", r.headers(), nil, &u)
	return u, err
}

func (r *Remote) Reset(ctx context.Context) error {
	return r.send.DoJSON(ctx, http.MethodPost, r.base+"/api/session/reset", r.headers(), nil, nil)
}
