package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/deepresearch/internal/chat"
	"github.com/mohammad-safakhou/deepresearch/internal/executor"
	"github.com/mohammad-safakhou/deepresearch/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var sessionTracer = otel.Tracer("github.com/mohammad-safakhou/deepresearch/internal/server")

// SessionHandler exposes the shared research session to browser and CLI clients.
type SessionHandler struct {
	session   *session.Session
	exec      *executor.Executor
	events    EventLog
	stream    bool
	keepAlive time.Duration
	logger    *zap.Logger
}

func (h *SessionHandler) Register(g *echo.Group) {
	g.POST("/input", h.input)
	g.POST("/answer", h.answer)
	g.GET("/updates", h.updates)
	g.GET("/state", h.state)
	g.GET("/stream", h.streamUpdates)
	g.POST("/reset", h.reset)
	g.GET("/events", h.recentEvents)
}

// input routes text like the chat box does: an answer while a question is
// outstanding, otherwise a new research question.
func (h *SessionHandler) input(c echo.Context) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, chat.MsgEnterQuestion)
	}
	if h.session.Awaiting() {
		if err := h.session.SubmitAnswer(text); err == nil {
			return c.JSON(http.StatusOK, InputResponse{Status: "answered"})
		}
	}
	id, err := h.exec.Submit(c.Request().Context(), text)
	if err != nil {
		return submitError(err)
	}
	return c.JSON(http.StatusAccepted, InputResponse{Status: "started", RunID: id})
}

// answer resumes the waiting stage. Without an outstanding question the
// answer is ignored.
func (h *SessionHandler) answer(c echo.Context) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.session.SubmitAnswer(req.Text); err != nil {
		if errors.Is(err, session.ErrNoQuestionOutstanding) {
			return c.JSON(http.StatusOK, StatusResponse{Status: "ignored"})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, StatusResponse{Status: "accepted"})
}

func (h *SessionHandler) updates(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Poll())
}

func (h *SessionHandler) state(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *SessionHandler) reset(c echo.Context) error {
	h.session.Reset()
	return c.JSON(http.StatusOK, StatusResponse{Status: "reset"})
}

// streamUpdates drains the session as Server-Sent Events. Like /updates it
// consumes what it sends, so only one consumer should be attached.
func (h *SessionHandler) streamUpdates(c echo.Context) error {
	if !h.stream {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session stream disabled")
	}
	req := c.Request()
	ctx, span := sessionTracer.Start(req.Context(), "SessionHandler.streamUpdates")
	defer span.End()

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()
	sent := 0
	for {
		changed := h.session.Updated()
		u := h.session.Poll()
		if !u.Empty() {
			data, err := json.Marshal(u)
			if err != nil {
				return err
			}
			if _, err := resp.Write([]byte("event: update\ndata: " + string(data) + "\n\n")); err != nil {
				span.SetAttributes(attribute.Int("updates_sent", sent))
				return nil
			}
			flusher.Flush()
			sent++
			continue
		}
		select {
		case <-ctx.Done():
			span.SetAttributes(attribute.Int("updates_sent", sent))
			return nil
		case <-changed:
		case <-keepAlive.C:
			if _, err := resp.Write([]byte(": keep-alive\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

func (h *SessionHandler) recentEvents(c echo.Context) error {
	if h.events == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "event mirror not configured")
	}
	n := int64(50)
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		n = parsed
	}
	recs, err := h.events.Recent(c.Request().Context(), n)
	if err != nil {
		h.logger.Warn("read event stream", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, recs)
}

func submitError(err error) error {
	switch {
	case errors.Is(err, executor.ErrEmptyQuestion):
		return echo.NewHTTPError(http.StatusBadRequest, chat.MsgEnterQuestion)
	case errors.Is(err, executor.ErrRunActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, executor.ErrShutdown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
