package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/deepresearch/internal/executor"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

// RunsHandler starts research runs and serves the archive.
type RunsHandler struct {
	exec    *executor.Executor
	archive RunArchive
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

func (h *RunsHandler) create(c echo.Context) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := h.exec.Submit(c.Request().Context(), req.Text)
	if err != nil {
		return submitError(err)
	}
	return c.JSON(http.StatusAccepted, RunStarted{RunID: id})
}

func (h *RunsHandler) list(c echo.Context) error {
	if h.archive == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run archive not configured")
	}
	limit := 20
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 200")
		}
		limit = n
	}
	runs, err := h.archive.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) get(c echo.Context) error {
	if h.archive == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run archive not configured")
	}
	rec, err := h.archive.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toRunResponse(rec))
}
