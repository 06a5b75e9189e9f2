package sweep

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iyacare/iyacare/internal/platform/auth"
	"github.com/iyacare/iyacare/internal/platform/metrics"
)

// MetricsSource provides the live pipeline counters.
type MetricsSource interface {
	Snapshot() *metrics.Snapshot
}

type Handler struct {
	runner  *Runner
	metrics MetricsSource
}

func NewHandler(runner *Runner, m MetricsSource) *Handler {
	return &Handler{runner: runner, metrics: m}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleOperator, auth.RoleClinician))
	read.GET("/sweeps/last", h.Last)
	read.GET("/metrics", h.Metrics)

	write := api.Group("", auth.RequireRole(auth.RoleOperator))
	write.POST("/sweeps", h.Trigger)
}

// Trigger runs a sweep synchronously. The sweep outlives a dropped client
// connection.
func (h *Handler) Trigger(c echo.Context) error {
	report, err := h.runner.Run(context.WithoutCancel(c.Request().Context()))
	if errors.Is(err, ErrInProgress) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Last(c echo.Context) error {
	report := h.runner.Last()
	if report == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no sweep has run yet")
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Metrics(c echo.Context) error {
	if h.metrics == nil {
		return echo.NewHTTPError(http.StatusNotFound, "metrics are disabled")
	}
	return c.JSON(http.StatusOK, h.metrics.Snapshot())
}
