package alert

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iyacare/iyacare/internal/platform/auth"
	"github.com/iyacare/iyacare/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	dedup *Deduplicator
}

func NewHandler(dedup *Deduplicator) *Handler {
	return &Handler{dedup: dedup}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleOperator))
	read.GET("/notifications", h.List)
	read.POST("/notifications/:id/read", h.MarkRead)
	read.GET("/high-risk/summary", h.Summary)
	read.GET("/high-risk/export.xlsx", h.Export)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{Category: c.QueryParam("category")}
	if f.Category != "" && !validCategories[f.Category] {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid category")
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("unread"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid unread flag")
		}
		f.UnreadOnly = unread
	}

	items, total, err := h.dedup.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.dedup.MarkRead(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Summary(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	s, err := h.dedup.Summary(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Export(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.dedup.Export(c.Request().Context(), &buf); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="high-risk-patients.xlsx"`)
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}
