package template

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iyacare/iyacare/internal/platform/auth"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleOperator))
	read.GET("/templates", h.List)
	read.GET("/templates/:id", h.Get)
	read.POST("/templates/:id/preview", h.Preview)

	write := api.Group("", auth.RequireRole(auth.RoleOperator))
	write.PATCH("/templates/:id", h.Update)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	category := c.QueryParam("category")
	if category != "" && !validCategories[category] {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid category")
	}
	var (
		items []*Template
		err   error
	)
	if c.QueryParam("active") == "true" {
		items, err = h.engine.ListActive(ctx, category)
	} else {
		items, err = h.engine.List(ctx, category)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Get(c echo.Context) error {
	t, err := h.engine.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrTemplateNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

type previewRequest struct {
	Language  string            `json:"language"`
	Variables map[string]string `json:"variables"`
	Strict    bool              `json:"strict"`
}

func (h *Handler) Preview(c echo.Context) error {
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	render := h.engine.Render
	if req.Strict {
		render = h.engine.RenderStrict
	}
	body, err := render(c.Request().Context(), c.Param("id"), req.Language, req.Variables)
	if err != nil {
		return renderError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":         c.Param("id"),
		"language":   req.Language,
		"body":       body,
		"unresolved": Placeholders(body),
	})
}

type updateRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) Update(c echo.Context) error {
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is required")
	}
	t, err := h.engine.SetActive(c.Request().Context(), c.Param("id"), *req.Active)
	if errors.Is(err, ErrTemplateNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "template not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func renderError(err error) error {
	switch {
	case errors.Is(err, ErrTemplateNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnsupportedLanguage), errors.Is(err, ErrMissingVariable):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
