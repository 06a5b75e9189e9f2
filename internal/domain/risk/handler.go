package risk

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iyacare/iyacare/internal/domain/patient"
	"github.com/iyacare/iyacare/internal/domain/vitals"
	"github.com/iyacare/iyacare/internal/platform/auth"
	"github.com/iyacare/iyacare/pkg/pagination"
)

// Handler serves vitals capture and on-demand assessment.
type Handler struct {
	vitals     *vitals.Service
	patients   vitals.PatientLookup
	assessor   Assessor
	reconciler *Reconciler
}

func NewHandler(vs *vitals.Service, patients vitals.PatientLookup, assessor Assessor, reconciler *Reconciler) *Handler {
	return &Handler{vitals: vs, patients: patients, assessor: assessor, reconciler: reconciler}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleOperator))
	read.GET("/patients/:id/vitals", h.ListVitals)
	read.GET("/patients/:id/assessment", h.GetAssessment)

	write := api.Group("", auth.RequireRole(auth.RoleClinician))
	write.POST("/patients/:id/vitals", h.RecordVitals)
}

type recordResponse struct {
	Reading    *vitals.Reading    `json:"reading"`
	Assessment *Assessment        `json:"assessment"`
	Risk       *patient.RiskState `json:"risk"`
}

// RecordVitals stores a reading, scores it and reconciles the patient's
// risk immediately. The oracle is consulted only by sweeps.
func (h *Handler) RecordVitals(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var r vitals.Reading
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = uuid.Nil
	r.PatientID = pid
	if r.RecordedBy == "" {
		r.RecordedBy = auth.UserIDFromContext(c.Request().Context())
	}

	ctx := c.Request().Context()
	if err := h.vitals.Record(ctx, &r); err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, err := h.patients.GetByID(ctx, pid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	a, err := h.assessor.Assess(ctx, p, &r)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	state, err := h.reconciler.Reconcile(ctx, pid, a, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, recordResponse{Reading: &r, Assessment: a, Risk: state})
}

func (h *Handler) ListVitals(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.vitals.ListByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// GetAssessment scores the latest reading without persisting anything.
func (h *Handler) GetAssessment(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.patients.GetByID(ctx, pid)
	if errors.Is(err, patient.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	r, err := h.vitals.Latest(ctx, pid)
	if errors.Is(err, vitals.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no readings for patient")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	a, err := h.assessor.Assess(ctx, p, r)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}
