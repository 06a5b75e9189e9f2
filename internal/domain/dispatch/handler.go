package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iyacare/iyacare/internal/platform/auth"
	"github.com/iyacare/iyacare/pkg/pagination"
)

// Renderer resolves template bodies for batch requests.
type Renderer interface {
	Render(ctx context.Context, id, language string, vars map[string]string) (string, error)
	RenderStrict(ctx context.Context, id, language string, vars map[string]string) (string, error)
	RecordUsage(ctx context.Context, id string) error
}

// CallbackConfig controls verification of Twilio status callbacks. An empty
// AuthToken disables signature checks.
type CallbackConfig struct {
	AuthToken string
	URL       string
}

type Handler struct {
	dispatcher *Dispatcher
	renderer   Renderer
	callback   CallbackConfig
}

func NewHandler(dispatcher *Dispatcher, renderer Renderer, callback CallbackConfig) *Handler {
	return &Handler{dispatcher: dispatcher, renderer: renderer, callback: callback}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleOperator))
	read.GET("/messages", h.List)
	read.GET("/messages/:id", h.Get)

	write := api.Group("", auth.RequireRole(auth.RoleOperator))
	write.POST("/messages/batch", h.SendBatch)

	// Gateway callbacks carry no bearer token; see auth.AuthSkipper.
	api.POST("/messages/status", h.StatusCallback)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{Status: Status(c.QueryParam("status")), Channel: Channel(c.QueryParam("channel"))}
	if f.Status != "" && !f.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	if f.Channel != "" && f.Channel != ChannelSMS && f.Channel != ChannelEmail {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid channel")
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	items, total, err := h.dispatcher.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	m, err := h.dispatcher.Get(c.Request().Context(), id)
	if errors.Is(err, ErrMessageNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, m)
}

type batchMessage struct {
	Channel    Channel           `json:"channel"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id"`
	Language   string            `json:"language"`
	Variables  map[string]string `json:"variables"`
	Category   string            `json:"category"`
	Priority   string            `json:"priority"`
	PatientID  *uuid.UUID        `json:"patient_id"`
}

type batchRequest struct {
	Messages  []batchMessage `json:"messages"`
	BatchSize int            `json:"batch_size"`
	Strict    bool           `json:"strict"`
}

// SendBatch renders every message before sending any; a render error
// rejects the whole request.
func (h *Handler) SendBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages is required")
	}
	ctx := c.Request().Context()

	msgs := make([]*OutboundMessage, 0, len(req.Messages))
	for i, in := range req.Messages {
		if in.Channel == "" {
			in.Channel = ChannelSMS
		}
		body := in.Body
		if in.TemplateID != "" {
			if h.renderer == nil {
				return echo.NewHTTPError(http.StatusBadRequest, "templates are not available")
			}
			render := h.renderer.Render
			if req.Strict {
				render = h.renderer.RenderStrict
			}
			out, err := render(ctx, in.TemplateID, in.Language, in.Variables)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{"index": i, "error": err.Error()})
			}
			body = out
		}
		if body == "" {
			return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{"index": i, "error": "body or template_id is required"})
		}
		msgs = append(msgs, &OutboundMessage{
			Channel:    in.Channel,
			Recipient:  in.Recipient,
			Subject:    in.Subject,
			Body:       body,
			Category:   in.Category,
			Priority:   in.Priority,
			PatientID:  in.PatientID,
			TemplateID: in.TemplateID,
		})
	}

	report := h.dispatcher.SendBatch(ctx, msgs, req.BatchSize)
	if h.renderer != nil {
		for _, m := range report.Messages {
			if m.TemplateID != "" && m.Status.Reached() {
				_ = h.renderer.RecordUsage(ctx, m.TemplateID)
			}
		}
	}
	return c.JSON(http.StatusOK, report)
}

// StatusCallback accepts Twilio-style form posts carrying MessageSid and
// MessageStatus.
func (h *Handler) StatusCallback(c echo.Context) error {
	params, err := c.FormParams()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if h.callback.AuthToken != "" {
		target := h.callback.URL
		if target == "" {
			target = requestURL(c)
		}
		if !ValidateTwilioSignature(h.callback.AuthToken, target, params, c.Request().Header.Get("X-Twilio-Signature")) {
			return echo.NewHTTPError(http.StatusForbidden, "invalid signature")
		}
	}

	sid := params.Get("MessageSid")
	if sid == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "MessageSid is required")
	}
	status, ok := MapTwilioStatus(params.Get("MessageStatus"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown MessageStatus")
	}
	reason := params.Get("ErrorMessage")
	if reason == "" && status == StatusFailed {
		reason = "carrier reported " + params.Get("MessageStatus")
		if code := params.Get("ErrorCode"); code != "" {
			reason += " (" + code + ")"
		}
	}

	_, _, err = h.dispatcher.ApplyStatus(c.Request().Context(), sid, status, reason)
	switch {
	case errors.Is(err, ErrMessageNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	case errors.Is(err, ErrInvalidTransition):
		// Out-of-order receipts are acknowledged so the gateway stops retrying.
		return c.NoContent(http.StatusNoContent)
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func requestURL(c echo.Context) string {
	u := url.URL{Scheme: c.Scheme(), Host: c.Request().Host, Path: c.Request().URL.Path, RawQuery: c.Request().URL.RawQuery}
	return u.String()
}
