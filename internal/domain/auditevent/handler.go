package auditevent

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/platform/audit"
	"github.com/edc/edc/internal/platform/auth"
	"github.com/edc/edc/pkg/pagination"
)

// Handler exposes the audit trail over HTTP. All routes are reads except
// the admin-only verification trigger; there is deliberately no PUT, PATCH
// or DELETE surface.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "audit-api").Logger()}
}

// RegisterRoutes mounts the study-scoped trail reads. The group must run
// behind the tenant middleware.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/audit-events")
	g.GET("", h.List, auth.RequireRole("admin", "monitor", "auditor"))
	g.GET("/:id", h.Get, auth.RequireRole("admin", "monitor", "auditor"))
	g.GET("/:id/details", h.Details, auth.RequireRole("admin", "monitor", "auditor"))
}

// RegisterAdminRoutes mounts the verification trigger outside tenant scope:
// one sweep covers every registered study.
func (h *Handler) RegisterAdminRoutes(api *echo.Group) {
	api.POST("/audit-verifications", h.Verify, auth.RequireRole("admin"))
}

func (h *Handler) List(c echo.Context) error {
	params := pagination.FromContext(c)
	f := audit.ListFilters{
		EntityType: c.QueryParam("entity_type"),
		SubjectID:  c.QueryParam("subject_id"),
		ActorID:    c.QueryParam("actor_id"),
		Action:     audit.Action(c.QueryParam("action")),
		Limit:      params.Limit,
		Offset:     params.Offset,
	}
	if f.Action != "" && !f.Action.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid action filter")
	}
	if since := c.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC 3339")
		}
		f.Since = t
	}

	events, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}

	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, params.Limit, params.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event id")
	}

	event, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toEventResponse(event))
}

func (h *Handler) Details(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event id")
	}

	details, err := h.svc.Details(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}

	out := make([]DetailResponse, 0, len(details))
	for _, d := range details {
		out = append(out, toDetailResponse(d))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Verify(c echo.Context) error {
	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC 3339")
		}
		since = t
	}

	report, err := h.svc.Verify(c.Request().Context(), since, auth.ActorIDFromContext(c.Request().Context()))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// fail answers not-found lookups precisely and everything else generically:
// trail reads must never echo database or ledger internals to the client.
func (h *Handler) fail(c echo.Context, err error) error {
	if errors.Is(err, audit.ErrEventNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "audit event not found")
	}
	h.logger.Error().Err(err).
		Str("path", c.Request().URL.Path).
		Msg("audit trail request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "could not complete the action")
}
