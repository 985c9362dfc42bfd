package screening

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/platform/auth"
	"github.com/edc/edc/internal/platform/middleware"
	"github.com/edc/edc/pkg/pagination"
)

// Handler exposes the screening-case HTTP API. Every route runs behind the
// tenant middleware, so the study database is already resolved on the
// request context.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "screening-api").Logger()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/screening-cases")
	g.GET("", h.List, auth.RequireRole("admin", "monitor", "investigator", "coordinator"))
	g.GET("/:case_number", h.Get, auth.RequireRole("admin", "monitor", "investigator", "coordinator"))
	g.POST("", h.Create, auth.RequireRole("admin", "investigator", "coordinator"))
	g.PUT("/:case_number", h.Update, auth.RequireRole("admin", "investigator", "coordinator"))
}

type caseRequest struct {
	CaseNumber    string            `json:"case_number"`
	Status        *string           `json:"status"`
	ConsentGiven  *bool             `json:"consent_given"`
	DateOfBirth   *string           `json:"date_of_birth"`
	ScreeningDate *string           `json:"screening_date"`
	Notes         *string           `json:"notes"`
	Reason        string            `json:"reason"`
	FieldReasons  map[string]string `json:"field_reasons"`
}

type caseResponse struct {
	CaseNumber    string  `json:"case_number"`
	Status        string  `json:"status"`
	ConsentGiven  *bool   `json:"consent_given,omitempty"`
	DateOfBirth   *string `json:"date_of_birth,omitempty"`
	ScreeningDate *string `json:"screening_date,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	VersionID     int     `json:"version_id"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func (h *Handler) Create(c echo.Context) error {
	var req caseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	reason, err := acceptReason(req.Reason)
	if err != nil {
		return err
	}
	if req.Status == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}

	in := CreateInput{
		CaseNumber:   req.CaseNumber,
		Status:       *req.Status,
		ConsentGiven: req.ConsentGiven,
		Notes:        req.Notes,
		Reason:       reason,
		FieldReasons: req.FieldReasons,
		SourceIP:     c.RealIP(),
	}
	if in.DateOfBirth, err = parseDate(req.DateOfBirth, "date_of_birth"); err != nil {
		return err
	}
	if in.ScreeningDate, err = parseDate(req.ScreeningDate, "screening_date"); err != nil {
		return err
	}

	sc, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toResponse(sc))
}

func (h *Handler) Update(c echo.Context) error {
	var req caseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	reason, err := acceptReason(req.Reason)
	if err != nil {
		return err
	}

	in := UpdateInput{
		Status:       req.Status,
		ConsentGiven: req.ConsentGiven,
		Notes:        req.Notes,
		Reason:       reason,
		FieldReasons: req.FieldReasons,
		SourceIP:     c.RealIP(),
	}
	if in.DateOfBirth, err = parseDate(req.DateOfBirth, "date_of_birth"); err != nil {
		return err
	}
	if in.ScreeningDate, err = parseDate(req.ScreeningDate, "screening_date"); err != nil {
		return err
	}

	sc, err := h.svc.Update(c.Request().Context(), c.Param("case_number"), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(sc))
}

func (h *Handler) Get(c echo.Context) error {
	reason, err := acceptReason(c.QueryParam("reason"))
	if err != nil {
		return err
	}

	sc, err := h.svc.Get(c.Request().Context(), c.Param("case_number"), reason, c.RealIP())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(sc))
}

func (h *Handler) List(c echo.Context) error {
	params := pagination.FromContext(c)
	cases, total, err := h.svc.List(c.Request().Context(), params.Limit, params.Offset)
	if err != nil {
		return h.fail(c, err)
	}

	out := make([]caseResponse, 0, len(cases))
	for _, sc := range cases {
		out = append(out, toResponse(sc))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, params.Limit, params.Offset))
}

// fail maps a service error to its HTTP response. Caller mistakes come back
// with their message; everything else is logged and answered with a generic
// failure so internal details never reach the client.
func (h *Handler) fail(c echo.Context, err error) error {
	var inputErr *InputError
	switch {
	case errors.As(err, &inputErr):
		return echo.NewHTTPError(http.StatusBadRequest, inputErr.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "screening case not found")
	case errors.Is(err, ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, "screening case was modified concurrently")
	}
	h.logger.Error().Err(err).
		Str("case_number", c.Param("case_number")).
		Str("path", c.Request().URL.Path).
		Msg("screening request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "could not complete the action")
}

// acceptReason validates and sanitizes the mandatory audit justification.
func acceptReason(reason string) (string, error) {
	if err := middleware.ValidateReason(reason); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return middleware.SanitizeReason(reason), nil
}

// parseDate accepts ISO dates and the day-first form legacy instruments
// still send.
func parseDate(s *string, field string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", "2/1/2006"} {
		if t, err := time.Parse(layout, strings.TrimSpace(*s)); err == nil {
			return &t, nil
		}
	}
	return nil, echo.NewHTTPError(http.StatusBadRequest, field+" is not a valid date")
}

func toResponse(sc *ScreeningCase) caseResponse {
	resp := caseResponse{
		CaseNumber:   sc.CaseNumber,
		Status:       sc.Status,
		ConsentGiven: sc.ConsentGiven,
		Notes:        sc.Notes,
		VersionID:    sc.VersionID,
		CreatedAt:    sc.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    sc.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if sc.DateOfBirth != nil {
		d := sc.DateOfBirth.Format("2006-01-02")
		resp.DateOfBirth = &d
	}
	if sc.ScreeningDate != nil {
		d := sc.ScreeningDate.Format("2006-01-02")
		resp.ScreeningDate = &d
	}
	return resp
}
