package study

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/edc/edc/internal/platform/auth"
	"github.com/edc/edc/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "study-api").Logger()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "monitor", "investigator"))
	readGroup.GET("/studies", h.List)
	readGroup.GET("/studies/:study_id", h.Get)

	writeGroup := api.Group("", auth.RequireRole("admin"))
	writeGroup.POST("/studies", h.Create)
}

type createRequest struct {
	StudyID  string  `json:"study_id"`
	Name     string  `json:"name"`
	Sponsor  *string `json:"sponsor,omitempty"`
	Protocol *string `json:"protocol,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	st, err := h.svc.Create(c.Request().Context(), CreateInput{
		StudyID:  req.StudyID,
		Name:     req.Name,
		Sponsor:  req.Sponsor,
		Protocol: req.Protocol,
	})
	if err != nil {
		var inputErr *InputError
		if errors.As(err, &inputErr) {
			return echo.NewHTTPError(http.StatusBadRequest, inputErr.Error())
		}
		h.logger.Error().Err(err).Str("study", req.StudyID).Msg("study provisioning failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "could not complete the action")
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) Get(c echo.Context) error {
	st, err := h.svc.Get(c.Request().Context(), c.Param("study_id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "study not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not load study")
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	studies, total, err := h.svc.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list studies")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(studies, total, p.Limit, p.Offset))
}
