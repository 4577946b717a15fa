package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"tapcore/internal/errors"
	"tapcore/internal/service"
)

// AdminHandler handles operational card endpoints.
type AdminHandler struct {
	cardAdmin service.CardAdminService
	authz     service.AuthorizationService
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cardAdmin service.CardAdminService, authz service.AuthorizationService) *AdminHandler {
	return &AdminHandler{cardAdmin: cardAdmin, authz: authz}
}

// BlockCardRequest carries the operator's block reason.
type BlockCardRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// PrewarmRequest names the cards and amounts to pre-compute decisions for. An
// empty card set warms every active card.
type PrewarmRequest struct {
	CardIDs []string `json:"card_ids" validate:"omitempty,dive,uuid"`
	Amounts []string `json:"amounts" validate:"required,min=1"`
}

func cardIDParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid card ID",
			Code:  "INVALID_UUID",
		})
	}
	return id, nil
}

// BlockCard blocks a card.
func (h *AdminHandler) BlockCard(c echo.Context) error {
	cardID, err := cardIDParam(c)
	if err != nil {
		return err
	}

	var req BlockCardRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_ERROR",
		})
	}

	if err := h.cardAdmin.BlockCard(c.Request().Context(), cardID, req.Reason); err != nil {
		httpErr := errors.MapErrorToHTTP(err)
		return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
	}
	return c.NoContent(http.StatusNoContent)
}

// UnblockCard returns a blocked card to active.
func (h *AdminHandler) UnblockCard(c echo.Context) error {
	cardID, err := cardIDParam(c)
	if err != nil {
		return err
	}

	if err := h.cardAdmin.UnblockCard(c.Request().Context(), cardID); err != nil {
		httpErr := errors.MapErrorToHTTP(err)
		return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
	}
	return c.NoContent(http.StatusNoContent)
}

// ResetLimits zeroes a card's spend counters.
func (h *AdminHandler) ResetLimits(c echo.Context) error {
	cardID, err := cardIDParam(c)
	if err != nil {
		return err
	}

	if err := h.cardAdmin.ResetLimits(c.Request().Context(), cardID); err != nil {
		httpErr := errors.MapErrorToHTTP(err)
		return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
	}
	return c.NoContent(http.StatusNoContent)
}

// GetCard returns a card with its limits and counters.
func (h *AdminHandler) GetCard(c echo.Context) error {
	cardID, err := cardIDParam(c)
	if err != nil {
		return err
	}

	card, err := h.cardAdmin.GetCard(c.Request().Context(), cardID)
	if err != nil {
		httpErr := errors.MapErrorToHTTP(err)
		return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
	}
	return c.JSON(http.StatusOK, card)
}

// Prewarm populates the decision cache ahead of expected traffic.
func (h *AdminHandler) Prewarm(c echo.Context) error {
	var req PrewarmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: err.Error(),
			Code:  "VALIDATION_ERROR",
		})
	}

	cardIDs := make([]uuid.UUID, 0, len(req.CardIDs))
	for _, raw := range req.CardIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
				Error: "invalid card ID",
				Code:  "INVALID_UUID",
			})
		}
		cardIDs = append(cardIDs, id)
	}

	amounts := make([]decimal.Decimal, 0, len(req.Amounts))
	for _, raw := range req.Amounts {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
				Error: "invalid amount",
				Code:  "INVALID_AMOUNT",
			})
		}
		amounts = append(amounts, amount)
	}

	h.authz.Prewarm(c.Request().Context(), cardIDs, amounts)
	return c.NoContent(http.StatusAccepted)
}
