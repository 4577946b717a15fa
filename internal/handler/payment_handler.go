package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"tapcore/internal/errors"
	"tapcore/internal/model"
	"tapcore/internal/service"
)

// PaymentHandler handles payment endpoints.
type PaymentHandler struct {
	paymentService service.PaymentService
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// AuthorizePaymentRequest represents an authorize-and-pay request from a
// terminal.
type AuthorizePaymentRequest struct {
	CardID     string `json:"card_id" validate:"required,uuid"`
	Amount     string `json:"amount" validate:"required"`
	MerchantID string `json:"merchant_id" validate:"required,uuid"`
	TerminalID string `json:"terminal_id" validate:"required,max=64"`
}

// PaymentResponse represents the outcome of a payment request.
type PaymentResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	LedgerRef     string `json:"ledger_ref,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// RefundRequest represents a refund request against a completed transaction.
type RefundRequest struct {
	Amount string `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"max=255"`
}

func paymentResponse(tx *model.Transaction) PaymentResponse {
	return PaymentResponse{
		TransactionID: tx.ID.String(),
		Status:        string(tx.Status),
		LedgerRef:     tx.LedgerRef,
		FailureReason: tx.FailureReason,
	}
}

// AuthorizeAndPay runs the full authorization and payment flow for one tap.
func (h *PaymentHandler) AuthorizeAndPay(c echo.Context) error {
	var req AuthorizePaymentRequest
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

	cardID, err := uuid.Parse(req.CardID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid card_id",
			Code:  "INVALID_UUID",
		})
	}

	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid merchant_id",
			Code:  "INVALID_UUID",
		})
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid amount",
			Code:  "INVALID_AMOUNT",
		})
	}

	tx, err := h.paymentService.AuthorizeAndPay(c.Request().Context(), cardID, amount, merchantID, req.TerminalID)
	if err != nil {
		if tx != nil {
			// The transaction record carries the stable reason code; the
			// HTTP status still reflects the error class.
			httpErr := errors.MapErrorToHTTP(err)
			return c.JSON(httpErr.StatusCode, paymentResponse(tx))
		}
		httpErr := errors.MapErrorToHTTP(err)
		return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
	}

	return c.JSON(http.StatusOK, paymentResponse(tx))
}

// GetTransaction returns a transaction by id.
func (h *PaymentHandler) GetTransaction(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid transaction ID",
			Code:  "INVALID_UUID",
		})
	}

	tx, err := h.paymentService.GetTransaction(c.Request().Context(), id)
	if err != nil {
		httpErr := errors.MapErrorToHTTP(err)
		return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
	}

	return c.JSON(http.StatusOK, tx)
}

// Cancel cancels a transaction still in pending.
func (h *PaymentHandler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid transaction ID",
			Code:  "INVALID_UUID",
		})
	}

	tx, err := h.paymentService.Cancel(c.Request().Context(), id)
	if err != nil {
		httpErr := errors.MapErrorToHTTP(err)
		return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
	}

	return c.JSON(http.StatusOK, paymentResponse(tx))
}

// Refund records a compensating transaction against a completed payment.
func (h *PaymentHandler) Refund(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid transaction ID",
			Code:  "INVALID_UUID",
		})
	}

	var req RefundRequest
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

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
			Error: "invalid amount",
			Code:  "INVALID_AMOUNT",
		})
	}

	refund, err := h.paymentService.Refund(c.Request().Context(), id, amount, req.Reason)
	if err != nil {
		httpErr := errors.MapErrorToHTTP(err)
		return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
	}

	return c.JSON(http.StatusOK, paymentResponse(refund))
}
