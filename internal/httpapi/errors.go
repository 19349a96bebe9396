package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkorolev/commerce/internal/client"
	"github.com/dkorolev/commerce/internal/domain"
)

// ErrorResponse — тело ошибки HTTP API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func errorBody(message, code string, details any) ErrorResponse {
	return ErrorResponse{Error: message, Code: code, Details: details}
}

// writeError транслирует доменные ошибки в HTTP-статусы. Ошибки вне
// известной таксономии считаются внутренними и не раскрывают деталей.
func writeError(c *gin.Context, err error) {
	var timeout *client.DownstreamTimeoutError
	var abort *client.DownstreamAbortError

	switch {
	case domain.IsNotFound(err):
		c.JSON(http.StatusNotFound, errorBody(err.Error(), "NOT_FOUND", nil))
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		c.JSON(http.StatusConflict, errorBody(err.Error(), "ALREADY_PROCESSING", nil))
	case errors.Is(err, domain.ErrCartVersionConflict):
		c.JSON(http.StatusConflict, errorBody(err.Error(), "VERSION_CONFLICT", nil))
	case errors.Is(err, domain.ErrCartCheckedOut):
		c.JSON(http.StatusConflict, errorBody(err.Error(), "CART_CHECKED_OUT", nil))
	case errors.Is(err, domain.ErrSnapshotSignature):
		c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error(), "SIGNATURE_INVALID", nil))
	case errors.Is(err, domain.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, errorBody(err.Error(), "UNAUTHORIZED", nil))
	case isValidation(err):
		c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error(), "VALIDATION", nil))
	case errors.As(err, &timeout):
		c.JSON(http.StatusGatewayTimeout, errorBody(err.Error(), "DOWNSTREAM_TIMEOUT", nil))
	case errors.As(err, &abort):
		c.JSON(http.StatusBadGateway, errorBody(err.Error(), "DOWNSTREAM_ABORT", nil))
	default:
		c.JSON(http.StatusInternalServerError, errorBody("internal server error", "INTERNAL", nil))
	}
}

func isValidation(err error) bool {
	return errors.Is(err, domain.ErrUserRequired) ||
		errors.Is(err, domain.ErrCurrencyRequired) ||
		errors.Is(err, domain.ErrSKURequired) ||
		errors.Is(err, domain.ErrQtyInvalid) ||
		errors.Is(err, domain.ErrAmountNegative) ||
		errors.Is(err, domain.ErrItemsRequired) ||
		errors.Is(err, domain.ErrAmountMismatch) ||
		errors.Is(err, domain.ErrOrderIDRequired)
}
