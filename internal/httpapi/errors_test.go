package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/dkorolev/commerce/internal/client"
	"github.com/dkorolev/commerce/internal/domain"
)

func TestWriteErrorTaxonomy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"cart not found", domain.ErrCartNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"order not found", domain.ErrOrderNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"wrapped not found", fmt.Errorf("load: %w", domain.ErrProductNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"idempotency in progress", domain.ErrIdempotencyInProgress, http.StatusConflict, "ALREADY_PROCESSING"},
		{"cart version conflict", domain.ErrCartVersionConflict, http.StatusConflict, "VERSION_CONFLICT"},
		{"cart checked out", domain.ErrCartCheckedOut, http.StatusConflict, "CART_CHECKED_OUT"},
		{"bad snapshot signature", domain.ErrSnapshotSignature, http.StatusUnprocessableEntity, "SIGNATURE_INVALID"},
		{"invalid token", domain.ErrTokenInvalid, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"validation qty", domain.ErrQtyInvalid, http.StatusUnprocessableEntity, "VALIDATION"},
		{"validation joined", errors.Join(domain.ErrSKURequired, domain.ErrCurrencyRequired), http.StatusUnprocessableEntity, "VALIDATION"},
		{"amount mismatch", domain.ErrAmountMismatch, http.StatusUnprocessableEntity, "VALIDATION"},
		{"downstream timeout", &client.DownstreamTimeoutError{Service: "payments"}, http.StatusGatewayTimeout, "DOWNSTREAM_TIMEOUT"},
		{"downstream abort", &client.DownstreamAbortError{Service: "payments", Status: 500}, http.StatusBadGateway, "DOWNSTREAM_ABORT"},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)

			writeError(c, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantCode)
		})
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	writeError(c, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}
