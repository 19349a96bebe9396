package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkorolev/commerce/internal/client"
	"github.com/dkorolev/commerce/internal/domain"
	inventorysvc "github.com/dkorolev/commerce/internal/service/inventory"
	"github.com/dkorolev/commerce/internal/storage/memory"
)

func newInventoryRouter(t *testing.T) (*gin.Engine, *memory.InventoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewInventoryStore(nil)
	handler := NewInventoryHandler(inventorysvc.NewEngine(store), store, "s3cret")

	engine := gin.New()
	handler.Register(engine)
	return engine, store
}

func postReserve(engine *gin.Engine, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/inventory/reserve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(client.InternalSecretHeader, "s3cret")
	req.Header.Set(HeaderIdempotencyKey, key)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestReserveResponseShape(t *testing.T) {
	engine, store := newInventoryRouter(t)

	err := store.WithinTx(context.Background(), func(tx domain.InventoryTx) error {
		return tx.UpsertBalance(domain.Balance{SKU: "SKU-A", OnHand: 10})
	})
	require.NoError(t, err)

	rec := postReserve(engine, "msg-1", `{"orderId":"order-1","items":[{"sku":"SKU-A","qty":3}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "applied", resp["status"])
	assert.NotContains(t, resp, "outcome")
	assert.NotEmpty(t, resp["expiresAt"])
}

func TestReserveFailureResponseShape(t *testing.T) {
	engine, store := newInventoryRouter(t)

	err := store.WithinTx(context.Background(), func(tx domain.InventoryTx) error {
		return tx.UpsertBalance(domain.Balance{SKU: "SKU-A", OnHand: 1})
	})
	require.NoError(t, err)

	rec := postReserve(engine, "msg-1", `{"orderId":"order-1","items":[{"sku":"SKU-A","qty":5}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp["status"])
	assert.Equal(t, domain.ReservationFailureInsufficientStock, resp["reason"])
	assert.NotContains(t, resp, "outcome")
	assert.NotEmpty(t, resp["insufficientItems"])
}
