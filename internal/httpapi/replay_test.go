package httpapi

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkorolev/commerce/internal/domain"
	"github.com/dkorolev/commerce/internal/idempotency"
)

func TestReplayStoresAndReplaysResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := idempotency.NewMemoryReplayStore()

	var calls int64
	engine := gin.New()
	engine.POST("/carts", Replay(store, ""), func(c *gin.Context) {
		atomic.AddInt64(&calls, 1)
		c.Header(HeaderCartID, "cart-1")
		c.JSON(http.StatusCreated, gin.H{"id": "cart-1"})
	})

	req := httptest.NewRequest(http.MethodPost, "/carts", nil)
	req.Header.Set(HeaderIdempotencyKey, "key-1")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "false", rec.Header().Get(HeaderReplay))
	assert.Equal(t, "cart-1", rec.Header().Get(HeaderCartID))
	firstBody := rec.Body.String()

	req = httptest.NewRequest(http.MethodPost, "/carts", nil)
	req.Header.Set(HeaderIdempotencyKey, "key-1")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(HeaderReplay))
	assert.Equal(t, "cart-1", rec.Header().Get(HeaderCartID))
	assert.JSONEq(t, firstBody, rec.Body.String())
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "handler must run once")
}

func TestReplayRequiresIdempotencyKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := idempotency.NewMemoryReplayStore()

	engine := gin.New()
	engine.POST("/carts", Replay(store, ""), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/carts", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "IDEMPOTENCY_KEY_REQUIRED")
}

func TestReplayDistinctKeysExecuteSeparately(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := idempotency.NewMemoryReplayStore()

	var calls int64
	engine := gin.New()
	engine.POST("/carts", Replay(store, ""), func(c *gin.Context) {
		n := atomic.AddInt64(&calls, 1)
		c.JSON(http.StatusCreated, gin.H{"call": n})
	})

	for _, key := range []string{"key-1", "key-2"} {
		req := httptest.NewRequest(http.MethodPost, "/carts", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestReplayUserScopeWinsOverResourceScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := idempotency.NewMemoryReplayStore()
	verifier := stubVerifier{claims: domain.Claims{UserID: "user-1"}}

	var calls int64
	engine := gin.New()
	engine.POST("/carts/:id/items", OptionalAuth(verifier), Replay(store, "id"), func(c *gin.Context) {
		atomic.AddInt64(&calls, 1)
		c.JSON(http.StatusOK, gin.H{"cartId": c.Param("id")})
	})

	// Authenticated request stores under both user and cart scopes.
	req := httptest.NewRequest(http.MethodPost, "/carts/cart-1/items", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	req.Header.Set(HeaderIdempotencyKey, "key-1")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Same key against another cart still replays via the user scope.
	req = httptest.NewRequest(http.MethodPost, "/carts/cart-2/items", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	req.Header.Set(HeaderIdempotencyKey, "key-1")
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, "true", rec.Header().Get(HeaderReplay))
	assert.JSONEq(t, `{"cartId":"cart-1"}`, rec.Body.String())
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestReplayAnonymousFallsBackToClientScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := idempotency.NewMemoryReplayStore()

	var calls int64
	engine := gin.New()
	engine.POST("/carts", Replay(store, ""), func(c *gin.Context) {
		atomic.AddInt64(&calls, 1)
		c.Status(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/carts", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set(HeaderIdempotencyKey, "key-1")
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "anon scope must dedupe by client")
}
