package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkorolev/commerce/internal/client"
	"github.com/dkorolev/commerce/internal/domain"
)

// stubVerifier принимает единственный токен "good-token".
type stubVerifier struct {
	claims domain.Claims
}

func (v stubVerifier) Verify(token string) (domain.Claims, error) {
	if token != "good-token" {
		return domain.Claims{}, domain.ErrTokenInvalid
	}
	return v.claims, nil
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestID())
	return engine
}

func doRequest(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	engine := newTestRouter()
	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"correlationId": CorrelationID(c)})
	})

	rec := doRequest(engine, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestRequestIDEchoed(t *testing.T) {
	engine := newTestRouter()
	var seen string
	engine.GET("/ping", func(c *gin.Context) {
		seen = CorrelationID(c)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := doRequest(engine, req)

	assert.Equal(t, "req-42", rec.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-42", seen)
}

func TestAuthRequiresBearerToken(t *testing.T) {
	engine := newTestRouter()
	verifier := stubVerifier{claims: domain.Claims{UserID: "user-1"}}

	engine.GET("/private", Auth(verifier), func(c *gin.Context) {
		claims, ok := UserClaims(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"userId": claims.UserID})
	})

	rec := doRequest(engine, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec = doRequest(engine, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec = doRequest(engine, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"user-1"}`, rec.Body.String())
}

func TestOptionalAuthAllowsGuests(t *testing.T) {
	engine := newTestRouter()
	verifier := stubVerifier{claims: domain.Claims{UserID: "user-1"}}

	engine.GET("/carts-like", OptionalAuth(verifier), func(c *gin.Context) {
		if claims, ok := UserClaims(c); ok {
			c.JSON(http.StatusOK, gin.H{"userId": claims.UserID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": ""})
	})

	rec := doRequest(engine, httptest.NewRequest(http.MethodGet, "/carts-like", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":""}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/carts-like", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec = doRequest(engine, req)
	assert.JSONEq(t, `{"userId":"user-1"}`, rec.Body.String())
}

func TestInternalOnly(t *testing.T) {
	engine := newTestRouter()
	engine.POST("/internal/op", InternalOnly("s3cret"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	rec := doRequest(engine, httptest.NewRequest(http.MethodPost, "/internal/op", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/internal/op", nil)
	req.Header.Set(client.InternalSecretHeader, "wrong")
	rec = doRequest(engine, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/internal/op", nil)
	req.Header.Set(client.InternalSecretHeader, "s3cret")
	rec = doRequest(engine, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestInternalOnlyRejectsWhenSecretUnset(t *testing.T) {
	engine := newTestRouter()
	engine.POST("/internal/op", InternalOnly(""), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/internal/op", nil)
	req.Header.Set(client.InternalSecretHeader, "")
	rec := doRequest(engine, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireIdempotencyKey(t *testing.T) {
	engine := newTestRouter()
	engine.POST("/op", func(c *gin.Context) {
		key, ok := RequireIdempotencyKey(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key})
	})

	rec := doRequest(engine, httptest.NewRequest(http.MethodPost, "/op", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "IDEMPOTENCY_KEY_REQUIRED")

	req := httptest.NewRequest(http.MethodPost, "/op", nil)
	req.Header.Set(HeaderIdempotencyKey, " key-1 ")
	rec = doRequest(engine, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"key-1"}`, rec.Body.String())
}
