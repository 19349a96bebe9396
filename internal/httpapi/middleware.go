package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/client"
	"github.com/dkorolev/commerce/internal/domain"
)

// Заголовки HTTP-контракта платформы.
const (
	HeaderRequestID      = "X-Request-Id"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplay         = "x-idempotent-replay"
	HeaderCartID         = "x-cart-id"
	HeaderCartVersion    = "x-cart-version"
)

const (
	ctxCorrelationID = "correlation_id"
	ctxClaims        = "auth_claims"
)

// RequestID кладёт X-Request-Id в контекст как correlation id и
// возвращает его в ответе. Отсутствующий заголовок заменяется новым uuid.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxCorrelationID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// CorrelationID возвращает correlation id текущего запроса.
func CorrelationID(c *gin.Context) string {
	return c.GetString(ctxCorrelationID)
}

// RequestLogger пишет одну строку на запрос после обработки.
func RequestLogger(component string) gin.HandlerFunc {
	logger := log.WithField("component", component)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(log.Fields{
			"method":         c.Request.Method,
			"path":           c.FullPath(),
			"status":         c.Writer.Status(),
			"duration_ms":    time.Since(start).Milliseconds(),
			"correlation_id": CorrelationID(c),
		}).Info("request handled")
	}
}

// Auth требует Bearer-токен и кладёт claims в контекст.
func Auth(verifier domain.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := verifyBearer(c, verifier)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("authentication required", "UNAUTHORIZED", nil))
			return
		}
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// OptionalAuth проверяет токен, если он есть, но не требует его:
// корзины доступны и гостям.
func OptionalAuth(verifier domain.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, err := verifyBearer(c, verifier); err == nil {
			c.Set(ctxClaims, claims)
		}
		c.Next()
	}
}

func verifyBearer(c *gin.Context, verifier domain.TokenVerifier) (domain.Claims, error) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return domain.Claims{}, domain.ErrTokenInvalid
	}
	return verifier.Verify(strings.TrimSpace(header[len("Bearer "):]))
}

// UserClaims возвращает claims аутентифицированного пользователя.
func UserClaims(c *gin.Context) (domain.Claims, bool) {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return domain.Claims{}, false
	}
	claims, ok := v.(domain.Claims)
	return claims, ok
}

// InternalOnly пропускает только запросы с валидным межсервисным секретом.
func InternalOnly(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(client.InternalSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody(domain.ErrInternalSecret.Error(), "FORBIDDEN", nil))
			return
		}
		c.Next()
	}
}

// RequireIdempotencyKey возвращает ключ из заголовка или отвечает 400.
// Используется эндпоинтами с DB-уровневой идемпотентностью, где replay
// делает само хранилище, а не HTTP-слой.
func RequireIdempotencyKey(c *gin.Context) (string, bool) {
	key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	if key == "" {
		c.JSON(http.StatusBadRequest, errorBody(domain.ErrIdempotencyKeyRequired.Error(), "IDEMPOTENCY_KEY_REQUIRED", nil))
		return "", false
	}
	return key, true
}
