package httpapi

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/dkorolev/commerce/internal/domain"
	"github.com/dkorolev/commerce/internal/idempotency"
)

// replayHeaders — заголовки, которые сохраняются и воспроизводятся дословно.
var replayHeaders = []string{"Content-Type", HeaderCartID, HeaderCartVersion, "Etag", "Location"}

// Replay реализует HTTP-уровневую идемпотентность мутаций: ответ на первый
// запрос с данным Idempotency-Key сохраняется и дословно воспроизводится на
// повторах с заголовком x-idempotent-replay: true. Поиск идёт от самого
// специфичного scope к наименее специфичному, сохранение — во все применимые.
// Хранение не транзакционно с мутацией: два конкурентных запроса с одним
// ключом могут выполниться оба, сохранится последний ответ.
func Replay(store idempotency.ReplayStore, resourceParam string) gin.HandlerFunc {
	logger := log.WithField("component", "idempotency-replay")

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(domain.ErrIdempotencyKeyRequired.Error(), "IDEMPOTENCY_KEY_REQUIRED", nil))
			return
		}

		scopes := requestScopes(c, resourceParam)
		ctx := c.Request.Context()
		for _, scope := range scopes {
			stored, found, err := store.Get(ctx, scope, key)
			if err != nil {
				logger.WithError(err).WithField("scope", scope).Warn("replay lookup failed, executing request")
				break
			}
			if found {
				for name, value := range stored.Headers {
					c.Header(name, value)
				}
				c.Header(HeaderReplay, "true")
				c.Data(stored.StatusCode, stored.Headers["Content-Type"], stored.Body)
				c.Abort()
				return
			}
		}

		c.Header(HeaderReplay, "false")
		capture := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = capture
		c.Next()

		stored := idempotency.StoredResponse{
			StatusCode: capture.Status(),
			Body:       capture.body.Bytes(),
			Headers:    map[string]string{},
		}
		for _, name := range replayHeaders {
			if value := capture.Header().Get(name); value != "" {
				stored.Headers[name] = value
			}
		}
		for _, scope := range scopes {
			if err := store.Set(ctx, scope, key, stored, idempotency.DefaultReplayTTL); err != nil {
				logger.WithError(err).WithField("scope", scope).Warn("failed to store replay response")
			}
		}
	}
}

// requestScopes возвращает применимые scope от специфичного к общему:
// user:<id>, cart:<resource-id>, anon:<client-ip>.
func requestScopes(c *gin.Context, resourceParam string) []string {
	var scopes []string
	if claims, ok := UserClaims(c); ok {
		scopes = append(scopes, "user:"+claims.UserID)
	}
	if resourceParam != "" {
		if id := c.Param(resourceParam); id != "" {
			scopes = append(scopes, "cart:"+id)
		}
	}
	if len(scopes) == 0 {
		scopes = append(scopes, "anon:"+c.ClientIP())
	}
	return scopes
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
