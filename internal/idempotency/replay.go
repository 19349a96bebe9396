package idempotency

import (
	"context"
	"time"
)

// DefaultReplayTTL — срок хранения replay-ответов HTTP-слоя.
const DefaultReplayTTL = 24 * time.Hour

// StoredResponse — сохранённый HTTP-ответ для дословного повтора.
type StoredResponse struct {
	StatusCode int               `json:"statusCode"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// ReplayStore хранит ответы мутирующих эндпоинтов по ключу идемпотентности.
// Scope разделяет пространства ключей (user:<id>, cart:<id>, anon:<ip>),
// чтобы ключи разных клиентов не пересекались. Хранение не транзакционно
// с мутацией: два конкурентных запроса с одним ключом могут выполниться оба.
type ReplayStore interface {
	// Get возвращает сохранённый ответ; false — ключ не встречался.
	Get(ctx context.Context, scope, key string) (StoredResponse, bool, error)
	// Set сохраняет ответ под ключом с заданным TTL.
	Set(ctx context.Context, scope, key string, resp StoredResponse, ttl time.Duration) error
}

func replayKey(scope, key string) string {
	return "idem:" + scope + ":" + key
}
