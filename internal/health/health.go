package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status — итоговое состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check — результат одной проверки зависимости.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker выполняет проверку одной зависимости сервиса.
type Checker interface {
	Check() Check
}

// Handler агрегирует зарегистрированные проверки в один /healthz эндпоинт.
// unhealthy любой зависимости роняет общий статус и отдаёт 503.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startedAt time.Time
}

// NewHandler создаёт health-обработчик с версией сборки в ответе.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startedAt: time.Now(),
	}
}

// RegisterChecker добавляет проверку зависимости под именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

func (h *Handler) snapshot() map[string]Checker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, c := range h.checkers {
		checkers[name] = c
	}
	return checkers
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	checks := make(map[string]Check)
	overall := StatusHealthy

	for name, checker := range h.snapshot() {
		check := checker.Check()
		checks[name] = check

		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        overall,
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// ReadinessHandler отвечает 503, пока хотя бы одна зависимость unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	for _, checker := range h.snapshot() {
		if checker.Check().Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler подтверждает, что процесс жив. Всегда 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// SimpleChecker оборачивает функцию проверки в Checker.
type SimpleChecker struct {
	name string
	fn   func() error
}

var _ Checker = (*SimpleChecker)(nil)

// NewSimpleChecker создаёт проверку из функции: nil — healthy, ошибка —
// unhealthy с текстом ошибки в сообщении.
func NewSimpleChecker(name string, fn func() error) *SimpleChecker {
	return &SimpleChecker{name: name, fn: fn}
}

func (c *SimpleChecker) Check() Check {
	start := time.Now()
	err := c.fn()
	elapsed := time.Since(start)

	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}
