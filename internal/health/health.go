package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc опрашивает одну зависимость сервиса: postgres, kafka.
// Контекст несёт таймаут проверки; зависшая зависимость не должна
// удерживать весь health-endpoint.
type CheckFunc func(ctx context.Context) error

// CheckResult — итог одной проверки в отчёте.
type CheckResult struct {
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report — полный ответ /healthz.
type Report struct {
	Status        Status                 `json:"status"`
	Version       string                 `json:"version,omitempty"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Timestamp     time.Time              `json:"timestamp"`
	Checks        map[string]CheckResult `json:"checks,omitempty"`
}

// Registry держит именованные проверки зависимостей и строит по ним отчёт.
// Проверки выполняются параллельно, каждая со своим таймаутом.
type Registry struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	version string
	timeout time.Duration
	started time.Time
}

// Option настраивает Registry.
type Option func(*Registry)

// WithCheckTimeout задаёт таймаут одной проверки.
func WithCheckTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewRegistry создаёт реестр проверок.
func NewRegistry(version string, options ...Option) *Registry {
	registry := &Registry{
		checks:  make(map[string]CheckFunc),
		version: version,
		timeout: defaultCheckTimeout,
		started: time.Now(),
	}
	for _, option := range options {
		option(registry)
	}
	return registry
}

// Register добавляет проверку под именем name. Повторная регистрация
// с тем же именем заменяет проверку.
func (r *Registry) Register(name string, check CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
}

// Run выполняет все проверки и собирает отчёт.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	checks := make(map[string]CheckFunc, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()
			result := r.run(ctx, check)
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := StatusHealthy
	for _, result := range results {
		if result.Status == StatusUnhealthy {
			status = StatusUnhealthy
			break
		}
	}

	return Report{
		Status:        status,
		Version:       r.version,
		UptimeSeconds: int64(time.Since(r.started).Seconds()),
		Timestamp:     time.Now().UTC(),
		Checks:        results,
	}
}

func (r *Registry) run(ctx context.Context, check CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	err := check(checkCtx)
	result := CheckResult{
		Status:     StatusHealthy,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

// Healthz возвращает handler полного отчёта: JSON со статусом каждой
// зависимости, 503 при любой недоступной.
func (r *Registry) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		report := r.Run(req.Context())

		statusCode := http.StatusOK
		if report.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(report)
	}
}

// Readyz возвращает handler readiness-probe: короткий текстовый ответ
// для kubelet, без тела отчёта.
func (r *Registry) Readyz() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		report := r.Run(req.Context())
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// Livez — liveness-probe. Процесс жив, пока отвечает, поэтому всегда 200.
func Livez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
