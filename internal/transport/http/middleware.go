package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/metrics"
)

// statusRecorder запоминает код ответа для логирования и метрик.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// withObservability логирует запрос и записывает HTTP-метрики.
// route передаётся явно, чтобы не плодить кардинальность по сырым URL.
func withObservability(route string, logger *log.Entry, httpMetrics *metrics.HTTPMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		duration := time.Since(started)
		if httpMetrics != nil {
			httpMetrics.RecordRequest(r.Method, route, strconv.Itoa(recorder.status), duration)
		}

		entry := logger.WithFields(log.Fields{
			"method":      r.Method,
			"route":       route,
			"status":      recorder.status,
			"duration_ms": duration.Milliseconds(),
			"remote_addr": r.RemoteAddr,
		})
		if recorder.status >= http.StatusInternalServerError {
			entry.Error("http request failed")
		} else {
			entry.Info("http request")
		}
	})
}

// withAPIKey проверяет заголовок X-API-Key. Пустой настроенный ключ
// означает, что аутентификация выключена (локальная разработка).
func withAPIKey(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey != "" {
			provided := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
