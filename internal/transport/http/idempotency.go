package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mestocker/payments/internal/domain"
)

// idempotencyTTL определяет срок хранения ключа идемпотентности.
const idempotencyTTL = 24 * time.Hour

// responseBuffer накапливает ответ обработчика, чтобы сохранить его
// для replay при повторной доставке того же ключа.
type responseBuffer struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header), status: http.StatusOK}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) WriteHeader(status int) {
	b.status = status
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	return b.body.Write(p)
}

func (b *responseBuffer) flush(w http.ResponseWriter) {
	for key, values := range b.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}

// requestHash привязывает ключ к содержимому запроса: переиспользование
// ключа с другим телом отклоняется.
func requestHash(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", method, path, body)))
	return hex.EncodeToString(sum[:])
}

// withIdempotency обслуживает заголовок Idempotency-Key.
//
// Поведение fail-secure: если состояние ключа выяснить не удалось,
// запрос отклоняется с 503 вместо риска повторного исполнения.
func withIdempotency(repo domain.IdempotencyRepository, logger *log.Entry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" || repo == nil {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		hash := requestHash(r.Method, r.URL.Path, body)

		_, err = repo.CreateProcessing(key, hash, time.Now().UTC().Add(idempotencyTTL))
		if err != nil {
			if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
				replayOrConflict(w, repo, key, hash, logger)
				return
			}
			if errors.Is(err, domain.ErrIdempotencyHashMismatch) {
				writeError(w, http.StatusConflict, "idempotency key reused with different request")
				return
			}
			logger.WithError(err).WithField("idempotency_key", key).Error("idempotency check failed")
			writeError(w, http.StatusServiceUnavailable, "idempotency check unavailable")
			return
		}

		buffer := newResponseBuffer()
		next.ServeHTTP(buffer, r)

		if buffer.status >= http.StatusOK && buffer.status < http.StatusMultipleChoices {
			err = repo.MarkDone(key, buffer.body.Bytes(), buffer.status)
		} else {
			err = repo.MarkFailed(key, buffer.body.Bytes(), buffer.status)
		}
		if err != nil {
			logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency result")
		}

		buffer.flush(w)
	})
}

func replayOrConflict(w http.ResponseWriter, repo domain.IdempotencyRepository, key, hash string, logger *log.Entry) {
	record, err := repo.Get(key)
	if err != nil {
		logger.WithError(err).WithField("idempotency_key", key).Error("idempotency lookup failed")
		writeError(w, http.StatusServiceUnavailable, "idempotency check unavailable")
		return
	}

	if record.RequestHash != hash {
		writeError(w, http.StatusConflict, "idempotency key reused with different request")
		return
	}

	switch record.Status {
	case domain.IdempotencyStatusProcessing:
		writeError(w, http.StatusConflict, "request with this idempotency key is being processed")
	default:
		// Replay сохранённого ответа: повторный запрос не исполняется.
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotency-Replayed", "true")
		w.WriteHeader(record.HTTPStatus)
		_, _ = w.Write(record.ResponseBody)
	}
}
