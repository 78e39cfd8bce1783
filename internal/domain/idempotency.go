package domain

import "time"

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing — запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone — запрос завершён, ответ сохранён для replay.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed — обработка завершилась ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyRecord хранит состояние обработки REST-запроса с idempotency-key.
// RequestHash защищает от переиспользования ключа с другим телом запроса.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired сообщает, истёк ли TTL записи к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !r.TTLAt.After(now)
}

// MatchesRequest проверяет, что ключ используется с тем же телом запроса.
func (r IdempotencyRecord) MatchesRequest(requestHash string) bool {
	return r.RequestHash == requestHash
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	// CreateProcessing занимает ключ под новый запрос. Возвращает
	// ErrIdempotencyKeyAlreadyExists для повторного запроса с тем же телом
	// и ErrIdempotencyHashMismatch, если тело отличается.
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	// DeleteExpired удаляет до limit записей с истёкшим TTL, возвращает
	// количество удалённых.
	DeleteExpired(before time.Time, limit int) (int, error)
}
