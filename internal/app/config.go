package app

import "os"

// Config описывает настройки запуска приложения.
type Config struct {
	// HTTPAddr — адрес основного HTTP API (вебхуки, заказы, админка).
	HTTPAddr string
	// OpsAddr — адрес служебного сервера: /metrics и health-checks.
	OpsAddr string
	// PostgresDSN — подключение к PostgreSQL. Пустое значение включает
	// in-memory хранилище.
	PostgresDSN string
	// KafkaBrokers — список брокеров через запятую. Пустое значение
	// отключает публикацию событий.
	KafkaBrokers string
	// APIKey защищает REST и админские endpoint-ы.
	APIKey string

	// Секреты платёжных шлюзов для проверки подписи вебхуков.
	WompiEventsSecret string
	PayUAPIKey        string
	PayUMerchantID    string
	EfectySecret      string
}

// DefaultConfig возвращает базовые адреса серверов.
func DefaultConfig() Config {
	return Config{
		HTTPAddr: ":8080",
		OpsAddr:  ":9090",
	}
}

// LoadConfig читает конфигурацию из переменных окружения поверх дефолтов.
func LoadConfig() Config {
	cfg := DefaultConfig()
	setIfPresent(&cfg.HTTPAddr, "PAY_HTTP_ADDR")
	setIfPresent(&cfg.OpsAddr, "PAY_OPS_ADDR")
	setIfPresent(&cfg.PostgresDSN, "PAY_POSTGRES_DSN")
	setIfPresent(&cfg.KafkaBrokers, "KAFKA_BROKERS")
	setIfPresent(&cfg.APIKey, "PAY_API_KEY")
	setIfPresent(&cfg.WompiEventsSecret, "PAY_WOMPI_EVENTS_SECRET")
	setIfPresent(&cfg.PayUAPIKey, "PAY_PAYU_API_KEY")
	setIfPresent(&cfg.PayUMerchantID, "PAY_PAYU_MERCHANT_ID")
	setIfPresent(&cfg.EfectySecret, "PAY_EFECTY_SECRET")
	return cfg
}

func setIfPresent(dest *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dest = v
	}
}
