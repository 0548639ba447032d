package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"pairarb/pkg/utils"
)

// Config содержит всю конфигурацию приложения (сервер и терминал читают один и тот же набор)
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Terminal TerminalConfig
	Bot      BotConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера бэкенда
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string

	// Разрешённые Origin для /ws (пусто = любые)
	AllowedOrigins []string

	// Лимит заявок на торговый счёт: в секунду и всплеск (0 = без лимита)
	OrderRate  float64
	OrderBurst float64
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns int
}

// TerminalConfig - настройки клиентского терминала
type TerminalConfig struct {
	BackendURL  string // REST бэкенда, например http://localhost:8080/api/v1
	RealtimeURL string // websocket бэкенда, например ws://localhost:8080/ws
	ControlAddr string // адрес control API терминала
	CacheDir    string // каталог badger; пусто = in-memory

	FeedReconnectDelay time.Duration // фиксированная задержка переподключения фида
	DialTimeout        time.Duration
	HTTPTimeout        time.Duration

	// Перевзводить строки, которые были взведены на момент аварийного завершения
	ResumeArmed bool
}

// BotConfig - настройки движка сигналов
type BotConfig struct {
	EventBuffer int // размер входной очереди цикла движка
	OutboxSize  int // размер очереди отправки канала заявок

	// Retry для выгрузки коллекций при синхронизации
	SyncMaxRetries int
	SyncBackoff    time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

// Load загружает конфигурацию из переменных окружения.
// Файл .env (если есть) подмешивается до чтения, существующие переменные не перезаписываются.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:       getEnvAsBool("USE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
			AllowedOrigins: getEnvAsList("WS_ALLOWED_ORIGINS"),
			OrderRate:      getEnvAsFloat("ORDER_RATE_PER_ACCOUNT", 10),
			OrderBurst:     getEnvAsFloat("ORDER_BURST_PER_ACCOUNT", 20),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "pairarb"),
			User:         getEnv("DB_USER", "user"),
			Password:     getEnv("DB_PASSWORD", "password"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		},
		Terminal: TerminalConfig{
			BackendURL:         getEnv("TERMINAL_BACKEND_URL", "http://localhost:8080/api/v1"),
			RealtimeURL:        getEnv("TERMINAL_REALTIME_URL", "ws://localhost:8080/ws"),
			ControlAddr:        getEnv("TERMINAL_CONTROL_ADDR", "127.0.0.1:8090"),
			CacheDir:           getEnv("TERMINAL_CACHE_DIR", ""),
			FeedReconnectDelay: getEnvAsDuration("FEED_RECONNECT_DELAY", 1*time.Second),
			DialTimeout:        getEnvAsDuration("DIAL_TIMEOUT", 5*time.Second),
			HTTPTimeout:        getEnvAsDuration("HTTP_TIMEOUT", 10*time.Second),
			ResumeArmed:        getEnvAsBool("TERMINAL_RESUME_ARMED", false),
		},
		Bot: BotConfig{
			EventBuffer:    getEnvAsInt("ENGINE_EVENT_BUFFER", 1024),
			OutboxSize:     getEnvAsInt("DISPATCH_OUTBOX_SIZE", 256),
			SyncMaxRetries: getEnvAsInt("SYNC_MAX_RETRIES", 3),
			SyncBackoff:    getEnvAsDuration("SYNC_BACKOFF", 500*time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
			MaxSizeMB:   getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups:  getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays:  getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
		},
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is set")
	}

	if c.Server.OrderRate < 0 || c.Server.OrderBurst < 0 {
		return fmt.Errorf("ORDER_RATE_PER_ACCOUNT and ORDER_BURST_PER_ACCOUNT must not be negative")
	}

	// Таймауты должны быть положительными
	if c.Terminal.FeedReconnectDelay <= 0 {
		return fmt.Errorf("FEED_RECONNECT_DELAY must be positive, got %v", c.Terminal.FeedReconnectDelay)
	}

	if c.Terminal.DialTimeout <= 0 {
		return fmt.Errorf("DIAL_TIMEOUT must be positive, got %v", c.Terminal.DialTimeout)
	}

	if c.Terminal.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.Terminal.HTTPTimeout)
	}

	// Очереди движка
	if c.Bot.EventBuffer < 1 {
		return fmt.Errorf("ENGINE_EVENT_BUFFER must be at least 1, got %d", c.Bot.EventBuffer)
	}

	if c.Bot.OutboxSize < 1 {
		return fmt.Errorf("DISPATCH_OUTBOX_SIZE must be at least 1, got %d", c.Bot.OutboxSize)
	}

	if c.Bot.SyncMaxRetries < 0 || c.Bot.SyncMaxRetries > 10 {
		return fmt.Errorf("SYNC_MAX_RETRIES must be between 0 and 10, got %d", c.Bot.SyncMaxRetries)
	}

	return nil
}

// LogConfig переводит настройки логирования в конфигурацию логгера
func (l LoggingConfig) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:       l.Level,
		Format:      l.Format,
		Output:      l.Output,
		Development: l.Development,
		MaxSizeMB:   l.MaxSizeMB,
		MaxBackups:  l.MaxBackups,
		MaxAgeDays:  l.MaxAgeDays,
	}
}

// Addr возвращает адрес прослушивания сервера
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
