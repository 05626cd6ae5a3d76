package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"risksignal/pkg/crypto"
	"risksignal/pkg/utils"
)

// defaultJWTSecret - значение-заглушка, запрещенное при валидации
const defaultJWTSecret = "change-me-in-production"

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Engine   EngineConfig
	Provider ProviderConfig
	Alerts   AlertsConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port           int
	Host           string
	UseHTTPS       bool
	CertFile       string
	KeyFile        string
	AllowedOrigins []string
	RateLimitRPS   float64 // запросов в секунду с одного IP
	RateLimitBurst int
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
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	JWTSecret          string
	EncryptionKey      string
	ValidationTokenTTL time.Duration // срок жизни токена pre-trade проверки
	SweepToken         string        // bearer токен внешнего планировщика
}

// EngineConfig - параметры оценки политик
type EngineConfig struct {
	HistoryEnabled      bool
	HistoryLookback     time.Duration
	Concurrency         int
	ReferenceAssetsFile string        // YAML со стейблкоинами и blue-chip, опционально
	SweepInterval       time.Duration // 0 - проход запускает только внешний планировщик
}

// ProviderConfig - источник снимков кошельков
type ProviderConfig struct {
	MoralisAPIKey  string
	MoralisBaseURL string
	MoralisRPS     float64
}

// AlertsConfig - каналы доставки и ограничение частоты
type AlertsConfig struct {
	ResendAPIKey     string
	EmailFrom        string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	DashboardURL     string
	RateWindow       time.Duration
	RateMax          int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
//
// Если в рабочей директории есть .env, значения из него подставляются
// для переменных, не заданных в окружении.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:       getEnvAsBool("USE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
			RateLimitRPS:   getEnvAsFloat("API_RATE_LIMIT_RPS", 10),
			RateLimitBurst: getEnvAsInt("API_RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "risksignal"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			JWTSecret:          getEnv("JWT_SECRET", defaultJWTSecret),
			EncryptionKey:      getEnv("ENCRYPTION_KEY", ""),
			ValidationTokenTTL: getEnvAsDuration("VALIDATION_TOKEN_TTL", 5*time.Minute),
			SweepToken:         getEnv("SWEEP_TOKEN", ""),
		},
		Engine: EngineConfig{
			HistoryEnabled:      getEnvAsBool("HISTORY_ENABLED", false),
			HistoryLookback:     getEnvAsDuration("HISTORY_LOOKBACK", 168*time.Hour),
			Concurrency:         getEnvAsInt("EVALUATION_CONCURRENCY", 8),
			ReferenceAssetsFile: getEnv("REFERENCE_ASSETS_FILE", ""),
			SweepInterval:       getEnvAsDuration("SWEEP_INTERVAL", 0),
		},
		Provider: ProviderConfig{
			MoralisAPIKey:  getEnv("MORALIS_API_KEY", ""),
			MoralisBaseURL: getEnv("MORALIS_BASE_URL", ""),
			MoralisRPS:     getEnvAsFloat("MORALIS_RPS", 5),
		},
		Alerts: AlertsConfig{
			ResendAPIKey:     getEnv("RESEND_API_KEY", ""),
			EmailFrom:        getEnv("ALERT_EMAIL_FROM", "RiskSignal <alerts@risksignal.io>"),
			TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
			DashboardURL:     getEnv("DASHBOARD_URL", "https://risksignal.io/dashboard"),
			RateWindow:       getEnvAsDuration("ALERT_RATE_WINDOW", 60*time.Minute),
			RateMax:          getEnvAsInt("ALERT_RATE_MAX", 3),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY шифрует телефоны и Slack webhook в настройках уведомлений
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting notification contacts")
	}

	if _, err := crypto.ParseKey(c.Security.EncryptionKey); err != nil {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes for AES-256 (raw, hex or base64)")
	}

	// JWT_SECRET подписывает и токены операторов, и токены pre-trade проверки
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required for authentication")
	}

	if c.Security.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("JWT_SECRET must be changed from default value in production")
	}

	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is enabled")
	}

	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("API_RATE_LIMIT_RPS must be positive, got %v", c.Server.RateLimitRPS)
	}

	if c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("API_RATE_LIMIT_BURST must be at least 1, got %d", c.Server.RateLimitBurst)
	}

	if c.Security.ValidationTokenTTL <= 0 {
		return fmt.Errorf("VALIDATION_TOKEN_TTL must be positive, got %v", c.Security.ValidationTokenTTL)
	}

	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("EVALUATION_CONCURRENCY must be at least 1, got %d", c.Engine.Concurrency)
	}

	if c.Engine.HistoryLookback <= 0 {
		return fmt.Errorf("HISTORY_LOOKBACK must be positive, got %v", c.Engine.HistoryLookback)
	}

	if c.Engine.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL cannot be negative, got %v", c.Engine.SweepInterval)
	}

	if c.Provider.MoralisRPS <= 0 {
		return fmt.Errorf("MORALIS_RPS must be positive, got %v", c.Provider.MoralisRPS)
	}

	// окно и предел rate limit алертов
	if c.Alerts.RateWindow <= 0 {
		return fmt.Errorf("ALERT_RATE_WINDOW must be positive, got %v", c.Alerts.RateWindow)
	}

	if c.Alerts.RateMax < 1 {
		return fmt.Errorf("ALERT_RATE_MAX must be at least 1, got %d", c.Alerts.RateMax)
	}

	return nil
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

// Addr возвращает адрес для net/http
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig преобразует настройки в параметры logger
func (l LoggingConfig) LogConfig() utils.LogConfig {
	return utils.LogConfig{Level: l.Level, Format: l.Format, Output: l.Output}
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

func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
