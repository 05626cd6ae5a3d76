package utils

// logger.go - структурированное логирование на базе zap
//
// Назначение:
// Единый logger для всего сервиса: HTTP, движок правил, уведомления, kill-switch.
//
// Функции:
// - InitLogger: создать logger по LogConfig (json/text, уровень, вывод)
// - NewLogger: обертка над готовым zap.Logger
// - InitGlobalLogger / SetGlobalLogger / GetGlobalLogger / L: глобальный экземпляр
// - Debug/Info/Warn/Error (+f варианты): логирование через глобальный logger
// - With*: дочерние логгеры с контекстом (компонент, агент, политика, аккаунт)
// - Конструкторы полей домена: AgentID, PolicyID, RiskEventID, Channel, ...

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - настройки логирования
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // stdout, stderr или путь к файлу
	Development bool
}

// Logger - обертка над zap.Logger с sugared вариантом
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создает logger. Недоступный файл вывода заменяется на stderr.
func InitLogger(cfg LogConfig) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, openOutput(cfg.Output), zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	return NewLogger(zap.New(core, opts...))
}

// NewLogger оборачивает готовый zap.Logger (свой core, zaptest observer)
func NewLogger(z *zap.Logger) *Logger {
	return &Logger{Logger: z, sugar: z.Sugar()}
}

func openOutput(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(f)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	}
	return zapcore.InfoLevel
}

// ============================================================
// Глобальный logger
// ============================================================

// InitGlobalLogger создает logger и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный logger
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный logger, создавая его по умолчанию при первом вызове
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============================================================
// Методы Logger
// ============================================================

// With возвращает дочерний logger с полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	return NewLogger(l.Logger.With(fields...))
}

// WithComponent - дочерний logger компонента (evaluator, alerts, halt, ...)
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithAgent - дочерний logger агента
func (l *Logger) WithAgent(agentID string) *Logger {
	return l.With(AgentID(agentID))
}

// WithPolicy - дочерний logger политики
func (l *Logger) WithPolicy(policyID string) *Logger {
	return l.With(PolicyID(policyID))
}

// WithAccount - дочерний logger аккаунта (кошелек или агент)
func (l *Logger) WithAccount(accountID string) *Logger {
	return l.With(AccountID(accountID))
}

// Sugar возвращает sugared logger
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальные функции
// ============================================================

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// ============================================================
// Конструкторы полей
// ============================================================

func AgentID(id string) zap.Field       { return zap.String("agent_id", id) }
func PolicyID(id string) zap.Field      { return zap.String("policy_id", id) }
func PolicyType(t string) zap.Field     { return zap.String("policy_type", t) }
func AccountID(id string) zap.Field     { return zap.String("account_id", id) }
func RiskEventID(id string) zap.Field   { return zap.String("risk_event_id", id) }
func UserID(id string) zap.Field        { return zap.String("user_id", id) }
func Channel(ch string) zap.Field       { return zap.String("channel", ch) }
func Severity(s string) zap.Field       { return zap.String("severity", s) }
func Action(a string) zap.Field         { return zap.String("action", a) }
func RequestID(id string) zap.Field     { return zap.String("request_id", id) }
func Component(name string) zap.Field   { return zap.String("component", name) }
func Latency(ms float64) zap.Field      { return zap.Float64("latency_ms", ms) }
func Elapsed(d time.Duration) zap.Field { return zap.Duration("elapsed", d) }

// String - переэкспорт zap.String для пакетов без прямого импорта zap
var String = zap.String
