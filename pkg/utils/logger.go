package utils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig - настройки логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу; пусто = stderr
	Development bool

	// Ротация файла (используется только при Output != "")
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger - обёртка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт логгер по конфигурации.
// Никогда не возвращает nil: при ошибке открытия файла пишет в stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") || strings.EqualFold(cfg.Format, "console") {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, openOutput(cfg), level)

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	z := zap.New(core, opts...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// openOutput выбирает writer: файл с ротацией или stderr
func openOutput(cfg LogConfig) zapcore.WriteSyncer {
	if cfg.Output == "" || cfg.Output == "stderr" {
		return zapcore.Lock(os.Stderr)
	}
	if cfg.Output == "stdout" {
		return zapcore.Lock(os.Stdout)
	}

	// Проверяем, что файл можно открыть, иначе lumberjack упадёт только на первой записи
	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	f.Close()

	// /dev/null и прочие спецфайлы не ротируем
	if info, err := os.Stat(cfg.Output); err == nil && !info.Mode().IsRegular() {
		if w, err := os.OpenFile(cfg.Output, os.O_WRONLY, 0); err == nil {
			return zapcore.AddSync(w)
		}
		return zapcore.Lock(os.Stderr)
	}

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Clean(cfg.Output),
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	})
}

// parseLevel переводит строку в уровень zap (по умолчанию info)
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
	default:
		return zapcore.InfoLevel
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

// InitGlobalLogger создаёт логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая дефолтный при первом вызове
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
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// NewNop возвращает логгер, который ничего не пишет (для тестов)
func NewNop() *Logger {
	z := zap.NewNop()
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// ============================================================
// Методы Logger
// ============================================================

// With возвращает дочерний логгер с полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.Logger.With(fields...)
	return &Logger{Logger: z, sugar: z.Sugar()}
}

func (l *Logger) WithComponent(name string) *Logger  { return l.With(Component(name)) }
func (l *Logger) WithInstrument(code string) *Logger { return l.With(Instrument(code)) }
func (l *Logger) WithRowID(id string) *Logger        { return l.With(RowID(id)) }
func (l *Logger) WithCollection(name string) *Logger { return l.With(Collection(name)) }

// Sugar возвращает sugared-логгер для printf-стиля
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальные функции логирования
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
// Доменные конструкторы полей
// ============================================================

func Instrument(code string) zap.Field { return zap.String("instrument", code) }
func Account(alias string) zap.Field   { return zap.String("account", alias) }
func RowID(id string) zap.Field        { return zap.String("row_id", id) }
func PairKey(key string) zap.Field     { return zap.String("pair_key", key) }
func BackendID(id int64) zap.Field     { return zap.Int64("backend_id", id) }
func Price(p float64) zap.Field        { return zap.Float64("price", p) }
func Volume(v float64) zap.Field       { return zap.Float64("volume", v) }
func Side(s string) zap.Field          { return zap.String("side", s) }
func State(s string) zap.Field         { return zap.String("state", s) }
func Latency(ms float64) zap.Field     { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field    { return zap.String("request_id", id) }
func Component(name string) zap.Field  { return zap.String("component", name) }
func Collection(name string) zap.Field { return zap.String("collection", name) }
func URL(u string) zap.Field           { return zap.String("url", u) }
func MessageType(t string) zap.Field   { return zap.String("msg_type", t) }

// Field - поле структурированного лога
type Field = zap.Field

// Переэкспорт базовых конструкторов zap, чтобы пакеты не импортировали zap напрямую
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Err      = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
)
