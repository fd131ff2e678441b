// Package logger предоставляет логирование с префиксом сервиса поверх zap.
// API совпадает с прежним асинхронным логгером: Info/Infof/Error/Errorf и замер длительности вызовов.
package logger

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	base   *zap.SugaredLogger
	sugar  *zap.SugaredLogger
	prefix string
	debug  bool
	once   sync.Once
)

func initDefault() {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		return
	}
	base = build(os.Getenv("LOG_LEVEL"))
	sugar = base
}

func build(level string) *zap.SugaredLogger {
	lvl := zapcore.InfoLevel
	debug = false
	switch level {
	case "debug", "trace":
		lvl = zapcore.DebugLevel
		debug = true
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func get() *zap.SugaredLogger {
	once.Do(initDefault)
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// SetLevel пересоздаёт логгер с уровнем из конфигурации (debug, info, warn, error).
func SetLevel(level string) {
	once.Do(initDefault)
	mu.Lock()
	defer mu.Unlock()
	base = build(level)
	sugar = withPrefix(base, prefix)
}

// SetPrefix задаёт префикс для всех последующих логов (например "client", "bridge").
func SetPrefix(p string) {
	once.Do(initDefault)
	mu.Lock()
	defer mu.Unlock()
	prefix = p
	sugar = withPrefix(base, p)
}

// Use подменяет логгер (в тестах — zaptest или zap.NewNop).
func Use(l *zap.Logger) {
	once.Do(initDefault)
	mu.Lock()
	defer mu.Unlock()
	base = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
	sugar = withPrefix(base, prefix)
}

func withPrefix(l *zap.SugaredLogger, p string) *zap.SugaredLogger {
	if p == "" {
		return l
	}
	return l.Named(p)
}

// Info пишет сообщение уровня info.
func Info(v ...any) {
	get().Info(v...)
}

// Infof форматирует и пишет сообщение уровня info.
func Infof(format string, v ...any) {
	get().Infof(format, v...)
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	get().Debugf(format, v...)
}

// Error пишет ошибку.
func Error(v ...any) {
	get().Error(v...)
}

// Errorf форматирует ошибку.
func Errorf(format string, v ...any) {
	get().Errorf(format, v...)
}

// Sync сбрасывает буферы zap; вызывать перед выходом из процесса.
func Sync() {
	_ = get().Sync()
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// При уровне info логирует только вызовы дольше 100ms; при debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	mu.RLock()
	d := debug
	mu.RUnlock()
	if d || elapsed >= 100*time.Millisecond {
		get().Infow("duration", "fn", fn, "duration_ms", elapsed.Milliseconds())
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("api.FetchMessages", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
