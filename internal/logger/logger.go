package logger

import (
	"os"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes JSON log lines tagged with the service, host, action and
// request id.
type Logger struct {
	service  string
	hostname string
	zl       *zap.Logger
}

// New builds a JSON logger for service at the given level
// (debug, info, warn, error).
func New(service, level string) *Logger {
	hostname, _ := os.Hostname()

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.MessageKey = "message"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		parseLevel(level),
	)

	return &Logger{
		service:  service,
		hostname: hostname,
		zl:       zap.New(core),
	}
}

// NewNop discards everything. Used by tests.
func NewNop() *Logger {
	return &Logger{service: "test", zl: zap.NewNop()}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// GenerateRequestID returns a fresh id for correlating log lines.
func GenerateRequestID() string {
	return uuid.NewString()
}

func (l *Logger) fields(action, requestID string, extra map[string]interface{}) []zap.Field {
	fs := make([]zap.Field, 0, len(extra)+4)
	fs = append(fs,
		zap.String("service", l.service),
		zap.String("hostname", l.hostname),
		zap.String("action", action),
		zap.String("request_id", requestID),
	)
	for k, v := range extra {
		fs = append(fs, zap.Any(k, v))
	}
	return fs
}

func (l *Logger) Debug(action, message, requestID string, extra map[string]interface{}) {
	l.zl.Debug(message, l.fields(action, requestID, extra)...)
}

func (l *Logger) Info(action, message, requestID string, extra map[string]interface{}) {
	l.zl.Info(message, l.fields(action, requestID, extra)...)
}

func (l *Logger) Warn(action, message, requestID string, extra map[string]interface{}) {
	l.zl.Warn(message, l.fields(action, requestID, extra)...)
}

// Error logs at error level; err may be nil.
func (l *Logger) Error(action, message, requestID string, err error, extra map[string]interface{}) {
	fs := l.fields(action, requestID, extra)
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	l.zl.Error(message, fs...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}
