// Package logging is the process-wide structured logger. Every helper takes
// a context and lifts the request-scoped identifiers stored in it into log
// fields, so call sites never thread ids by hand.
package logging

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

// Context keys for the identifiers the helpers lift into fields.
const (
	CorrelationIDKey contextKey = "correlation_id"
	ConnectionIDKey  contextKey = "connection_id"
	UserIDKey        contextKey = "user_id"
	RoomIDKey        contextKey = "room_id"
)

// ctxKeys lists every lifted key in emission order. The key string doubles
// as the field name.
var ctxKeys = []contextKey{CorrelationIDKey, ConnectionIDKey, UserIDKey, RoomIDKey}

const serviceName = "ludo-realtime"

var (
	logger *zap.Logger
	once   sync.Once
)

// Initialize builds the global logger. Development gets colored console
// output at debug level; production gets sampled JSON with ISO-8601
// timestamps. Repeated calls keep the first configuration.
func Initialize(development bool) error {
	once.Do(func() {
		logger = build(development)
	})
	return nil
}

func build(development bool) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	level := zap.InfoLevel
	if development {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(encCfg)
		level = zap.DebugLevel
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)
	if !development {
		// First 100 of each message per second, then 1 in 100.
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 100)
	}
	return zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	)
}

// GetLogger returns the global logger, or a development fallback when
// Initialize has not run (tests, early startup).
func GetLogger() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Info logs at info level with the context's identifiers attached.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

// Warn logs at warn level with the context's identifiers attached.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

// Error logs at error level with the context's identifiers attached.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

// Fatal logs at fatal level and exits.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx != nil {
		for _, key := range ctxKeys {
			if v, ok := ctx.Value(key).(string); ok {
				fields = append(fields, zap.String(string(key), v))
			}
		}
	}
	return append(fields, zap.String("service", serviceName))
}

// RedactEmail masks the local part of an email address for log output.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return "***" + email[at:]
	}
	return "***"
}
