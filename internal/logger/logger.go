package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New cria o logger da aplicação: JSON em produção, colorido em development.
func New(env, level string) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevelAt(ParseLevel(level))
	if env == "development" {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = lvl
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		return cfg.Build()
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.EpochMillisTimeEncoder
	cfg := zap.Config{
		Encoding:         "json",
		Level:            lvl,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return cfg.Build(zap.Fields(zap.String("service", "apime-gateway")))
}

func ParseLevel(level string) zapcore.Level {
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

// Campos estruturados compartilhados entre serviço, dispatcher e handlers.

func InstanceID(id string) zap.Field { return zap.String("instance_id", id) }

func EventID(id string) zap.Field { return zap.String("event_id", id) }

func EventType(t string) zap.Field { return zap.String("event_type", t) }

func Attempt(n int) zap.Field { return zap.Int("attempt", n) }

func CorrelationID(id string) zap.Field { return zap.String("correlation_id", id) }

func RequestID(id string) zap.Field { return zap.String("request_id", id) }
