package whatsmeow

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapLogger adapta o zap para a interface de log do whatsmeow.
// Debug do whatsmeow é muito verboso, então vai para o nível debug do zap.
type zapLogger struct {
	log *zap.Logger
}

func newLogger(log *zap.Logger, module string) waLog.Logger {
	return &zapLogger{log: log.Named(module)}
}

func (l *zapLogger) Debugf(msg string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(msg, args...))
}

func (l *zapLogger) Infof(msg string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(msg, args...))
}

func (l *zapLogger) Warnf(msg string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(msg, args...))
}

func (l *zapLogger) Errorf(msg string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(msg, args...))
}

func (l *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{log: l.log.Named(module)}
}
