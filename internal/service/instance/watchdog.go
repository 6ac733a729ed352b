package instance

import (
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/apime-gateway/internal/logger"
)

// armWatchdog agenda o retorno a disconnected caso a instância fique em
// connecting por mais de ConnectTimeout. Exige e.mu.
func (s *Service) armWatchdog(id string, e *entry, gen uint64) {
	e.stopWatchdog()
	timeout := s.opts.ConnectTimeout
	e.watchdog = time.AfterFunc(timeout, func() {
		s.log.Warn("watchdog: instância presa em connecting", logger.InstanceID(id), zap.Duration("timeout", timeout))
		s.abortConnect(id, e, gen, "connect_timeout", "tempo limite de conexão excedido")
	})
}

func (e *entry) stopWatchdog() {
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
}
