package socket

import (
	"github.com/pion/logging"

	"github.com/cykyes/duosock/log"
)

// pionLoggerFactory 把 pion 内部日志转接到 log.Logger，按子系统加前缀
type pionLoggerFactory struct {
	logger log.Logger
}

func (f pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{l: log.Named(f.logger, "pion/"+scope)}
}

type pionLogger struct {
	l log.Logger
}

// pion 的 trace 级别过于详细，并入 debug
func (p pionLogger) Trace(msg string) { p.l.Debug("%s", msg) }
func (p pionLogger) Tracef(format string, args ...interface{}) { p.l.Debug(format, args...) }
func (p pionLogger) Debug(msg string) { p.l.Debug("%s", msg) }
func (p pionLogger) Debugf(format string, args ...interface{}) { p.l.Debug(format, args...) }
func (p pionLogger) Info(msg string) { p.l.Info("%s", msg) }
func (p pionLogger) Infof(format string, args ...interface{}) { p.l.Info(format, args...) }
func (p pionLogger) Warn(msg string) { p.l.Warn("%s", msg) }
func (p pionLogger) Warnf(format string, args ...interface{}) { p.l.Warn(format, args...) }
func (p pionLogger) Error(msg string) { p.l.Error("%s", msg) }
func (p pionLogger) Errorf(format string, args ...interface{}) { p.l.Error(format, args...) }

var _ logging.LoggerFactory = pionLoggerFactory{}
