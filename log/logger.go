// Package log provides the logging interface used across duosock.
// Sockets are silent by default (NopLogger) so that an embedding game or tool
// keeps control of its own output; inject a Logger through the socket options.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level 日志级别
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelSilent 关闭全部输出
	LevelSilent
)

var levelNames = [...]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel 将命令行中的级别名称转换为 Level，不区分大小写
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "silent", "off", "none":
		return LevelSilent, nil
	default:
		return LevelInfo, fmt.Errorf("未知日志级别: %q", s)
	}
}

// Logger defines the logging interface used by duosock.
// Implementations should be safe for concurrent use: the UDP binding logs from
// its background goroutines while the caller polls.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// NopLogger discards all log messages.
type NopLogger struct{}

func (NopLogger) Debug(format string, args ...interface{}) {}
func (NopLogger) Info(format string, args ...interface{})  {}
func (NopLogger) Warn(format string, args ...interface{})  {}
func (NopLogger) Error(format string, args ...interface{}) {}

// Nop returns the no-op logger.
func Nop() Logger {
	return NopLogger{}
}

const defaultTimeFormat = "2006-01-02 15:04:05.000"

// StdLogger 按行写入 io.Writer，级别可在运行时调整
type StdLogger struct {
	level atomic.Int32

	mu         sync.Mutex
	writer     io.Writer
	prefix     string
	timeFormat string
	buf        []byte
}

// StdLoggerOption StdLogger 的构造选项
type StdLoggerOption func(*StdLogger)

func WithWriter(w io.Writer) StdLoggerOption {
	return func(l *StdLogger) {
		l.writer = w
	}
}

func WithLevel(level Level) StdLoggerOption {
	return func(l *StdLogger) {
		l.level.Store(int32(level))
	}
}

// WithPrefix 设置每行的前缀，空字符串表示不加前缀
func WithPrefix(prefix string) StdLoggerOption {
	return func(l *StdLogger) {
		l.prefix = prefix
	}
}

// WithTimeFormat 设置时间戳格式，空字符串表示不输出时间戳
func WithTimeFormat(layout string) StdLoggerOption {
	return func(l *StdLogger) {
		l.timeFormat = layout
	}
}

// NewStdLogger creates a StdLogger writing to os.Stderr at Info level by default.
func NewStdLogger(opts ...StdLoggerOption) *StdLogger {
	l := &StdLogger{
		writer:     os.Stderr,
		prefix:     "[duosock]",
		timeFormat: defaultTimeFormat,
	}
	l.level.Store(int32(LevelInfo))
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLevel 调整最低输出级别，可与日志调用并发
func (l *StdLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// Enabled 报告 level 是否会被输出
func (l *StdLogger) Enabled(level Level) bool {
	return level >= Level(l.level.Load())
}

func (l *StdLogger) output(level Level, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buf[:0]
	if l.timeFormat != "" {
		b = time.Now().AppendFormat(b, l.timeFormat)
		b = append(b, ' ')
	}
	if l.prefix != "" {
		b = append(b, l.prefix...)
		b = append(b, ' ')
	}
	b = append(b, level.String()...)
	b = append(b, ' ')
	b = append(b, msg...)
	b = append(b, '\n')
	l.buf = b

	l.writer.Write(b)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.output(LevelDebug, format, args...)
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.output(LevelInfo, format, args...)
}

func (l *StdLogger) Warn(format string, args ...interface{}) {
	l.output(LevelWarn, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.output(LevelError, format, args...)
}

// Default returns a StdLogger that writes to stderr at Info level.
func Default() Logger {
	return NewStdLogger()
}

// scoped 给每条消息加上子系统前缀，例如 "[pion/ice]"
type scoped struct {
	inner Logger
	scope string
}

// Named 返回在每条消息前附加 scope 的 Logger；inner 为 nil 时返回 Nop
func Named(inner Logger, scope string) Logger {
	if inner == nil {
		return Nop()
	}
	if _, ok := inner.(NopLogger); ok {
		return inner
	}
	return &scoped{inner: inner, scope: "[" + scope + "] "}
}

func (s *scoped) Debug(format string, args ...interface{}) {
	s.inner.Debug(s.scope+format, args...)
}

func (s *scoped) Info(format string, args ...interface{}) {
	s.inner.Info(s.scope+format, args...)
}

func (s *scoped) Warn(format string, args ...interface{}) {
	s.inner.Warn(s.scope+format, args...)
}

func (s *scoped) Error(format string, args ...interface{}) {
	s.inner.Error(s.scope+format, args...)
}
