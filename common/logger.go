package common

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// LogLevel 日志级别
type LogLevel string

// 日志级别
const (
	Debug LogLevel = "debug"
	Info  LogLevel = "info"
	Warn  LogLevel = "warn"
	Error LogLevel = "error"
)

// EnvProduction is the production env name of LogConfig.Env
const EnvProduction = "production"

func (p LogLevel) zapLevel() (zapcore.Level, bool) {
	switch LogLevel(strings.ToLower(string(p))) {
	case Debug:
		return zapcore.DebugLevel, true
	case Info:
		return zapcore.InfoLevel, true
	case Warn:
		return zapcore.WarnLevel, true
	case Error:
		return zapcore.ErrorLevel, true
	}
	return zapcore.InfoLevel, false
}

// Logger 日志接口
type Logger interface {
	Debugf(format string, params ...interface{})
	Infof(format string, params ...interface{})
	Warnf(format string, params ...interface{})
	Errorf(format string, params ...interface{})

	DebugEnabled() bool
	InfoEnabled() bool
	WarnEnabled() bool
	ErrorEnabled() bool

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Named return the child logger sharing the level
	Named(name string) Logger

	SetLevel(level LogLevel)
	Sync()
}

var (
	logger     Logger = NewZapLogger(&LogConfig{})
	loggerLock sync.Mutex
	loggerInit bool
)

// Debugf debug
func Debugf(format string, params ...interface{}) {
	logger.Debugf(format, params...)
}

// Infof info
func Infof(format string, params ...interface{}) {
	logger.Infof(format, params...)
}

// Warnf warn
func Warnf(format string, params ...interface{}) {
	logger.Warnf(format, params...)
}

// Errorf error
func Errorf(format string, params ...interface{}) {
	logger.Errorf(format, params...)
}

// Warnw warn with key-value pairs
func Warnw(msg string, keysAndValues ...interface{}) {
	logger.Warnw(msg, keysAndValues...)
}

// Errorw error with key-value pairs
func Errorw(msg string, keysAndValues ...interface{}) {
	logger.Errorw(msg, keysAndValues...)
}

// Named return the child logger of the current logger,call it after the config is parsed
func Named(name string) Logger {
	return logger.Named(name)
}

// Logf log with level
func Logf(level LogLevel, format string, params ...interface{}) {
	switch level {
	case Debug:
		logger.Debugf(format, params...)
	case Warn:
		logger.Warnf(format, params...)
	case Error:
		logger.Errorf(format, params...)
	default:
		logger.Infof(format, params...)
	}
}

// DebugEnabled debug是否开启
func DebugEnabled() bool {
	return logger.DebugEnabled()
}

// InfoEnabled info是否开启
func InfoEnabled() bool {
	return logger.InfoEnabled()
}

// WarnEnabled warn是否开启
func WarnEnabled() bool {
	return logger.WarnEnabled()
}

// ErrorEnabled error是否开启
func ErrorEnabled() bool {
	return logger.ErrorEnabled()
}

// SetLogLevel 设置日志级别,无效的级别会被忽略
func SetLogLevel(level LogLevel) {
	logger.SetLevel(level)
}

// SyncLog flush the buffered log entries
func SyncLog() {
	logger.Sync()
}

func initLogger(config *LogConfig) error {
	if config == nil {
		return nil
	}
	loggerLock.Lock()
	defer loggerLock.Unlock()

	if loggerInit {
		fmt.Fprintln(os.Stderr, "logger has been already inited")
		return nil
	}
	old := logger
	logger = NewZapLogger(config)
	old.Sync()
	loggerInit = true
	return nil
}
