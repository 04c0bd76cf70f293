package common

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapLogger 使用zap封装的logger,子logger与父logger共享日志级别
type ZapLogger struct {
	name      string
	logEnable zap.AtomicLevel
	logger    *zap.SugaredLogger
}

// Named return the child logger whose entries are tagged with name,such as `counter.badger`
func (l *ZapLogger) Named(name string) Logger {
	if name == "" {
		return l
	}
	fullName := name
	if l.name != "" {
		fullName = l.name + "." + name
	}
	return &ZapLogger{name: fullName, logEnable: l.logEnable, logger: l.logger.Named(name)}
}

// Name of the logger,empty for the root logger
func (l *ZapLogger) Name() string {
	return l.name
}

// Debugw debug with key-value pairs
func (l *ZapLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

// Infow info with key-value pairs
func (l *ZapLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

// Warnw warn with key-value pairs
func (l *ZapLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}

// Errorw error with key-value pairs
func (l *ZapLogger) Errorw(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

// Debugf debug
func (l *ZapLogger) Debugf(format string, params ...interface{}) {
	l.logger.Debugf(format, params...)
}

// DebugEnabled is debug enabled
func (l *ZapLogger) DebugEnabled() bool {
	return l.logEnable.Enabled(zap.DebugLevel)
}

// Infof info
func (l *ZapLogger) Infof(format string, params ...interface{}) {
	l.logger.Infof(format, params...)
}

// InfoEnabled is info enabled
func (l *ZapLogger) InfoEnabled() bool {
	return l.logEnable.Enabled(zap.InfoLevel)
}

// Warnf warn
func (l *ZapLogger) Warnf(format string, params ...interface{}) {
	l.logger.Warnf(format, params...)
}

// WarnEnabled is warn enabled
func (l *ZapLogger) WarnEnabled() bool {
	return l.logEnable.Enabled(zap.WarnLevel)
}

// Errorf error
func (l *ZapLogger) Errorf(format string, params ...interface{}) {
	l.logger.Errorf(format, params...)
}

// ErrorEnabled is error enabled
func (l *ZapLogger) ErrorEnabled() bool {
	return l.logEnable.Enabled(zap.ErrorLevel)
}

// Sync impls Logger.Sync
func (l *ZapLogger) Sync() {
	_ = l.logger.Sync()
}

// SetLevel set the log level,the level of the child loggers changes too
func (l *ZapLogger) SetLevel(level LogLevel) {
	zapl, ok := level.zapLevel()
	if ok {
		l.logEnable.SetLevel(zapl)
	}
}

// NewZapLogger new zap logger
func NewZapLogger(logConfig *LogConfig) *ZapLogger {
	encoder, logEnable := newZapEncoder(logConfig)
	if logConfig.Level != "" {
		if zapl, ok := LogLevel(logConfig.Level).zapLevel(); ok {
			logEnable.SetLevel(zapl)
		}
	}

	core := zapcore.NewCore(encoder, newZapWriter(logConfig), logEnable)
	logger := zap.New(core)
	if !logConfig.NoCaller {
		logger = logger.WithOptions(zap.AddCaller(), zap.AddCallerSkip(2))
	}
	if logConfig.Name != "" {
		logger = logger.Named(logConfig.Name)
	}
	return &ZapLogger{name: logConfig.Name, logger: logger.Sugar(), logEnable: logEnable}
}

// newZapEncoder 生产环境默认info级别,key-value对使用json编码便于采集
func newZapEncoder(logConfig *LogConfig) (zapcore.Encoder, zap.AtomicLevel) {
	if logConfig.Env == EnvProduction {
		config := zap.NewProductionEncoderConfig()
		config.EncodeTime = zapcore.ISO8601TimeEncoder
		if logConfig.JSON {
			return zapcore.NewJSONEncoder(config), zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}
		return zapcore.NewConsoleEncoder(config), zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	config := zap.NewDevelopmentEncoderConfig()
	return zapcore.NewConsoleEncoder(config), zap.NewAtomicLevelAt(zapcore.DebugLevel)
}

func newZapWriter(logConfig *LogConfig) zapcore.WriteSyncer {
	if logConfig.FileName == "" {
		return zapcore.Lock(zapcore.AddSync(os.Stderr))
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   logConfig.FileName,
		MaxSize:    logConfig.MaxSize,
		MaxBackups: logConfig.MaxBackups,
		MaxAge:     logConfig.MaxAge,
		LocalTime:  true,
		Compress:   logConfig.Compress,
	})
}
