package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	instance *zap.SugaredLogger
	once     sync.Once
)

// Init builds the process logger. Calls after the first are ignored.
func Init(development bool) error {
	var err error
	once.Do(func() {
		var l *zap.Logger
		if development {
			l, err = zap.NewDevelopment(zap.AddCallerSkip(1))
		} else {
			l, err = zap.NewProduction(zap.AddCallerSkip(1))
		}
		if err != nil {
			return
		}
		instance = l.Sugar()
	})
	return err
}

func get() *zap.SugaredLogger {
	if instance == nil {
		if err := Init(os.Getenv("ENVIRONMENT") != "production"); err != nil || instance == nil {
			instance = zap.NewNop().Sugar()
		}
	}
	return instance
}

func Info(format string, v ...interface{}) {
	get().Infof(format, v...)
}

func Error(format string, v ...interface{}) {
	get().Errorf(format, v...)
}

func Debug(format string, v ...interface{}) {
	if os.Getenv("ENVIRONMENT") == "development" {
		get().Debugf(format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	get().Warnf(format, v...)
}

// With returns a child logger carrying structured key/value pairs.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return get().With(keysAndValues...)
}

// Sync flushes buffered entries. Call it before the process exits.
func Sync() {
	if instance != nil {
		_ = instance.Sync()
	}
}
