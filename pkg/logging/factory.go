package logging

import (
	"context"
	"sync/atomic"
)

// LoggerFactory lets an embedding application route logs into its own logger.
type LoggerFactory interface {
	CreateLogger(ctx context.Context) Logger
}

// FactoryFunc adapts a plain function to LoggerFactory.
type FactoryFunc func(ctx context.Context) Logger

func (f FactoryFunc) CreateLogger(ctx context.Context) Logger {
	return f(ctx)
}

type installedFactory struct {
	factory LoggerFactory
}

var loggerFactory atomic.Pointer[installedFactory]

// SetLoggerFactory routes every later NewLogger call through factory. nil restores
// the shared logrus logger.
func SetLoggerFactory(factory LoggerFactory) {
	if factory == nil {
		loggerFactory.Store(nil)
		return
	}
	loggerFactory.Store(&installedFactory{factory: factory})
}

func GetLoggerFactory() LoggerFactory {
	installed := loggerFactory.Load()
	if installed == nil {
		return nil
	}
	return installed.factory
}
