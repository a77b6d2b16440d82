// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package commons

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide logging contract. Every component takes a
// Logger rather than a concrete zap type so that tests can run against a
// throwaway instance.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalf(template string, args ...interface{})
	Sync() error
}

type applicationLogger struct {
	*zap.SugaredLogger
}

type loggerOptions struct {
	name  string
	path  string
	level string
}

// Option configures NewApplicationLogger.
type Option func(*loggerOptions)

// Name sets the service name used for the rotated log file.
func Name(name string) Option {
	return func(o *loggerOptions) { o.name = name }
}

// Path sets the directory log files are written to. When empty, logs go to
// stdout only.
func Path(path string) Option {
	return func(o *loggerOptions) { o.path = path }
}

// Level sets the minimum log level (debug, info, warn, error).
func Level(level string) Option {
	return func(o *loggerOptions) { o.level = level }
}

// NewApplicationLogger builds the standard application logger: JSON encoded,
// stdout plus an optional size-rotated file. Zero-argument usage gives a
// debug-level stdout logger, which is what tests want.
func NewApplicationLogger(opts ...Option) (Logger, error) {
	options := &loggerOptions{
		name:  "application",
		level: "debug",
	}
	for _, opt := range opts {
		opt(options)
	}

	level := zapcore.DebugLevel
	if err := level.Set(options.level); err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if options.path != "" {
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(options.path, options.name+".log"),
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		sinks = append(sinks, zapcore.AddSync(rotator))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &applicationLogger{logger.Sugar()}, nil
}
