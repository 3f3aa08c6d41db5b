package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how the service logs
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Dir    string // rotated file output when non-empty
}

// New builds a zap.Logger writing to stdout and, when opts.Dir is set, to a
// size-rotated app.log in that directory.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	var encCfg zapcore.EncoderConfig
	if opts.Format == "json" {
		encCfg = zap.NewProductionEncoderConfig()
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if opts.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if opts.Dir != "" {
		w, err := rotatingFile(opts.Dir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, w)
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller()), nil
}

func rotatingFile(dir string) (zapcore.WriteSyncer, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", absDir, err)
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(absDir, "app.log"),
		MaxSize:    10, // MB
		MaxBackups: 30,
		MaxAge:     30, // days
		Compress:   true,
		LocalTime:  true,
	}), nil
}
