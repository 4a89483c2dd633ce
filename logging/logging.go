// Package logging builds the daemon's zap logger.
package logging

import (
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Error = errs.Class("logging")

type Config struct {
	Level       string
	Development bool
	Encoding    string // console or json
	Output      string // stderr, stdout or a filename
}

func encoderConfig(levelEncoder zapcore.LevelEncoder) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    levelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New builds a logger from cfg. If sink is not nil everything logged is also
// written to it as json.
func New(cfg Config, sink *DatasetSink) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "console"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
	levelEncoder := zapcore.CapitalLevelEncoder
	if cfg.Development {
		levelEncoder = zapcore.CapitalColorLevelEncoder
	}
	atom := zap.NewAtomicLevelAt(level)

	log, err := zap.Config{
		Level:             atom,
		Development:       cfg.Development,
		DisableCaller:     !cfg.Development,
		DisableStacktrace: !cfg.Development,
		Encoding:          cfg.Encoding,
		EncoderConfig:     encoderConfig(levelEncoder),
		OutputPaths:       []string{cfg.Output},
		ErrorOutputPaths:  []string{cfg.Output},
	}.Build()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if sink == nil {
		return log, nil
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig(zapcore.LowercaseLevelEncoder)), sink, atom)
	return log.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	})), nil
}
