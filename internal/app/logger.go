package app

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a JSON console logger in production and a colored one
// otherwise. When logFile is set, the same entries are also written as JSON to
// a rotating file.
func NewLogger(production bool, logFile string) *zap.Logger {
	var config zap.Config

	if production {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.OutputPaths = []string{"stdout"}

	logger, err := config.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}

	if logFile == "" {
		return logger
	}

	rotating := zapcore.AddSync(&lumberjack.Logger{
		Filename: logFile,
		MaxSize:  50, // megabytes
		MaxAge:   14, // days
	})
	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	fileCore := zapcore.NewCore(fileEncoder, rotating, config.Level)

	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}
