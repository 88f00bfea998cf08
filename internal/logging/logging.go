package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"sensor-agent/internal/config"
)

// New 按配置构建 zap logger: JSON 滚动文件, 可选控制台输出 (串口调试)
func New(cfg config.LogConfig) *zap.Logger {
	writeSyncer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   cfg.Compress,
	})
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	level := ParseLevel(cfg.Level)

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		writeSyncer,
		level,
	)
	if cfg.Console {
		consoleCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(os.Stdout),
			level,
		)
		core = zapcore.NewTee(core, consoleCore)
	}
	return zap.New(core, zap.AddCaller())
}

// ParseLevel 解析日志级别, 无法识别时回退为 debug
func ParseLevel(s string) zap.AtomicLevel {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		level = zap.DebugLevel // Default
	}
	return zap.NewAtomicLevelAt(level)
}
