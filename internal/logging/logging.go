package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config mirrors the log.* command line flags.
type Config struct {
	DirPath     string
	FileName    string
	FileSizeMax int  // megabytes
	FilesAgeMax int  // days
	FilesMax    int  // backups kept
	Compress    bool // gzip rotated files
	Level       string
}

// SetupLogger builds a logger writing JSON records to a lumberjack rotated
// file and human readable records to stderr.
func SetupLogger(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.DirPath, cfg.FileName),
		MaxSize:    cfg.FileSizeMax,
		MaxBackups: cfg.FilesMax,
		MaxAge:     cfg.FilesAgeMax,
		Compress:   cfg.Compress,
	}

	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	consoleConfig := zap.NewDevelopmentEncoderConfig()
	consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleConfig)

	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, zapcore.AddSync(rotator), level),
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	)
	return zap.New(core, zap.AddCaller()), nil
}
