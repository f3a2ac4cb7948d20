package bootstrap

import (
	"fmt"
	"os"

	"sentinel/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	return newConsoleLogger(level, os.Stdout)
}

// InitCLILogger logs to stderr so command output on stdout stays machine readable.
func InitCLILogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	return newConsoleLogger(level, os.Stderr)
}

func newConsoleLogger(level string, out zapcore.WriteSyncer) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(out),
		zap.NewAtomicLevelAt(lvl),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration. An empty path searches
// ./config.yaml and ./config/config.yaml.
func InitConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfigFrom(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func logConfig(cfg *config.Config, sugar *zap.SugaredLogger) {
	sugar.Infow("Config loaded",
		"storage_backend", cfg.Storage.Backend,
		"sqlite_path", cfg.DataPaths.SQLitePath,
		"buffer_size", cfg.Engine.BufferSize,
		"rules_file", cfg.Engine.RulesFile,
		"api_enabled", cfg.API.Enabled,
		"api_addr", cfg.ListenAddr(),
		"collector_enabled", cfg.Collector.Enabled)
}
