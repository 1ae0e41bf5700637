package bootstrap

import (
	"fmt"
	"os"

	"crits/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the colored console logger used by the server and CLI
func InitLogger(level zapcore.Level) (*zap.Logger, *zap.SugaredLogger) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zap.NewAtomicLevelAt(level),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar()
}

// InitConfig loads and validates the configuration
func InitConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// logConfig reports the effective settings once the logger exists
func logConfig(cfg *config.Config, sugar *zap.SugaredLogger) {
	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}
	sugar.Infow("Config loaded",
		"mongodb_database", cfg.MongoDB.Database,
		"api_addr", cfg.ListenAddr(),
		"auth_enabled", cfg.Auth.Enabled,
		"triage_enabled", cfg.Triage.Enabled,
		"secrets_provider", cfg.Secrets.Provider)
}
