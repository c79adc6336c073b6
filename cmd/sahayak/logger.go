package main

import (
	"fmt"
	"os"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/logger"
)

const (
	LogFileEnvVar   = "LOG_FILE"
	LogLevelEnvVar  = "LOG_LEVEL"
	LogFormatEnvVar = "LOG_FORMAT"
)

// initLoggerFromCLI resolves each setting as CLI flag > env var > default.
func initLoggerFromCLI(level, file, format string) (func(), error) {
	return initLogger(config.LoggingConfig{
		Level:  firstNonEmpty(level, os.Getenv(LogLevelEnvVar), "info"),
		File:   firstNonEmpty(file, os.Getenv(LogFileEnvVar)),
		Format: firstNonEmpty(format, os.Getenv(LogFormatEnvVar), logger.FormatSimple),
	})
}

// applyConfigLogging re-initialises the logger from the config file unless
// the CLI or environment already chose a setting.
func applyConfigLogging(cli *CLI, cfg config.LoggingConfig) (func(), error) {
	return initLogger(config.LoggingConfig{
		Level:  firstNonEmpty(cli.LogLevel, os.Getenv(LogLevelEnvVar), cfg.Level),
		File:   firstNonEmpty(cli.LogFile, os.Getenv(LogFileEnvVar), cfg.File),
		Format: firstNonEmpty(cli.LogFormat, os.Getenv(LogFormatEnvVar), cfg.Format),
	})
}

func initLogger(cfg config.LoggingConfig) (func(), error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	output := os.Stderr
	var cleanup func()
	if cfg.File != "" {
		file, closeFn, err := logger.OpenLogFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = closeFn
	}

	logger.Init(level, output, cfg.Format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
