package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/pinelink/pkg/config"
	"golang.org/x/term"
)

// loadConfig reads --config and applies --log-level / --verbose on top of it.
// Without either flag logging stays quiet so command output is not interleaved with logs.
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// configureLogger creates a logger with the appropriate log level based on flags.
// --log-level takes precedence over --verbose, which takes precedence over a level set in the file.
func configureLogger(cmd *cobra.Command, cfg *config.Config, verboseFlagName string) (*logrus.Logger, error) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	verbose, _ := cmd.Flags().GetBool(verboseFlagName)
	fileLevel := cmd.Flags().Changed("config") && cfg.LogLevel != config.DefaultConfig().LogLevel

	switch {
	case logLevelStr != "":
		switch logLevelStr {
		case "debug", "info", "warn", "error":
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
		cfg.LogLevel = logLevelStr
	case verbose:
		cfg.LogLevel = "debug"
	case fileLevel:
		// keep the file's level
	default:
		// Essentially silent for normal operations
		cfg.LogLevel = logrus.PanicLevel.String()
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}

// isTerminal reports whether stdout is an interactive terminal
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// configureColor disables ANSI colors when output is not a terminal
func configureColor(noColor bool) {
	color.NoColor = noColor || !isTerminal()
}
