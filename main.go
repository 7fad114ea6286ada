package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/phonemanage/phonemanage-go/cmd"
	"github.com/phonemanage/phonemanage-go/internal/conf"
	"github.com/phonemanage/phonemanage-go/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	if settings.Main.Log.Enabled {
		closeLog, err := logging.InitWithFile(level, settings.Main.Log.Path, logging.FileLoggerOptions{
			MaxSizeMB:  settings.Main.Log.MaxSizeMB,
			MaxBackups: settings.Main.Log.MaxBackups,
			MaxAgeDays: settings.Main.Log.MaxAgeDays,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file, logging to console only: %v\n", err)
			logging.Init(level)
		} else {
			defer func() {
				_ = closeLog()
			}()
		}
	} else {
		logging.Init(level)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
