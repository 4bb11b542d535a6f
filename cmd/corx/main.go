package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mfkiwl/corx/cmd/corx/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))

	config, err := app.ParseArgs(os.Args[1:])
	if err != nil {
		logger.Error(fmt.Sprintf("invalid arguments: %s", err.Error()))
		os.Exit(-1)
	}

	var level slog.Level
	if err = level.UnmarshalText([]byte(config.LogLevel)); err != nil {
		logger.Error(fmt.Sprintf("invalid log level: %s", err.Error()), slog.String("level", config.LogLevel))
		os.Exit(-1)
	}
	logLevel.Set(level)

	os.Exit(app.Run(config, logger))
}
