package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mfkiwl/corx/cmd/corxmap/app"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	config, err := app.ParseArgs(os.Args[1:])
	if err != nil {
		logger.Error(fmt.Sprintf("invalid arguments: %s", err.Error()))
		os.Exit(1)
	}

	os.Exit(app.Run(config, logger))
}
