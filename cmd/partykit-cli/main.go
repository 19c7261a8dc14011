package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/ddezhin/partykit/internal/cli"
	"github.com/ddezhin/partykit/internal/config"
	"github.com/ddezhin/partykit/internal/logging"
)

func main() {
	cfg := config.LoadConfig()

	logger := logging.NewTextLogger(os.Stderr, slog.LevelInfo)

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	app.Run(context.Background())
}
