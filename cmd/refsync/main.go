package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/refsync/internal/buildinfo"
	"github.com/dmitrijs2005/refsync/internal/client/cli"
	"github.com/dmitrijs2005/refsync/internal/client/config"
	"github.com/dmitrijs2005/refsync/internal/logging"
)

// initSignalHandler cancels the running session on SIGINT, SIGTERM or SIGQUIT.
func initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	cfg := config.LoadConfig()
	logger := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON, File: cfg.LogFile})

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()
	initSignalHandler(cancelFunc)

	app, err := cli.NewApp(ctx, cfg, logger, os.Stdout)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	err = app.Run(ctx)
	if cerr := app.Close(); cerr != nil {
		logger.Warn(ctx, "error closing", "error", cerr)
	}
	if err != nil {
		log.Printf("%v", err)
		cancelFunc()
		os.Exit(1)
	}
}
