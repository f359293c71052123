package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newsrelay/newsrelay/internal/bot"
	"github.com/newsrelay/newsrelay/internal/config"
	"github.com/newsrelay/newsrelay/internal/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	fmt.Println("News relay starting up...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogFile, logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Close()
	defer bot.RecoverFromPanic(logger, "main")

	b, err := bot.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to create bot: %v", err)
		os.Exit(1)
	}

	if err := b.Start(); err != nil {
		logger.Error("Failed to start bot: %v", err)
		os.Exit(1)
	}

	logger.Info("News relay is running. Press CTRL-C to exit.")

	// Wait for termination signal
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	b.Stop(ctx)
	logger.Info("Shutdown complete")
}
