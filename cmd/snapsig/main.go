package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"snapsig/config"
	"snapsig/internal/logger"
	"snapsig/internal/service"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("snapsig", slog.LevelInfo)

	cfg := config.Load()
	feeds, err := config.LoadFeeds(cfg.FeedsFile)
	if err != nil {
		log.Fatalf("[snapsig] feed config: %v", err)
	}
	log.Printf("[snapsig] loaded %d feeds from %s", len(feeds), cfg.FeedsFile)

	svc, err := service.New(cfg, feeds)
	if err != nil {
		log.Fatalf("[snapsig] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[snapsig] fatal: %v", err)
	}
}
