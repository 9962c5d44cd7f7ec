package main

import (
	"context"
	"log"

	"talon-console/config"
	"talon-console/core/store"
	"talon-console/core/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db, cfg, logger); err != nil {
		logger.Fatalf("migrations: %v", err)
	}
	logger.Printf("migrations applied")
}
