package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talon-console/api"
	"talon-console/config"
	"talon-console/core/bootstrap"
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
		logger.Fatalf("db init: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db, cfg, logger); err != nil {
		logger.Fatalf("migrations: %v", err)
	}

	users := store.NewUsersStore(db)
	if err := bootstrap.EnsureDefaultAdmin(context.Background(), users, cfg.Pepper, logger); err != nil {
		logger.Fatalf("bootstrap admin: %v", err)
	}

	srv, err := api.NewServer(cfg, db, logger)
	if err != nil {
		logger.Fatalf("server init: %v", err)
	}
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatalf("server: %v", err)
		}
	}()
	logger.Printf("listening on %s", cfg.ListenAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Errorf("graceful shutdown: %v", err)
	}
}
