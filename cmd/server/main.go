package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/loftwire/relay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatal("Invalid configuration", "err", err)
	}

	srv := server.New(cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "err", err)
		}
		return
	}

	if err := srv.Shutdown(shutdownTimeout); err != nil {
		log.Error("Shutdown incomplete", "err", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}
