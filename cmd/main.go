package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/victornm/harrow/internal/config"
	"github.com/victornm/harrow/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("harrow: exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	c, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := server.Init(c)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	go s.Start()
	slog.Info("harrow: started", "http_port", c.HTTP.Port)

	sig := <-shutdown
	slog.Info("harrow: shutting down", "signal", sig.String())
	s.Shutdown()
	return nil
}

func loadConfig() (server.Config, error) {
	var c server.Config

	p := os.Getenv("CONFIG_PATH")
	if p == "" {
		return server.Config{}, fmt.Errorf("CONFIG_PATH not set")
	}

	if err := config.Load(p, &c); err != nil {
		return server.Config{}, err
	}

	return c, nil
}
