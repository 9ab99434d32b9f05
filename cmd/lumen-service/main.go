// Package main is cmd/lumen-service: the long-running HTTP daemon
// exposing internal/api's /v1/compile, /v1/run, /v1/trace routes.
// Adapted from internal/service/daemon.go's lifecycle (graceful
// shutdown on SIGTERM/SIGINT/SIGHUP, 30s drain timeout) folded
// directly into main rather than kept as its own package, since
// lumen-service has only one server to manage.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/lumen/internal/api"
	"github.com/ternarybob/lumen/internal/logger"
	"github.com/ternarybob/lumen/pkg/config"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "lumen.toml", "path to lumen.toml")
	flag.Parse()

	cfg := config.Default()
	if data, err := os.ReadFile(*configPath); err == nil {
		loaded, err := config.Parse(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lumen-service: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log := logger.SetupLogger(cfg)
	defer logger.Stop()

	api.SetVersion(version)
	server := api.NewServer(cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("lumen-service: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("lumen-service: server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("lumen-service: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("lumen-service: shutdown error")
	}
}
