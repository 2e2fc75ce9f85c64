package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"yankcord/internal/api"
	"yankcord/internal/config"
	"yankcord/internal/hub"
	"yankcord/internal/persistence/sqlite"
	"yankcord/internal/sfuengine/pionengine"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting", "name", cfg.Server.Name)

	svc, err := sqlite.Open(sqlite.Config{
		DatabasePath: cfg.Database.Path,
		JWTSecret:    cfg.Auth.JWTSecret,
	})
	if err != nil {
		log.Fatalf("failed to open persistence service: %v", err)
	}
	defer svc.Close()
	logger.Info("persistence ready", "path", cfg.Database.Path)

	sfu, err := pionengine.New(pionengine.Config{
		MinPort:              cfg.Media.MinPort,
		MaxPort:              cfg.Media.MaxPort,
		STUNURL:              cfg.Media.STUNURL,
		TURNHost:             cfg.Media.TURNHost,
		TURNPort:             cfg.Media.TURNPort,
		TURNSecret:           cfg.Media.TURNSecret,
		NativeRTPListenIP:    cfg.Media.NativeRTPListenIP,
		NativeRTPAnnouncedIP: cfg.Media.NativeRTPAnnouncedIP,
	}, logger)
	if err != nil {
		log.Fatalf("failed to start sfu engine: %v", err)
	}
	defer sfu.Close()

	h := hub.New(svc, sfu, logger)

	server, err := api.NewServer(cfg, svc, h)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	go func() {
		logger.Info("listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.Shutdown(shutdownCtx)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
