package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"circlefeed/internal/api"
	"circlefeed/internal/auth"
	"circlefeed/internal/bridge"
	"circlefeed/internal/cache"
	"circlefeed/internal/config"
	"circlefeed/internal/feedsync"
	"circlefeed/internal/gateway"
	"circlefeed/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	verifier, err := auth.NewVerifier(cfg.IssuerURL)
	if err != nil {
		slog.Error("Failed to initialize JWKS verifier", "error", err)
		os.Exit(1)
	}

	dialer, err := bridge.NewDialer(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to reach broker", "error", err)
		os.Exit(1)
	}

	snaps, err := cache.Open(cfg.CachePath)
	if err != nil {
		slog.Error("Failed to open feed cache", "error", err)
		os.Exit(1)
	}

	backend := api.NewClient(cfg.BackendBaseURL, cfg.BackendAPIKey)

	manager := feedsync.NewManager(feedsync.ManagerConfig{
		Backend: backend,
		Bridge: func(circleID, userID string, handler bridge.EventHandler) feedsync.FeedBridge {
			return dialer.Bridge(circleID, userID, handler)
		},
		Cache:    snaps,
		PageSize: cfg.PageSize,
	})

	hub := gateway.NewHub(manager)
	go hub.Run()

	r := mux.NewRouter()
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		gateway.ServeWS(hub, verifier, w, req)
	})
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Feed gateway starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}

	manager.CloseAll()
	if err := snaps.Close(); err != nil {
		slog.Warn("Feed cache close failed", "error", err)
	}
	slog.Info("Shutdown complete")
}
