package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Adamhviid/chatterbox-relay/internal/config"
	"github.com/Adamhviid/chatterbox-relay/internal/hub"
	"github.com/Adamhviid/chatterbox-relay/internal/identity"
	"github.com/Adamhviid/chatterbox-relay/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenDB(cfg.DBPath)
	if err != nil {
		slog.Error("store open error", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	history, err := store.NewHistoryStore(db)
	if err != nil {
		slog.Error("store init error", "error", err)
		os.Exit(1)
	}

	assigner := identity.NewAssigner(history)
	metrics := hub.NewMetrics(prometheus.DefaultRegisterer)
	h := hub.NewHub(metrics)

	r := chi.NewRouter()
	r.Get("/ws", wsHandler(ctx, cfg, h, history, assigner))
	r.Get("/health", healthHandler(h))
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in a goroutine so we can listen for shutdown signals.
	go func() {
		slog.Info("relay starting", "port", cfg.Port, "room", cfg.Room)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	h.Shutdown()
	slog.Info("relay stopped")
}

// wsHandler upgrades the connection, assigns an identity, joins the chat
// room, and runs the session until the client goes away.
func wsHandler(serverCtx context.Context, cfg config.Config, h *hub.Hub, history *store.HistoryStore, assigner *identity.Assigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Allow connections from any origin in development.
			InsecureSkipVerify: true,
		})
		if err != nil {
			slog.Error("websocket accept error", "remote", r.RemoteAddr, "error", err)
			return
		}
		conn.SetReadLimit(cfg.MaxMessageBytes)

		client := hub.NewClient(serverCtx, conn, clientOrigin(r), hub.ClientConfig{
			SendBuffer:   cfg.SendBuffer,
			RateLimit:    cfg.RateLimit,
			RateBurst:    cfg.RateBurst,
			WriteTimeout: cfg.WriteTimeout,
		})
		session := hub.NewSession(h, history, assigner, client, cfg.Room, cfg.HistoryLimit)

		go client.WritePump()

		if err := session.Connect(); err != nil {
			session.Disconnect()
			return
		}
		go session.Run()
	}
}

// clientOrigin extracts the client's network origin: the host part of the
// remote address, so reconnects from the same address share an identity
// regardless of ephemeral port.
func clientOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// healthHandler returns the current health status of the relay,
// including goroutine count and active connection count.
func healthHandler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]int{
			"goroutines":  runtime.NumGoroutine(),
			"connections": h.ConnectionCount(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}
