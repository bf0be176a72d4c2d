package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"chatrelay-server/config"
	"chatrelay-server/hub"
	"chatrelay-server/protocol"
	"chatrelay-server/relay"
	"chatrelay-server/storage"
	ws "chatrelay-server/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	cfg := config.Load()
	setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		slog.Error("storage unavailable", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	rooms := hub.New(ctx, backend, cfg.SyncTimeout*2, relay.WithSyncTimeout(cfg.SyncTimeout))
	handler := protocol.NewHandler(rooms, cfg.SyncTimeout*2)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: newRouter(cfg, rooms, handler),
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Env, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	cancel()
}

func setupLogger(level string) {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}

func newRouter(cfg config.Config, rooms *hub.Hub, handler *protocol.Handler) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/parties/main/{room}", wsHandler(cfg, rooms, handler)).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", statsHandler(rooms)).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	})
	return c.Handler(r)
}

func wsHandler(cfg config.Config, rooms *hub.Hub, handler *protocol.Handler) http.HandlerFunc {
	upgrader := ws.NewUpgrader(cfg)

	return func(w http.ResponseWriter, r *http.Request) {
		room := mux.Vars(r)["room"]
		id := clientID(r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "room", room, "error", err)
			return
		}

		ws.NewConn(id, room, conn, rooms, handler, cfg).Start()
	}
}

// clientID prefers the identity the client library sends in the query
// string and falls back to a fresh UUID.
func clientID(r *http.Request) string {
	q := r.URL.Query()
	for _, key := range []string{"_pk", "id"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			return v
		}
	}
	return uuid.New().String()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(rooms *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomCount, clients := rooms.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"rooms": roomCount, "clients": clients})
	}
}
