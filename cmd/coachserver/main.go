package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hubenschmidt/coachserver/internal/connmgr"
	"github.com/hubenschmidt/coachserver/internal/session"
	"github.com/hubenschmidt/coachserver/internal/store/postgres"
	"github.com/hubenschmidt/coachserver/internal/store/sqlite"
	"github.com/hubenschmidt/coachserver/internal/upstream"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	store, closeStore := openStore(cfg)
	defer closeStore()

	ollamaCoach := upstream.NewRetryingCoachClient(upstream.NewOllamaCoachClient(cfg.OllamaURL, cfg.OllamaModel, 20))
	coach := upstream.NewCoachRouter(map[string]upstream.CoachClient{"ollama": ollamaCoach}, "ollama")
	ttsClient := upstream.NewTTSClient(cfg.TTSBaseURL, cfg.TTSDefaultVoice, nil, 50)
	avatarBridge := upstream.NewAvatarBridge(upstream.AvatarBridgeConfig{
		FallbackURL:     cfg.AvatarFallbackURL,
		FallbackEnabled: cfg.AvatarFallbackEnabled,
		DialTimeout:     10 * time.Second,
	})

	connMgr := connmgr.New(connmgr.Config{
		Store:               store,
		Coach:               coach,
		CoachEngine:         "ollama",
		CanonicalSampleRate: cfg.CanonicalSampleRate,
		AudioChunkTimeout:   time.Duration(cfg.AudioChunkTimeoutMS) * time.Millisecond,
		HeartbeatInterval:   time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		store:   store,
		connMgr: connMgr,
		avatar:  avatarBridge,
		tts:     ttsClient,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: withRequestID(mux)}

	go awaitShutdown(srv)

	slog.Info("coachserver starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("coachserver stopped")
}

// openStore picks Postgres when configured, else falls back to the
// dev-friendly SQLite adapter.
func openStore(cfg config) (session.Store, func()) {
	if cfg.PostgresURL != "" {
		store, err := postgres.New(context.Background(), cfg.PostgresURL)
		if err != nil {
			slog.Error("postgres store open failed, falling back to sqlite", "error", err)
		} else {
			slog.Info("using postgres session store")
			return store, store.Close
		}
	}
	store, err := sqlite.New(cfg.SQLitePath)
	if err != nil {
		slog.Error("sqlite store open failed", "error", err)
		os.Exit(1)
	}
	slog.Info("using sqlite session store", "path", cfg.SQLitePath)
	return store, func() { _ = store.Close() }
}

// awaitShutdown blocks until SIGINT/SIGTERM, then gracefully drains
// in-flight requests.
func awaitShutdown(srv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
