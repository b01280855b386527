// Command server runs the collaborative coding room backend: room
// authentication, the shared file tree, per-user shells, and the
// WebSocket gateway tying them together.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/PrajwalMundargi/codetogether-backend/internal/config"
	"github.com/PrajwalMundargi/codetogether-backend/internal/gateway"
	"github.com/PrajwalMundargi/codetogether-backend/internal/hub"
	"github.com/PrajwalMundargi/codetogether-backend/internal/logging"
	"github.com/PrajwalMundargi/codetogether-backend/internal/metrics"
	"github.com/PrajwalMundargi/codetogether-backend/internal/room"
	"github.com/PrajwalMundargi/codetogether-backend/internal/roomauth"
	"github.com/PrajwalMundargi/codetogether-backend/internal/roomstore"
	"github.com/PrajwalMundargi/codetogether-backend/internal/syncgate"
	"github.com/PrajwalMundargi/codetogether-backend/internal/term"
	"github.com/PrajwalMundargi/codetogether-backend/pkg/protocol"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		os.Stderr.WriteString("logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logging.Fatal("room store init failed", zap.Error(err))
	}
	defer store.Close()

	h := hub.New()
	arbiter := syncgate.New(0)
	rooms := room.NewManager(cfg.WorkdirRoot, 0, arbiter, h)
	terms := term.NewManager(term.Options{
		Shell: cfg.Shell,
		Output: func(userID string, data []byte) {
			h.SendTo(userID, protocol.EventTerminalOutput, string(data))
		},
		StillMember: func(userID, roomCode string) bool {
			return h.IsMember(roomCode, userID)
		},
	})
	auth := roomauth.New(store)
	tokens := roomauth.NewTokenIssuer(cfg.JWTSecret)
	gw := gateway.New(ctx, h, rooms, terms, auth, tokens)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: logging.Middleware(metrics.Middleware(mux)),
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		var err error
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			logging.Info("server listening (tls)", zap.String("addr", cfg.ListenAddr))
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logging.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("server shutdown incomplete", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	// Connections are gone; tear down watchers and scratch directories.
	rooms.ReleaseAll()
	cancel()
	logging.Info("shutdown complete")
}

// openStore selects the room store backend from DATABASE_URL. The
// sentinel "memory:" keeps everything in process for local runs.
func openStore(ctx context.Context, cfg *config.Config) (roomstore.Store, error) {
	if cfg.DatabaseURL == "memory:" {
		logging.Info("using in-memory room store")
		return roomstore.NewMemory(cfg.RoomTTL), nil
	}
	pg, err := roomstore.NewPostgres(ctx, cfg.DatabaseURL, cfg.RoomTTL)
	if err != nil {
		return nil, err
	}
	pg.StartPurge(ctx)
	logging.Info("connected to postgres room store")
	return pg, nil
}
