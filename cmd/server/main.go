package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/cors"

	"rendezvous/internal/auth"
	"rendezvous/internal/chat"
	"rendezvous/internal/config"
	"rendezvous/internal/database"
	"rendezvous/internal/handler"
	"rendezvous/internal/health"
	"rendezvous/internal/hub"
	"rendezvous/internal/notify"
	"rendezvous/internal/presence"
	"rendezvous/internal/telemetry"
)

const (
	shutdownTimeout = 15 * time.Second
	sweepInterval   = time.Minute
)

func main() {
	// .envファイルを読み込み
	envErr := godotenv.Load()

	// 環境変数を読み込み
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn(".env file not found, using environment and defaults", "error", envErr)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.New()
	checks := health.NewHandler()

	// データベース接続を初期化
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	checks.AddChecker(health.NewPingChecker("database", store.Ping, 0))

	var nc *nats.Conn
	var js jetstream.JetStream
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL,
			nats.Name("rendezvous-realtime"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info("nats reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Drain()

		js, err = jetstream.New(nc)
		if err != nil {
			return fmt.Errorf("failed to create jetstream context: %w", err)
		}
		checks.AddChecker(health.NewPingChecker("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New(nc.Status().String())
			}
			return nil
		}, 0))
	}

	presenceStore, err := openPresence(ctx, cfg, js, logger)
	if err != nil {
		return err
	}
	defer presenceStore.Close()
	checks.AddChecker(health.NewPingChecker("presence", presenceStore.Ping, 0))

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if js != nil {
		pusher, err := notify.NewNATSNotifier(ctx, js, cfg.PushSubject, logger)
		if err != nil {
			return err
		}
		breaker := notify.NewBreaker(pusher, notify.DefaultBreakerSettings(), logger)
		checks.AddChecker(health.NewBreakerChecker(breaker))
		notifier = breaker
	}

	rooms := hub.New(logger, hub.WithDropHook(func(event string) {
		metrics.EventDropped(context.Background(), event)
	}))
	checks.SetStats(rooms.Stats)

	svc := chat.NewService(store, presenceStore, rooms, notifier, chat.Options{
		PreviewLength: cfg.PreviewLength,
		NotifyTimeout: cfg.NotifyTimeout,
		Metrics:       metrics,
		Logger:        logger,
	})

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, every connection will be rejected")
	}
	h := handler.New(cfg, svc, auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer), logger)
	h.Health = checks
	h.Metrics = metrics

	router := h.SetupRouter()

	// CORS対応
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println("========================================")
	fmt.Println("  Rendezvous Realtime Server")
	fmt.Println("========================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Server: http://localhost:%s\n", cfg.ServerPort)
	fmt.Printf("  WebSocket: ws://localhost:%s/ws\n", cfg.ServerPort)
	if cfg.StoreBackend == config.StoreMySQL {
		fmt.Printf("  Database: %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
	} else {
		fmt.Printf("  Database: %s\n", cfg.StoreBackend)
	}
	fmt.Printf("  Presence: %s\n", cfg.PresenceBackend)
	fmt.Printf("  Allowed Origins: %v\n", cfg.AllowedOrigins)
	fmt.Println("========================================")

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 Server started successfully", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	// WebSocket はハイジャック済みなので個別に閉じる
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket shutdown", "error", err)
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("pending push notifications abandoned", "error", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (database.Store, error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return database.NewMemoryStore(), nil
	}

	db, err := database.Init(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return database.NewMySQLStore(db), nil
}

func openPresence(ctx context.Context, cfg config.Config, js jetstream.JetStream, logger *slog.Logger) (presence.Store, error) {
	switch cfg.PresenceBackend {
	case config.PresenceRedis:
		logger.Info("presence backend", "backend", "redis")
		return presence.DialRedis(ctx, cfg.RedisURL, cfg.PresenceTTL, cfg.ActivityTTL)
	case config.PresenceNATS:
		if js == nil {
			return nil, errors.New("PRESENCE_BACKEND=nats requires NATS_URL")
		}
		logger.Info("presence backend", "backend", "nats")
		return presence.NewNATSStore(ctx, js, cfg.PresenceTTL, cfg.ActivityTTL)
	default:
		logger.Info("presence backend", "backend", "memory")
		store := presence.NewMemoryStore(cfg.PresenceTTL, cfg.ActivityTTL)
		go store.RunSweeper(ctx, sweepInterval)
		return store, nil
	}
}
