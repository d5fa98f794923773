// Command qlsserver is the chat server's process entrypoint: it loads
// configuration, wires the in-memory core to its durable/cross-instance
// adapters, and runs the TLS+TCP chat listener alongside the health/admin
// HTTP surface until a shutdown signal arrives.
//
// Grounded on cmd/uncord/main.go's overall shape: log setup, config.Load,
// backing-store connect, background services started against a shared
// cancellable context, signal-triggered graceful shutdown. Regrounded
// from an HTTP API server onto this protocol's TCP gateway.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/qls-chat/qls-server/internal/config"
	"github.com/qls-chat/qls-server/internal/datastore"
	"github.com/qls-chat/qls-server/internal/datastore/postgres"
	"github.com/qls-chat/qls-server/internal/dispatch"
	"github.com/qls-chat/qls-server/internal/fanout"
	"github.com/qls-chat/qls-server/internal/gateway"
	"github.com/qls-chat/qls-server/internal/healthapi"
	"github.com/qls-chat/qls-server/internal/manager"
	"github.com/qls-chat/qls-server/internal/persistence"
	"github.com/qls-chat/qls-server/internal/ratelimit"
	"github.com/qls-chat/qls-server/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Info().Str("version", version).Str("commit", commit).Msg("starting qlsserver")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openDataStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open data store: %w", err)
	}
	defer closeStore()

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	mgr := manager.New()
	persisted := persistence.New(mgr, store, log.Logger)

	limiter := ratelimit.New(cfg.RateLimitConfig())
	disp := dispatch.New(persisted)
	hub := gateway.NewHub(persisted, disp, limiter, cfg.GatewayConfig(), log.Logger)

	if rdb != nil {
		origin := fanoutOrigin()
		hub.EnableFanout(fanout.NewPublisher(rdb, origin, log.Logger), fanout.NewSubscriber(rdb, origin, log.Logger))
		log.Info().Str("origin", origin).Msg("cross-instance fan-out enabled")
	}

	tlsCfg, err := loadTLSConfig(cfg)
	if err != nil {
		return fmt.Errorf("load TLS config: %w", err)
	}

	rawLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	ln, err := gateway.NewTLSListener(rawLn, tlsCfg)
	if err != nil {
		return fmt.Errorf("wrap tls listener: %w", err)
	}

	healthApp := healthapi.New(hub, mgr, limiter, rdb, log.Logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("chat listener serving")
		return hub.Serve(gctx, ln)
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.HealthListenAddr).Msg("health listener serving")
		if err := healthApp.Listen(cfg.HealthListenAddr); err != nil {
			return fmt.Errorf("health listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		hub.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return healthApp.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// openDataStore builds the configured persistence backend (C16). The
// returned close func is always safe to call, even for the in-memory
// backend where it is a no-op.
func openDataStore(ctx context.Context, cfg *config.Config) (datastore.DataManager, func(), error) {
	switch cfg.PersistenceBackend {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info().Msg("postgres connected and migrated")
		return postgres.New(pool), pool.Close, nil
	default:
		log.Info().Msg("using in-memory data store")
		return datastore.NewMemory(), func() {}, nil
	}
}

// openRedis connects the fan-out backend (C17) when configured, via
// internal/valkey.Connect (accepts both redis:// and valkey:// schemes).
// Returns a nil client, not an error, when RedisURL is empty. Fan-out is
// opt-in.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	return valkey.Connect(ctx, cfg.RedisURL, cfg.RedisDialTimeout, log.Logger)
}

func fanoutOrigin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("qlsserver-%d", os.Getpid())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// loadTLSConfig reads the certificate pair required by the gateway's TLS
// listener. Plain crypto/tls; certificate loading is inherent stdlib
// territory that no ecosystem library wraps meaningfully.
func loadTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
