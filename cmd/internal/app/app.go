// Package app wires the HealthyDB server runtime: config, logging, storage backends, the
// Session Store, HTTP routes and the live channel.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"healthydb/cmd/identity"
	"healthydb/cmd/internal/auth/api"
	"healthydb/cmd/internal/auth/cookies"
	"healthydb/cmd/internal/auth/events"
	"healthydb/cmd/internal/auth/gate"
	"healthydb/cmd/internal/auth/magiclink"
	"healthydb/cmd/internal/auth/provider"
	"healthydb/cmd/internal/auth/session"
	"healthydb/cmd/internal/metrics"
	"healthydb/cmd/internal/realtime"
	"healthydb/cmd/internal/web"
	"healthydb/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App owns the server wiring and every long-lived resource.
type App struct {
	cfg Config
	log Logger

	metrics *metrics.Metrics

	dbPool *pgxpool.Pool
	rdb    *redis.Client
	relay  *events.RedisBroker

	live    *realtime.Gateway
	handler http.Handler
}

// backends are the storage choices made from config.
type backends struct {
	users    identity.Store
	sessions session.Store
	links    magiclink.Store
	broker   events.Broker
}

// New constructs a fully wired App. Resources opened before a failure are released.
func New(ctx context.Context, cfg Config, log Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a = &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	if cfg.MetricsEnabled {
		a.metrics = metrics.New()
	}

	b, err := a.openBackends(ctx)
	if err != nil {
		return nil, err
	}

	p, err := a.newProvider(b)
	if err != nil {
		return nil, err
	}

	jar := cookies.NewJar(cookies.LoadConfigFromEnv())
	views, err := web.NewViews(log, jar)
	if err != nil {
		return nil, err
	}

	var authOpts []api.HandlerOption
	authOpts = append(authOpts, api.WithMetrics(a.metrics))
	if a.dbPool != nil {
		authOpts = append(authOpts, api.WithAuditPool(a.dbPool))
	}
	authCfg := api.LoadConfigFromEnv()
	authCfg.Schema = cfg.DBSchema
	auth, err := api.NewHandler(log, authCfg, p, jar, views, authOpts...)
	if err != nil {
		return nil, err
	}

	table := gate.DefaultTable()
	edge := gate.NewEdge(log, table, p, jar, a.metrics)
	client := gate.NewClient(table, a.metrics)

	pages := web.NewPages(log, web.LoadConfigFromEnv(), views, p, b.users, client, jar)
	a.live = realtime.NewGateway(log, realtime.LoadConfigFromEnv(), realtime.NewHub(log), p, client, jar, a.metrics)

	mux := http.NewServeMux()
	a.registerHTTP(mux, auth, pages)

	a.handler = WithRequestLogging(
		WithSecurityHeaders(jar.DeviceMiddleware(edge.Middleware(mux))),
		log, a.metrics,
	)
	return a, nil
}

// Handler returns the root HTTP handler (tests, embedding).
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) openBackends(ctx context.Context) (backends, error) {
	var b backends

	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.memory_store")
		b.users = identity.NewMemoryStore()
		b.sessions = session.NewMemoryStore()
	} else {
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return b, err
		}
		a.dbPool = pool

		users, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return b, err
		}
		sessions, err := session.NewPostgresStore(pool, session.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return b, err
		}
		b.users, b.sessions = users, sessions
		a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema, "auto_migrate", a.cfg.DBAutoMigrate)
	}

	if a.cfg.RedisURL == "" {
		a.log.Info("redis.disabled.memory_store")
		b.links = magiclink.NewMemoryStore()
		b.broker = events.NewMemoryBroker(a.log, 0)
		return b, nil
	}

	rdb, err := NewRedisClient(ctx, a.cfg.RedisURL)
	if err != nil {
		return b, err
	}
	a.rdb = rdb

	relay := events.NewRedisBroker(a.log, rdb, "", 0)
	// The relay outlives New; it stops on Close during shutdown.
	if err := relay.Start(context.WithoutCancel(ctx)); err != nil {
		return b, err
	}
	a.relay = relay

	b.links = magiclink.NewRedisStore(rdb, "")
	b.broker = relay
	a.log.Info("redis.enabled", "magiclink", true, "events_relay", true)
	return b, nil
}

func (a *App) newProvider(b backends) (*provider.Provider, error) {
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if sessCfg.EphemeralKey {
		a.log.Warn("session.key.ephemeral", "note", "sessions will not survive a restart")
	}
	tokens, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, err
	}

	linkCfg, err := magiclink.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("magiclink config: %w", err)
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("password config: %w", err)
	}
	provCfg, err := provider.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var mailer provider.Mailer = provider.NoopMailer{}
	if a.cfg.Mailer == "log" {
		mailer = provider.LogMailer{Log: a.log}
	}

	return provider.New(a.log, provCfg, provider.Deps{
		Users:     b.users,
		Sessions:  session.NewService(sessCfg, b.sessions, tokens),
		Links:     magiclink.NewService(linkCfg, b.links),
		Broker:    b.broker,
		Mailer:    mailer,
		Passwords: pwCfg,
	})
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.rdb != nil,
		"metrics_enabled", a.metrics != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeResources()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	a.live.Hub().CloseAll()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
	}
	a.closeResources()

	a.log.Info("server.stopped")
	return err
}

func (a *App) closeResources() {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Error("events.relay.close.fail", "err", err)
		}
		a.relay = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
