// Package app wires configuration, storage, the authenticator and the
// control API into one container shared by every authctl command.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"licensecli/internal/auth"
	"licensecli/internal/config"
	"licensecli/internal/device"
	"licensecli/internal/gate"
	"licensecli/internal/infrastructure"
	"licensecli/internal/protocol"
	"licensecli/internal/store"
	"licensecli/internal/token"
	handlers "licensecli/internal/transport/http"
	"licensecli/internal/websocket"
)

// Application holds the long-lived components.
type Application struct {
	Config *config.Config
	Logger *slog.Logger
	OTel   *infrastructure.OTelProviders
	Store  *store.CredentialStore
	Auth   *auth.Authenticator
	Gate   *gate.Gate
	Hub    *websocket.Hub

	redis *redis.Client
}

type options struct {
	probe device.Probe
	otel  *infrastructure.OTelProviders
}

// Option customises New.
type Option func(*options)

// WithProbe replaces the hardware probe used for the device fingerprint.
func WithProbe(p device.Probe) Option { return func(o *options) { o.probe = p } }

// WithOTel supplies already initialised telemetry providers.
func WithOTel(p *infrastructure.OTelProviders) Option { return func(o *options) { o.otel = p } }

// New builds the application from cfg. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	o := options{probe: device.SystemProbe{}}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	providers := o.otel
	if providers == nil {
		var err error
		providers, err = infrastructure.InitializeOTel(cfg.Telemetry, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize telemetry: %w", err)
		}
	}

	st, rdb, err := BuildStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	client, err := protocol.NewClient(cfg.Protocol,
		protocol.WithLogger(logger),
		protocol.WithTracer(providers.Tracer))
	if err != nil {
		closeRedis(rdb)
		return nil, fmt.Errorf("protocol client: %w", err)
	}

	metrics, err := auth.NewMetrics(providers.Meter)
	if err != nil {
		closeRedis(rdb)
		return nil, fmt.Errorf("auth metrics: %w", err)
	}

	hub := websocket.NewHub(logger)
	identity := device.NewIdentity(o.probe, st, logger)

	authenticator := auth.New(client, identity, st,
		auth.WithSink(auth.MultiSink{hub, transitionLogger(logger)}),
		auth.WithMetrics(metrics),
		auth.WithTracer(providers.Tracer),
		auth.WithLogger(logger),
		auth.WithTokenDeriver(token.NewDeriver(cfg.Protocol.TokenKey)),
		auth.WithWatchdog(cfg.Auth.Watchdog),
		auth.WithResetCooldown(cfg.Auth.ResetCooldown),
	)

	return &Application{
		Config: cfg,
		Logger: logger,
		OTel:   providers,
		Store:  st,
		Auth:   authenticator,
		Gate:   gate.New(),
		Hub:    hub,
		redis:  rdb,
	}, nil
}

// BuildStore assembles the credential store: the primary file, backup
// files, then Redis when configured. Every file tier is sealed when a
// passphrase is set. A configured legacy file is migrated once here.
func BuildStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*store.CredentialStore, *redis.Client, error) {
	var sealer *store.Sealer
	if cfg.Passphrase != "" {
		sealer = store.NewSealer(cfg.Passphrase)
	}

	primary := store.NewFileTier("primary", cfg.PrimaryFile, sealer)
	backups := make([]store.Tier, 0, len(cfg.BackupFiles)+1)
	for i, path := range cfg.BackupFiles {
		backups = append(backups, store.NewFileTier(fmt.Sprintf("backup-%d", i+1), path, sealer))
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		var err error
		rdb, err = store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis tier: %w", err)
		}
		backups = append(backups, store.NewRedisTier("redis", rdb, cfg.RedisKey))
	}

	st := store.New(logger, primary, backups...)

	if cfg.LegacyFile != "" {
		if _, err := os.Stat(cfg.LegacyFile); err == nil {
			if _, err := st.Migrate(ctx, store.NewFileTier("legacy", cfg.LegacyFile, nil)); err != nil {
				logger.WarnContext(ctx, "Legacy settings migration failed",
					slog.String("path", cfg.LegacyFile),
					slog.String("error", err.Error()))
			}
		}
	}

	return st, rdb, nil
}

// Router builds the control API over the application's components.
func (a *Application) Router() http.Handler {
	return handlers.NewRouter(handlers.Deps{
		Auth: a.Auth,
		Gate: a.Gate,
		Authorized: func(context.Context) bool {
			return a.Auth.State() == auth.StateAuthenticated
		},
		Feed:         a.Hub,
		Metrics:      a.OTel.PrometheusHTTP,
		Logger:       a.Logger,
		Version:      infrastructure.ServiceVersion,
		RateLimit:    a.Config.Server.RateLimit,
		LicenseCalls: 2 * a.Config.Protocol.CallTimeout,
	})
}

// Serve runs the control API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	a.Hub.Start()
	defer a.Hub.Stop()

	srv := handlers.NewServer(a.Config.Server, a.Router(), a.Logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("shutdown control API: %w", err)
	}
	return <-errCh
}

// Close releases telemetry and the Redis connection.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.OTel != nil {
		if err := a.OTel.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func transitionLogger(logger *slog.Logger) auth.AuthStateSink {
	logger = infrastructure.WithComponent(logger, "auth_state")
	return auth.SinkFunc(func(ctx context.Context, st auth.AuthState) {
		sid := st.SessionID
		if len(sid) > 8 {
			sid = sid[:8] + "..."
		}
		logger.InfoContext(ctx, "Authentication state changed",
			slog.Bool("valid", st.Valid),
			slog.String("session_id", sid))
	})
}

func closeRedis(rdb *redis.Client) {
	if rdb != nil {
		_ = rdb.Close()
	}
}
