// Package app builds the dependency graph for one mailctl invocation.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/99designs/keyring"
	"github.com/google/uuid"
	"github.com/matheus3301/mailctl/internal/attachments"
	"github.com/matheus3301/mailctl/internal/auth"
	"github.com/matheus3301/mailctl/internal/bus"
	"github.com/matheus3301/mailctl/internal/config"
	"github.com/matheus3301/mailctl/internal/credential"
	"github.com/matheus3301/mailctl/internal/graph"
	"github.com/matheus3301/mailctl/internal/logging"
	"github.com/matheus3301/mailctl/internal/metrics"
	"github.com/matheus3301/mailctl/internal/paths"
	"github.com/matheus3301/mailctl/internal/store"
	intsync "github.com/matheus3301/mailctl/internal/sync"
	"go.uber.org/dig"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// credentialLockName is the flock file serializing credential refreshes.
const credentialLockName = "credentials.lock"

// stopTimeout bounds the shutdown hooks.
const stopTimeout = 10 * time.Second

// Params holds the per-invocation settings passed to the fx module.
type Params struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool

	// Config and Keyring replace the loaded config and the OS keyring; used by tests.
	Config  *config.Config
	Keyring keyring.Keyring
}

// Module returns the fx module composing every mailctl component. fx builds
// providers lazily, so a command only opens the store, keyring or network
// client it actually asks for.
func Module(p Params) fx.Option {
	return fx.Module("mailctl",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideStore,
			store.NewMessageRepository,
			store.NewAttachmentRepository,
			store.NewCheckpointRepository,
			provideTokenCache,
			provideAuthenticator,
			provideAuthManager,
			provideGraphClient,
			provideMaterializer,
			provideOrchestrator,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.Load(p.ConfigPath)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, logging.CloseFunc, error) {
	if err := paths.EnsureDir(); err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", paths.BaseDir(), err)
	}
	return logging.New(logging.Options{
		Path:         paths.LogPath(),
		Level:        cfg.Logging.Level,
		ConsoleLevel: logging.ConsoleLevel(p.Verbose, p.Quiet),
		RunID:        uuid.NewString(),
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0700); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %w", store.ErrStorageUnavailable, err)
	}
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Debug("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Debug("store initialized", zap.String("path", cfg.Database.Path))

	lc.Append(fx.StopHook(func() error {
		return db.Close()
	}))
	return db, nil
}

func provideTokenCache(p Params, cfg *config.Config) (auth.TokenCache, error) {
	ring := p.Keyring
	if ring == nil {
		var err error
		ring, err = auth.OpenKeyring(cfg.Storage.KeyringBackend, paths.KeyringDir())
		if err != nil {
			return nil, err
		}
	}
	return auth.NewKeyringCache(ring), nil
}

func provideAuthenticator(cfg *config.Config) auth.Authenticator {
	return auth.NewOAuthAuthenticator(cfg.Azure.ClientID, cfg.Azure.Authority, cfg.Azure.Tenant, nil)
}

func provideAuthManager(cfg *config.Config, tokens auth.TokenCache, a auth.Authenticator, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *auth.Manager {
	return auth.NewManager(credential.NewStore(cfg.Storage.IdentityFile), tokens, a, auth.Options{
		Scopes:   cfg.Azure.Scopes,
		LockPath: filepath.Join(paths.LockDir(), credentialLockName),
		Bus:      b,
		Logger:   logger,
		Metrics:  m,
	})
}

func provideGraphClient(cfg *config.Config, logger *zap.Logger) *graph.Client {
	return graph.NewClient(cfg.Graph.BaseURL, graph.WithLogger(logger))
}

func provideMaterializer(cfg *config.Config, mgr *auth.Manager, client *graph.Client, repo *store.AttachmentRepository,
	b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *attachments.Materializer {
	return attachments.New(mgr, client, repo, attachments.Options{
		Workers: cfg.Download.Workers,
		Bus:     b,
		Logger:  logger,
		Metrics: m,
	})
}

func provideOrchestrator(mgr *auth.Manager, client *graph.Client, messages *store.MessageRepository,
	checkpoints *store.CheckpointRepository, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *intsync.Orchestrator {
	return intsync.NewOrchestrator(mgr, client, messages, checkpoints, b, logger, m)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				logger.Warn("writing metrics textfile failed", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
			}
			logger.Debug("invocation finished")
			_ = logger.Sync()
			return nil
		},
	})
}

func fxLogger(logger *zap.Logger) fxevent.Logger {
	l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
	l.UseLogLevel(zapcore.DebugLevel)
	return l
}

// App is a started container.
type App struct {
	fx       *fx.App
	closeLog logging.CloseFunc
}

// Start builds the container, fills targets (pointers to provided types, as
// with fx.Populate) and runs the start hooks. Errors from constructors are
// returned unwrapped from fx's dependency-graph context.
func Start(ctx context.Context, p Params, targets ...any) (*App, error) {
	app := &App{}
	a := fx.New(
		Module(p),
		fx.Populate(append(targets, &app.closeLog)...),
		fx.WithLogger(fxLogger),
	)
	if err := a.Err(); err != nil {
		return nil, dig.RootCause(err)
	}
	app.fx = a
	if err := a.Start(ctx); err != nil {
		return nil, multierr.Append(dig.RootCause(err), app.closeLog())
	}
	return app, nil
}

// Stop runs the stop hooks: the store is closed and metrics are flushed.
// The log file is closed last, after fx has logged the shutdown.
func (a *App) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := a.fx.Stop(ctx)
	return multierr.Append(err, a.closeLog())
}

// Run starts a container, calls fn and stops the container. The error of fn
// and any shutdown error are combined.
func Run(ctx context.Context, p Params, fn func(context.Context) error, targets ...any) (err error) {
	a, err := Start(ctx, p, targets...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, a.Stop())
	}()
	return fn(ctx)
}
