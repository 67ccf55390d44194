package daemon

import (
	"context"
	"time"

	"github.com/session-foundation/seshd/internal/account"
	"github.com/session-foundation/seshd/internal/api"
	"github.com/session-foundation/seshd/internal/bus"
	"github.com/session-foundation/seshd/internal/config"
	"github.com/session-foundation/seshd/internal/configstore"
	"github.com/session-foundation/seshd/internal/dispatch"
	"github.com/session-foundation/seshd/internal/lock"
	"github.com/session-foundation/seshd/internal/logging"
	"github.com/session-foundation/seshd/internal/status"
	"github.com/session-foundation/seshd/internal/store"
	"github.com/session-foundation/seshd/internal/swarm"
	intsync "github.com/session-foundation/seshd/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	AccountName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideConfig,
			provideStore,
			provideIdentity,
			provideRegistry,
			provideSwarmClient,
			provideMapper,
			provideSyncEngine,
			provideDispatcher,
			provideStatusService,
			provideContactService,
			provideSyncService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

// identity is the account public key, wrapped so fx can tell it apart from
// other strings.
type identity struct {
	PubKey string
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(account.LogPath(p.AccountName), p.AccountName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.AccountName); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.AccountName))
	l, err := lock.Acquire(account.Dir(p.AccountName))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(account.ConfigPath())
	if err != nil {
		logger.Info("no global config, using defaults", zap.Error(err))
		return &config.Config{Swarm: config.Swarm{PollIntervalSecs: config.DefaultPollIntervalSecs}}
	}
	return cfg
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.DBPath(p.AccountName)
	db, err := store.Open(dbPath)
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
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIdentity(p Params) (identity, error) {
	pubkey, err := account.LoadOrCreateIdentity(p.AccountName)
	if err != nil {
		return identity{}, err
	}
	return identity{PubKey: pubkey}, nil
}

func provideRegistry(db *store.DB, id identity) *configstore.Registry {
	return configstore.NewRegistry(db, id.PubKey)
}

func provideSwarmClient(cfg *config.Config, id identity, engine *intsync.Engine, logger *zap.Logger) *swarm.Client {
	interval := time.Duration(cfg.Swarm.PollIntervalSecs) * time.Second
	return swarm.NewClient(cfg.Swarm.NodeURL, id.PubKey, nil, engine, logger, interval)
}

func provideMapper(db *store.DB, registry *configstore.Registry, b *bus.Bus, logger *zap.Logger) *intsync.Mapper {
	return intsync.NewMapper(db, registry, b, logger)
}

func provideSyncEngine(db *store.DB, registry *configstore.Registry, id identity, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, registry, b, logger, id.PubKey)
}

func provideDispatcher(db *store.DB, client *swarm.Client, b *bus.Bus, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(db, client, b, logger)
}

func provideStatusService(p Params, db *store.DB, m *status.Machine, id identity) *api.StatusService {
	return api.NewStatusService(db, m, p.AccountName, id.PubKey)
}

func provideContactService(db *store.DB, mapper *intsync.Mapper, engine *intsync.Engine, id identity) *api.ContactService {
	return api.NewContactService(db, mapper, engine, id.PubKey)
}

func provideSyncService(db *store.DB, dispatcher *dispatch.Dispatcher, m *status.Machine) *api.SyncService {
	return api.NewSyncService(db, dispatcher, m)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, cfg *config.Config, client *swarm.Client, dispatcher *dispatch.Dispatcher, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start control server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			// Start push dispatcher.
			dispatcher.Start(context.Background())

			if cfg.Swarm.NodeURL == "" {
				logger.Info("no swarm node configured, running offline")
				_ = machine.Transition(status.Offline)
				return nil
			}

			client.Start(context.Background())
			_ = machine.Transition(status.Idle)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			client.Stop()
			dispatcher.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
