package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/AgentPayy/AgentPayy-sub002/internal/database/cache"
	"github.com/AgentPayy/AgentPayy-sub002/internal/database/kv"
	"github.com/AgentPayy/AgentPayy-sub002/internal/database/sqlstore"
	"github.com/AgentPayy/AgentPayy-sub002/internal/metric"
	"github.com/AgentPayy/AgentPayy-sub002/internal/zerolog"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/api"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/common/contracts/ethereum"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/config"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/escrow"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/health"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/ledger"
	"github.com/AgentPayy/AgentPayy-sub002/pkg/payment"
)

const (
	redisEnvPrefix = "redis"
	sqlEnvPrefix   = "sql"

	modelCacheNamespace = "agentpayy"
	modelCacheLockTTL   = 2 * time.Second
	modelCacheWait      = 500 * time.Millisecond

	serverStopTimeout = 5 * time.Second
)

// App holds all the dependencies
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config

	metricServer *metric.Server
	redisConn    redis.UniversalClient
	store        kv.Store
	chainManager ethereum.ChainManager

	coordinator *escrow.Coordinator
	sweeper     *escrow.Sweeper
	validator   *payment.Validator
	ledger      *ledger.Ledger
	listeners   []*ledger.Listener
	health      *health.Checker
	apiServer   *api.Server
}

// New creates a new application instance
func New(ctx context.Context, cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(ctx)
	return &App{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}
}

// Run initializes every component and serves until the context ends or a
// server fails.
func (a *App) Run() error {
	if err := a.initLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.initMetrics()

	if err := a.initStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := a.initChainManager(); err != nil {
		return fmt.Errorf("failed to initialize chain manager: %w", err)
	}

	if err := a.initEscrow(); err != nil {
		return fmt.Errorf("failed to initialize escrow: %w", err)
	}

	a.initValidator()

	if err := a.initLedger(); err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}

	if err := a.initListeners(); err != nil {
		return fmt.Errorf("failed to initialize listeners: %w", err)
	}

	if err := a.initHealthChecker(); err != nil {
		return fmt.Errorf("failed to initialize health checker: %w", err)
	}

	if err := a.initAPI(); err != nil {
		return fmt.Errorf("failed to initialize API: %w", err)
	}

	a.sweeper.Start(a.ctx)

	metric.RecordRequest("app", "startup_complete")
	log.Info().Strs("networks", a.chainManager.Networks()).Msg("AgentPayy coordinator started")

	return a.serve()
}

// serve runs the API and metrics servers until the app context ends or one
// of them fails, then stops both and waits for them to return.
func (a *App) serve() error {
	g, ctx := errgroup.WithContext(a.ctx)
	g.Go(func() error {
		if err := a.metricServer.Start(); err != nil {
			metric.RecordError("metric_server_start_failed")
			return fmt.Errorf("metric server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.apiServer.Start(); err != nil {
			metric.RecordError("api_server_start_failed")
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		defer cancel()
		return errors.Join(a.apiServer.Stop(stopCtx), a.metricServer.Stop(stopCtx))
	})
	return g.Wait()
}

// Shutdown stops components in reverse order of construction.
func (a *App) Shutdown(ctx context.Context) error {
	a.cancel()

	var errs []error
	if a.apiServer != nil {
		errs = append(errs, a.apiServer.Stop(ctx))
	}
	if a.metricServer != nil {
		errs = append(errs, a.metricServer.Stop(ctx))
	}
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.health != nil {
		a.health.Stop()
	}
	for _, l := range a.listeners {
		l.Stop()
	}
	if a.chainManager != nil {
		errs = append(errs, a.chainManager.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	log.Info().Msg("AgentPayy coordinator stopped")
	return errors.Join(errs...)
}

func (a *App) initLogger() error {
	return zerolog.InitLogger(a.cfg.Logging.Level, a.cfg.Logging.Format == "console")
}

// initMetrics builds the metrics server from METRIC_* env.
func (a *App) initMetrics() {
	a.metricServer = metric.New(nil)
}

// initStorage opens the configured kv backend from REDIS_* or SQL_* env.
func (a *App) initStorage() error {
	switch a.cfg.Storage.Driver {
	case "redis":
		conn, err := cache.NewRedisClient(redisEnvPrefix)
		if err != nil {
			metric.RecordError("cache_init_failed")
			return err
		}
		a.redisConn = conn
		a.store = cache.NewStore(conn)
	case "sql":
		sc, err := sqlstore.LoadConfig(sqlEnvPrefix)
		if err != nil {
			return err
		}
		s, err := sqlstore.Open(a.ctx, sc)
		if err != nil {
			metric.RecordError("database_connection_failed")
			return err
		}
		a.store = s
	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
	return nil
}

func (a *App) initChainManager() error {
	m, err := ethereum.NewManager(a.cfg)
	if err != nil {
		metric.RecordError("chain_manager_init_failed")
		return err
	}
	a.chainManager = m
	return nil
}

// initEscrow rebuilds the pending index before anything can serve.
func (a *App) initEscrow() error {
	store := escrow.NewTaskStore(a.store, a.cfg.Storage.OpTimeout)
	a.coordinator = escrow.NewCoordinator(store, escrow.NewRegistry())
	if err := a.coordinator.Load(a.ctx); err != nil {
		metric.RecordError("escrow_load_failed")
		return err
	}
	a.sweeper = escrow.NewSweeper(a.coordinator, a.cfg.Escrow.SweepInterval)
	return nil
}

// initValidator shares model lookups through redis when it is the store and
// falls back to an in-process cache otherwise.
func (a *App) initValidator() {
	var models cache.Cache
	if a.redisConn != nil {
		models = cache.NewRedisCache(a.redisConn, modelCacheNamespace, modelCacheLockTTL, modelCacheWait)
	} else {
		models = cache.NewLocalCache(a.cfg.Payment.LocalCacheSize)
	}
	a.validator = payment.NewValidator(a.chainManager, models, a.cfg.Payment.ModelCacheTTL)
}

func (a *App) initLedger() error {
	a.ledger = ledger.NewLedger(a.store, a.cfg.Storage.OpTimeout, a.cfg.Ledger.PaymentTTL)
	n, err := a.ledger.Restore(a.ctx)
	if err != nil {
		metric.RecordError("ledger_restore_failed")
		return err
	}
	log.Info().Int("payments", n).Msg("ledger restored")
	return nil
}

func (a *App) initListeners() error {
	for _, network := range a.chainManager.Networks() {
		client, err := a.chainManager.GetClient(network)
		if err != nil {
			return err
		}
		l, err := ledger.NewListener(a.ctx, &ledger.ListenerConfig{
			Source:     client,
			Recorder:   a.ledger,
			StartBlock: a.cfg.Networks[network].StartBlock,
		})
		if err != nil {
			metric.RecordError("event_listener_creation_failed")
			return fmt.Errorf("network %s: %w", network, err)
		}
		a.listeners = append(a.listeners, l)
	}
	return nil
}

func (a *App) initHealthChecker() error {
	c, err := health.NewChecker(a.ctx, a.chainManager, a.store)
	if err != nil {
		return err
	}
	a.health = c
	return nil
}

func (a *App) paywallConfig() (*api.PaywallConfig, error) {
	pw := a.cfg.Paywall
	if !pw.Enabled {
		return nil, nil
	}
	price, err := decimal.NewFromString(pw.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid paywall price %q: %w", pw.Price, err)
	}
	return &api.PaywallConfig{
		ModelID:   pw.ModelID,
		Price:     price,
		Recipient: pw.Recipient,
		Network:   pw.Network,
	}, nil
}

func (a *App) initAPI() error {
	paywall, err := a.paywallConfig()
	if err != nil {
		return err
	}
	a.apiServer, err = api.NewServer(api.Config{
		Coordinator: a.coordinator,
		Validator:   a.validator,
		Ledger:      a.ledger,
		Paywall:     paywall,
		Health:      a.health,
	}, api.ServerConfig{
		Host:      a.cfg.HTTP.Host,
		Port:      a.cfg.HTTP.Port,
		RateLimit: a.cfg.HTTP.RateLimit,
		RateBurst: a.cfg.HTTP.RateBurst,
	})
	if err != nil {
		metric.RecordError("api_init_failed")
		return err
	}
	return nil
}
