// Package container wires the procurement lifecycle service together and owns
// the start and shutdown order of its components.
package container

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/application/dispatcher"
	"github.com/garyjia/procurement-lifecycle/internal/application/ledger"
	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/application/workflow"
	"github.com/garyjia/procurement-lifecycle/internal/config"
	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
	"github.com/garyjia/procurement-lifecycle/internal/domain/permission"
	"github.com/garyjia/procurement-lifecycle/internal/domain/registry"
	infraLark "github.com/garyjia/procurement-lifecycle/internal/infrastructure/external/lark"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/messaging"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/metrics"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/memory"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/repository"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/worker"
	"github.com/garyjia/procurement-lifecycle/pkg/database"
	"github.com/garyjia/procurement-lifecycle/pkg/utils"
)

// Sink names used for dispatcher subscriptions and delivery metrics
const (
	SinkLog  = "log"
	SinkNATS = "nats"
	SinkLark = "lark"
)

// OpenDatabase opens the SQLite database without touching its schema
func OpenDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*database.DB, error) {
	return database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
}

// Migrate applies pending migrations from cfg.MigrationsDir, or the embedded set
func Migrate(ctx context.Context, db *database.DB, cfg config.DatabaseConfig, logger *zap.Logger) (int, error) {
	applied, err := database.NewMigrator(db, logger).RunMigrations(ctx, cfg.MigrationsDir)
	if err != nil {
		return applied, fmt.Errorf("failed to run migrations: %w", err)
	}
	return applied, nil
}

// ProvideDatabase opens the database and brings its schema up to date
func ProvideDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*database.DB, error) {
	db, err := OpenDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}
	if _, err := Migrate(ctx, db, cfg, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ProvideStore returns the entity store for the configured driver. db is nil for the memory driver.
func ProvideStore(cfg config.DatabaseConfig, db *database.DB, logger *zap.Logger) (port.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Info("Using in-memory store; state is lost on exit")
		return memory.NewStore(), nil
	case config.DriverSQLite:
		if db == nil {
			return nil, fmt.Errorf("sqlite driver requires an open database")
		}
		return repository.NewStore(sqlite.NewDB(db.DB, logger), logger), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// ProvideDispatcher creates the event fan-out. m may be nil.
func ProvideDispatcher(cfg config.DispatcherConfig, m *metrics.Metrics, logger *zap.Logger) dispatcher.Dispatcher {
	opts := []dispatcher.Option{
		dispatcher.WithLogger(utils.NewKVLogger(logger.Named("dispatcher"))),
		dispatcher.WithHandlerTimeout(cfg.HandlerTimeout),
	}
	if m != nil {
		opts = append(opts, dispatcher.WithDeliveryObserver(m))
	}
	return dispatcher.NewDispatcher(opts...)
}

// ProvideSinks subscribes the configured event sinks and returns the NATS
// connection when one was opened, so the caller can drain it on shutdown.
func ProvideSinks(cfg *config.Config, disp dispatcher.Dispatcher, logger *zap.Logger) (*nats.Conn, error) {
	disp.SubscribeAll(SinkLog, logSink(logger.Named("events")))

	var conn *nats.Conn
	if cfg.NATS.Enabled {
		var err error
		conn, err = messaging.Connect(messaging.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, logger)
		if err != nil {
			return nil, err
		}
		publisher := messaging.NewPublisher(conn, cfg.NATS.SubjectPrefix, logger.Named("nats"))
		disp.SubscribeAll(SinkNATS, publisher.Handle)
	}

	if cfg.Lark.Enabled {
		larkCfg := infraLark.Config{
			AppID:         cfg.Lark.AppID,
			AppSecret:     cfg.Lark.AppSecret,
			ReceiveIDType: cfg.Lark.ReceiveIDType,
			ReceiveID:     cfg.Lark.ReceiveID,
		}
		var opts []infraLark.NotifierOption
		if len(cfg.Lark.EventTypes) > 0 {
			types := make([]event.Type, 0, len(cfg.Lark.EventTypes))
			for _, t := range cfg.Lark.EventTypes {
				types = append(types, event.Type(t))
			}
			opts = append(opts, infraLark.WithEventTypes(types...))
		}
		client := infraLark.NewSDKClient(larkCfg, logger.Named("lark"))
		notifier := infraLark.NewNotifier(client, larkCfg, logger.Named("lark"), opts...)
		disp.SubscribeAll(SinkLark, notifier.Handle)
	}

	return conn, nil
}

func logSink(logger *zap.Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		logger.Info("Domain event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.String("entity_id", evt.EntityID),
			zap.String("entity_type", evt.EntityType),
			zap.String("transition", evt.Transition),
			zap.String("to_status", evt.ToStatus),
			zap.String("correlation_id", evt.CorrelationID))
		return nil
	}
}

// Core is the lifecycle core: registry, gate, ledger and orchestrator
type Core struct {
	Registry     *registry.Registry
	Gate         *permission.Gate
	Ledger       *ledger.Ledger
	Orchestrator workflow.Orchestrator
}

// ProvideCore builds the orchestrator and its collaborators. notifier and recorder may be nil.
func ProvideCore(cfg config.OrchestratorConfig, store port.Store, notifier port.EventNotifier, recorder workflow.Recorder, logger *zap.Logger) (*Core, error) {
	exclusivity, err := workflow.ParseBidExclusivity(cfg.BidExclusivity)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	gate := permission.NewGate()
	ldg := ledger.New(store,
		ledger.WithLogger(utils.NewKVLogger(logger.Named("ledger"))),
		ledger.WithMaxAttempts(cfg.MaxAttempts),
	)

	opts := []workflow.Option{
		workflow.WithLogger(utils.NewKVLogger(logger.Named("orchestrator"))),
		workflow.WithMaxAttempts(cfg.MaxAttempts),
		workflow.WithBidExclusivity(exclusivity),
		workflow.WithPaymentTerms(cfg.InvoicePaymentTerms),
	}
	if notifier != nil {
		opts = append(opts, workflow.WithNotifier(notifier))
	}
	if recorder != nil {
		opts = append(opts, workflow.WithRecorder(recorder))
	}

	return &Core{
		Registry:     reg,
		Gate:         gate,
		Ledger:       ldg,
		Orchestrator: workflow.NewOrchestrator(store, reg, gate, ldg, opts...),
	}, nil
}

// ProvideWorkers registers the sweepers. They are started by the container only
// when sweeping is enabled; RunOnce works either way.
func ProvideWorkers(cfg config.SweeperConfig, store port.Store, core *Core, m *metrics.Metrics, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger.Named("workers"))

	manager.Register(worker.NewOverdueSweeper(
		worker.SweeperConfig{Interval: cfg.OverdueInterval, BatchSize: cfg.BatchSize},
		store, core.Orchestrator, logger.Named("overdue")))

	var observer worker.BudgetObserver
	if m != nil {
		observer = m
	}
	manager.Register(worker.NewBudgetExpirySweeper(
		worker.SweeperConfig{Interval: cfg.BudgetExpiryInterval, BatchSize: cfg.BatchSize},
		store, core.Ledger, observer, logger.Named("expiry")))

	return manager
}
