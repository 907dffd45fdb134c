package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/application/dispatcher"
	"github.com/garyjia/procurement-lifecycle/internal/application/port"
	"github.com/garyjia/procurement-lifecycle/internal/config"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/export"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/metrics"
	"github.com/garyjia/procurement-lifecycle/internal/infrastructure/worker"
	httpapi "github.com/garyjia/procurement-lifecycle/internal/interfaces/http"
	"github.com/garyjia/procurement-lifecycle/pkg/database"
	"github.com/garyjia/procurement-lifecycle/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure
	db       *database.DB
	store    port.Store
	metrics  *metrics.Metrics
	natsConn *nats.Conn
	exporter *export.HistoryExporter

	// Application
	dispatcher dispatcher.Dispatcher
	core       *Core

	// Workers
	workers *worker.WorkerManager

	mu     sync.Mutex
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{config: cfg, logger: logger}, nil
}

// Start initializes all components in dependency order:
// 1. Database and store
// 2. Metrics
// 3. Event dispatcher and sinks
// 4. Lifecycle core
// 5. Workers (started only when sweeping is enabled)
//
// A failure part way through closes whatever was already opened.
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer func() {
		if err != nil {
			c.teardown()
		}
	}()

	c.logger.Info("Starting container initialization")

	if err := c.initStorage(runCtx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.logger.Info("Storage initialized", zap.String("driver", c.config.Database.Driver))

	if c.config.Metrics.Enabled {
		c.metrics = metrics.New()
	}

	c.dispatcher = ProvideDispatcher(c.config.Dispatcher, c.metrics, c.logger)
	if c.natsConn, err = ProvideSinks(c.config, c.dispatcher, c.logger); err != nil {
		return fmt.Errorf("failed to initialize event sinks: %w", err)
	}
	c.logger.Info("Event dispatcher initialized",
		zap.Int("sinks", len(c.dispatcher.ListHandlers(""))))

	if err := c.initCore(); err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	c.exporter = export.NewHistoryExporter(c.logger.Named("export"))

	c.workers = ProvideWorkers(c.config.Sweeper, c.store, c.core, c.metrics, c.logger)
	if c.config.Sweeper.Enabled {
		if err := c.workers.StartAll(runCtx); err != nil {
			return fmt.Errorf("failed to start workers: %w", err)
		}
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) initStorage(ctx context.Context) error {
	if c.config.Database.Driver == config.DriverSQLite {
		db, err := ProvideDatabase(ctx, c.config.Database, c.logger)
		if err != nil {
			return err
		}
		c.db = db
	}

	store, err := ProvideStore(c.config.Database, c.db, c.logger)
	if err != nil {
		return err
	}
	c.store = store
	return nil
}

func (c *Container) initCore() error {
	var (
		core *Core
		err  error
	)
	if c.metrics != nil {
		core, err = ProvideCore(c.config.Orchestrator, c.store, c.dispatcher, c.metrics, c.logger)
	} else {
		core, err = ProvideCore(c.config.Orchestrator, c.store, c.dispatcher, nil, c.logger)
	}
	if err != nil {
		return err
	}
	c.core = core
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()
	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// teardown stops whatever has been started, newest first
func (c *Container) teardown() error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// in-flight deliveries finish before their transports go away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.natsConn != nil {
		if err := c.natsConn.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Ping reports whether storage is reachable
func (c *Container) Ping(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	return c.db.PingContext(ctx)
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.store == nil:
		set("storage", false, "not initialized")
	case c.db == nil:
		set("storage", true, "in-memory")
	default:
		if err := c.db.PingContext(ctx); err != nil {
			set("storage", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("storage", true, "")
		}
	}

	if c.natsConn != nil {
		set("nats", c.natsConn.IsConnected(), c.natsConn.Status().String())
	}

	if c.workers == nil {
		set("workers", false, "not initialized")
	} else if c.config.Sweeper.Enabled {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	}

	if c.dispatcher == nil {
		set("dispatcher", false, "not initialized")
	} else {
		set("dispatcher", true, "")
	}

	return status
}

// HTTPServer builds the HTTP adapter over the started container
func (c *Container) HTTPServer() *httpapi.Server {
	deps := httpapi.Dependencies{
		Orchestrator: c.core.Orchestrator,
		Registry:     c.core.Registry,
		Gate:         c.core.Gate,
		Exporter:     c.exporter,
		Health:       c.Ping,
	}
	if c.metrics != nil {
		deps.Metrics = c.metrics.Handler()
	}

	return httpapi.NewServer(httpapi.ServerConfig{
		Host:            c.config.Server.Host,
		Port:            c.config.Server.Port,
		ReadTimeout:     c.config.Server.ReadTimeout,
		WriteTimeout:    c.config.Server.WriteTimeout,
		ShutdownTimeout: c.config.Server.ShutdownTimeout,
		MetricsPath:     c.config.Metrics.Path,
	}, deps, utils.NewKVLogger(c.logger.Named("http")))
}

// Store returns the entity store.
func (c *Container) Store() port.Store {
	return c.store
}

// Core returns the registry, gate, ledger and orchestrator.
func (c *Container) Core() *Core {
	return c.core
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Exporter returns the history exporter.
func (c *Container) Exporter() *export.HistoryExporter {
	return c.exporter
}

// Metrics returns the Prometheus collectors, nil when metrics are disabled.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
