// Package worker runs the periodic background jobs of the service.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Sweeper is a worker whose pass can also be triggered on demand
type Sweeper interface {
	Worker
	RunOnce(ctx context.Context) (int, error)
}

// WorkerManager manages lifecycle of multiple workers
type WorkerManager struct {
	workers []Worker
	logger  *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{
		workers: make([]Worker, 0),
		logger:  logger,
	}
}

// Register adds a worker to be managed
func (m *WorkerManager) Register(worker Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers = append(m.workers, worker)
	m.logger.Info("Worker registered",
		zap.String("worker_name", worker.Name()),
		zap.Int("total_workers", len(m.workers)))
}

// StartAll starts all registered workers. A worker that fails to start is
// logged and skipped.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return fmt.Errorf("workers already running")
	}

	var runCtx context.Context
	runCtx, m.cancel = context.WithCancel(ctx)
	m.isRunning = true

	m.logger.Info("Starting all workers", zap.Int("count", len(m.workers)))
	for _, worker := range m.workers {
		if err := worker.Start(runCtx); err != nil {
			m.logger.Error("Failed to start worker",
				zap.String("worker_name", worker.Name()),
				zap.Error(err))
			continue
		}
		m.logger.Info("Worker started", zap.String("worker_name", worker.Name()))
	}
	return nil
}

// StopAll stops the workers in reverse registration order
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	cancel := m.cancel
	workers := append([]Worker(nil), m.workers...)
	m.mu.Unlock()

	cancel()

	var errs []error
	for i := len(workers) - 1; i >= 0; i-- {
		worker := workers[i]
		if err := worker.Stop(); err != nil {
			m.logger.Error("Failed to stop worker",
				zap.String("worker_name", worker.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", worker.Name(), err))
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker_name", worker.Name()))
	}
	return errors.Join(errs...)
}

// RunOnce runs a single pass of every registered sweeper in registration order
// and returns the number of items each one handled, keyed by worker name.
func (m *WorkerManager) RunOnce(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	workers := append([]Worker(nil), m.workers...)
	m.mu.RUnlock()

	handled := make(map[string]int)
	var errs []error
	for _, worker := range workers {
		s, ok := worker.(Sweeper)
		if !ok {
			continue
		}
		n, err := s.RunOnce(ctx)
		handled[s.Name()] = n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return handled, errors.Join(errs...)
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IsRunning returns whether workers are running
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}
