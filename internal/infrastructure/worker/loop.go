package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stats summarises what a periodic worker has done so far
type Stats struct {
	Runs      int
	Handled   int
	LastRun   time.Time
	LastError error
}

// pollLoop runs pass every interval until stopped. It backs both sweepers.
type pollLoop struct {
	name     string
	interval time.Duration
	pass     func(ctx context.Context) (int, error)
	logger   *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	stats     Stats
}

func newPollLoop(name string, interval time.Duration, pass func(ctx context.Context) (int, error), logger *zap.Logger) *pollLoop {
	return &pollLoop{name: name, interval: interval, pass: pass, logger: logger}
}

func (l *pollLoop) Name() string {
	return l.name
}

func (l *pollLoop) Start(ctx context.Context) error {
	if l.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive, got %s", l.name, l.interval)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isRunning {
		return fmt.Errorf("%s already running", l.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.isRunning = true

	l.logger.Info("Worker loop started",
		zap.String("worker_name", l.name),
		zap.Duration("interval", l.interval))

	go l.run(runCtx, l.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish
func (l *pollLoop) Stop() error {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return nil
	}
	l.isRunning = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
	return nil
}

// RunOnce executes one pass synchronously
func (l *pollLoop) RunOnce(ctx context.Context) (int, error) {
	n, err := l.pass(ctx)

	l.mu.Lock()
	l.stats.Runs++
	l.stats.Handled += n
	l.stats.LastRun = time.Now()
	l.stats.LastError = err
	l.mu.Unlock()

	if err != nil {
		l.logger.Error("Worker pass failed", zap.String("worker_name", l.name), zap.Error(err))
	} else if n > 0 {
		l.logger.Info("Worker pass completed", zap.String("worker_name", l.name), zap.Int("handled", n))
	}
	return n, err
}

// Stats returns a copy of the loop counters
func (l *pollLoop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

func (l *pollLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("Poll loop context cancelled", zap.String("worker_name", l.name))
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}
