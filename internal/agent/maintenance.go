package agent

import (
	"context"
	"time"

	"github.com/fieldops/assistant/internal/log"
)

const maintenanceTaskTimeout = 30 * time.Second

// Maintenance runs fire-and-forget background tasks, currently session
// pruning. Tasks never block the request that enqueued them; when the queue
// is full the task is dropped and logged.
type Maintenance struct {
	tasks  chan func(context.Context)
	done   chan struct{}
	logger log.Logger
}

// NewMaintenance starts the worker goroutine.
func NewMaintenance(logger log.Logger) *Maintenance {
	if logger == nil {
		logger = log.NewNop()
	}
	m := &Maintenance{
		tasks:  make(chan func(context.Context), 64),
		done:   make(chan struct{}),
		logger: logger,
	}
	go m.run()
	return m
}

func (m *Maintenance) run() {
	defer close(m.done)
	for task := range m.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), maintenanceTaskTimeout)
		task(ctx)
		cancel()
	}
}

// Enqueue submits a task without blocking.
func (m *Maintenance) Enqueue(task func(context.Context)) {
	select {
	case m.tasks <- task:
	default:
		m.logger.Warn("maintenance queue full, dropping task")
	}
}

// Close stops accepting tasks and waits for the worker to drain.
func (m *Maintenance) Close() {
	close(m.tasks)
	<-m.done
}
