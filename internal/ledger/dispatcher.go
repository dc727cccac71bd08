package ledger

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher runs cascade tasks on a fixed pool of goroutines behind a bounded
// queue. Tasks still queued when it stops stay pending in the store and are
// picked up by the next sweep.
type Dispatcher struct {
	svc     *Service
	log     *slog.Logger
	tasks   chan CascadeTask
	workers int

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(svc *Service, logger *slog.Logger, workers, queueSize int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		svc:     svc,
		log:     logger,
		tasks:   make(chan CascadeTask, queueSize),
		workers: workers,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
	d.log.Info("cascade dispatcher started", "workers", d.workers, "queue", cap(d.tasks))
}

// Submit enqueues task without blocking. It returns false when the queue is
// full or the dispatcher has stopped.
func (d *Dispatcher) Submit(task CascadeTask) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	select {
	case d.tasks <- task:
		return true
	default:
		return false
	}
}

// Stop halts the workers and waits for the task in hand to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-d.tasks:
			// A task in flight finishes even if the dispatcher is stopping.
			res, err := d.svc.ProcessCascadeTask(context.WithoutCancel(ctx), task.InvestmentID)
			if err != nil {
				d.log.Warn("cascade task failed", "investment_id", task.InvestmentID, "err", err)
				continue
			}
			d.log.Debug("cascade task done", "investment_id", task.InvestmentID, "levels", len(res.Levels))
		}
	}
}
