package engine

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/finflow/src/logger"
	"golang.org/x/time/rate"
)

// DispatchMessage is one unit of due work: a recurring transaction to
// realize for its owner. Delivery is at-least-once.
type DispatchMessage struct {
	TransactionID string
	OwnerID       string
}

// Dispatcher fans due work out to a fixed worker pool. Overall concurrency
// is bounded by the pool size; additionally each owner's work is throttled
// to a bounded rate so one high-volume owner cannot starve the rest or
// hammer the store. Excess work queues on the owner's limiter, it is never
// dropped.
type Dispatcher struct {
	processor *Processor
	jobs      chan DispatchMessage
	workers   int

	ownerLimit  rate.Limit
	ownerBurst  int
	limiters    *cache.Cache
	limitersMu  sync.Mutex
	workerGroup sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
}

func NewDispatcher(processor *Processor, workers, buffer, ownerCount int, ownerWindow time.Duration) *Dispatcher {
	// Idle owners fall out of the limiter cache after an hour.
	return &Dispatcher{
		processor:  processor,
		jobs:       make(chan DispatchMessage, buffer),
		workers:    workers,
		ownerLimit: rate.Every(ownerWindow / time.Duration(ownerCount)),
		ownerBurst: ownerCount,
		limiters:   cache.New(time.Hour, 2*time.Hour),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop closes
// it; ctx cancels waits on owner limiters mid-flight.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.workerGroup.Add(1)
			go d.worker(ctx, i)
		}
		logger.L.Info("Dispatcher started", "workers", d.workers, "buffer", cap(d.jobs))
	})
}

// Stop closes the queue and waits for in-flight work to finish. Idempotent.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.jobs)
		d.workerGroup.Wait()
		logger.L.Info("Dispatcher stopped")
	})
}

// Enqueue queues one dispatch message, blocking while the buffer is full so
// backpressure reaches the sweep rather than dropping work.
func (d *Dispatcher) Enqueue(ctx context.Context, msg DispatchMessage) error {
	select {
	case d.jobs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.workerGroup.Done()
	for msg := range d.jobs {
		limiter := d.ownerLimiter(msg.OwnerID)
		if err := limiter.Wait(ctx); err != nil {
			logger.L.Warn("Dispatcher worker cancelled while rate-limited",
				"worker", id, "ownerID", msg.OwnerID, "error", err)
			return
		}
		if err := d.processor.Process(ctx, msg.TransactionID, msg.OwnerID); err != nil {
			// Already logged and counted by the processor; the next sweep
			// re-discovers anything still due.
			logger.L.Debug("Dispatch unit failed", "worker", id, "transactionID", msg.TransactionID, "error", err)
		}
	}
}

func (d *Dispatcher) ownerLimiter(ownerID string) *rate.Limiter {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	if v, ok := d.limiters.Get(ownerID); ok {
		// Refresh the TTL so active owners keep their token state.
		d.limiters.Set(ownerID, v, cache.DefaultExpiration)
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(d.ownerLimit, d.ownerBurst)
	d.limiters.Set(ownerID, limiter, cache.DefaultExpiration)
	return limiter
}
