package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/metrics"
	"github.com/rs/zerolog"
)

// Async decouples callers from a slow or failing Dispatcher. Notify only
// enqueues; workers deliver with a per-event timeout. When the queue is
// full the event is dropped and logged.
type Async struct {
	next    Dispatcher
	queue   chan job
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics

	wg   sync.WaitGroup
	mu   sync.RWMutex
	done bool
}

type job struct {
	ctx context.Context
	e   Event
}

func NewAsync(next Dispatcher, workers, buf int, timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *Async {
	if workers <= 0 {
		workers = 1
	}
	a := &Async{
		next:    next,
		queue:   make(chan job, buf),
		timeout: timeout,
		log:     log,
		metrics: m,
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.run()
	}
	return a
}

func (a *Async) Notify(ctx context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.done {
		a.drop(e, "closed")
		return nil
	}
	// keep trace values, drop the request deadline
	select {
	case a.queue <- job{ctx: context.WithoutCancel(ctx), e: e}:
	default:
		a.drop(e, "queue full")
	}
	return nil
}

func (a *Async) drop(e Event, reason string) {
	a.metrics.Notification("dropped")
	a.log.Warn().Str("event_type", e.Type).Str("order_id", e.OrderID).Str("reason", reason).Msg("notification dropped")
}

func (a *Async) run() {
	defer a.wg.Done()
	for j := range a.queue {
		ctx, cancel := context.WithTimeout(j.ctx, a.timeout)
		err := a.next.Notify(ctx, j.e)
		cancel()
		if err != nil {
			a.metrics.Notification("failed")
			a.log.Warn().Err(err).Str("event_type", j.e.Type).Str("order_id", j.e.OrderID).Msg("notification failed")
			continue
		}
		a.metrics.Notification("sent")
	}
}

// Close delivers what is queued and stops the workers.
func (a *Async) Close() {
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return
	}
	a.done = true
	close(a.queue)
	a.mu.Unlock()
	a.wg.Wait()
}
