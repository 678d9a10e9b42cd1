package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pledgesite/api/logging"
	"pledgesite/api/metrics"
)

type job struct {
	name string
	ctx  context.Context
	fn   func(ctx context.Context)
}

// Dispatcher runs tracking work off the request path on a fixed pool of workers.
type Dispatcher struct {
	workers int
	timeout time.Duration
	jobs    chan job
	log     zerolog.Logger
}

func NewDispatcher(workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		workers: workers,
		timeout: timeout,
		jobs:    make(chan job, queueSize),
		log:     logging.With("dispatcher"),
	}
}

// Go queues fn and returns immediately. It reports false when the queue is full
// and the job was dropped. Values carried by ctx are kept but its cancellation
// is not: a finished request must not abort its tracking writes.
func (d *Dispatcher) Go(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	select {
	case d.jobs <- job{name: name, ctx: context.WithoutCancel(ctx), fn: fn}:
		metrics.DispatchQueueDepth.Set(float64(len(d.jobs)))
		return true
	default:
		metrics.DispatchDropped.Inc()
		d.log.Warn().Str("job", name).Msg("dispatch queue full, dropping tracking job")
		return false
	}
}

// Serve runs the workers until ctx is cancelled, then finishes the queued jobs.
func (d *Dispatcher) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.jobs:
					d.run(j)
				}
			}
		}()
	}
	wg.Wait()

	for {
		select {
		case j := <-d.jobs:
			d.run(j)
		default:
			metrics.DispatchQueueDepth.Set(0)
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) String() string {
	return "tracking-dispatcher"
}

func (d *Dispatcher) run(j job) {
	metrics.DispatchQueueDepth.Set(float64(len(d.jobs)))
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordTrackingFailure(j.name)
			d.log.Error().Str("job", j.name).Err(fmt.Errorf("panic: %v", r)).Msg("tracking job panicked")
		}
	}()
	j.fn(ctx)
}
