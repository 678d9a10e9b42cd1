package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"pledgesite/api/metrics"
)

func TestDispatcherRunsJobs(t *testing.T) {
	d := NewDispatcher(2, 16, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	var ran atomic.Int32
	finished := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		ok := d.Go(context.Background(), "test", func(context.Context) {
			ran.Add(1)
			finished <- struct{}{}
		})
		if !ok {
			t.Fatalf("job %d dropped", i)
		}
	}
	for i := 0; i < 10; i++ {
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d jobs ran", ran.Load())
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, 1, time.Second)
	before := testutil.ToFloat64(metrics.DispatchDropped)

	if !d.Go(context.Background(), "first", func(context.Context) {}) {
		t.Fatal("first job should be queued")
	}
	if d.Go(context.Background(), "second", func(context.Context) {}) {
		t.Error("second job should be dropped while the queue is full")
	}
	if got := testutil.ToFloat64(metrics.DispatchDropped) - before; got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestDispatcherDetachesRequestCancellation(t *testing.T) {
	d := NewDispatcher(1, 4, time.Second)
	reqCtx, cancelReq := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	d.Go(reqCtx, "detached", func(ctx context.Context) { errCh <- ctx.Err() })
	cancelReq()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Serve(ctx)

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("job context already done: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	d := NewDispatcher(1, 8, time.Second)
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		d.Go(context.Background(), "queued", func(context.Context) { ran.Add(1) })
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = d.Serve(ctx)

	if ran.Load() != 5 {
		t.Errorf("ran %d queued jobs on shutdown, want 5", ran.Load())
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher(1, 4, time.Second)
	var after atomic.Bool
	d.Go(context.Background(), "panics", func(context.Context) { panic("boom") })
	d.Go(context.Background(), "after", func(context.Context) { after.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = d.Serve(ctx)

	if !after.Load() {
		t.Error("worker stopped after a panicking job")
	}
}
