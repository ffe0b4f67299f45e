package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gateway-bridge/internal/infrastructure/config"
	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "json", Output: "stdout"}, "test")
}

type fakeRunnable struct {
	started atomic.Bool
	exited  atomic.Bool
	// failImmediately makes Run return err as soon as it's called, instead
	// of waiting for ctx to be cancelled.
	failImmediately bool
	err             error
}

func (f *fakeRunnable) Run(ctx context.Context) error {
	f.started.Store(true)
	if f.failImmediately {
		f.exited.Store(true)
		return f.err
	}
	<-ctx.Done()
	f.exited.Store(true)
	return f.err
}

type fakeStarter struct {
	startErr error
	closeErr error
	started  atomic.Bool
	closed   atomic.Bool
}

func (f *fakeStarter) Start(_ context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Store(true)
	return nil
}

func (f *fakeStarter) Close() error {
	f.closed.Store(true)
	return f.closeErr
}

func TestRunStopsAllComponentsOnCancel(t *testing.T) {
	g := New(testLogger())

	runnable := &fakeRunnable{}
	starter := &fakeStarter{}
	g.Add("gateway", runnable)
	g.AddStarter("api", starter)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	waitFor(t, func() bool { return runnable.started.Load() && starter.started.Load() })

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if !runnable.exited.Load() {
		t.Error("runnable never observed cancellation")
	}
	if !starter.closed.Load() {
		t.Error("starter was never closed")
	}
}

func TestRunPropagatesRunnableFailure(t *testing.T) {
	g := New(testLogger())

	failing := &fakeRunnable{err: errors.New("boom"), failImmediately: true}
	other := &fakeRunnable{}
	starter := &fakeStarter{}
	g.Add("failing", failing)
	g.Add("other", other)
	g.AddStarter("api", starter)

	err := g.Run(context.Background())
	if err == nil {
		t.Fatal("Run() returned nil, want an error from the failing component")
	}

	waitFor(t, func() bool { return other.exited.Load() })
	if !starter.closed.Load() {
		t.Error("starter was not closed after a sibling component failed")
	}
}

func TestRunPropagatesStartFailureWithoutRunningComponents(t *testing.T) {
	g := New(testLogger())

	runnable := &fakeRunnable{}
	starter := &fakeStarter{startErr: errors.New("listen failed")}
	g.Add("gateway", runnable)
	g.AddStarter("api", starter)

	err := g.Run(context.Background())
	if err == nil {
		t.Fatal("Run() returned nil, want the start error")
	}
	if runnable.started.Load() {
		t.Error("runnable should not start when an earlier starter fails")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
