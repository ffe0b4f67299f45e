// Package lifecycle starts and stops the bridge's long-running components
// together: the gateway listener, the device repository's watchdog sweep,
// the report-state publisher, and the HTTP API server.
//
// Components are supervised as in-process goroutines via errgroup (start,
// monitor, graceful stop), since every component this bridge owns runs in
// the same binary.
package lifecycle

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
)

// Runnable is a component whose work blocks until ctx is cancelled, then
// returns. internal/gateway.Listener, internal/device.Repository, and
// internal/reportstate.Publisher all satisfy this directly.
type Runnable interface {
	Run(ctx context.Context) error
}

// Starter is a component that launches its own background goroutines when
// started and must be explicitly closed, rather than blocking in Run.
// internal/api.Server satisfies this.
type Starter interface {
	Start(ctx context.Context) error
	Close() error
}

// Group supervises a set of Runnables and Starters as one unit: every
// component starts together, and a failure or cancellation in any one of
// them tears down the rest.
type Group struct {
	logger    *logging.Logger
	runnables []namedRunnable
	starters  []namedStarter
}

type namedRunnable struct {
	name string
	r    Runnable
}

type namedStarter struct {
	name string
	s    Starter
}

// New builds an empty Group. Components are registered with Add/AddStarter
// before calling Run.
func New(logger *logging.Logger) *Group {
	return &Group{logger: logger}
}

// Add registers a blocking component to run for the life of the group.
func (g *Group) Add(name string, r Runnable) {
	g.runnables = append(g.runnables, namedRunnable{name: name, r: r})
}

// AddStarter registers a component with its own Start/Close lifecycle.
func (g *Group) AddStarter(name string, s Starter) {
	g.starters = append(g.starters, namedStarter{name: name, s: s})
}

// Run starts every registered component and blocks until ctx is cancelled
// or any component fails. On return, every Starter that started has been
// closed and every Runnable has observed cancellation and exited.
//
// Starters are started first (they launch their own goroutines and return
// immediately); Runnables are then launched in the errgroup, each on its
// own goroutine. When the group's context is cancelled — by the caller or
// by one Runnable returning an error — every Runnable is given the chance
// to unwind via ctx before Run returns, and every Starter is closed in
// reverse registration order.
func (g *Group) Run(ctx context.Context) error {
	grpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, ns := range g.starters {
		if err := ns.s.Start(grpCtx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if cerr := g.starters[j].s.Close(); cerr != nil {
					g.logger.Error("lifecycle: closing component failed", "component", g.starters[j].name, "error", cerr)
				}
			}
			return fmt.Errorf("lifecycle: starting %s: %w", ns.name, err)
		}
		g.logger.Info("lifecycle: started", "component", ns.name)
	}
	defer g.closeStarters()

	eg, egCtx := errgroup.WithContext(grpCtx)
	for _, nr := range g.runnables {
		nr := nr
		eg.Go(func() error {
			g.logger.Info("lifecycle: running", "component", nr.name)
			if err := nr.r.Run(egCtx); err != nil {
				return fmt.Errorf("lifecycle: %s: %w", nr.name, err)
			}
			g.logger.Info("lifecycle: stopped", "component", nr.name)
			return nil
		})
	}

	return eg.Wait()
}

func (g *Group) closeStarters() {
	for i := len(g.starters) - 1; i >= 0; i-- {
		ns := g.starters[i]
		if err := ns.s.Close(); err != nil {
			g.logger.Error("lifecycle: closing component failed", "component", ns.name, "error", err)
			continue
		}
		g.logger.Info("lifecycle: closed", "component", ns.name)
	}
}
