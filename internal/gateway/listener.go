package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/nerrad567/gateway-bridge/internal/infrastructure/logging"
)

// Listener accepts gateway TCP connections and runs each one to completion
// on its own goroutine. Grounded on this repo's api.Server.Start
// (ListenAndServe in a background goroutine, graceful Close) for the
// accept/shutdown shape, adapted here to a raw TCP listener instead of
// net/http's server loop.
type Listener struct {
	addr string
	deps Deps
	log  *logging.Logger

	mu      sync.Mutex
	ln      net.Listener
	wg      sync.WaitGroup
	conns   map[*Connection]struct{}
	closing bool
}

// NewListener builds a Listener that will accept on addr (e.g. ":7070") and
// hand every accepted socket the same Deps.
func NewListener(addr string, deps Deps, log *logging.Logger) *Listener {
	return &Listener{
		addr:  addr,
		deps:  deps,
		log:   log,
		conns: make(map[*Connection]struct{}),
	}
}

// Run opens the listening socket and accepts connections until ctx is
// canceled or Close is called. It blocks until the accept loop exits and
// every in-flight connection has finished tearing down.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("gateway: listening on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.log.Info("gateway: listening", "addr", l.addr)

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closing := l.closing
			l.mu.Unlock()
			if closing {
				l.wg.Wait()
				return nil
			}
			return fmt.Errorf("gateway: accept: %w", err)
		}

		c := NewConnection(conn, l.deps)
		l.track(c)

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.untrack(c)
			if err := c.Serve(ctx); err != nil {
				l.log.Debug("gateway: connection ended", "conn", c.ID(), "error", err)
			}
		}()
	}
}

func (l *Listener) track(c *Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[c] = struct{}{}
}

func (l *Listener) untrack(c *Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, c)
}

// Close stops accepting new connections and closes every live one. Safe to
// call more than once.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return nil
	}
	l.closing = true
	ln := l.ln
	conns := make([]*Connection, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	var closeErr error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			closeErr = err
		}
	}
	for _, c := range conns {
		_ = c.Close()
	}
	return closeErr
}
