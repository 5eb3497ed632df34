package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	defaultAbortGrace      = 15 * time.Second
)

// ShutdownFunc releases one resource during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager drains HTTP servers and then runs cleanup hooks. Requests
// still running at the drain deadline are aborted through the OnDrainTimeout
// callbacks and given a grace period to unwind.
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	timeout time.Duration
	grace   time.Duration

	mu    sync.Mutex
	hooks []ShutdownFunc
	abort []func()
}

func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &ShutdownManager{logger: logger, servers: servers, timeout: timeout, grace: defaultAbortGrace}
}

// RegisterShutdownFunc appends a hook. Hooks run in registration order once
// every server has stopped, including after a drain timeout.
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	sm.hooks = append(sm.hooks, fn)
	sm.mu.Unlock()
}

// OnDrainTimeout registers fn to run when servers fail to drain in time,
// typically the cancel func of the servers' BaseContext
func (sm *ShutdownManager) OnDrainTimeout(fn func()) {
	sm.mu.Lock()
	sm.abort = append(sm.abort, fn)
	sm.mu.Unlock()
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	if ctx.Err() != nil {
		sm.logger.Warn("A server exited, shutting down the rest")
	} else {
		sm.logger.Info("Shutdown signal received")
	}
	return sm.Shutdown()
}

// Shutdown drains servers, aborting whatever outlives the deadline, then runs
// every hook under a fresh deadline. Errors are joined.
func (sm *ShutdownManager) Shutdown() error {
	var errs []error
	if err := sm.drain(sm.timeout); err != nil {
		sm.logger.WithError(err).Warn("HTTP drain deadline passed, aborting in-flight requests")

		sm.mu.Lock()
		abort := append([]func(){}, sm.abort...)
		sm.mu.Unlock()
		for _, fn := range abort {
			fn()
		}
		if err := sm.drain(sm.grace); err != nil {
			sm.logger.WithError(err).Error("HTTP servers did not stop after abort")
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	hooks := append([]ShutdownFunc(nil), sm.hooks...)
	sm.mu.Unlock()

	for i, hook := range hooks {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("shutdown deadline exceeded before hook %d", i))
			break
		}
		if err := hook(ctx); err != nil {
			sm.logger.WithError(err).WithField("hook", i).Error("Shutdown hook failed")
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	sm.logger.Info("Shutdown complete")
	return nil
}

// drain shuts every server down concurrently within timeout. It may be
// called again after a timeout to wait for aborted handlers.
func (sm *ShutdownManager) drain(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var g errgroup.Group
	for _, srv := range sm.servers {
		if srv == nil {
			continue
		}
		srv := srv
		g.Go(func() error {
			sm.logger.WithField("addr", srv.Addr).Info("Draining HTTP server")
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("drain %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	return g.Wait()
}
