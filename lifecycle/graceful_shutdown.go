package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 30 * time.Second

var errSignal = errors.New("received signal from OS")

type CloseFunc func(ctx context.Context) error

type closer struct {
	name string
	fn   CloseFunc
}

// GracefulShutdown runs the service goroutines and, once any of them fails or
// the process is signalled, runs the registered close funcs in order.
type GracefulShutdown struct {
	mu       sync.Mutex
	ctx      context.Context
	errGroup *errgroup.Group
	closers  []closer
	timeout  time.Duration
	logger   *slog.Logger
}

type Option func(*GracefulShutdown)

func WithTimeout(d time.Duration) Option {
	return func(g *GracefulShutdown) {
		g.timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *GracefulShutdown) {
		g.logger = logger
	}
}

func NewGracefulShutdown(parentCtx context.Context, options ...Option) *GracefulShutdown {
	g, ctx := errgroup.WithContext(parentCtx)
	gfl := &GracefulShutdown{
		ctx:      ctx,
		errGroup: g,
		timeout:  defaultShutdownTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(gfl)
	}

	gfl.Go(gfl.listenerOS)
	gfl.Go(gfl.killer)

	return gfl
}

// Context is cancelled when shutdown begins.
func (g *GracefulShutdown) Context() context.Context {
	return g.ctx
}

func (g *GracefulShutdown) Go(foo func() error) {
	g.errGroup.Go(func() (err error) {
		defer func() {
			if errPanic := recover(); errPanic != nil {
				err = fmt.Errorf("panic in graceful shutdown: %v", errPanic)
				g.logger.Error("panic in graceful shutdown", "error", err)
			}
		}()

		return foo()
	})
}

// Wait blocks until shutdown has completed.
func (g *GracefulShutdown) Wait() error {
	err := g.errGroup.Wait()
	if err != nil && !errors.Is(err, errSignal) && !errors.Is(err, context.Canceled) {
		g.logger.Error("error in graceful shutdown", "error", err)
		return err
	}
	return nil
}

// MustClose registers f to run at shutdown. Close funcs run in the order
// they were registered.
func (g *GracefulShutdown) MustClose(name string, f CloseFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closers = append(g.closers, closer{name: name, fn: f})
}

func (g *GracefulShutdown) listenerOS() error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(ch)

	select {
	case <-g.ctx.Done():
		return nil
	case signalFromOS := <-ch:
		g.logger.Info("received signal from OS", "signal", signalFromOS.String())
		return fmt.Errorf("%w: %s", errSignal, signalFromOS)
	}
}

func (g *GracefulShutdown) killer() error {
	<-g.ctx.Done()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), g.timeout)
	defer cancelTimeout()

	g.close(ctx)
	return nil
}

// close runs every close func. Failures are logged and do not stop the
// remaining closers.
func (g *GracefulShutdown) close(ctx context.Context) {
	g.mu.Lock()
	closers := append([]closer(nil), g.closers...)
	g.mu.Unlock()

	complete := make(chan struct{})

	go func() {
		defer close(complete)
		for _, c := range closers {
			if err := c.fn(ctx); err != nil {
				g.logger.Error("error closing", "component", c.name, "error", err)
				continue
			}
			g.logger.Info("closed", "component", c.name)
		}
	}()

	select {
	case <-complete:
	case <-ctx.Done():
		g.logger.Error("timeout closing components", "timeout", g.timeout)
	}
}
