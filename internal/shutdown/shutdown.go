package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Shutdownable is an interface for components that can be shut down gracefully
type Shutdownable interface {
	Close() error
}

// Coordinator cancels the run context on the first signal and closes
// registered components once the run has ended. A second signal while
// the run is draining aborts the process.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu         sync.Mutex
	components []namedComponent

	closeOnce sync.Once
}

type namedComponent struct {
	name      string
	component Shutdownable
	priority  int // Lower = shutdown first
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout: timeout,
		logger:  logger.With().Str("component", "shutdown").Logger(),
	}
}

// Register registers a component for graceful shutdown
// Priority determines shutdown order (lower = shutdown first)
func (c *Coordinator) Register(name string, component Shutdownable, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components = append(c.components, namedComponent{
		name:      name,
		component: component,
		priority:  priority,
	})

	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered component for shutdown")
}

// Context returns a context cancelled on SIGINT, SIGTERM or SIGQUIT.
// A second signal exits immediately without draining.
func (c *Coordinator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		select {
		case sig := <-quit:
			c.logger.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal, draining")
			cancel()
		case <-ctx.Done():
			signal.Stop(quit)
			return
		}

		select {
		case sig := <-quit:
			c.logger.Error().
				Str("signal", sig.String()).
				Msg("Second signal received, exiting immediately")
			os.Exit(130)
		case <-time.After(c.timeout):
			c.logger.Error().
				Dur("timeout", c.timeout).
				Msg("Drain timeout exceeded, exiting")
			os.Exit(1)
		}
	}()

	return ctx, cancel
}

// Close shuts down all registered components in priority order.
// Safe to call more than once.
func (c *Coordinator) Close() error {
	var closeErr error

	c.closeOnce.Do(func() {
		c.mu.Lock()
		components := make([]namedComponent, len(c.components))
		copy(components, c.components)
		c.mu.Unlock()

		sortComponentsByPriority(components)

		start := time.Now()
		for _, comp := range components {
			c.logger.Debug().
				Str("component", comp.name).
				Int("priority", comp.priority).
				Msg("Shutting down component")

			if err := comp.component.Close(); err != nil {
				c.logger.Error().
					Err(err).
					Str("component", comp.name).
					Msg("Component shutdown failed")
				if closeErr == nil {
					closeErr = err
				}
			}
		}

		c.logger.Debug().
			Dur("duration", time.Since(start)).
			Msg("Shutdown complete")
	})

	return closeErr
}

// Simple bubble sort for small slices
func sortComponentsByPriority(components []namedComponent) {
	for i := 0; i < len(components); i++ {
		for j := i + 1; j < len(components); j++ {
			if components[j].priority < components[i].priority {
				components[i], components[j] = components[j], components[i]
			}
		}
	}
}

// Priorities for common components (use these as guidelines)
const (
	PriorityTransport = 10 // Close the target connection first
)
