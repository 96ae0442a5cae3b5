package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Option configures a Conductor.
type Option func(*Conductor) error

// Storer is the minimal store interface held by the Conductor. It covers
// lifecycle operations only; the composite store.Store is used by the
// subsystem layers.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is the worktree pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Conductor holds configuration, logging and storage shared by every
// subsystem. Create one with New and hand it to engine.Build, which wires
// the executor, orchestrator and coordinator around it.
type Conductor struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Conductor with the given options.
func New(opts ...Option) (*Conductor, error) {
	c := &Conductor{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the conductor's logger.
func (c *Conductor) Logger() *slog.Logger { return c.logger }

// Store returns the conductor's store.
func (c *Conductor) Store() Storer { return c.store }

// Config returns a copy of the conductor's configuration.
func (c *Conductor) Config() Config { return c.config }

// SetPool sets the worktree pool (called by the engine package).
func (c *Conductor) SetPool(p poolRunner) { c.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Conductor) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start begins background maintenance such as worktree reaping.
func (c *Conductor) Start(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	if c.pool != nil {
		if err := c.pool.Start(ctx); err != nil {
			return err
		}
	}
	c.started = true
	return nil
}

// Stop shuts down the pool, notifies extensions and closes the store.
func (c *Conductor) Stop(ctx context.Context) error {
	if c.pool != nil && c.started {
		if err := c.pool.Stop(ctx); err != nil {
			c.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Conductor) error {
		c.config = cfg
		return nil
	}
}

// WithMaxParallel sets the coordinator's worktree cap.
func WithMaxParallel(n int) Option {
	return func(c *Conductor) error {
		if n < 1 {
			return fmt.Errorf("conductor: max parallel must be at least 1, got %d", n)
		}
		c.config.MaxParallel = n
		return nil
	}
}

// WithCleanupPolicy sets the worktree idle timeout and maximum age.
func WithCleanupPolicy(idle, maxAge time.Duration) Option {
	return func(c *Conductor) error {
		c.config.IdleTimeout = idle
		c.config.MaxAge = maxAge
		return nil
	}
}

// WithStateDir sets the directory for file checkpoints and worktrees.
func WithStateDir(dir string) Option {
	return func(c *Conductor) error {
		c.config.StateDir = dir
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conductor) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. It is typically a store.Store,
// which embeds every subsystem store interface.
func WithStore(s Storer) Option {
	return func(c *Conductor) error {
		c.store = s
		return nil
	}
}
