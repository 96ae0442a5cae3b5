package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/worktree"
)

// State is the lifecycle state of a worktree instance.
type State string

// Instance states.
const (
	StateActive    State = "active"
	StateIdle      State = "idle"
	StateReclaimed State = "reclaimed"
)

// Reclaim reasons reported to extensions.
const (
	ReasonCompleted   = "completed"
	ReasonFailed      = "failed"
	ReasonIdleTimeout = "idle_timeout"
	ReasonMaxAge      = "max_age"
	ReasonEvicted     = "evicted"
	ReasonShutdown    = "shutdown"
)

// Instance is one worktree owned by the pool.
type Instance struct {
	ID        id.WorktreeID
	Slot      int
	Path      string
	SessionID id.SessionID
	State     State
	CreatedAt time.Time
	LastUsed  time.Time
	// Completed records whether the last session to hold the instance
	// completed. Only such instances may be handed to another session.
	Completed bool
}

// Lease is a session's non-owning reference to an instance.
type Lease struct {
	Slot      int
	Path      string
	SessionID id.SessionID
	Reused    bool
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	InUse     int
	Idle      int
	Created   int
	Reused    int
	Reclaimed int
}

// Pool allocates worktree instances to sessions.
type Pool struct {
	manager    worktree.Manager
	config     conductor.Config
	sem        *semaphore.Weighted
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	slots  []*Instance
	stats  Stats
	closed bool

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithPoolExtensions sets the registry notified of worktree events.
func WithPoolExtensions(r *ext.Registry) PoolOption {
	return func(p *Pool) { p.extensions = r }
}

// WithPoolClock replaces the time source used by the cleanup policy.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a pool of cfg.MaxParallel slots backed by manager.
func NewPool(manager worktree.Manager, cfg conductor.Config, opts ...PoolOption) *Pool {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	p := &Pool{
		manager: manager,
		config:  cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxParallel)),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		slots:   make([]*Instance, cfg.MaxParallel),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.extensions == nil {
		p.extensions = ext.NewRegistry(p.logger)
	}
	return p
}

// Size returns the number of slots.
func (p *Pool) Size() int { return len(p.slots) }

// Acquire blocks until a slot is free, then leases an instance for
// sessionID. An idle instance is reused when it last served sessionID
// (a resume) or when its previous session completed; otherwise a fresh
// worktree is created.
func (p *Pool) Acquire(ctx context.Context, sessionID id.SessionID) (*Lease, error) {
	if p.isClosed() {
		return nil, conductor.ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	lease, evicted, err := p.allocate(ctx, sessionID)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	if evicted != nil {
		if !evicted.Completed {
			p.logger.Warn("evicting kept worktree of an unfinished session",
				slog.String("worktree", evicted.Path),
				slog.String("session_id", evicted.SessionID.String()),
			)
		}
		p.remove(ctx, evicted, ReasonEvicted)
	}
	p.extensions.EmitWorktreeAllocated(ctx, lease.Path, sessionID, lease.Reused)
	return lease, nil
}

// allocate picks a slot under the lock. Creating a worktree happens
// outside it, with the slot already marked Active.
func (p *Pool) allocate(ctx context.Context, sessionID id.SessionID) (*Lease, *Instance, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, conductor.ErrPoolClosed
	}

	if inst := p.pickIdle(sessionID); inst != nil {
		inst.State = StateActive
		inst.SessionID = sessionID
		inst.LastUsed = p.now()
		p.stats.Reused++
		lease := &Lease{Slot: inst.Slot, Path: inst.Path, SessionID: sessionID, Reused: true}
		p.mu.Unlock()
		p.logger.Debug("worktree reused",
			slog.String("worktree", inst.Path),
			slog.String("session_id", sessionID.String()),
		)
		return lease, nil, nil
	}

	slot, evicted := p.pickFree()
	if slot < 0 {
		// Unreachable while the semaphore bounds active instances.
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("conductor/coordinator: no free worktree slot")
	}
	now := p.now()
	inst := &Instance{
		ID:        id.NewWorktreeID(),
		Slot:      slot,
		SessionID: sessionID,
		State:     StateActive,
		CreatedAt: now,
		LastUsed:  now,
	}
	p.slots[slot] = inst
	p.mu.Unlock()

	path, err := p.manager.Create(ctx, inst.ID.String())
	if err != nil {
		p.mu.Lock()
		p.slots[slot] = nil
		p.mu.Unlock()
		return nil, evicted, fmt.Errorf("conductor/coordinator: allocate worktree: %w", err)
	}

	p.mu.Lock()
	inst.Path = path
	p.stats.Created++
	p.mu.Unlock()

	p.logger.Info("worktree created",
		slog.String("worktree", path),
		slog.Int("slot", slot),
		slog.String("session_id", sessionID.String()),
	)
	return &Lease{Slot: slot, Path: path, SessionID: sessionID}, evicted, nil
}

// pickIdle returns an idle instance sessionID may use. Caller holds mu.
func (p *Pool) pickIdle(sessionID id.SessionID) *Instance {
	var reusable *Instance
	for _, inst := range p.slots {
		if inst == nil || inst.State != StateIdle {
			continue
		}
		if !sessionID.IsNil() && inst.SessionID == sessionID {
			return inst
		}
		if inst.Completed && reusable == nil {
			reusable = inst
		}
	}
	return reusable
}

// pickFree returns an empty slot. When every slot holds an instance, the
// least recently used idle one is evicted and its slot returned. Idle
// instances of completed sessions are reused before this point, so a
// victim is a worktree kept for a failed or interrupted session. Caller
// holds mu.
func (p *Pool) pickFree() (int, *Instance) {
	var victim *Instance
	for i, inst := range p.slots {
		if inst == nil {
			return i, nil
		}
		if inst.State == StateIdle && (victim == nil || inst.LastUsed.Before(victim.LastUsed)) {
			victim = inst
		}
	}
	if victim == nil {
		return -1, nil
	}
	victim.State = StateReclaimed
	p.slots[victim.Slot] = nil
	return victim.Slot, victim
}

// Release hands a lease back. completed reports whether the session that
// held it completed. Completed sessions' worktrees are reclaimed at once
// under CleanupOnComplete; other sessions' worktrees are reclaimed unless
// KeepFailed is set. Kept instances go Idle.
func (p *Pool) Release(ctx context.Context, lease *Lease, completed bool) error {
	p.mu.Lock()
	inst := p.slots[lease.Slot]
	if inst == nil || inst.Path != lease.Path || inst.State != StateActive {
		p.mu.Unlock()
		return fmt.Errorf("conductor/coordinator: release of unknown lease %s", lease.Path)
	}
	inst.LastUsed = p.now()
	inst.Completed = completed

	var reason string
	switch {
	case completed && p.config.CleanupOnComplete:
		reason = ReasonCompleted
	case !completed && !p.config.KeepFailed:
		reason = ReasonFailed
	}
	if reason != "" {
		inst.State = StateReclaimed
		p.slots[lease.Slot] = nil
	} else {
		inst.State = StateIdle
	}
	p.mu.Unlock()
	p.sem.Release(1)

	if reason != "" {
		return p.remove(ctx, inst, reason)
	}
	return nil
}

// remove deletes inst's worktree. The slot has already been freed.
func (p *Pool) remove(ctx context.Context, inst *Instance, reason string) error {
	if inst.Path == "" {
		return nil
	}
	err := p.manager.Remove(ctx, inst.Path)
	p.mu.Lock()
	p.stats.Reclaimed++
	p.mu.Unlock()
	if err != nil {
		p.logger.Error("worktree reclaim failed",
			slog.String("worktree", inst.Path),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return err
	}
	p.logger.Info("worktree reclaimed",
		slog.String("worktree", inst.Path),
		slog.String("reason", reason),
	)
	p.extensions.EmitWorktreeReclaimed(ctx, inst.Path, reason)
	return nil
}

// Reap applies the cleanup policy once. Idle instances whose session
// completed are reclaimed after IdleTimeout; any non-active instance is
// reclaimed after MaxAge. Active instances are never touched.
func (p *Pool) Reap(ctx context.Context) error {
	now := p.now()
	type victim struct {
		inst   *Instance
		reason string
	}
	var victims []victim

	p.mu.Lock()
	for i, inst := range p.slots {
		if inst == nil || inst.State != StateIdle {
			continue
		}
		var reason string
		switch {
		case p.config.MaxAge > 0 && now.Sub(inst.CreatedAt) >= p.config.MaxAge:
			reason = ReasonMaxAge
		case inst.Completed && p.config.IdleTimeout > 0 && now.Sub(inst.LastUsed) >= p.config.IdleTimeout:
			reason = ReasonIdleTimeout
		default:
			continue
		}
		inst.State = StateReclaimed
		p.slots[i] = nil
		victims = append(victims, victim{inst, reason})
	}
	p.mu.Unlock()

	var errs *multierror.Error
	for _, v := range victims {
		if err := p.remove(ctx, v.inst, v.reason); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Instances returns a snapshot of the occupied slots.
func (p *Pool) Instances() []Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Instance, 0, len(p.slots))
	for _, inst := range p.slots {
		if inst != nil {
			out = append(out, *inst)
		}
	}
	return out
}

// Stats returns counters and current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.stats
	for _, inst := range p.slots {
		switch {
		case inst == nil:
		case inst.State == StateActive:
			st.InUse++
		case inst.State == StateIdle:
			st.Idle++
		}
	}
	return st
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start launches the reaper. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.closed {
		return nil
	}
	p.running = true

	if p.config.ReapInterval > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}
	p.logger.Info("worktree pool started",
		slog.Int("max_parallel", len(p.slots)),
		slog.Duration("idle_timeout", p.config.IdleTimeout),
		slog.Duration("max_age", p.config.MaxAge),
	)
	return nil
}

func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.Reap(context.Background()); err != nil {
				p.logger.Error("worktree reap error", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop halts the reaper and closes the pool.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.mu.Unlock()

	if wasRunning {
		close(p.stopCh)
		p.wg.Wait()
	}
	return p.Close(ctx)
}

// Close refuses further leases and reclaims every instance that is not
// active. Leases still out are reclaimed by their Release. Removal errors
// are aggregated.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	var victims []*Instance
	for i, inst := range p.slots {
		if inst == nil || inst.State == StateActive {
			continue
		}
		inst.State = StateReclaimed
		p.slots[i] = nil
		victims = append(victims, inst)
	}
	p.config.KeepFailed = false
	p.config.CleanupOnComplete = true
	p.mu.Unlock()

	var errs *multierror.Error
	for _, inst := range victims {
		if err := p.remove(ctx, inst, ReasonShutdown); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
