package throttle

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xraph/conductor/command"
)

// Config defines per-lane limits.
type Config struct {
	// Lane is the command kind the limits apply to.
	Lane command.Kind `mapstructure:"lane" validate:"required"`

	// MaxConcurrency limits how many commands of this lane run at once.
	// Zero means no lane-specific limit.
	MaxConcurrency int `mapstructure:"max_concurrency" validate:"gte=0"`

	// RateLimit is the maximum sustained command starts per second. Zero
	// disables rate limiting.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int `mapstructure:"rate_burst" validate:"gte=0"`
}

// laneState tracks runtime state for a single lane.
type laneState struct {
	config  Config
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	mu     sync.Mutex
	active int
}

// Manager enforces per-lane rate limits and concurrency.
// It is safe for concurrent use.
type Manager struct {
	lanes map[command.Kind]*laneState
}

// NewManager creates a Manager with the given lane configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{lanes: make(map[command.Kind]*laneState, len(configs))}
	for _, cfg := range configs {
		m.lanes[cfg.Lane] = newLaneState(cfg)
	}
	return m
}

func newLaneState(cfg Config) *laneState {
	ls := &laneState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ls.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxConcurrency > 0 {
		ls.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	return ls
}

// Acquire blocks until lane admits one more command or ctx ends. On
// success the caller MUST call the returned release function once the
// command finishes.
func (m *Manager) Acquire(ctx context.Context, lane command.Kind) (release func(), err error) {
	ls := m.lanes[lane]
	if ls == nil {
		return func() {}, nil
	}

	if ls.sem != nil {
		if err := ls.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if ls.limiter != nil {
		if err := ls.limiter.Wait(ctx); err != nil {
			if ls.sem != nil {
				ls.sem.Release(1)
			}
			return nil, err
		}
	}
	return ls.admit(), nil
}

// TryAcquire admits one command without waiting. It reports false when
// the lane is at capacity or out of tokens.
func (m *Manager) TryAcquire(lane command.Kind) (release func(), ok bool) {
	ls := m.lanes[lane]
	if ls == nil {
		return func() {}, true
	}
	if ls.sem != nil && !ls.sem.TryAcquire(1) {
		return nil, false
	}
	if ls.limiter != nil && !ls.limiter.Allow() {
		if ls.sem != nil {
			ls.sem.Release(1)
		}
		return nil, false
	}
	return ls.admit(), true
}

func (ls *laneState) admit() func() {
	ls.mu.Lock()
	ls.active++
	ls.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ls.mu.Lock()
			ls.active--
			ls.mu.Unlock()
			if ls.sem != nil {
				ls.sem.Release(1)
			}
		})
	}
}

// ActiveCount returns the current number of admitted commands in lane.
func (m *Manager) ActiveCount(lane command.Kind) int {
	ls := m.lanes[lane]
	if ls == nil {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.active
}
