package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conductor/command"
)

// ---------------------------------------------------------------------------
// Manager basics
// ---------------------------------------------------------------------------

func TestNewManager_Unconfigured(t *testing.T) {
	m := NewManager()
	release, err := m.Acquire(context.Background(), command.KindShell)
	if err != nil {
		t.Fatalf("Acquire on an unconfigured lane: %v", err)
	}
	release()
	if m.ActiveCount(command.KindShell) != 0 {
		t.Fatal("unconfigured lane should report 0 active")
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestManager_TryAcquire_MaxConcurrency(t *testing.T) {
	m := NewManager(Config{Lane: command.KindClaude, MaxConcurrency: 2})

	r1, ok := m.TryAcquire(command.KindClaude)
	if !ok {
		t.Fatal("first TryAcquire should succeed")
	}
	if _, ok := m.TryAcquire(command.KindClaude); !ok {
		t.Fatal("second TryAcquire should succeed")
	}
	if _, ok := m.TryAcquire(command.KindClaude); ok {
		t.Fatal("third TryAcquire should fail (max concurrency 2)")
	}
	if m.ActiveCount(command.KindClaude) != 2 {
		t.Fatalf("expected 2 active, got %d", m.ActiveCount(command.KindClaude))
	}

	r1()
	r1() // releasing twice is a no-op
	if m.ActiveCount(command.KindClaude) != 1 {
		t.Fatalf("expected 1 active after release, got %d", m.ActiveCount(command.KindClaude))
	}
	if _, ok := m.TryAcquire(command.KindClaude); !ok {
		t.Fatal("TryAcquire should succeed after release")
	}
}

func TestManager_Acquire_BlocksUntilRelease(t *testing.T) {
	m := NewManager(Config{Lane: command.KindShell, MaxConcurrency: 1})
	ctx := context.Background()

	first, err := m.Acquire(ctx, command.KindShell)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		release, err := m.Acquire(ctx, command.KindShell)
		if err == nil {
			release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire did not block")
	case <-time.After(20 * time.Millisecond):
	}

	first()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not proceed after release")
	}
}

func TestManager_Acquire_HonoursContext(t *testing.T) {
	m := NewManager(Config{Lane: command.KindShell, MaxConcurrency: 1})
	if _, err := m.Acquire(context.Background(), command.KindShell); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, command.KindShell); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire error = %v, want DeadlineExceeded", err)
	}
	if m.ActiveCount(command.KindShell) != 1 {
		t.Fatalf("failed Acquire changed the active count to %d", m.ActiveCount(command.KindShell))
	}
}

func TestManager_ConcurrentNeverExceedsLimit(t *testing.T) {
	const limit = 3
	m := NewManager(Config{Lane: command.KindClaude, MaxConcurrency: limit})
	ctx := context.Background()

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		wg       sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(ctx, command.KindClaude)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer release()
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	if peak.Load() > limit {
		t.Fatalf("peak concurrency %d exceeds limit %d", peak.Load(), limit)
	}
}

// ---------------------------------------------------------------------------
// Rate limits
// ---------------------------------------------------------------------------

func TestManager_RateLimit(t *testing.T) {
	m := NewManager(Config{Lane: command.KindClaude, RateLimit: 1, RateBurst: 2})

	for i := range 2 {
		release, ok := m.TryAcquire(command.KindClaude)
		if !ok {
			t.Fatalf("TryAcquire %d within burst should succeed", i)
		}
		release()
	}
	if _, ok := m.TryAcquire(command.KindClaude); ok {
		t.Fatal("TryAcquire beyond burst should fail")
	}
}

func TestManager_RateLimit_DefaultBurst(t *testing.T) {
	m := NewManager(Config{Lane: command.KindShell, RateLimit: 1})
	if _, ok := m.TryAcquire(command.KindShell); !ok {
		t.Fatal("first TryAcquire should succeed with burst 1")
	}
	if _, ok := m.TryAcquire(command.KindShell); ok {
		t.Fatal("second TryAcquire should fail with burst 1")
	}
}

func TestManager_RateLimitedAcquireReleasesSlot(t *testing.T) {
	m := NewManager(Config{Lane: command.KindShell, MaxConcurrency: 1, RateLimit: 0.001, RateBurst: 1})
	release, err := m.Acquire(context.Background(), command.KindShell)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, command.KindShell); err == nil {
		t.Fatal("Acquire should fail waiting for a token")
	}
	if !m.lanes[command.KindShell].sem.TryAcquire(1) {
		t.Fatal("slot leaked after a failed token wait")
	}
}
