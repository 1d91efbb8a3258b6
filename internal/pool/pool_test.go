package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeChild struct {
	mu          sync.Mutex
	done        chan struct{}
	terminated  bool
	killed      bool
	exitOnTerm  bool
}

func newFakeChild() *fakeChild {
	return &fakeChild{done: make(chan struct{})}
}

func (c *fakeChild) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
	if c.exitOnTerm {
		close(c.done)
	}
	return nil
}

func (c *fakeChild) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killed = true
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}

func (c *fakeChild) Done() <-chan struct{} {
	return c.done
}

func testPool(maxConcurrent int, queueTimeout, shutdownTimeout time.Duration) *Pool {
	return New(Config{MaxConcurrent: maxConcurrent, QueueTimeout: queueTimeout, ShutdownTimeout: shutdownTimeout}, zap.NewNop())
}

func TestAcquireWithinCapacitySucceedsImmediately(t *testing.T) {
	p := testPool(2, time.Second, time.Second)
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Active() != 1 {
		t.Fatalf("expected active=1, got %d", p.Active())
	}
}

func TestAcquireBeyondCapacityTimesOut(t *testing.T) {
	p := testPool(1, 10*time.Millisecond, time.Second)
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := p.Acquire(context.Background())
	if err != ErrNoCapacity {
		t.Fatalf("expected ErrNoCapacity, got %v", err)
	}
}

func TestReleaseGrantsQueuedWaiterWithoutChangingActive(t *testing.T) {
	p := testPool(1, time.Second, time.Second)
	p.Acquire(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Acquire(context.Background()) }()
	time.Sleep(10 * time.Millisecond) // let the second Acquire enqueue

	activeBefore := p.Active()
	p.Release()

	if err := <-done; err != nil {
		t.Fatalf("expected queued waiter granted, got %v", err)
	}
	if p.Active() != activeBefore {
		t.Fatalf("expected active unchanged by grant, before=%d after=%d", activeBefore, p.Active())
	}
}

func TestReleaseWithNoWaitersDecrementsActive(t *testing.T) {
	p := testPool(2, time.Second, time.Second)
	p.Acquire(context.Background())
	p.Release()
	if p.Active() != 0 {
		t.Fatalf("expected active=0, got %d", p.Active())
	}
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	p := testPool(1, time.Second, time.Second)
	p.Release()
	if p.Active() != 0 {
		t.Fatalf("expected active to stay at 0, got %d", p.Active())
	}
}

func TestAcquireFailsImmediatelyWhenShuttingDown(t *testing.T) {
	p := testPool(2, time.Second, time.Second)
	<-p.DrainAll()
	if err := p.Acquire(context.Background()); err != ErrNoCapacity {
		t.Fatalf("expected ErrNoCapacity during shutdown, got %v", err)
	}
}

func TestTrackUntrackOnExit(t *testing.T) {
	p := testPool(2, time.Second, time.Second)
	c := newFakeChild()
	p.Track(c)
	if p.TrackedCount() != 1 {
		t.Fatalf("expected tracked count 1, got %d", p.TrackedCount())
	}
	close(c.done)
	// observer goroutine runs asynchronously
	deadline := time.Now().Add(time.Second)
	for p.TrackedCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.TrackedCount() != 0 {
		t.Fatal("expected child to be untracked after exit")
	}
}

func TestDrainAllResolvesWhenTrackedSetEmpties(t *testing.T) {
	p := testPool(2, time.Second, 200*time.Millisecond)
	c := newFakeChild()
	c.exitOnTerm = true
	p.Track(c)

	select {
	case <-p.DrainAll():
	case <-time.After(time.Second):
		t.Fatal("expected drain to resolve once graceful termination exits the child")
	}
	if !c.terminated {
		t.Fatal("expected child to receive graceful termination")
	}
	if c.killed {
		t.Fatal("expected no force-kill when graceful termination succeeded")
	}
}

func TestDrainAllEscalatesToForceKill(t *testing.T) {
	p := testPool(2, time.Second, 20*time.Millisecond)
	c := newFakeChild() // never exits on its own

	p.Track(c)
	select {
	case <-p.DrainAll():
	case <-time.After(time.Second):
		t.Fatal("expected drain to resolve via force-kill escalation")
	}
	if !c.killed {
		t.Fatal("expected escalation to force-kill the unresponsive child")
	}
}

func TestDrainAllIsIdempotent(t *testing.T) {
	p := testPool(2, time.Second, time.Second)
	d1 := p.DrainAll()
	d2 := p.DrainAll()
	select {
	case <-d1:
	case <-time.After(time.Second):
		t.Fatal("expected first drain handle to resolve")
	}
	select {
	case <-d2:
	case <-time.After(time.Second):
		t.Fatal("expected second drain call to return a resolving handle too")
	}
}

func TestDrainAllRejectsQueuedWaiters(t *testing.T) {
	p := testPool(1, time.Second, time.Second)
	p.Acquire(context.Background())

	result := make(chan error, 1)
	go func() { result <- p.Acquire(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	p.DrainAll()
	if err := <-result; err != ErrNoCapacity {
		t.Fatalf("expected queued waiter rejected on drain, got %v", err)
	}
}

func TestDestroyRejectsQueuedWaiters(t *testing.T) {
	p := testPool(1, time.Second, time.Second)
	p.Acquire(context.Background())

	result := make(chan error, 1)
	go func() { result <- p.Acquire(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	p.Destroy()
	if err := <-result; err != ErrDestroyed {
		t.Fatalf("expected queued waiter rejected with ErrDestroyed, got %v", err)
	}
}

func TestDestroyResetsPoolForReuse(t *testing.T) {
	p := testPool(1, time.Second, time.Second)
	p.Acquire(context.Background())
	c := newFakeChild()
	p.Track(c)
	<-p.DrainAll()

	p.Destroy()
	if p.Active() != 0 {
		t.Fatalf("expected active=0 after destroy, got %d", p.Active())
	}
	if p.TrackedCount() != 0 {
		t.Fatalf("expected tracked count=0 after destroy, got %d", p.TrackedCount())
	}
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("expected pool usable again after destroy, got %v", err)
	}
}

func TestKillWithEscalationSkipsForceKillOnGracefulExit(t *testing.T) {
	c := newFakeChild()
	c.exitOnTerm = true
	KillWithEscalation(c, 200*time.Millisecond)
	if !c.terminated || c.killed {
		t.Fatalf("expected graceful-only exit, terminated=%v killed=%v", c.terminated, c.killed)
	}
}

func TestKillWithEscalationForceKillsAfterTimeout(t *testing.T) {
	c := newFakeChild()
	KillWithEscalation(c, 20*time.Millisecond)
	if !c.killed {
		t.Fatal("expected force-kill after timeout")
	}
}
