// Package pool implements the gateway's capacity-bounded CLA child-process
// pool: a counting semaphore with a waiter FIFO, live-child tracking, and a
// two-phase graceful/force drain for shutdown.
package pool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claude-code/gateway/pkg/safego"
)

// ErrNoCapacity is returned by Acquire when the pool is full and the
// waiter's deadline expires, or the pool is shutting down.
var ErrNoCapacity = errors.New("pool: no capacity available")

// ErrDestroyed is returned to every waiter queued at the time Destroy runs.
var ErrDestroyed = errors.New("pool: destroyed")

// Child is a tracked CLA child process handle. Terminate and Kill are the
// two escalation phases; concrete signal mapping (SIGTERM/SIGKILL on POSIX,
// or an equivalent on other platforms) is the caller's concern, not the
// pool's. Done reports the child's exit, closing exactly once.
type Child interface {
	Terminate() error
	Kill() error
	Done() <-chan struct{}
}

type waiter struct {
	grant chan error
}

// Pool is a capacity-bounded, drainable pool of tracked CLA children.
type Pool struct {
	mu sync.Mutex

	maxConcurrent   int
	queueTimeout    time.Duration
	shutdownTimeout time.Duration

	active       int
	waiters      *list.List // of *waiter
	tracked      map[Child]struct{}
	shuttingDown bool
	drainDone    chan struct{}

	logger *zap.Logger
}

// Config holds the pool's tunables.
type Config struct {
	MaxConcurrent   int
	QueueTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// New constructs a process pool.
func New(cfg Config, logger *zap.Logger) *Pool {
	return &Pool{
		maxConcurrent:   cfg.MaxConcurrent,
		queueTimeout:    cfg.QueueTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		waiters:         list.New(),
		tracked:         make(map[Child]struct{}),
		logger:          logger,
	}
}

// Acquire succeeds immediately when active < max_concurrent; otherwise it
// enqueues a waiter with a deadline of queue_timeout. It fails immediately
// if the pool is shutting down.
func (p *Pool) Acquire(ctx context.Context) error {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return ErrNoCapacity
	}
	if p.active < p.maxConcurrent {
		p.active++
		p.mu.Unlock()
		return nil
	}

	w := &waiter{grant: make(chan error, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	timer := time.NewTimer(p.queueTimeout)
	defer timer.Stop()

	select {
	case err := <-w.grant:
		return err
	case <-timer.C:
		p.mu.Lock()
		p.removeWaiter(elem)
		p.mu.Unlock()
		return ErrNoCapacity
	case <-ctx.Done():
		p.mu.Lock()
		p.removeWaiter(elem)
		p.mu.Unlock()
		return ctx.Err()
	}
}

func (p *Pool) removeWaiter(elem *list.Element) {
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		if e == elem {
			p.waiters.Remove(e)
			return
		}
	}
}

// Release resolves the FIFO head without changing active if any waiter is
// queued; otherwise it decrements active, never below zero.
func (p *Pool) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
}

func (p *Pool) releaseLocked() {
	if front := p.waiters.Front(); front != nil {
		p.waiters.Remove(front)
		front.Value.(*waiter).grant <- nil
		return
	}
	if p.active > 0 {
		p.active--
	}
}

// Track adds child to the tracked set and installs a one-shot observer
// that untracks it when it exits.
func (p *Pool) Track(child Child) {
	p.mu.Lock()
	p.tracked[child] = struct{}{}
	p.mu.Unlock()

	safego.Go(p.logger, "pool-child-observer", func() {
		<-child.Done()
		p.Untrack(child)
	})
}

// Untrack removes child from the tracked set. If a drain is in progress
// and the tracked set becomes empty, the drain's deferred completion
// fires. Untracking an already-removed child is a no-op.
func (p *Pool) Untrack(child Child) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.tracked[child]; !ok {
		return
	}
	delete(p.tracked, child)
	p.maybeCompleteDrainLocked()
}

func (p *Pool) maybeCompleteDrainLocked() {
	if p.drainDone != nil && len(p.tracked) == 0 {
		close(p.drainDone)
		p.drainDone = nil
	}
}

// Active reports the current active count, for tests and diagnostics.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// TrackedCount reports the current tracked-children count, for tests and
// diagnostics.
func (p *Pool) TrackedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracked)
}

// DrainAll is idempotent. On first call it marks the pool shutting down,
// rejects every queued waiter, sends graceful termination to every
// tracked child, and returns a channel that closes once every tracked
// child has exited — escalating to force termination after
// shutdown_timeout, and hard-clearing the tracked set after a second
// shutdown_timeout if children still haven't exited (progress guarantee).
func (p *Pool) DrainAll() <-chan struct{} {
	p.mu.Lock()
	if p.shuttingDown {
		done := p.drainDone
		p.mu.Unlock()
		if done == nil {
			done = closedChan()
		}
		return done
	}
	p.shuttingDown = true

	for {
		front := p.waiters.Front()
		if front == nil {
			break
		}
		p.waiters.Remove(front)
		front.Value.(*waiter).grant <- ErrNoCapacity
	}

	if len(p.tracked) == 0 {
		p.mu.Unlock()
		return closedChan()
	}

	done := make(chan struct{})
	p.drainDone = done
	children := make([]Child, 0, len(p.tracked))
	for c := range p.tracked {
		children = append(children, c)
	}
	p.mu.Unlock()

	for _, c := range children {
		_ = c.Terminate()
	}

	safego.Go(p.logger, "pool-drain-escalation", func() {
		p.escalate(done)
	})

	return done
}

func (p *Pool) escalate(done chan struct{}) {
	timer := time.NewTimer(p.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}

	p.mu.Lock()
	children := make([]Child, 0, len(p.tracked))
	for c := range p.tracked {
		children = append(children, c)
	}
	p.mu.Unlock()
	for _, c := range children {
		_ = c.Kill()
	}

	timer2 := time.NewTimer(p.shutdownTimeout)
	defer timer2.Stop()
	select {
	case <-done:
		return
	case <-timer2.C:
	}

	p.mu.Lock()
	p.tracked = make(map[Child]struct{})
	p.maybeCompleteDrainLocked()
	p.mu.Unlock()
}

// Destroy rejects every queued waiter with ErrDestroyed and resets the pool
// to its zero state — no active leases, no tracked children, not shutting
// down — so it can be reused, mirroring session.Registry's Destroy. It does
// not signal tracked children; callers that need those stopped too should
// call DrainAll first and wait for it before calling Destroy.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		front := p.waiters.Front()
		if front == nil {
			break
		}
		p.waiters.Remove(front)
		front.Value.(*waiter).grant <- ErrDestroyed
	}

	p.active = 0
	p.tracked = make(map[Child]struct{})
	p.shuttingDown = false
	if p.drainDone != nil {
		close(p.drainDone)
		p.drainDone = nil
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// KillWithEscalation performs the same two-phase escalation as DrainAll
// for a single child: it terminates gracefully, and if the child has not
// exited within timeout, force-kills it. The force-kill timer is
// cleared if graceful termination succeeds first.
func KillWithEscalation(child Child, timeout time.Duration) {
	_ = child.Terminate()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-child.Done():
		return
	case <-timer.C:
		_ = child.Kill()
	}
}
