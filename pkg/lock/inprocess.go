package lock

import (
	"context"
	"sync"
	"time"
)

// InProcessLocker implements Locker with a per-resource semaphore. It
// satisfies the same contract as the distributed backends, including
// honoring timeout, and is the documented acceptable choice for
// single-replica deployments (spec §4.1).
type InProcessLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewInProcessLocker() *InProcessLocker {
	return &InProcessLocker{slots: make(map[string]chan struct{})}
}

func (l *InProcessLocker) slot(resource string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[resource]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		l.slots[resource] = ch
	}
	return ch
}

func (l *InProcessLocker) AcquireLock(ctx context.Context, resource string, timeout time.Duration) (Handle, error) {
	ch := l.slot(resource)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return &inProcessHandle{ch: ch, resource: resource, held: true}, nil
	case <-timer.C:
		return nil, timeoutError(resource)
	case <-ctx.Done():
		return nil, timeoutError(resource)
	}
}

type inProcessHandle struct {
	mu       sync.Mutex
	ch       chan struct{}
	resource string
	held     bool
}

func (h *inProcessHandle) Release(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.held {
		return nil
	}
	h.held = false
	h.ch <- struct{}{}
	return nil
}

func (h *inProcessHandle) IsHeld() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held
}

func (h *inProcessHandle) Resource() string { return h.resource }
