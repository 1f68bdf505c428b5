package lock

import (
	"context"
	"sync"
	"time"
)

// IdleWatcher quick-locks the session after a period without activity
type IdleWatcher struct {
	m       *Machine
	timeout time.Duration

	touch  chan struct{}
	stop   chan struct{}
	done   chan struct{}
	locked chan struct{}
	once   sync.Once
}

// WatchIdle starts a watcher that quick-locks after timeout of inactivity.
// The key stays cached. Stop must be called to release the goroutine.
func (m *Machine) WatchIdle(ctx context.Context, timeout time.Duration) *IdleWatcher {
	w := &IdleWatcher{
		m:       m,
		timeout: timeout,
		touch:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		locked:  make(chan struct{}, 1),
	}
	go w.run(ctx)
	return w
}

// Touch records activity and restarts the countdown
func (w *IdleWatcher) Touch() {
	select {
	case w.touch <- struct{}{}:
	default:
	}
}

// Locked receives a value each time the watcher locks the session
func (w *IdleWatcher) Locked() <-chan struct{} {
	return w.locked
}

// Stop ends the watcher and waits for it to exit
func (w *IdleWatcher) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

func (w *IdleWatcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-w.touch:
			timer.Reset(w.timeout)
		case <-timer.C:
			if w.m.tryQuickLock(ctx) {
				select {
				case w.locked <- struct{}{}:
				default:
				}
			}
			timer.Reset(w.timeout)
		}
	}
}

// tryQuickLock locks an unlocked session unless a transition is in flight
func (m *Machine) tryQuickLock(ctx context.Context) bool {
	if !m.guard.TryAcquire(1) {
		return false
	}
	defer m.guard.Release(1)

	if m.Phase() != PhaseUnlocked {
		return false
	}
	m.lock(ctx, Options{}, "idle")
	m.log.Info().Msg("session locked after inactivity")
	return true
}
