package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// timerBag tracks every timer a session schedules so stop() can cancel
// them all and guarantee no callback fires afterward (spec §3 "any timer
// scheduled by the session is tracked and canceled on stop", §8 property 4).
// Modeled on spec §9's "single timer bag attached to the session" note —
// the teacher repo has ~8 distinct ad hoc timers per session; this
// generalizes them into one owned resource.
type timerBag struct {
	mu      sync.Mutex
	stopped bool
	timers  map[int]*time.Timer
	next    int
}

func newTimerBag() *timerBag {
	return &timerBag{timers: make(map[int]*time.Timer)}
}

// after schedules fn to run after d unless the bag has been stopped in
// the meantime. Returns an id that can be passed to cancel. If the bag is
// already stopped, after is a no-op (no new timer is scheduled — spec §3
// "while status = stopped, no new timer is scheduled").
func (b *timerBag) after(d time.Duration, fn func()) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return -1
	}
	id := b.next
	b.next++
	b.timers[id] = time.AfterFunc(d, func() {
		b.mu.Lock()
		_, stillTracked := b.timers[id]
		stopped := b.stopped
		delete(b.timers, id)
		b.mu.Unlock()
		if stillTracked && !stopped {
			fn()
		}
	})
	return id
}

// cancel stops and untracks a single timer by id. Safe to call with an
// already-fired or already-canceled id.
func (b *timerBag) cancel(id int) {
	if id < 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[id]; ok {
		t.Stop()
		delete(b.timers, id)
	}
}

// stopAll cancels every tracked timer and flips the bag into the stopped
// state, after which after() refuses to schedule anything new. Flipping
// stopped first (before iterating) matches spec §5's cancellation
// ordering: "flips isStopped before canceling timers so no callback that
// fires in-between schedules new work".
func (b *timerBag) stopAll() {
	b.mu.Lock()
	b.stopped = true
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	b.mu.Unlock()
}

// active reports how many timers are currently tracked (used by tests to
// assert spec §8 property 4: the active-timer set is empty after stop).
func (b *timerBag) active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timers)
}

// errTimeout is returned by withTimeout when work does not settle before
// the deadline.
type errTimeout struct{ op string }

func (e *errTimeout) Error() string { return fmt.Sprintf("supervisor: %s timed out", e.op) }

// withTimeout wraps work with a deadline, matching spec §5's utility
// wrapper: rejects with a timeout error if work has not resolved in time,
// and always releases its timer resources on settle regardless of outcome.
func withTimeout[T any](ctx context.Context, d time.Duration, op string, work func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := work(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, &errTimeout{op: op}
	}
}
