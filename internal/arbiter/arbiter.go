// Package arbiter implements the priority-aware mutual-exclusion mechanism
// (component C of the probe core) that serializes access to the SWD bus
// between the CMSIS-DAP worker (high priority) and the RTT engine (low
// priority, cooperative).
//
// It is a counting semaphore of count 1, extended with a "release
// requested" flag, modeled directly on the original firmware's sw_lock.c:
// a binary semaphore was used there in preference to a real mutex because
// the RTOS mutex implementation hung on Take() in practice; here a buffered
// channel of size 1 gives the same binary-semaphore behavior with no such
// caveat.
package arbiter

import (
	"sync/atomic"
	"time"

	"github.com/raspberrypi/debugprobe-core/internal/probelog"
)

// DefaultHighPriorityTimeout bounds how long a high-priority acquirer
// waits before giving up.
const DefaultHighPriorityTimeout = 1 * time.Second

// Arbiter is the SWD bus lock. The zero value is not usable; use New.
type Arbiter struct {
	sema    chan struct{}
	holder  atomic.Value // string
	request atomic.Bool

	// HighPriorityTimeout overrides DefaultHighPriorityTimeout, mainly for
	// tests that want a tighter bound than the production 1s.
	HighPriorityTimeout time.Duration

	log *probelog.Logger
}

// New creates an unlocked Arbiter.
func New(log *probelog.Logger) *Arbiter {
	a := &Arbiter{
		sema:                make(chan struct{}, 1),
		HighPriorityTimeout: DefaultHighPriorityTimeout,
		log:                 log,
	}
	a.sema <- struct{}{}
	a.holder.Store("")
	return a
}

// Lock acquires the bus for holder. A low-priority caller (the RTT engine)
// blocks indefinitely. A high-priority caller sets the release-requested
// flag so any low-priority holder can notice and yield, then waits up to
// HighPriorityTimeout.
func (a *Arbiter) Lock(holder string, priorityHigh bool) bool {
	var ok bool

	if priorityHigh {
		a.request.Store(true)
		select {
		case <-a.sema:
			ok = true
		case <-time.After(a.HighPriorityTimeout):
			ok = false
		}
		a.request.Store(false)
	} else {
		<-a.sema
		ok = true
	}

	if ok {
		a.holder.Store(holder)
	}

	if a.log != nil {
		a.log.WithFields(map[string]interface{}{
			"holder":   holder,
			"priority": priorityHigh,
			"ok":       ok,
		}).Debug("arbiter: lock")
	}

	return ok
}

// Unlock releases the bus. holder is accepted for symmetry with Lock and
// used only for diagnostics; the underlying semaphore has no notion of
// ownership enforcement, matching the original sw_unlock's behavior of
// trusting its caller.
func (a *Arbiter) Unlock(holder string) {
	a.holder.Store("")
	a.sema <- struct{}{}

	if a.log != nil {
		a.log.WithFields(map[string]interface{}{"holder": holder}).Debug("arbiter: unlock")
	}
}

// ReleaseRequested reports whether a high-priority acquirer is waiting.
// Only meaningful to the current holder; a non-holder polling this sees a
// stale or meaningless value.
func (a *Arbiter) ReleaseRequested() bool {
	return a.request.Load()
}

// Holder returns the tag of the current holder, or "" if unlocked. For
// logging/debugging only.
func (a *Arbiter) Holder() string {
	v, _ := a.holder.Load().(string)
	return v
}
