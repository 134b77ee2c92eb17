package rtt

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/raspberrypi/debugprobe-core/internal/arbiter"
	"github.com/raspberrypi/debugprobe-core/internal/probelog"
)

// console and sysview are the only two channels the engine multiplexes,
// matching channel 0 reserved for the standard RTT console and channel
// 1 conventionally used by SysView.
const (
	ChannelConsole = 0
	ChannelSysView = 1
)

// Engine owns the scan-then-poll lifecycle for one target: find the
// control block, drive its channels, and restart from scan whenever
// the liveness watchdog lapses or a preemption request from the
// arbiter interrupts a cycle.
type Engine struct {
	target Target
	arb    *arbiter.Arbiter
	log    *probelog.Logger

	ramBase, ramEnd uint32

	console *Stream2Way
	sysView *Stream2Way

	cb         uint32
	lastActive time.Time
	nowFunc    func() time.Time

	// forwardSysViewDownstream gates host-to-target traffic on the
	// SysView channel. SysView is normally a target-to-host trace feed;
	// most hosts never write to it, and forwarding arbitrary downstream
	// bytes into a profiler's command channel without understanding its
	// framing risks desynchronizing the target-side SysView recorder.
	// Defaults to false, matching the original's hedge of leaving this
	// path unimplemented rather than forwarding blind.
	forwardSysViewDownstream bool

	// limiter paces the poll loop as a token bucket: every cycle, busy or
	// idle, takes one token, refilled once per pollInterval, so after a
	// burst of pollBurst back-to-back cycles the loop settles to one cycle
	// per pollInterval.
	limiter *rate.Limiter
}

// Stream2Way pairs a channel's host-facing read/write streams; either
// side may be nil if that channel isn't wired up.
type Stream2Way struct {
	ToTarget   Stream
	FromTarget Stream
}

// NewEngine manages the RAM window [ramBase, ramEnd) of target for RTT
// traffic. console and sysView may be nil to disable that channel.
func NewEngine(target Target, arb *arbiter.Arbiter, log *probelog.Logger, ramBase, ramEnd uint32, console, sysView *Stream2Way) *Engine {
	return &Engine{
		target:  target,
		arb:     arb,
		log:     log,
		ramBase: ramBase,
		ramEnd:  ramEnd,
		console: console,
		sysView: sysView,
		limiter: rate.NewLimiter(rate.Every(pollInterval), pollBurst),
	}
}

// SetForwardSysViewDownstream enables or disables forwarding host-to-target
// bytes on the SysView channel; disabled by default.
func (e *Engine) SetForwardSysViewDownstream(v bool) { e.forwardSysViewDownstream = v }

func (e *Engine) now() time.Time {
	if e.nowFunc != nil {
		return e.nowFunc()
	}
	return time.Now()
}

// Run scans for a control block and polls it until the arbiter's
// release is requested, yielding control to the caller. Callers
// typically loop: Run, release the bus briefly, Lock again, Run.
// Run returns the last-known control block address so the next call
// can re-verify it instead of rescanning from scratch.
func (e *Engine) Run(prevCB uint32) uint32 {
	scanner := NewScanner(e.target, e.ramBase, e.ramEnd)

	cb := scanner.Find(prevCB, e.arb)
	if cb == 0 {
		return 0
	}
	e.cb = cb
	e.lastActive = e.now()

	var consoleCh, sysViewCh *Channel
	if e.console != nil {
		consoleCh = NewChannel(e.target, e.log, e.ramBase, e.ramEnd, cb, ChannelConsole)
	}
	if e.sysView != nil {
		sysViewCh = NewChannel(e.target, e.log, e.ramBase, e.ramEnd, cb, ChannelSysView)
	}

	for {
		if e.arb != nil && e.arb.ReleaseRequested() {
			return cb
		}

		anyWork := false

		if consoleCh != nil {
			consoleCh.Rediscover()
			if w, ok := consoleCh.PumpUpstream(e.console.FromTarget); !ok {
				return 0
			} else if w {
				anyWork = true
			}
			if w, ok := consoleCh.PumpDownstream(e.console.ToTarget); !ok {
				return 0
			} else if w {
				anyWork = true
			}
		}

		if sysViewCh != nil {
			sysViewCh.Rediscover()
			if w, ok := sysViewCh.PumpUpstream(e.sysView.FromTarget); !ok {
				return 0
			} else if w {
				anyWork = true
			}
			if e.forwardSysViewDownstream {
				if w, ok := sysViewCh.PumpDownstream(e.sysView.ToTarget); !ok {
					return 0
				} else if w {
					anyWork = true
				}
			}
		}

		if anyWork {
			e.lastActive = e.now()
		} else if e.now().Sub(e.lastActive) > liveness {
			// control block looks stale: force a rescan next Run
			return 0
		}

		e.limiter.WaitN(context.Background(), 1)
	}
}

const pollInterval = 1 * time.Millisecond
const pollBurst = 4
