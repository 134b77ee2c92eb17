// Package family provides the concrete swdhost.Family implementations: a
// generic single-core Cortex-M target, and the dual-core RP2040/RP2350
// parameterization that holds core 1 in HALT while core 0 is programmed.
// Each family owns nothing but its identity and reset wiring; all wire
// state lives in the *swdhost.Host passed to every method, so a family
// value is safe to share across sessions.
package family

import (
	"time"

	"github.com/raspberrypi/debugprobe-core/internal/swdhost"
)

// Generic is a plain single-core Cortex-M family: reset is a bare GPIO
// pulse, there is no dormant-wake preamble or unlock sequence, and the
// default APSEL (high byte of the AP address) is used unchanged.
type Generic struct {
	id uint16
}

// NewGeneric returns a family identified by id, used whenever the target
// needs nothing beyond the baseline attach sequence component B already
// performs.
func NewGeneric(id uint16) *Generic {
	return &Generic{id: id}
}

func (g *Generic) ID() uint16 { return g.id }

// Reset drives the reset line directly; assert holds the target in
// reset, !assert releases it.
func (g *Generic) Reset(h *swdhost.Host, assert bool) {
	h.AssertReset(assert)
}

// BeforeInitDebug has nothing to add for a plain Cortex-M target. The
// attach sequence in package swdhost sends no line reset or JTAG-to-SWD
// switch of its own; it clears sticky errors, requests power-up and
// enables debug.
func (g *Generic) BeforeInitDebug(h *swdhost.Host) bool { return true }

// UnlockSequence is a no-op: the generic family has no vendor recovery
// path, so a failed attach simply stays failed.
func (g *Generic) UnlockSequence(h *swdhost.Host) bool { return false }

// APSel leaves AP selection to the Host's default (high byte of the AP
// address), returning 0 to mean "no override".
func (g *Generic) APSel() uint32 { return 0 }

// HaltSecondaryCores is a no-op: there is only one core.
func (g *Generic) HaltSecondaryCores(h *swdhost.Host) bool { return true }

const resetPulse = 10 * time.Millisecond
