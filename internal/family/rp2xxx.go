package family

import (
	"time"

	"github.com/raspberrypi/debugprobe-core/internal/swdhost"
)

// RP2040/RP2350 family identifiers, matching the rt_uf2_id values the
// bootrom stamps into its UF2 family ID field.
const (
	IDRP2040 uint16 = 0xE48B
	IDRP2350 uint16 = 0xE48D // RP2350 (ARM Secure image variant)
)

// rescueAPSel is a placeholder AP selector routed through the same
// SetAPSelector override used for multi-core targeting, standing in for
// the RP2040 bootrom's rescue path. The real mechanism is a raw 33-bit
// multi-drop SWD TARGETSEL sequence addressed at the DP level, not an AP
// selector, and needs a line-level primitive this driver doesn't expose
// yet; the original firmware itself never exercises this path either
// ("handling of the rescue DP has been dropped (no idea how to test
// this)"). UnlockSequence below is therefore a reset-pulse fallback, not
// a faithful rescue implementation.
const rescueAPSel = 0xF0

// core1APSel is the AP selector OpenOCD uses for the secondary core of
// the RP2350's dual-core, dual-bank debug port; quoted here as an opaque
// constant, since the vendor documents neither its derivation nor a
// general formula for other multi-AP targets.
const core1APSel = 0x4d00

// RP2XXX implements the dual-core Raspberry Pi microcontroller family:
// core 1 stays halted for the whole programming session while core 0 is
// driven through the normal reset/attach/program state machine, and the
// family's AP selector can be switched between the two cores' APs.
type RP2XXX struct {
	id uint16

	// activeCore is the core whose AP APSel selects (core 0's default AP,
	// or core1APSel for core 1); 0 or 1.
	activeCore int
}

// NewRP2040 returns the RP2040 family descriptor.
func NewRP2040() *RP2XXX { return &RP2XXX{id: IDRP2040} }

// NewRP2350 returns the RP2350 family descriptor.
func NewRP2350() *RP2XXX { return &RP2XXX{id: IDRP2350} }

func (f *RP2XXX) ID() uint16 { return f.id }

// Reset pulses RUN (the RP2xxx's dedicated external reset input, wired
// separately from SWD); assert holds the target in reset.
func (f *RP2XXX) Reset(h *swdhost.Host, assert bool) {
	h.AssertReset(assert)
}

// BeforeInitDebug selects core 0's AP before the generic attach sequence
// runs, since a fresh session always starts attached to the core being
// programmed.
func (f *RP2XXX) BeforeInitDebug(h *swdhost.Host) bool {
	f.activeCore = 0
	h.SetAPSelector(f.apSelectorFor(0))
	return true
}

// UnlockSequence attempts to recover a target whose resident flash program
// disabled debug, by selecting rescueAPSel and pulsing reset through it.
// This is a best-effort reset pulse, not the bootrom's real multi-drop
// TARGETSEL rescue sequence; see rescueAPSel's doc comment.
func (f *RP2XXX) UnlockSequence(h *swdhost.Host) bool {
	h.SetAPSelector(func(addr uint32) uint32 { return rescueAPSel })
	h.AssertReset(true)
	time.Sleep(2 * time.Millisecond)
	h.AssertReset(false)
	h.SetAPSelector(f.apSelectorFor(f.activeCore))
	return true
}

// APSel returns the AP selector of whichever core is currently active.
func (f *RP2XXX) APSel() uint32 {
	if f.activeCore == 1 {
		return core1APSel
	}
	return 0
}

// HaltSecondaryCores switches to core 1's AP just long enough to halt it,
// then switches back to core 0 so the rest of the programming session
// continues to address the core being flashed.
func (f *RP2XXX) HaltSecondaryCores(h *swdhost.Host) bool {
	h.SetAPSelector(f.apSelectorFor(1))
	halted := h.Halt()
	h.SetAPSelector(f.apSelectorFor(0))
	return halted
}

func (f *RP2XXX) apSelectorFor(core int) func(addr uint32) uint32 {
	if core == 1 {
		// core1APSel is already the full SELECT value to write; bank
		// selection within this AP isn't needed since nothing else on
		// core 1's AP is addressed beyond the halt-and-resume sequence.
		return func(addr uint32) uint32 { return core1APSel }
	}
	return nil // nil clears the override, restoring the default high-byte rule
}
