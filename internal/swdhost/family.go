package swdhost

// Family is the narrow polymorphism surface the host calls into for the
// parts of the target state machine that differ per target MCU family.
// Concrete families live in package family, which imports swdhost for
// *Host — keeping the dependency one-directional avoids a cyclic
// package reference.
type Family interface {
	// ID is the family's stable 16-bit identifier.
	ID() uint16

	// Reset drives the target reset line or performs a vendor-specific
	// software reset.
	Reset(h *Host, assert bool)

	// BeforeInitDebug runs any family-specific preamble before the
	// generic attach sequence (dormant-exit selection, JTAG-to-SWD
	// switch). An implementation with nothing extra to do returns true;
	// attach does not act on the returned value.
	BeforeInitDebug(h *Host) bool

	// UnlockSequence performs a vendor-specific recovery unlock (e.g.
	// Nordic's CTRL-AP erase-all). Host's attach sequence does not call
	// it; a failed attach is retried with ABORT writes and reset pulses.
	UnlockSequence(h *Host) bool

	// APSel returns the AP selector for the currently targeted core.
	APSel() uint32

	// HaltSecondaryCores halts any cores other than the one being
	// programmed, so they stay parked across flash programming.
	// Single-core families return true immediately.
	HaltSecondaryCores(h *Host) bool
}
