// Package swdpio implements the bit-level SWD transport: a
// host-programmable clock over two lines (SWCLK + bidirectional SWDIO)
// plus an open-drain reset line.
//
// The real hardware backend (a PIO-style programmable IO engine, or a
// plain bit-banged GPIO pad set on boards without one) is abstracted
// behind the Pads interface so the bit-packing/clamping logic here is
// testable without hardware, keeping hardware register pokes behind a
// narrow Go type and layering protocol logic on top.
package swdpio

import (
	"fmt"

	"github.com/raspberrypi/debugprobe-core/internal/probelog"
)

// Direction is the SWDIO pad drive direction.
type Direction int

const (
	Out Direction = iota
	In
)

// Pads is the hardware contract a board wires in: program the clock
// divisor, shift bits, drive Hi-Z turnaround clocks, switch direction, and
// assert/deassert the reset line. Implementations must block until the
// requested effect is observable on the wire: WriteBits/ReadBits until the
// IO engine has ingested or produced the bits, SetDirection until the pad
// output-enable reflects the new direction.
type Pads interface {
	Configure(divisor uint32)
	WriteBits(n int, bits uint32)
	ReadBits(n int) uint32
	HiZClocks(n int)
	SetDirection(dir Direction)
	AssertReset(assert bool)

	// Disable releases SWCLK and SWDIO to Hi-Z, electrically presenting
	// the probe as disconnected from the target bus. Reset is left alone
	// since callers control it independently.
	Disable()
}

// Driver is the component-A public contract. The zero value is not usable;
// use New.
type Driver struct {
	pads Pads
	log  *probelog.Logger

	baseClockHz uint32
	minKHz      uint32
	maxKHz      uint32

	cachedKHz     uint32
	cachedDivisor uint32
	direction     Direction
	resetAsserted bool
}

// New creates a Driver. baseClockHz is the IO engine's own clock; minKHz
// and maxKHz clamp every SetClock request to a floor and to the
// attached family's maximum rate.
func New(pads Pads, baseClockHz, minKHz, maxKHz uint32, log *probelog.Logger) *Driver {
	return &Driver{
		pads:        pads,
		log:         log,
		baseClockHz: baseClockHz,
		minKHz:      minKHz,
		maxKHz:      maxKHz,
		direction:   Out,
	}
}

// divisorFor maps a requested kHz rate to the nearest integer clock
// divisor against the driver's base clock, rounding up so the actual rate
// never exceeds the request.
func divisorFor(baseHz uint32, khz uint32) uint32 {
	wantHz := khz * 1000
	if wantHz == 0 {
		return 1
	}
	// two driver ticks per bit period (rising + falling edge)
	div := (baseHz + wantHz*2 - 1) / (wantHz * 2)
	if div == 0 {
		div = 1
	}
	return div
}

// SetClock sets the half-bit period, clamped to [minKHz, maxKHz]. Repeated
// calls with the same effective kHz are a no-op against the hardware: the
// divisor is only reprogrammed when it actually changes.
func (d *Driver) SetClock(khz uint32) uint32 {
	if khz < d.minKHz {
		khz = d.minKHz
	}
	if d.maxKHz > 0 && khz > d.maxKHz {
		khz = d.maxKHz
	}

	divisor := divisorFor(d.baseClockHz, khz)

	if divisor == d.cachedDivisor && d.cachedKHz != 0 {
		return d.cachedKHz
	}

	d.pads.Configure(divisor)
	d.cachedDivisor = divisor
	d.cachedKHz = khz

	if d.log != nil {
		d.log.WithFields(map[string]interface{}{"khz": khz, "divisor": divisor}).Debug("swdpio: clock set")
	}

	return khz
}

// CachedKHz returns the last programmed clock rate, for tests asserting
// the idempotence invariant.
func (d *Driver) CachedKHz() uint32 { return d.cachedKHz }

// WriteBits drives n bits (1..32), LSB-first, on falling clock edges, and
// blocks until ingested.
func (d *Driver) WriteBits(n int, bits uint32) {
	d.checkRange(n)
	d.ensureDirection(Out)
	if n < 32 {
		bits &= (1 << uint(n)) - 1
	}
	d.pads.WriteBits(n, bits)
}

// ReadBits samples n bits (1..32) on rising edges and returns them
// right-aligned.
func (d *Driver) ReadBits(n int) uint32 {
	d.checkRange(n)
	d.ensureDirection(In)
	return d.pads.ReadBits(n)
}

// HiZClocks drives n clock edges with SWDIO released (the SWD turnaround
// cycles).
func (d *Driver) HiZClocks(n int) {
	d.pads.HiZClocks(n)
}

// SetDirection switches the SWDIO pad drive state, blocking until the pad
// output-enable reflects it.
func (d *Driver) SetDirection(dir Direction) {
	d.ensureDirection(dir)
}

func (d *Driver) ensureDirection(dir Direction) {
	if d.direction == dir {
		return
	}
	d.pads.SetDirection(dir)
	d.direction = dir
}

// AssertReset drives the reset line low (assert) or releases it to the
// pull-up (deassert), emulating an open-drain target reset.
func (d *Driver) AssertReset(assert bool) {
	d.pads.AssertReset(assert)
	d.resetAsserted = assert
}

// Disable puts SWCLK/SWDIO into Hi-Z so the probe no longer drives the
// target bus; used when leaving a target running free (RESET_RUN) so
// the probe doesn't hold the line after detach. The next WriteBits call
// reprograms the direction pad before driving again.
func (d *Driver) Disable() {
	d.pads.Disable()
	d.direction = In
}

// checkRange enforces the 1..32 contract. The IO engine itself cannot
// fail; an out-of-range n is a programming error in the caller, so this
// halts the probe with a diagnostic rather than returning an error.
func (d *Driver) checkRange(n int) {
	if n < 1 || n > 32 {
		if d.log != nil {
			d.log.WithFields(map[string]interface{}{"n": n}).Error("swdpio: bit count out of range")
		}
		panic(fmt.Sprintf("swdpio: bit count %d out of range [1,32]", n))
	}
}
