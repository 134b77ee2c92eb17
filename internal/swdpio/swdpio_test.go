package swdpio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePads struct {
	configured   []uint32
	direction    Direction
	dirSwitches  int
	resetAsserts []bool
	written      []uint32
	hizClocks    int
	disables     int
}

func (f *fakePads) Configure(divisor uint32)      { f.configured = append(f.configured, divisor) }
func (f *fakePads) WriteBits(n int, bits uint32)  { f.written = append(f.written, bits) }
func (f *fakePads) ReadBits(n int) uint32         { return 0xA5A5A5A5 & ((1 << uint(n)) - 1) }
func (f *fakePads) HiZClocks(n int)               { f.hizClocks += n }
func (f *fakePads) SetDirection(dir Direction) {
	f.direction = dir
	f.dirSwitches++
}
func (f *fakePads) AssertReset(assert bool) { f.resetAsserts = append(f.resetAsserts, assert) }
func (f *fakePads) Disable()                { f.disables++ }

func TestSetClockClampsAndCaches(t *testing.T) {
	pads := &fakePads{}
	d := New(pads, 48_000_000, 1, 10_000, nil)

	got := d.SetClock(50_000) // above max, clamp to 10_000
	require.Equal(t, uint32(10_000), got)
	require.Len(t, pads.configured, 1)

	// repeating the same request must not reprogram the hardware
	d.SetClock(50_000)
	require.Len(t, pads.configured, 1, "cached divisor should suppress reprogram")

	got = d.SetClock(0) // below min, clamp to 1
	require.Equal(t, uint32(1), got)
	require.Len(t, pads.configured, 2)
}

func TestWriteBitsMasksAndSwitchesDirection(t *testing.T) {
	pads := &fakePads{}
	d := New(pads, 48_000_000, 1, 10_000, nil)

	d.ReadBits(8) // start in In direction
	d.WriteBits(4, 0xFF)

	require.Equal(t, 2, pads.dirSwitches, "expected In then Out")
	require.Equal(t, uint32(0x0F), pads.written[0])
}

func TestBitRangePanics(t *testing.T) {
	pads := &fakePads{}
	d := New(pads, 48_000_000, 1, 10_000, nil)

	require.Panics(t, func() { d.WriteBits(33, 0) })
}

func TestAssertReset(t *testing.T) {
	pads := &fakePads{}
	d := New(pads, 48_000_000, 1, 10_000, nil)

	d.AssertReset(true)
	d.AssertReset(false)

	require.Equal(t, []bool{true, false}, pads.resetAsserts)
}
