package probe

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raspberrypi/debugprobe-core/internal/family"
	"github.com/raspberrypi/debugprobe-core/internal/swdhost"
	"github.com/raspberrypi/debugprobe-core/internal/swdpio"
)

// simPads is a minimal software SW-DP model that loopbacks a CTRL/STAT
// power-up request into its ack bits immediately, so Host.attach
// succeeds deterministically without a real target.
type simPads struct {
	dpSelect uint32
	ctrlstat uint32

	lastWasAP bool
	lastRnW   bool
	lastAddr  uint8
	rdbuff    uint32
}

func (s *simPads) Configure(divisor uint32)        {}
func (s *simPads) HiZClocks(n int)                 {}
func (s *simPads) SetDirection(dir swdpio.Direction) {}
func (s *simPads) AssertReset(assert bool)         {}
func (s *simPads) Disable()                        {}

func (s *simPads) WriteBits(n int, bits uint32) {
	if n == 8 {
		s.decodeRequest(bits)
		return
	}
	if n == 32 {
		s.writeData(bits)
	}
}

func (s *simPads) ReadBits(n int) uint32 {
	switch n {
	case 3:
		return 0b001 // AckOK
	case 32:
		return s.rdbuff
	case 1:
		return parity4(s.rdbuff)
	default:
		return 0
	}
}

func parity4(v uint32) uint32 {
	v ^= v >> 2
	v ^= v >> 1
	return v & 1
}

func (s *simPads) decodeRequest(req uint32) {
	s.lastWasAP = (req>>1)&1 == 1
	s.lastRnW = (req>>2)&1 == 1
	a2 := (req >> 3) & 1
	a3 := (req >> 4) & 1
	s.lastAddr = uint8((a3 << 3) | (a2 << 2))

	if s.lastRnW && !s.lastWasAP && s.lastAddr == 0x4 { // DP_CTRLSTAT
		s.rdbuff = s.ctrlstat
	}
}

func (s *simPads) writeData(v uint32) {
	if s.lastWasAP {
		return
	}
	switch s.lastAddr {
	case 0x4: // DP_CTRLSTAT
		s.ctrlstat = v | (v << 1) // REQ bits -> ACK bits, loopback
	case 0x8: // DP_SELECT
		s.dpSelect = v
	}
}

func testConfig(pads swdpio.Pads) Config {
	return Config{
		Pads:        pads,
		BaseClockHz: 48_000_000,
		MinSWDKHz:   100,
		MaxSWDKHz:   4_000,
		Turnaround:  1,
		RAMBase:     0x20000000,
		RAMEnd:      0x20040000,
	}
}

func TestNewWiresComponentsTogether(t *testing.T) {
	p := New(testConfig(&simPads{}), []swdhost.Family{family.NewGeneric(0xABCD)}, nil)

	require.NotNil(t, p.Pio)
	require.NotNil(t, p.Host)
	require.NotNil(t, p.Arb)
	require.NotNil(t, p.DAP)
}

func TestSelectFamilyFallsBackToLastWhenNoneMatch(t *testing.T) {
	p := New(testConfig(&simPads{}), []swdhost.Family{family.NewGeneric(0x1111), family.NewGeneric(0x2222)}, nil)

	fam := p.SelectFamily(func(h *swdhost.Host) (uint16, bool) { return 0x9999, true })
	require.Equal(t, uint16(0x2222), fam.ID())
}

func TestSelectFamilyPicksFirstMatch(t *testing.T) {
	first := family.NewGeneric(0x1111)
	second := family.NewGeneric(0x2222)
	p := New(testConfig(&simPads{}), []swdhost.Family{first, second}, nil)

	fam := p.SelectFamily(func(h *swdhost.Host) (uint16, bool) { return 0x1111, true })
	require.Equal(t, uint16(0x1111), fam.ID())
}

func TestOpenFlashFailsWithoutFamilySelected(t *testing.T) {
	p := New(testConfig(&simPads{}), nil, nil)

	_, err := p.OpenFlash(1024 * 1024)
	require.Error(t, err)
}
