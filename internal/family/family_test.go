package family

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raspberrypi/debugprobe-core/internal/swdhost"
	"github.com/raspberrypi/debugprobe-core/internal/swdpio"
)

// simPads is a software model of an ADIv5 SW-DP plus a single MEM-AP,
// just enough to drive Host.Halt/AssertReset/APSel wiring without real
// hardware. It tracks every APSEL value the host selects, so tests can
// assert a family actually switched cores on the wire.
type simPads struct {
	dpSelect uint32
	dhcsr    uint32
	ctrlstat uint32
	csw      uint32
	tar      uint32

	lastWasAP  bool
	lastRnW    bool
	lastAddr   uint8
	pendingAck uint32
	rdbuffVal  uint32

	resetCalls  []bool
	selectedAPs []uint32
}

func (s *simPads) Configure(divisor uint32)            {}
func (s *simPads) HiZClocks(n int)                     {}
func (s *simPads) SetDirection(dir swdpio.Direction)   {}
func (s *simPads) AssertReset(assert bool)             { s.resetCalls = append(s.resetCalls, assert) }
func (s *simPads) Disable()                            {}

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
	if n == 3 {
		return s.pendingAck
	}
	if n == 32 {
		return s.rdbuffVal
	}
	if n == 1 {
		return parity4(s.rdbuffVal)
	}
	return 0
}

func parity4(v uint32) uint32 {
	v ^= v >> 2
	v ^= v >> 1
	return v & 1
}

func (s *simPads) decodeRequest(req uint32) {
	apnDP := (req>>1)&1 == 1
	rnw := (req>>2)&1 == 1
	a2 := (req >> 3) & 1
	a3 := (req >> 4) & 1
	addr := uint8((a3 << 3) | (a2 << 2))

	s.lastWasAP = apnDP
	s.lastRnW = rnw
	s.lastAddr = addr
	s.pendingAck = 0b001 // AckOK

	if rnw {
		s.rdbuffVal = s.computeReadValue(apnDP, addr)
	}
}

const (
	dpCTRLSTAT = 0x4
	apCSW      = 0x00
	apTAR      = 0x04
	apDRW      = 0x0C
	dpRDBUFF   = 0xC
)

func (s *simPads) computeReadValue(apnDP bool, addr uint8) uint32 {
	if !apnDP {
		switch addr {
		case dpCTRLSTAT:
			return s.ctrlstat
		case dpRDBUFF:
			return s.rdbuffVal
		}
		return 0
	}

	bank := s.dpSelect & 0xF0
	switch bank | uint32(addr) {
	case apCSW:
		return s.csw
	case apTAR:
		return s.tar
	case apDRW:
		if s.tar == 0xE000EDF0 { // DHCSR
			return s.dhcsr | (1 << 17) // always report S_HALT set once written
		}
		return 0
	}
	return 0
}

func (s *simPads) writeData(v uint32) {
	if !s.lastWasAP {
		switch s.lastAddr {
		case dpCTRLSTAT:
			s.ctrlstat = v | (v << 1)
		case 0x8: // DP_SELECT
			s.dpSelect = v
			s.selectedAPs = append(s.selectedAPs, v)
		}
		return
	}

	bank := s.dpSelect & 0xF0
	switch bank | uint32(s.lastAddr) {
	case apCSW:
		s.csw = v
	case apTAR:
		s.tar = v
	case apDRW:
		if s.tar == 0xE000EDF0 {
			s.dhcsr = v
		}
	}
}

func newTestHost() (*swdhost.Host, *simPads) {
	sim := &simPads{}
	pio := swdpio.New(sim, 48_000_000, 1, 10_000, nil)
	h := swdhost.New(pio, 1, nil)
	return h, sim
}

func TestGenericIdentityAndDefaults(t *testing.T) {
	g := NewGeneric(0x1234)
	require.Equal(t, uint16(0x1234), g.ID())
	require.Equal(t, uint32(0), g.APSel())
	require.False(t, g.UnlockSequence(nil))
}

func TestGenericResetDrivesPads(t *testing.T) {
	h, sim := newTestHost()
	g := NewGeneric(0x1234)

	g.Reset(h, true)
	g.Reset(h, false)

	require.Equal(t, []bool{true, false}, sim.resetCalls)
}

func TestRP2XXXIdentities(t *testing.T) {
	require.Equal(t, IDRP2040, NewRP2040().ID())
	require.Equal(t, IDRP2350, NewRP2350().ID())
}

func TestRP2XXXBeforeInitDebugSelectsCore0(t *testing.T) {
	h, _ := newTestHost()
	f := NewRP2350()

	require.True(t, f.BeforeInitDebug(h))
	require.Equal(t, uint32(0), f.APSel())
}

func TestRP2XXXHaltSecondaryCoresSwitchesAPAndRestores(t *testing.T) {
	h, sim := newTestHost()
	f := NewRP2350()
	require.True(t, f.BeforeInitDebug(h))

	require.True(t, f.HaltSecondaryCores(h))

	// core 1's AP selector must have appeared on the wire at some point...
	require.Contains(t, sim.selectedAPs, uint32(core1APSel))
	// ...and the family must leave itself addressing core 0 afterward.
	require.Equal(t, uint32(0), f.APSel())
}

func TestRP2XXXUnlockSequencePulsesResetAndRestoresSelector(t *testing.T) {
	h, sim := newTestHost()
	f := NewRP2350()
	require.True(t, f.BeforeInitDebug(h))

	require.True(t, f.UnlockSequence(h))

	require.Equal(t, []bool{true, false}, sim.resetCalls)
	require.Equal(t, uint32(0), f.APSel())
}
