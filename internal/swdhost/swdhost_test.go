package swdhost

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raspberrypi/debugprobe-core/internal/swdpio"
)

// simTarget is a minimal software model of an ADIv5 SW-DP plus a single
// MEM-AP over a flat RAM array, sufficient to exercise the host's
// round-trip behavior without real hardware.
type simTarget struct {
	dpSelect uint32
	ctrlstat uint32
	csw      uint32
	tar      uint32
	ram      [8192]byte
	ramBase  uint32

	// bit-level shift state for the current transaction
	shiftIn  []bool
	shiftPos int

	lastWasAP  bool
	lastRnW    bool
	lastAddr   uint8
	pendingAck uint32
	rdbuffVal  uint32
}

func newSimTarget() *simTarget {
	return &simTarget{ramBase: 0x20000000}
}

func (s *simTarget) Configure(divisor uint32) {}

func (s *simTarget) WriteBits(n int, bits uint32) {
	if n == 8 {
		s.decodeRequest(bits)
		return
	}
	if n == 32 {
		s.writeData(bits)
		return
	}
	// parity bit on write data phase: ignore (host computes correctly in tests)
}

func (s *simTarget) ReadBits(n int) uint32 {
	if n == 3 {
		return s.pendingAck
	}
	if n == 32 {
		return s.readData()
	}
	if n == 1 {
		return parity4(s.rdbuffVal)
	}
	return 0
}

func (s *simTarget) HiZClocks(n int) {}
func (s *simTarget) SetDirection(dir swdpio.Direction) {}
func (s *simTarget) AssertReset(assert bool) {}
func (s *simTarget) Disable()                {}

func (s *simTarget) decodeRequest(req uint32) {
	apnDP := (req>>1)&1 == 1
	rnw := (req>>2)&1 == 1
	a2 := (req >> 3) & 1
	a3 := (req >> 4) & 1
	addr := uint8((a3 << 3) | (a2 << 2))

	s.lastWasAP = apnDP
	s.lastRnW = rnw
	s.lastAddr = addr
	s.pendingAck = AckOK

	if rnw {
		s.rdbuffVal = s.computeReadValue(apnDP, addr)
	}
}

func (s *simTarget) computeReadValue(apnDP bool, addr uint8) uint32 {
	if !apnDP {
		switch addr {
		case DP_IDCODE:
			return 0x2BA01477
		case DP_CTRLSTAT:
			return s.ctrlstat
		case DP_RDBUFF:
			return s.rdbuffVal
		}
		return 0
	}

	apsel := s.dpSelect >> 24
	bank := s.dpSelect & 0xF0
	_ = apsel

	switch bank | uint32(addr) {
	case AP_CSW:
		return s.csw
	case AP_TAR:
		return s.tar
	case AP_DRW:
		if s.tar >= s.ramBase && s.tar < s.ramBase+uint32(len(s.ram)) {
			off := s.tar - s.ramBase
			if s.csw&7 == CSW_SIZE_BYTE {
				// byte access: the addressed byte in its lane (TAR[1:0])
				v := uint32(s.ram[off]) << ((s.tar & 3) * 8)
				s.tar++
				return v
			}
			v := leUint32(s.ram[off : off+4])
			s.tar += 4
			return v
		}
		return 0
	}
	return 0
}

func (s *simTarget) writeData(v uint32) {
	if !s.lastWasAP {
		switch s.lastAddr {
		case DP_ABORT:
			// no persistent state needed for tests
		case DP_CTRLSTAT:
			// loopback power-up acks immediately
			s.ctrlstat = v | (v << 1) // REQ bits [30,28] -> ACK bits [31,29]
		case DP_SELECT:
			s.dpSelect = v
		}
		return
	}

	bank := s.dpSelect & 0xF0
	switch bank | uint32(s.lastAddr) {
	case AP_CSW:
		s.csw = v
	case AP_TAR:
		s.tar = v
	case AP_DRW:
		if s.tar >= s.ramBase && s.tar < s.ramBase+uint32(len(s.ram)) {
			off := s.tar - s.ramBase
			if s.csw&7 == CSW_SIZE_BYTE {
				s.ram[off] = byte(v >> ((s.tar & 3) * 8))
				s.tar++
				return
			}
			putLeUint32(s.ram[off:off+4], v)
			s.tar += 4
		}
	}
}

func (s *simTarget) readData() uint32 {
	return s.rdbuffVal
}

func newTestHost(t *testing.T) (*Host, *simTarget) {
	t.Helper()
	sim := newSimTarget()
	pio := swdpio.New(sim, 48_000_000, 1, 10_000, nil)
	h := New(pio, 1, nil)
	return h, sim
}

func TestWriteWordReadWordRoundTrip(t *testing.T) {
	h, _ := newTestHost(t)

	addr := uint32(0x20000100)
	require.True(t, h.WriteWord(addr, 0xDEADBEEF))

	v, ok := h.ReadWord(addr)
	require.True(t, ok)
	require.Equal(t, uint32(0xDEADBEEF), v)
}

func TestWriteMemoryReadMemoryRoundTrip(t *testing.T) {
	h, _ := newTestHost(t)

	addr := uint32(0x20000200)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	require.True(t, h.WriteMemory(addr, want))

	got := make([]byte, len(want))
	require.True(t, h.ReadMemory(addr, got))
	require.Equal(t, want, got)
}

func TestWriteDPSelectCoalesced(t *testing.T) {
	h, sim := newTestHost(t)

	require.True(t, h.WriteDP(DP_SELECT, 0x12340000))
	require.Equal(t, uint32(0x12340000), sim.dpSelect)

	// change dpSelect out from under the cache to prove the second write
	// really is suppressed, not accidentally re-sent with the same effect
	sim.dpSelect = 0

	require.True(t, h.WriteDP(DP_SELECT, 0x12340000))
	require.Equal(t, uint32(0), sim.dpSelect, "coalesced write must not reach the wire")
}

func TestAttachIsIdempotent(t *testing.T) {
	h, _ := newTestHost(t)
	fam := &stubFamily{}

	require.True(t, h.TargetSetState(StateAttach, fam))
	// a first attach that succeeds needs no recovery reset pulse
	require.Equal(t, 1, fam.initCalls)
	require.Equal(t, 0, fam.resetCalls)

	require.True(t, h.TargetSetState(StateAttach, fam))
	// second attach is a no-op: no additional attach or reset/recovery activity
	require.Equal(t, 1, fam.initCalls)
	require.Equal(t, 0, fam.resetCalls)
}

type stubFamily struct {
	resetCalls int
	initCalls  int
}

func (f *stubFamily) ID() uint16                       { return 0 }
func (f *stubFamily) Reset(h *Host, assert bool)        { f.resetCalls++ }
func (f *stubFamily) BeforeInitDebug(h *Host) bool      { f.initCalls++; return true }
func (f *stubFamily) UnlockSequence(h *Host) bool       { return true }
func (f *stubFamily) APSel() uint32                     { return 0 }
func (f *stubFamily) HaltSecondaryCores(h *Host) bool   { return true }
