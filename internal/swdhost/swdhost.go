// Package swdhost implements the ADIv5/ADIv6 link and memory primitives
// on top of the bit-level transport in swdpio. It owns the cached DP/AP
// selectors and is only ever called while the caller holds the arbiter
// (the arbiter itself lives in package arbiter; swdhost does not import
// it, to avoid a cyclic package reference — callers pass the bus to
// swdhost already locked).
package swdhost

import (
	"errors"
	"fmt"

	"github.com/raspberrypi/debugprobe-core/internal/bits"
	"github.com/raspberrypi/debugprobe-core/internal/probelog"
	"github.com/raspberrypi/debugprobe-core/internal/swdpio"
)

// Ack values, p31 ADIv5 "Table 4-2 SW-DP acknowledge responses".
const (
	AckOK    = 0b001
	AckWAIT  = 0b010
	AckFAULT = 0b100
)

// DP register addresses (bank 0).
const (
	DP_IDCODE  = 0x0 // read
	DP_ABORT   = 0x0 // write
	DP_CTRLSTAT = 0x4
	DP_SELECT  = 0x8
	DP_RDBUFF  = 0xC
)

// AP register addresses (within the selected bank).
const (
	AP_CSW = 0x00
	AP_TAR = 0x04
	AP_DRW = 0x0C
)

// CSW size field, p139 ADIv5 MEM-AP CSW.
const (
	CSW_SIZE_BYTE  = 0b000
	CSW_SIZE_HALF  = 0b001
	CSW_SIZE_WORD  = 0b010
	CSW_ADDRINC_SINGLE = 1 << 4
)

// autoIncrementWindow is the TAR wrap boundary for block auto-increment
// transfers, which must be split at this boundary; 1 KiB is the common
// ADIv5 MEM-AP implementation default.
const autoIncrementWindow = 1024

const maxWaitRetries = 100

var errTimeout = errors.New("swdhost: poll timed out")

// Policy is the reset-connect policy.
type Policy int

const (
	PolicyNormal Policy = iota
	PolicyUnderReset
)

// Host is the component-B public contract. The zero value is not usable;
// use New.
type Host struct {
	pio *swdpio.Driver
	log *probelog.Logger

	turnaround      int
	dataPhaseAlways bool

	selectValid bool
	selectVal   uint32

	cswValid bool
	cswVal   uint32

	tarValid bool
	tarVal   uint32

	policy Policy

	apSelOverride func(addr uint32) uint32

	attached bool
}

// New creates a Host driving pio. turnaround is the number of turnaround
// cycles between request/ack and ack/data phases (1 by default).
func New(pio *swdpio.Driver, turnaround int, log *probelog.Logger) *Host {
	if turnaround < 1 {
		turnaround = 1
	}
	return &Host{pio: pio, turnaround: turnaround, log: log}
}

// SetDataPhaseAlways enables flushing a dummy data phase on WAIT/FAULT
// acks.
func (h *Host) SetDataPhaseAlways(v bool) { h.dataPhaseAlways = v }

// SetTurnaround reprograms the number of turnaround cycles between
// request/ack and ack/data phases, as negotiated by SWD_Configure.
func (h *Host) SetTurnaround(n int) {
	if n < 1 {
		n = 1
	}
	h.turnaround = n
}

// SetAPSelector overrides the default "high byte of addr is APSEL" rule
// with f, which computes the full DP SELECT value to write for a given
// AP register address. Used by multi-core families whose secondary-core
// AP selector doesn't fit the classic single-byte APSEL field. Pass nil
// to restore the default rule.
func (h *Host) SetAPSelector(f func(addr uint32) uint32) { h.apSelOverride = f }

// AssertReset drives the target's physical reset line through the
// underlying pad driver.
func (h *Host) AssertReset(assert bool) { h.pio.AssertReset(assert) }

// DisablePads releases SWCLK/SWDIO to Hi-Z through the underlying pad
// driver, leaving reset alone.
func (h *Host) DisablePads() { h.pio.Disable() }

// InvalidateCache clears the cached DP/AP selectors, required whenever the
// bus is reset or power-cycled.
func (h *Host) InvalidateCache() {
	h.selectValid = false
	h.cswValid = false
	h.tarValid = false
}

func parity4(v uint32) uint32 {
	v ^= v >> 2
	v ^= v >> 1
	return v & 1
}

// requestByte assembles the 8-bit SWD request per ADIv5 §B1.3.2.
func requestByte(apnDP, rnw bool, addr uint8) uint32 {
	a2 := uint32((addr >> 2) & 1)
	a3 := uint32((addr >> 3) & 1)

	var req uint32
	req |= 1 << 0 // start
	if apnDP {
		req |= 1 << 1
	}
	if rnw {
		req |= 1 << 2
	}
	req |= a2 << 3
	req |= a3 << 4

	parityBits := uint32(0)
	if apnDP {
		parityBits++
	}
	if rnw {
		parityBits++
	}
	parityBits += a2 + a3
	req |= (parityBits & 1) << 5
	req |= 0 << 6 // stop
	req |= 1 << 7 // park

	return req
}

// transferOnce performs a single SWD transaction, no retry.
func (h *Host) transferOnce(apnDP, rnw bool, addr uint8, dataIn uint32) (dataOut uint32, ack uint32, err error) {
	h.pio.WriteBits(8, requestByte(apnDP, rnw, addr))
	h.pio.HiZClocks(h.turnaround)

	ack = h.pio.ReadBits(3)

	switch ack {
	case AckOK:
		if rnw {
			dataOut = h.pio.ReadBits(32)
			parity := h.pio.ReadBits(1)
			h.pio.HiZClocks(h.turnaround)
			if parity4(dataOut) != parity {
				return dataOut, ack, fmt.Errorf("swdhost: parity error on read")
			}
		} else {
			h.pio.HiZClocks(h.turnaround)
			h.pio.WriteBits(32, dataIn)
			h.pio.WriteBits(1, parity4(dataIn))
		}
	case AckWAIT, AckFAULT:
		if h.dataPhaseAlways {
			if rnw {
				h.pio.ReadBits(32)
				h.pio.ReadBits(1)
			} else {
				h.pio.HiZClocks(h.turnaround)
				h.pio.WriteBits(32, 0)
				h.pio.WriteBits(1, 0)
				h.pio.HiZClocks(h.turnaround)
				return dataOut, ack, nil
			}
		}
		h.pio.HiZClocks(h.turnaround)
	default:
		// protocol error (ack all-zero/all-one): consume worst-case bit
		// count so the line stays framed for the next request.
		h.pio.ReadBits(32)
		h.pio.ReadBits(1)
		h.pio.HiZClocks(h.turnaround)
	}

	return dataOut, ack, nil
}

// transfer retries while ack is WAIT, up to maxWaitRetries, then reports
// the terminal ack.
func (h *Host) transfer(apnDP, rnw bool, addr uint8, dataIn uint32) (uint32, bool) {
	var data uint32
	var ack uint32
	var err error

	for i := 0; i < maxWaitRetries; i++ {
		data, ack, err = h.transferOnce(apnDP, rnw, addr, dataIn)
		if err != nil {
			if h.log != nil {
				h.log.WithFields(map[string]interface{}{"err": err}).Warn("swdhost: transfer error")
			}
			return 0, false
		}
		if ack != AckWAIT {
			break
		}
	}

	return data, ack == AckOK
}

// ReadDP reads a DP register.
func (h *Host) ReadDP(addr uint8) (uint32, bool) {
	return h.transfer(false, true, addr, 0)
}

// WriteDP writes a DP register. A write to SELECT is coalesced against the
// cached value and suppressed if unchanged.
func (h *Host) WriteDP(addr uint8, v uint32) bool {
	if addr == DP_SELECT {
		if h.selectValid && h.selectVal == v {
			return true
		}
	}

	ok := true
	if _, success := h.transfer(false, false, addr, v); !success {
		ok = false
	}

	if ok && addr == DP_SELECT {
		h.selectValid = true
		h.selectVal = v
	}

	return ok
}

// apSelect computes the SELECT value for an AP register address: APSEL in
// the high byte and APBANKSEL from bits [7:4] of addr, by default. A
// family override replaces this computation entirely and returns the
// full SELECT value to write, since some families (the RP2350's
// secondary core) select an AP whose identifier doesn't fit the
// classic single-byte APSEL field.
func (h *Host) apSelect(addr uint32) uint32 {
	if h.apSelOverride != nil {
		return h.apSelOverride(addr)
	}
	apsel := (addr >> 24) & 0xFF
	bank := addr & 0xF0
	return (apsel << 24) | bank
}

// ReadAP reads an AP register, updating SELECT as needed; per ADIv5
// posted-read semantics the first word returned by the transfer is a
// pipeline artifact, so a final RDBUFF read drains the real value.
func (h *Host) ReadAP(addr uint32) (uint32, bool) {
	if !h.WriteDP(DP_SELECT, h.apSelect(addr)) {
		return 0, false
	}
	if _, ok := h.transfer(true, true, uint8(addr&0xC), 0); !ok {
		return 0, false
	}
	return h.ReadDP(DP_RDBUFF)
}

// WriteAP writes an AP register, updating SELECT as needed.
func (h *Host) WriteAP(addr uint32, v uint32) bool {
	if !h.WriteDP(DP_SELECT, h.apSelect(addr)) {
		return false
	}
	_, ok := h.transfer(true, false, uint8(addr&0xC), v)
	return ok
}

func (h *Host) setCSW(v uint32) bool {
	if h.cswValid && h.cswVal == v {
		return true
	}
	if !h.WriteAP(AP_CSW, v) {
		return false
	}
	h.cswValid = true
	h.cswVal = v
	return true
}

func (h *Host) setTAR(v uint32) bool {
	if h.tarValid && h.tarVal == v {
		return true
	}
	if !h.WriteAP(AP_TAR, v) {
		return false
	}
	h.tarValid = true
	h.tarVal = v
	return true
}

// ReadWord reads a 32-bit-aligned target memory word.
func (h *Host) ReadWord(addr uint32) (uint32, bool) {
	if !h.setCSW(CSW_SIZE_WORD | CSW_ADDRINC_SINGLE) {
		return 0, false
	}
	if !h.setTAR(addr) {
		return 0, false
	}
	h.tarValid = false // TAR auto-increments on access, cache no longer valid
	return h.ReadAP(AP_DRW)
}

// WriteWord writes a 32-bit-aligned target memory word.
func (h *Host) WriteWord(addr uint32, v uint32) bool {
	if !h.setCSW(CSW_SIZE_WORD | CSW_ADDRINC_SINGLE) {
		return false
	}
	if !h.setTAR(addr) {
		return false
	}
	h.tarValid = false
	return h.WriteAP(AP_DRW, v)
}

// ReadByte reads a single byte, extracting the correct lane from the
// 32-bit DRW access via a shift of (addr & 3) << 3.
func (h *Host) ReadByte(addr uint32) (byte, bool) {
	if !h.setCSW(CSW_SIZE_BYTE | CSW_ADDRINC_SINGLE) {
		return 0, false
	}
	if !h.setTAR(addr) {
		return 0, false
	}
	h.tarValid = false
	v, ok := h.ReadAP(AP_DRW)
	if !ok {
		return 0, false
	}
	shift := (addr & 3) << 3
	return byte(bits.Get(&v, int(shift), 0xFF)), true
}

// WriteByte writes a single byte via the byte-lane CSW configuration.
func (h *Host) WriteByte(addr uint32, v byte) bool {
	if !h.setCSW(CSW_SIZE_BYTE | CSW_ADDRINC_SINGLE) {
		return false
	}
	if !h.setTAR(addr) {
		return false
	}
	h.tarValid = false
	shift := (addr & 3) << 3
	return h.WriteAP(AP_DRW, uint32(v)<<shift)
}

// ReadMemory reads len(buf) bytes starting at addr: leading/trailing
// unaligned bytes byte-wise, the aligned interior block-transferred with
// auto-increment, split at autoIncrementWindow.
func (h *Host) ReadMemory(addr uint32, buf []byte) bool {
	return h.transferMemory(addr, buf, false)
}

// WriteMemory writes len(buf) bytes starting at addr, using the same
// alignment/splitting rules as ReadMemory.
func (h *Host) WriteMemory(addr uint32, buf []byte) bool {
	return h.transferMemory(addr, buf, true)
}

func (h *Host) transferMemory(addr uint32, buf []byte, write bool) bool {
	i := 0
	n := len(buf)

	// leading unaligned bytes
	for i < n && (addr+uint32(i))%4 != 0 {
		if !h.byteAt(addr+uint32(i), &buf[i], write) {
			return false
		}
		i++
	}

	// aligned interior, word at a time, split at the auto-increment window
	for i+4 <= n {
		a := addr + uint32(i)
		windowRemaining := autoIncrementWindow - (a % autoIncrementWindow)
		wordsInWindow := int(windowRemaining / 4)
		if wordsInWindow < 1 {
			wordsInWindow = 1
		}

		if !h.setCSW(CSW_SIZE_WORD | CSW_ADDRINC_SINGLE) {
			return false
		}
		if !h.setTAR(a) {
			return false
		}

		for w := 0; w < wordsInWindow && i+4 <= n; w++ {
			if write {
				v := leUint32(buf[i : i+4])
				if !h.WriteAP(AP_DRW, v) {
					return false
				}
			} else {
				v, ok := h.ReadAP(AP_DRW)
				if !ok {
					return false
				}
				putLeUint32(buf[i:i+4], v)
			}
			i += 4
		}
		h.tarValid = false
	}

	// trailing unaligned bytes
	for i < n {
		if !h.byteAt(addr+uint32(i), &buf[i], write) {
			return false
		}
		i++
	}

	return true
}

func (h *Host) byteAt(addr uint32, b *byte, write bool) bool {
	if write {
		return h.WriteByte(addr, *b)
	}
	v, ok := h.ReadByte(addr)
	if ok {
		*b = v
	}
	return ok
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
