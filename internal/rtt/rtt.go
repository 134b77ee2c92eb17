// Package rtt implements the host side of SEGGER Real-Time Transfer: it
// scans target RAM for a live control block, mirrors its up/down buffer
// descriptors, and pumps bytes between those ring buffers and the host
// streams, cooperating with the SWD arbiter's preemption signal.
package rtt

import (
	"bytes"
	"time"

	"github.com/raspberrypi/debugprobe-core/internal/arbiter"
	"github.com/raspberrypi/debugprobe-core/internal/probelog"
)

// Target is the memory access surface the engine needs from the SWD
// host.
type Target interface {
	ReadMemory(addr uint32, buf []byte) bool
	WriteMemory(addr uint32, buf []byte) bool
	ReadWord(addr uint32) (uint32, bool)
	WriteWord(addr uint32, v uint32) bool
}

// Stream is one direction of a host-side byte channel (the probe's CDC
// console, or a SysView network socket). Congested returning true from
// Write means "no space right now, skip this cycle" for back-pressured
// sinks such as a TCP SysView client.
type Stream interface {
	// Read drains up to len(p) bytes staged for the target and returns
	// how many were consumed. Read returns 0, false when nothing is
	// available.
	Read(p []byte) (n int, ok bool)
	// Write delivers bytes received from the target to the host.
	// Congested means the caller should retry next cycle instead of
	// blocking.
	Write(p []byte) (congested bool)
}

var signature = append([]byte("SEGGER RTT"), make([]byte, 6)...) // 16 bytes, NUL padded

const (
	alignment = 4
	pageSize  = 1024
	// overlap must be at least len(signature) so a signature straddling
	// a page boundary is never missed.
	scanOverlap = 16
)

const liveness = 1 * time.Second

// control block field layout (SEGGER_RTT_CB), matching the upstream
// SEGGER_RTT.h: 16-byte ACId, then MaxNumUpBuffers, MaxNumDownBuffers,
// then aUp[MaxNumUpBuffers] followed by aDown[MaxNumDownBuffers].
const (
	cbMaxUpOffset   = 16
	cbMaxDownOffset = 20
	cbBuffersOffset = 24

	bufferDescSize = 24 // sName, pBuffer, SizeOfBuffer, WrOff, RdOff, Flags: 6*4 bytes

	descPBufferOffset = 4
	descSizeOffset    = 8
	descWrOffOffset   = 12
	descRdOffOffset   = 16
	descFlagsOffset   = 20
)

// ChannelDesc mirrors one SEGGER_RTT_BUFFER_UP/DOWN descriptor.
type ChannelDesc struct {
	Addr       uint32 // target address of this descriptor
	PBuffer    uint32
	Size       uint32
	WriteOff   uint32
	ReadOff    uint32
	Flags      uint32
}

// Scanner finds a live RTT control block in a target RAM window.
type Scanner struct {
	target  Target
	ramBase uint32
	ramEnd  uint32
}

// NewScanner scans [ramBase, ramEnd).
func NewScanner(target Target, ramBase, ramEnd uint32) *Scanner {
	return &Scanner{target: target, ramBase: ramBase, ramEnd: ramEnd}
}

// Find re-verifies prev if non-zero, falling back to a full overlapping
// scan when prev no longer carries the signature. It returns 0 if
// arb's release is requested mid-scan, and 0 if nothing is found.
func (s *Scanner) Find(prev uint32, arb *arbiter.Arbiter) uint32 {
	if prev != 0 && prev <= s.ramEnd-uint32(len(signature)) {
		buf := make([]byte, len(signature))
		if s.target.ReadMemory(prev, buf) && bytes.Equal(buf, signature) {
			return prev
		}
	}

	start := s.ramBase

	buf := make([]byte, pageSize)
	stride := uint32(pageSize - scanOverlap)

	for addr := start; addr+pageSize <= s.ramEnd; addr += stride {
		if arb != nil && arb.ReleaseRequested() {
			return 0
		}
		if !s.target.ReadMemory(addr, buf) {
			return 0
		}
		if off := indexSignature(buf); off >= 0 {
			return addr + uint32(off)
		}
	}

	return 0
}

func indexSignature(buf []byte) int {
	for off := 0; off+len(signature) <= len(buf); off += alignment {
		if bytes.Equal(buf[off:off+len(signature)], signature) {
			return off
		}
	}
	return -1
}

// DiscoverUpChannel reads channel's up (target->host) descriptor from
// the control block at cb, validating buffer bounds against the RAM
// window. ok is false if the channel doesn't exist or fails validation.
func DiscoverUpChannel(target Target, ramBase, ramEnd, cb uint32, channel int) (ChannelDesc, bool) {
	maxUp, ok := target.ReadWord(cb + cbMaxUpOffset)
	if !ok || uint32(channel) >= maxUp {
		return ChannelDesc{}, false
	}

	addr := cb + cbBuffersOffset + uint32(channel)*bufferDescSize
	return readChannelDesc(target, ramBase, ramEnd, addr)
}

// DiscoverDownChannel reads channel's down (host->target) descriptor;
// the down array immediately follows all up descriptors per the
// control block's layout.
func DiscoverDownChannel(target Target, ramBase, ramEnd, cb uint32, channel int) (ChannelDesc, bool) {
	maxUp, ok := target.ReadWord(cb + cbMaxUpOffset)
	if !ok {
		return ChannelDesc{}, false
	}
	maxDown, ok := target.ReadWord(cb + cbMaxDownOffset)
	if !ok || uint32(channel) >= maxDown {
		return ChannelDesc{}, false
	}

	addr := cb + cbBuffersOffset + maxUp*bufferDescSize + uint32(channel)*bufferDescSize
	return readChannelDesc(target, ramBase, ramEnd, addr)
}

func readChannelDesc(target Target, ramBase, ramEnd, addr uint32) (ChannelDesc, bool) {
	raw := make([]byte, bufferDescSize)
	if !target.ReadMemory(addr, raw) {
		return ChannelDesc{}, false
	}

	d := ChannelDesc{
		Addr:     addr,
		PBuffer:  leUint32(raw[descPBufferOffset : descPBufferOffset+4]),
		Size:     leUint32(raw[descSizeOffset : descSizeOffset+4]),
		WriteOff: leUint32(raw[descWrOffOffset : descWrOffOffset+4]),
		ReadOff:  leUint32(raw[descRdOffOffset : descRdOffOffset+4]),
		Flags:    leUint32(raw[descFlagsOffset : descFlagsOffset+4]),
	}

	if d.Size == 0 || d.Size >= ramEnd-ramBase {
		return ChannelDesc{}, false
	}
	if d.PBuffer < ramBase || d.PBuffer+d.Size > ramEnd {
		return ChannelDesc{}, false
	}
	if d.ReadOff >= d.Size || d.WriteOff >= d.Size {
		return ChannelDesc{}, false
	}

	return d, true
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// writeSpace returns how many bytes can be written to a down buffer
// before catching up to RdOff, leaving the ring's one-slot gap.
func writeSpace(size, rdOff, wrOff uint32) uint32 {
	if rdOff <= wrOff {
		return size - 1 - wrOff + rdOff
	}
	return rdOff - wrOff - 1
}

// Channel drives one up/down pair for a single RTT channel against a
// live control block.
type Channel struct {
	target Target
	log    *probelog.Logger

	ramBase, ramEnd uint32
	cb              uint32
	index           int

	up     ChannelDesc
	upOK   bool
	down   ChannelDesc
	downOK bool

	stageBuf [256]byte
}

// NewChannel creates a driver for channel index against the control
// block at cb.
func NewChannel(target Target, log *probelog.Logger, ramBase, ramEnd, cb uint32, index int) *Channel {
	return &Channel{target: target, log: log, ramBase: ramBase, ramEnd: ramEnd, cb: cb, index: index}
}

// Rediscover (re)reads the up/down descriptors if they haven't been
// found yet. Call this once per idle poll cycle.
func (c *Channel) Rediscover() {
	if !c.upOK {
		c.up, c.upOK = DiscoverUpChannel(c.target, c.ramBase, c.ramEnd, c.cb, c.index)
	}
	if !c.downOK {
		c.down, c.downOK = DiscoverDownChannel(c.target, c.ramBase, c.ramEnd, c.cb, c.index)
	}
}

// PumpUpstream moves target->host bytes for this channel into host.
// worked is true if any bytes were moved (which resets the liveness
// watchdog upstream).
func (c *Channel) PumpUpstream(host Stream) (worked bool, ok bool) {
	if !c.upOK {
		return false, true
	}

	wrOff, readOK := c.target.ReadWord(c.up.Addr + descWrOffOffset)
	if !readOK {
		return false, false
	}
	c.up.WriteOff = wrOff

	if c.up.WriteOff == c.up.ReadOff {
		return false, true
	}

	var avail uint32
	if c.up.WriteOff > c.up.ReadOff {
		avail = c.up.WriteOff - c.up.ReadOff
	} else {
		avail = c.up.Size - c.up.ReadOff
	}
	if avail > uint32(len(c.stageBuf)) {
		avail = uint32(len(c.stageBuf))
	}

	if !c.target.ReadMemory(c.up.PBuffer+c.up.ReadOff, c.stageBuf[:avail]) {
		return false, false
	}

	if host.Write(c.stageBuf[:avail]) {
		// host congested: don't advance, retry same bytes next cycle
		return false, true
	}

	c.up.ReadOff = (c.up.ReadOff + avail) % c.up.Size
	if !c.target.WriteWord(c.up.Addr+descRdOffOffset, c.up.ReadOff) {
		return false, false
	}

	return true, true
}

// PumpDownstream moves host->target bytes for this channel.
func (c *Channel) PumpDownstream(host Stream) (worked bool, ok bool) {
	if !c.downOK {
		return false, true
	}

	rdOff, readOK := c.target.ReadWord(c.down.Addr + descRdOffOffset)
	if !readOK {
		return false, false
	}
	c.down.ReadOff = rdOff

	space := writeSpace(c.down.Size, c.down.ReadOff, c.down.WriteOff)
	if space == 0 {
		return false, true
	}
	if space > uint32(len(c.stageBuf)) {
		space = uint32(len(c.stageBuf))
	}

	n, hasData := host.Read(c.stageBuf[:space])
	if !hasData || n == 0 {
		return false, true
	}

	remaining := c.down.Size - c.down.WriteOff
	if remaining > uint32(n) {
		if !c.target.WriteMemory(c.down.PBuffer+c.down.WriteOff, c.stageBuf[:n]) {
			return false, false
		}
		c.down.WriteOff += uint32(n)
	} else {
		if !c.target.WriteMemory(c.down.PBuffer+c.down.WriteOff, c.stageBuf[:remaining]) {
			return false, false
		}
		rest := uint32(n) - remaining
		if rest > 0 {
			if !c.target.WriteMemory(c.down.PBuffer, c.stageBuf[remaining:n]) {
				return false, false
			}
		}
		c.down.WriteOff = rest
	}

	if !c.target.WriteWord(c.down.Addr+descWrOffOffset, c.down.WriteOff) {
		return false, false
	}

	return true, true
}
