// Package usbglue defines the narrow interfaces the DAP session, the
// RTT engine, and the flash-writer task need from whatever USB class
// driver a board wires in. It intentionally does not implement USB
// descriptors, endpoint configuration, or class protocol state
// machines: those live in a board's own USB stack (CDC/HID/MSC glue is
// out of scope here), and only need to satisfy these interfaces to feed
// the core.
package usbglue

// DAPTransport is a byte-oriented endpoint pair carrying framed CMSIS-DAP
// commands/responses, whether backed by HID reports or bulk transfers;
// both look identical to the session above this interface, differing
// only in the packet-size ceiling the caller applies before Send.
type DAPTransport interface {
	// Receive blocks until a full USB packet of DAP command bytes is
	// available and returns it. The returned slice is only valid until
	// the next call.
	Receive() ([]byte, bool)

	// Send writes one USB packet of response bytes.
	Send(packet []byte) bool

	// PacketSize is the endpoint's maximum packet size (64 for HID,
	// up to 512 for bulk), used by the DAP worker to split response bytes
	// into packets.
	PacketSize() int
}

// SerialStream is one CDC ACM instance (console or SysView), matching
// the rtt.Stream contract but named for the USB side of the bridge.
type SerialStream interface {
	Read(p []byte) (n int, ok bool)
	Write(p []byte) (congested bool)

	// LineStateChanged is invoked by the class driver when the host's
	// DTR/RTS bits change, used only for diagnostics (the core never
	// gates behavior on it).
	LineStateChanged(dtr, rts bool)
}

// MassStorageWriter is what the MSC subsystem feeds raw FAT sector
// writes through before they reach the UF2 parser: SectorWrite hands
// over one or more contiguous 512-byte sectors starting at lba.
type MassStorageWriter interface {
	SectorWrite(lba uint32, data []byte) bool
	SectorRead(lba uint32, out []byte) bool
	SectorCount() uint32
}

// UARTByteSource is a raw, byte-for-byte pass-through to the target's
// UART, the alternative console source to an RTT channel: a board
// without RTT support, or one whose target hasn't reached a live control
// block yet, still gets a usable serial console through this path.
type UARTByteSource interface {
	Read(p []byte) (n int, ok bool)
	Write(p []byte) (congested bool)
}

// ConsoleMux picks between an RTT channel and a raw UART for the
// console's virtual serial port: downstream (host->target) bytes go to
// the RTT stream whenever one is set, and to the UART only when RTT is
// nil. The mux does not itself track whether an RTT control block is
// live.
type ConsoleMux struct {
	RTT  SerialStream
	UART UARTByteSource
}

// Write sends host->target bytes through whichever backend is live,
// preferring RTT.
func (m *ConsoleMux) Write(p []byte) (congested bool) {
	if m.RTT != nil {
		return m.RTT.Write(p)
	}
	if m.UART != nil {
		return m.UART.Write(p)
	}
	return true
}

// Read drains target->host bytes from RTT first, and from UART only when
// RTT produced nothing on this call, so UART boot-time output the RTT
// channel can't see before the control block exists still gets through.
func (m *ConsoleMux) Read(p []byte) (n int, ok bool) {
	if m.RTT != nil {
		if n, ok := m.RTT.Read(p); ok && n > 0 {
			return n, ok
		}
	}
	if m.UART != nil {
		return m.UART.Read(p)
	}
	return 0, false
}
