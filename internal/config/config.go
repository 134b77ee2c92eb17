// Package config models the persisted, read-only-from-the-core's-view
// configuration: overrides for the DAP packet geometry, CPU/SWD clocks,
// and the target RAM window used by the flash programmer and RTT
// scanner. The persistent storage medium (flash filesystem, CLI) is a
// board concern; this package only defines the wire shape a board's
// storage glue decodes into.
package config

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketGeometry is the (count, size) pair from the DAP session's
// negotiated packet state, persisted as an override of the
// fingerprint/default-derived value.
type PacketGeometry struct {
	Count uint16
	Size  uint16
}

// Overrides is the full set of persisted overrides the core consults. A
// zero value in any field means "no override, use fingerprint/default".
type Overrides struct {
	Packet       PacketGeometry
	CPUClockHz   uint32
	SWDClockKHz  uint32
	RAMWindowLo  uint32
	RAMWindowHi  uint32
}

const wireSize = 2 + 2 + 4 + 4 + 4 + 4

// Decode parses the fixed-size little-endian wire form of Overrides,
// using the same binary.Write/Read round-trip pattern as a USB
// descriptor's Bytes() method, applied here to a persisted-configuration
// blob instead of a USB descriptor.
func Decode(buf []byte) (Overrides, error) {
	var o Overrides

	if len(buf) < wireSize {
		return o, fmt.Errorf("config: short buffer (%d < %d)", len(buf), wireSize)
	}

	r := bytes.NewReader(buf[:wireSize])
	if err := binary.Read(r, binary.LittleEndian, &o.Packet); err != nil {
		return o, err
	}
	if err := binary.Read(r, binary.LittleEndian, &o.CPUClockHz); err != nil {
		return o, err
	}
	if err := binary.Read(r, binary.LittleEndian, &o.SWDClockKHz); err != nil {
		return o, err
	}
	if err := binary.Read(r, binary.LittleEndian, &o.RAMWindowLo); err != nil {
		return o, err
	}
	if err := binary.Read(r, binary.LittleEndian, &o.RAMWindowHi); err != nil {
		return o, err
	}

	return o, nil
}

// Bytes serializes Overrides back to its wire form.
func (o Overrides) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, o.Packet)
	binary.Write(buf, binary.LittleEndian, o.CPUClockHz)
	binary.Write(buf, binary.LittleEndian, o.SWDClockKHz)
	binary.Write(buf, binary.LittleEndian, o.RAMWindowLo)
	binary.Write(buf, binary.LittleEndian, o.RAMWindowHi)
	return buf.Bytes()
}

// HasRAMWindow reports whether a RAM window override is present.
func (o Overrides) HasRAMWindow() bool {
	return o.RAMWindowHi > o.RAMWindowLo
}
