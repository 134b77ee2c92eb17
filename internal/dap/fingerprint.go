package dap

// Tool identifies which debug host is driving a session, inferred
// from the sub-command pattern of its first three Info requests.
type Tool int

const (
	ToolUnknown Tool = iota
	ToolPyOCD
	ToolOpenOCD
	ToolProbeRS
)

// PacketProfile is the (packet_count, packet_size) pair a fingerprinted
// tool is known to negotiate; used only to size the probe's own
// response buffering, never to change protocol behavior.
type PacketProfile struct {
	PacketCount uint8
	PacketSize  uint16
}

var toolProfiles = map[Tool]PacketProfile{
	ToolPyOCD:   {PacketCount: 1, PacketSize: 64},
	ToolOpenOCD: {PacketCount: 4, PacketSize: 64},
	ToolProbeRS: {PacketCount: 1, PacketSize: 64},
}

// Fingerprinter watches the first three commands of a session and
// latches a tool verdict once all three match a known pattern (a
// non-Info command among them leaves the verdict ToolUnknown). A fresh Fingerprinter reports ToolUnknown until it has seen
// three samples.
type Fingerprinter struct {
	sampleNo int
	tool     Tool
}

// NewFingerprinter returns a Fingerprinter ready to observe a new
// session.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

// Reset clears accumulated samples, as if a new session had begun.
func (f *Fingerprinter) Reset() {
	f.sampleNo = 0
	f.tool = ToolUnknown
}

// Observe feeds one decoded request to the fingerprinter. Every command
// counts as a sample while fewer than three have been seen: a non-Info
// command landing in a fingerprinting slot resets the verdict to
// ToolUnknown, same as a mismatched Info sub-command would.
func (f *Fingerprinter) Observe(request []byte) Tool {
	if len(request) == 0 || f.sampleNo >= 3 {
		return f.Verdict()
	}

	f.sampleNo++

	if len(request) < 2 || request[0] != CmdInfo {
		f.tool = ToolUnknown
		return f.Verdict()
	}

	sub := request[1]

	switch f.sampleNo {
	case 1:
		switch sub {
		case InfoPacketCount:
			f.tool = ToolPyOCD
		case InfoCapabilities:
			f.tool = ToolOpenOCD
		case InfoPacketSize:
			f.tool = ToolProbeRS
		default:
			f.tool = ToolUnknown
		}
	case 2:
		if f.tool == ToolProbeRS && sub == InfoPacketCount {
			// still ToolProbeRS
		} else if sub != InfoFirmwareVersion {
			f.tool = ToolUnknown
		}
	case 3:
		switch {
		case f.tool == ToolPyOCD && sub == InfoPacketSize:
		case f.tool == ToolPyOCD && sub == InfoProductFWVer:
		case f.tool == ToolOpenOCD && sub == InfoSerNum:
		case f.tool == ToolProbeRS && sub == InfoCapabilities:
		default:
			f.tool = ToolUnknown
		}
	}

	return f.Verdict()
}

// Verdict returns the latched tool, or ToolUnknown if fewer than
// three samples have been observed yet.
func (f *Fingerprinter) Verdict() Tool {
	if f.sampleNo < 3 {
		return ToolUnknown
	}
	return f.tool
}

// Profile returns the packet-count/packet-size pair associated with
// tool, or the zero value if tool isn't recognized.
func Profile(tool Tool) PacketProfile {
	return toolProfiles[tool]
}
