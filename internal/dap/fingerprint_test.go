package dap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintOpenOCD(t *testing.T) {
	fp := NewFingerprinter()

	require.Equal(t, ToolUnknown, fp.Observe([]byte{CmdInfo, InfoCapabilities}))
	require.Equal(t, ToolUnknown, fp.Observe([]byte{CmdInfo, InfoFirmwareVersion}))
	require.Equal(t, ToolOpenOCD, fp.Observe([]byte{CmdInfo, InfoSerNum}))
}

func TestFingerprintPyOCD(t *testing.T) {
	fp := NewFingerprinter()

	fp.Observe([]byte{CmdInfo, InfoPacketCount})
	fp.Observe([]byte{CmdInfo, InfoFirmwareVersion})
	tool := fp.Observe([]byte{CmdInfo, InfoPacketSize})

	require.Equal(t, ToolPyOCD, tool)
}

func TestFingerprintPyOCDProductFWVerVariant(t *testing.T) {
	fp := NewFingerprinter()

	fp.Observe([]byte{CmdInfo, InfoPacketCount})
	fp.Observe([]byte{CmdInfo, InfoFirmwareVersion})
	tool := fp.Observe([]byte{CmdInfo, InfoProductFWVer})

	require.Equal(t, ToolPyOCD, tool)
}

func TestFingerprintProbeRS(t *testing.T) {
	fp := NewFingerprinter()

	fp.Observe([]byte{CmdInfo, InfoPacketSize})
	fp.Observe([]byte{CmdInfo, InfoPacketCount})
	tool := fp.Observe([]byte{CmdInfo, InfoCapabilities})

	require.Equal(t, ToolProbeRS, tool)
}

func TestFingerprintMismatchGoesUnknown(t *testing.T) {
	fp := NewFingerprinter()

	fp.Observe([]byte{CmdInfo, InfoPacketCount}) // looks like pyocd...
	fp.Observe([]byte{CmdInfo, InfoCapabilities}) // ...but second sample doesn't match fw-ver
	tool := fp.Observe([]byte{CmdInfo, InfoPacketSize})

	require.Equal(t, ToolUnknown, tool)
}

func TestFingerprintIncompleteStaysUnknown(t *testing.T) {
	fp := NewFingerprinter()

	require.Equal(t, ToolUnknown, fp.Observe([]byte{CmdInfo, InfoPacketCount}))
	require.Equal(t, ToolUnknown, fp.Observe([]byte{CmdInfo, InfoFirmwareVersion}))
}

func TestFingerprintResetClearsState(t *testing.T) {
	fp := NewFingerprinter()
	fp.Observe([]byte{CmdInfo, InfoPacketCount})
	fp.Observe([]byte{CmdInfo, InfoFirmwareVersion})
	fp.Observe([]byte{CmdInfo, InfoPacketSize})
	require.Equal(t, ToolPyOCD, fp.Verdict())

	fp.Reset()
	require.Equal(t, ToolUnknown, fp.Verdict())
}
