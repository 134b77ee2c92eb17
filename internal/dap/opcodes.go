package dap

// CMSIS-DAP command IDs, first byte of every request.
const (
	CmdInfo              = 0x00
	CmdHostStatus         = 0x01
	CmdConnect            = 0x02
	CmdDisconnect         = 0x03
	CmdTransferConfigure  = 0x04
	CmdTransfer           = 0x05
	CmdTransferBlock      = 0x06
	CmdTransferAbort      = 0x07
	CmdWriteABORT         = 0x08
	CmdDelay              = 0x09
	CmdResetTarget        = 0x0A
	CmdSWJPins            = 0x10
	CmdSWJClock           = 0x11
	CmdSWJSequence        = 0x12
	CmdSWDConfigure       = 0x13
	CmdJTAGSequence       = 0x14
	CmdJTAGConfigure      = 0x15
	CmdJTAGIDCODE         = 0x16
	CmdSWOTransport       = 0x17
	CmdSWOMode            = 0x18
	CmdSWOBaudrate        = 0x19
	CmdSWOControl         = 0x1A
	CmdSWOStatus          = 0x1B
	CmdSWOData            = 0x1C
	CmdSWDSequence        = 0x1D
	CmdSWOExtendedStatus  = 0x1E
	CmdQueueCommands      = 0x7E
	CmdExecuteCommands    = 0x7F
	CmdVendor0            = 0x80
	CmdVendor31           = 0x9F
)

// Info sub-command IDs (the second byte of a CmdInfo request).
const (
	InfoVendor          = 0x01
	InfoProduct         = 0x02
	InfoSerNum          = 0x03
	InfoFirmwareVersion = 0x04
	InfoDeviceVendor    = 0x05
	InfoDeviceName      = 0x06
	InfoBoardVendor     = 0x07
	InfoBoardName       = 0x08
	InfoProductFWVer    = 0x09
	InfoCapabilities    = 0xF0
	InfoTDTimerFreq     = 0xF1
	InfoPacketCount     = 0xFE
	InfoPacketSize      = 0xFF
)

// Transfer request-byte bits (ID_DAP_Transfer / TransferBlock).
const (
	transferRnW        = 1 << 1
	transferMatchValue = 1 << 4
)

// swdSequenceInfo bits.
const (
	swdSequenceClk = 0x3F
	swdSequenceDin = 1 << 7
)

const jtagSequenceTCK = 0x3F
