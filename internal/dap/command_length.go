package dap

// abort is returned by commandLength and friends when the buffer does
// not yet hold enough bytes to determine a command's length; the
// caller should wait for more USB data rather than treat it as an
// error.
const abort = ^uint32(0)

// commandLength returns the number of bytes request[0] needs once its
// opcode-specific header fields are available, or abort if request
// doesn't hold enough bytes yet to tell. It never inspects bytes past
// what it needs, so a short, definitely-incomplete buffer is handled
// the same as a conceptually infinite one.
func commandLength(request []byte, available int) uint32 {
	if len(request) < 1 {
		return abort
	}

	op := request[0]

	if op >= CmdVendor0 && op <= CmdVendor31 {
		return vendorCommandLength(request, available)
	}

	switch op {
	case CmdInfo:
		return 1 + 1
	case CmdHostStatus:
		return 1 + 1 + 1
	case CmdConnect:
		return 1 + 1
	case CmdDisconnect:
		return 1
	case CmdDelay:
		return 1 + 2
	case CmdResetTarget:
		return 1
	case CmdSWJPins:
		return 1 + 1 + 1 + 4
	case CmdSWJClock:
		return 1 + 4
	case CmdSWJSequence:
		return swjSequenceLength(request, available)
	case CmdSWDConfigure:
		return 1 + 1
	case CmdSWDSequence:
		return checkSWDSequence(request, available)
	case CmdJTAGSequence:
		return checkJTAGSequence(request, available)
	case CmdJTAGConfigure:
		return 1 + 1 + 1
	case CmdJTAGIDCODE:
		return 1 + 1
	case CmdTransferConfigure:
		return 1 + 1 + 2 + 2
	case CmdTransfer:
		return checkTransfer(request, available)
	case CmdTransferBlock:
		return checkTransferBlock(request, available)
	case CmdTransferAbort:
		return 1
	case CmdWriteABORT:
		return 2 + 4
	case CmdSWOTransport:
		return 1 + 1
	case CmdSWOMode:
		return 1 + 1
	case CmdSWOBaudrate:
		return 1 + 4
	case CmdSWOControl:
		return 1 + 1
	case CmdSWOStatus:
		return 1
	case CmdSWOExtendedStatus:
		return 1 + 1
	case CmdSWOData:
		return 1 + 2
	default:
		return 1
	}
}

// vendorCommandLength has no length specification to work from;
// vendor commands are conservatively treated as one byte, matching the
// upstream CMSIS-DAP weak default.
func vendorCommandLength(request []byte, available int) uint32 {
	return 1
}

func swjSequenceLength(request []byte, available int) uint32 {
	if available < 3 {
		return abort
	}
	count := int(request[1])
	if count == 0 {
		count = 256
	}
	return uint32(1 + 1 + (count+7)/8)
}

func checkSWDSequence(request []byte, available int) uint32 {
	if available < 2 {
		return abort
	}

	requestCount := uint32(2)
	sequenceCount := int(request[1])
	pos := 2

	for ; sequenceCount > 0; sequenceCount-- {
		if available < int(requestCount) || pos >= len(request) {
			return abort
		}

		info := request[pos]
		pos++

		count := int(info) & swdSequenceClk
		if count == 0 {
			count = 64
		}
		count = (count + 7) / 8

		if info&swdSequenceDin != 0 {
			requestCount++
		} else {
			pos += count
			requestCount += uint32(count) + 1
		}
	}

	return requestCount
}

func checkJTAGSequence(request []byte, available int) uint32 {
	if available < 2 {
		return abort
	}

	requestCount := uint32(2)
	sequenceCount := int(request[1])
	pos := 2

	for ; sequenceCount > 0; sequenceCount-- {
		if int(requestCount) > available || pos >= len(request) {
			return abort
		}

		info := request[pos]
		pos++

		count := int(info) & jtagSequenceTCK
		if count == 0 {
			count = 64
		}
		count = (count + 7) / 8

		pos += count
		requestCount += uint32(count) + 1
	}

	return requestCount
}

func checkTransfer(request []byte, available int) uint32 {
	if available < 4 {
		return abort
	}

	transferCount := int(request[2])
	pos := 3

	for ; transferCount > 0; transferCount-- {
		if available < pos+1 {
			return abort
		}

		reqByte := request[pos]
		pos++

		if reqByte&transferRnW != 0 {
			if reqByte&transferMatchValue != 0 {
				pos += 4
			}
		} else {
			pos += 4
		}
	}

	return uint32(pos)
}

func checkTransferBlock(request []byte, available int) uint32 {
	if available < 1+1+2+1 {
		return abort
	}

	if request[4]&transferRnW != 0 {
		return 5
	}

	n := uint32(request[2]) | uint32(request[3])<<8
	return 5 + 4*n
}

// CommandLength returns the byte length of a single command or a
// batch submitted via CmdExecuteCommands, scanning sub-commands
// recursively. It returns ok=false when request doesn't yet hold
// enough bytes to know the answer.
func CommandLength(request []byte) (length uint32, ok bool) {
	if len(request) < 1 {
		return 0, false
	}

	if request[0] != CmdExecuteCommands {
		n := commandLength(request, len(request))
		if n == abort {
			return 0, false
		}
		return n, true
	}

	if len(request) < 2 {
		return 0, false
	}

	numCmd := int(request[1])
	total := uint32(2)

	for c := 0; c < numCmd; c++ {
		if int(total) > len(request) {
			return 0, false
		}
		remaining := len(request) - int(total)
		n := commandLength(request[total:], remaining)
		if n == abort {
			return 0, false
		}
		total += n
	}

	return total, true
}

// SplitBatch decomposes a fully-framed CmdExecuteCommands request into
// the byte ranges of its individual sub-commands, in order. Callers
// dispatch each sub-command exactly as they would a standalone one; the
// response wrapper (echoed opcode + sub-command count) is the caller's
// job, matching how CMSIS-DAP batches commands for a single USB packet.
func SplitBatch(request []byte) ([][]byte, bool) {
	if len(request) < 2 || request[0] != CmdExecuteCommands {
		return nil, false
	}

	numCmd := int(request[1])
	subs := make([][]byte, 0, numCmd)
	pos := 2

	for c := 0; c < numCmd; c++ {
		if pos > len(request) {
			return nil, false
		}
		remaining := len(request) - pos
		n := commandLength(request[pos:], remaining)
		if n == abort || pos+int(n) > len(request) {
			return nil, false
		}
		subs = append(subs, request[pos:pos+int(n)])
		pos += int(n)
	}

	return subs, true
}
