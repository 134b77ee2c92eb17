package swdhost

import "time"

// ARMv7-M debug core register numbers (DCRSR REGSEL encoding).
const (
	RegR0  = 0
	RegR1  = 1
	RegR2  = 2
	RegR3  = 3
	RegR9  = 9
	RegSP  = 13
	RegLR  = 14
	RegPC  = 15
	RegXPSR = 16
)

const thumbBit = 1 << 24

const flashSyscallTimeout = 5 * time.Second
const flashSyscallPollInterval = 1 * time.Millisecond

// FlashSyscallArgs is the four-register calling convention for a target-
// resident flash algorithm entry point.
type FlashSyscallArgs struct {
	R0, R1, R2, R3 uint32
	StaticBase     uint32 // R9
	StackPointer   uint32 // SP
	Breakpoint     uint32 // LR: where the blob ends with `bkpt`
	Entry          uint32 // PC
}

// FlashSyscallExec loads registers per args, unhalts with interrupts
// masked, polls for halt, verifies PC landed on the breakpoint, and
// returns R0. ok is false on any register access failure or on timeout;
// the caller (flashprog) is responsible for interpreting the returned
// value (it decodes R0 as a set of result bits).
func (h *Host) FlashSyscallExec(args FlashSyscallArgs) (r0 uint32, ok bool) {
	regs := []struct {
		num uint32
		val uint32
	}{
		{RegR0, args.R0},
		{RegR1, args.R1},
		{RegR2, args.R2},
		{RegR3, args.R3},
		{RegR9, args.StaticBase},
		{RegSP, args.StackPointer},
		{RegLR, args.Breakpoint},
		{RegXPSR, thumbBit},
		{RegPC, args.Entry},
	}

	for _, r := range regs {
		if !h.WriteCoreRegister(r.num, r.val) {
			return 0, false
		}
	}

	if !h.UnhaltMasked() {
		return 0, false
	}

	deadline := time.Now().Add(flashSyscallTimeout)
	for {
		if h.IsHalted() {
			break
		}
		if time.Now().After(deadline) {
			h.Halt()
			return 0, false
		}
		time.Sleep(flashSyscallPollInterval)
	}

	pc, okPC := h.ReadCoreRegister(RegPC)
	if !okPC || pc != args.Breakpoint {
		return 0, false
	}

	return h.ReadCoreRegister(RegR0)
}
