package swdhost

import "time"

// TargetState is the input alphabet of TargetSetState.
type TargetState int

const (
	StateResetHold TargetState = iota
	StateResetRun
	StateResetProgram
	StateNoDebug
	StateDebug
	StateHalt
	StateRun
	StatePostFlashReset
	StatePowerOn
	StateShutdown
	StateAttach
)

// CTRL/STAT bits, ADIv5 §2.3.2.
const (
	ctrlstatCSysPwrUpReq = 1 << 30
	ctrlstatCSysPwrUpAck = 1 << 31
	ctrlstatCDbgPwrUpReq = 1 << 28
	ctrlstatCDbgPwrUpAck = 1 << 29
)

// ABORT register bits, ADIv5 §2.3.1.
const (
	abortStkErrClr = 1 << 2
	abortWDErrClr  = 1 << 3
	abortOrunErrClr = 1 << 4
)

const powerPollBound = 1000
const powerPollInterval = 1 * time.Millisecond

// attachRetryBudget bounds attach's retry of the power-up sequence: each
// failed attempt performs an ABORT write plus a reset-line pulse before
// retrying, up to this small budget.
const attachRetryBudget = 3

// TargetSetState drives the target through its attach/detach state
// machine, delegating the family-specific parts to fam.
func (h *Host) TargetSetState(s TargetState, fam Family) bool {
	switch s {
	case StateAttach:
		return h.attach(fam)
	case StateHalt:
		if !h.attach(fam) {
			return false
		}
		return h.Halt()
	case StateResetProgram:
		return h.resetProgram(fam)
	case StateResetRun:
		return h.resetRun(fam)
	case StateResetHold:
		fam.Reset(h, true)
		return true
	case StateRun:
		return h.Run()
	case StatePowerOn, StateNoDebug, StateDebug, StatePostFlashReset:
		// These states are acknowledged but require no additional wire
		// activity beyond what ATTACH/RUN already performed; the
		// distinction matters to callers sequencing a session, not to
		// the wire protocol itself.
		return true
	case StateShutdown:
		return h.powerDown()
	default:
		return false
	}
}

func (h *Host) attach(fam Family) bool {
	if h.attached {
		return true // idempotent: a second attach while already attached is a no-op
	}

	for attempt := 0; attempt < attachRetryBudget; attempt++ {
		if fam != nil {
			fam.BeforeInitDebug(h)
		}

		h.InvalidateCache()

		if !h.WriteDP(DP_ABORT, abortStkErrClr|abortWDErrClr|abortOrunErrClr) {
			h.recoveryPulse(fam)
			continue
		}

		if !h.requestPowerUp() {
			h.recoveryPulse(fam)
			continue
		}

		if !h.WriteWord(RegDHCSR, dhcsrDebugKey|dhcsrCDebugEn) {
			h.recoveryPulse(fam)
			continue
		}

		h.attached = true
		return true
	}

	return false
}

func (h *Host) requestPowerUp() bool {
	if !h.WriteDP(DP_CTRLSTAT, ctrlstatCSysPwrUpReq|ctrlstatCDbgPwrUpReq) {
		return false
	}
	for i := 0; i < powerPollBound; i++ {
		v, ok := h.ReadDP(DP_CTRLSTAT)
		if !ok {
			return false
		}
		if v&(ctrlstatCSysPwrUpAck|ctrlstatCDbgPwrUpAck) == (ctrlstatCSysPwrUpAck | ctrlstatCDbgPwrUpAck) {
			return true
		}
		time.Sleep(powerPollInterval)
	}
	return false
}

// powerDown clears CSYSPWRUPREQ and CDBGPWRUPREQ sequentially, waiting for
// each acknowledgment to deassert before clearing the next request bit,
// rather than clearing both at once and waiting on the pair together.
func (h *Host) powerDown() bool {
	if !h.clearPowerBit(ctrlstatCSysPwrUpReq, ctrlstatCSysPwrUpAck) {
		return false
	}
	if !h.clearPowerBit(ctrlstatCDbgPwrUpReq, ctrlstatCDbgPwrUpAck) {
		return false
	}
	h.attached = false
	return true
}

// clearPowerBit clears reqBit in CTRLSTAT and polls until ackBit deasserts.
func (h *Host) clearPowerBit(reqBit, ackBit uint32) bool {
	cur, ok := h.ReadDP(DP_CTRLSTAT)
	if !ok {
		return false
	}
	if !h.WriteDP(DP_CTRLSTAT, cur&^reqBit) {
		return false
	}
	for i := 0; i < powerPollBound; i++ {
		v, ok := h.ReadDP(DP_CTRLSTAT)
		if !ok {
			return false
		}
		if v&ackBit == 0 {
			return true
		}
		time.Sleep(powerPollInterval)
	}
	return false
}

func (h *Host) recoveryPulse(fam Family) {
	// Recover from an attach failure: write ABORT, pulse reset, and let
	// the caller retry.
	h.WriteDP(DP_ABORT, abortStkErrClr|abortWDErrClr|abortOrunErrClr)
	if fam != nil {
		fam.Reset(h, true)
		time.Sleep(2 * time.Millisecond)
		fam.Reset(h, false)
	}
}

func (h *Host) resetProgram(fam Family) bool {
	if !h.attach(fam) {
		return false
	}
	if !h.Halt() {
		return false
	}

	// disable hardware breakpoints
	const fpbCtrl = 0xE0002000
	h.WriteWord(fpbCtrl, 0) // KEY=0 disables, ENABLE=0

	if !h.WriteWord(RegDEMCR, demcrVCCorereset) {
		return false
	}

	ctrlStat, _ := h.ReadWord(RegAIRCR)
	priGroup := ctrlStat & 0x700
	if !h.WriteWord(RegAIRCR, aircrVectKey|priGroup|aircrSysResetReq) {
		return false
	}

	for i := 0; i < powerPollBound; i++ {
		if h.IsHalted() {
			break
		}
		time.Sleep(powerPollInterval)
	}

	h.WriteWord(RegDEMCR, 0)

	if fam != nil {
		fam.HaltSecondaryCores(h)
	}

	return h.Halt()
}

func (h *Host) resetRun(fam Family) bool {
	fam.Reset(h, true)
	time.Sleep(2 * time.Millisecond)
	fam.Reset(h, false)
	time.Sleep(2 * time.Millisecond)

	h.powerDown()

	// Release the bus to Hi-Z so the probe doesn't hold SWCLK/SWDIO while
	// the target runs free and undebugged.
	h.DisablePads()

	return true
}
