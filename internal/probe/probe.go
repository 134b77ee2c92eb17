// Package probe is the composition root: it owns one instance of every
// component (A-G) and wires them together the way cmd/probe's board
// entry point expects, so that no component reaches for global state.
// A *Probe value is the single point through which the DAP worker, the
// RTT engine task, and the flash-writer task each reach the shared SWD
// bus and its arbiter.
package probe

import (
	"fmt"

	"github.com/raspberrypi/debugprobe-core/internal/arbiter"
	"github.com/raspberrypi/debugprobe-core/internal/dap"
	"github.com/raspberrypi/debugprobe-core/internal/family"
	"github.com/raspberrypi/debugprobe-core/internal/flashprog"
	"github.com/raspberrypi/debugprobe-core/internal/probelog"
	"github.com/raspberrypi/debugprobe-core/internal/rtt"
	"github.com/raspberrypi/debugprobe-core/internal/swdhost"
	"github.com/raspberrypi/debugprobe-core/internal/swdpio"
)

// Config is everything a board must supply to bring a Probe up: the pad
// driver for its SWD wiring, logging sink, and the RAM window the flash
// programmer and RTT scanner share on the target.
type Config struct {
	Pads            swdpio.Pads
	BaseClockHz     uint32
	MinSWDKHz       uint32
	MaxSWDKHz       uint32
	Turnaround      int
	RAMBase, RAMEnd uint32
	FlashAlgorithm  flashprog.Algorithm

	// ForwardSysViewDownstream enables forwarding host-to-target bytes on
	// the RTT SysView channel. Most SysView hosts never write downstream,
	// so this defaults to false.
	ForwardSysViewDownstream bool

	// Identity strings reported by CmdInfo. Boards that don't set the
	// vendor, product or firmware-version strings get the reference
	// debug-probe identity; SerialNumber has no default.
	VendorName, ProductName, SerialNumber, FirmwareVersion string
}

const (
	defaultVendorName  = "Raspberry Pi"
	defaultProductName = "Debug Probe (CMSIS-DAP)"
	defaultFWVersion   = "2.0.0"
)

// Probe wires components A-G into one session-scoped object. The zero
// value is not usable; use New.
type Probe struct {
	Pio  *swdpio.Driver
	Host *swdhost.Host
	Arb  *arbiter.Arbiter

	DAP *dap.Session

	flashAlg  flashprog.Algorithm
	ramBase   uint32
	ramEnd    uint32

	rttArb *arbiter.Arbiter

	forwardSysViewDownstream bool

	vendorName, productName, serialNumber, firmwareVersion string

	families []swdhost.Family
	active   swdhost.Family

	log *probelog.Logger
}

// New constructs a Probe from cfg and the set of target families to try
// at attach time, in priority order. The generic Cortex-M family should
// always be last, as the catch-all.
func New(cfg Config, families []swdhost.Family, log *probelog.Logger) *Probe {
	pio := swdpio.New(cfg.Pads, cfg.BaseClockHz, cfg.MinSWDKHz, cfg.MaxSWDKHz, log)
	pio.SetClock(cfg.MaxSWDKHz)

	host := swdhost.New(pio, cfg.Turnaround, log)
	arb := arbiter.New(log)

	vendor, product, fwVer := cfg.VendorName, cfg.ProductName, cfg.FirmwareVersion
	if vendor == "" {
		vendor = defaultVendorName
	}
	if product == "" {
		product = defaultProductName
	}
	if fwVer == "" {
		fwVer = defaultFWVersion
	}

	p := &Probe{
		Pio:                      pio,
		Host:                     host,
		Arb:                      arb,
		flashAlg:                 cfg.FlashAlgorithm,
		ramBase:                  cfg.RAMBase,
		ramEnd:                   cfg.RAMEnd,
		rttArb:                   arb,
		forwardSysViewDownstream: cfg.ForwardSysViewDownstream,
		vendorName:               vendor,
		productName:              product,
		serialNumber:             cfg.SerialNumber,
		firmwareVersion:          fwVer,
		families:                 families,
		log:                      log,
	}

	p.DAP = dap.NewSession(newDAPExecutor(p), arb, log)

	return p
}

// SelectFamily tries each configured family in order, ATTACHing and
// reading the family's vendor identifier register; the first match
// wins. If none match, the last entry (expected to be the generic
// Cortex-M family) is used as a catch-all.
func (p *Probe) SelectFamily(readVendorID func(h *swdhost.Host) (uint16, bool)) swdhost.Family {
	for _, fam := range p.families {
		if !p.Host.TargetSetState(swdhost.StateAttach, fam) {
			continue
		}
		if id, ok := readVendorID(p.Host); ok && id == fam.ID() {
			p.active = fam
			return fam
		}
	}

	if len(p.families) > 0 {
		p.active = p.families[len(p.families)-1]
	} else {
		p.active = family.NewGeneric(0)
	}
	return p.active
}

// OpenFlash stages the configured flash algorithm into the target RAM
// window and returns a session ready for WriteBlock/FlashSize calls.
func (p *Probe) OpenFlash(flashSize int) (*flashprog.Session, error) {
	if p.active == nil {
		return nil, fmt.Errorf("probe: no family selected, call SelectFamily first")
	}
	return flashprog.Open(p.Host, p.log, p.flashAlg, p.ramBase, int(p.ramEnd-p.ramBase), flashSize)
}

// NewRTTEngine builds an RTT engine sharing this probe's arbiter and RAM
// window. console/sysView may be nil to disable that channel.
func (p *Probe) NewRTTEngine(console, sysView *rtt.Stream2Way) *rtt.Engine {
	e := rtt.NewEngine(rttTarget{p.Host}, p.rttArb, p.log, p.ramBase, p.ramEnd, console, sysView)
	e.SetForwardSysViewDownstream(p.forwardSysViewDownstream)
	return e
}

// rttTarget adapts *swdhost.Host to rtt.Target (identical method set,
// kept as a distinct type so package rtt never imports package swdhost
// directly).
type rttTarget struct {
	h *swdhost.Host
}

func (t rttTarget) ReadMemory(addr uint32, buf []byte) bool  { return t.h.ReadMemory(addr, buf) }
func (t rttTarget) WriteMemory(addr uint32, buf []byte) bool { return t.h.WriteMemory(addr, buf) }
func (t rttTarget) ReadWord(addr uint32) (uint32, bool)      { return t.h.ReadWord(addr) }
func (t rttTarget) WriteWord(addr uint32, v uint32) bool     { return t.h.WriteWord(addr, v) }
