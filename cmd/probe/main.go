// Command probe is the tamago entry point for the debug-probe firmware
// core: it brings up the SWD pads, wires every component through
// package probe's composition root, and runs the DAP worker and RTT
// engine as separate goroutines sharing one arbiter. No flash-writer
// task is started here.
//
// +build tamago,arm

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/raspberrypi/debugprobe-core/internal/dap"
	"github.com/raspberrypi/debugprobe-core/internal/family"
	"github.com/raspberrypi/debugprobe-core/internal/flashprog"
	"github.com/raspberrypi/debugprobe-core/internal/probe"
	"github.com/raspberrypi/debugprobe-core/internal/probelog"
	"github.com/raspberrypi/debugprobe-core/internal/rtt"
	"github.com/raspberrypi/debugprobe-core/internal/swdhost"
	"github.com/raspberrypi/debugprobe-core/internal/swdpio"
	"github.com/raspberrypi/debugprobe-core/internal/usbglue"
)

// Board wiring constants; a real board build overrides these via its own
// variant of this file or a linked-in config package.
const (
	swdDataReg = 0x0209C000
	swdDirReg  = 0x0209C004

	pinSWCLK = 0
	pinSWDIO = 1
	pinRESET = 2

	ramWindowLo = 0x20000000
	ramWindowHi = 0x20042000
)

// dapTransport is the framed CMSIS-DAP byte pipe the DAP worker pumps.
// USB class/endpoint glue is out of scope for this core (HID report
// framing or bulk pipe setup belongs to the board's own USB stack); a
// real board build supplies the concrete value here, in a separate file
// of this same package, before main runs. Left nil, the DAP worker idles
// without touching the session, same as a board that hasn't brought its
// USB controller up yet.
var dapTransport usbglue.DAPTransport

func newLogger() *probelog.Logger {
	base := probelog.NewBase(logrus.InfoLevel)
	return probelog.New(base, "main")
}

func buildFamilies() []swdhost.Family {
	return []swdhost.Family{
		family.NewRP2350(),
		family.NewRP2040(),
		family.NewGeneric(0),
	}
}

func main() {
	log := newLogger()

	pads := &swdpio.GPIOPads{
		DataReg: swdDataReg,
		DirReg:  swdDirReg,
		ClkNum:  pinSWCLK,
		DIONum:  pinSWDIO,
		RSTNum:  pinRESET,
	}

	cfg := probe.Config{
		Pads:        pads,
		BaseClockHz: 150_000_000,
		MinSWDKHz:   100,
		MaxSWDKHz:   24_000,
		Turnaround:  1,
		RAMBase:     ramWindowLo,
		RAMEnd:      ramWindowHi,
		FlashAlgorithm: flashprog.Algorithm{
			EntrySize:  0,
			EntryBlock: 16,
			Breakpoint: 0,
			StackSize:  1024,
			ArgBufSize: 64 * 1024,
		},
	}

	p := probe.New(cfg, buildFamilies(), log)

	fam := p.SelectFamily(func(h *swdhost.Host) (uint16, bool) {
		// Vendor-id readback is family-specific silicon detail (e.g. a
		// bootrom-published chip id register); boards that know their
		// target wire a real readback here. Returning false always
		// falls through to the generic Cortex-M family.
		return 0, false
	})
	log.WithFields(map[string]interface{}{"family": fam.ID()}).Info("main: family selected")

	console := &rtt.Stream2Way{}
	rttEngine := p.NewRTTEngine(console, nil)

	done := make(chan struct{})

	// RTT engine task (low priority): rescans and repolls whenever Run
	// returns, yielding to the DAP worker in between.
	go func() {
		var cb uint32
		for {
			if !p.Arb.Lock("rtt", false) {
				continue
			}
			cb = rttEngine.Run(cb)
			p.Arb.Unlock("rtt")
		}
	}()

	// DAP worker task (high priority): pumps framed commands from the
	// board's USB transport through the session and writes back whatever
	// response bytes Feed produces.
	go runDAPWorker(p.DAP, dapTransport, done)

	fmt.Println("probe: core running")
	<-done
}

// runDAPWorker receives one framed CMSIS-DAP request at a time from
// transport, feeds it to session, and sends back any response packets in
// PacketSize-sized chunks. A nil transport (no USB controller wired yet)
// leaves this loop parked on done without spinning.
func runDAPWorker(session *dap.Session, transport usbglue.DAPTransport, done <-chan struct{}) {
	if transport == nil {
		<-done
		return
	}

	for {
		select {
		case <-done:
			return
		default:
		}

		data, ok := transport.Receive()
		if !ok {
			continue
		}

		resp := session.Feed(data)
		chunk := transport.PacketSize()
		if chunk <= 0 {
			chunk = len(resp)
		}

		for len(resp) > 0 {
			n := chunk
			if n > len(resp) {
				n = len(resp)
			}
			if !transport.Send(resp[:n]) {
				break
			}
			resp = resp[n:]
		}
	}
}
