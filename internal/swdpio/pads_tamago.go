// +build tamago,arm

package swdpio

import (
	"github.com/raspberrypi/debugprobe-core/internal/reg"
)

// GPIOPads drives SWCLK/SWDIO/RESET by direct GPIO register bit-banging,
// using the same set/clear-bit register idiom as a general-purpose GPIO
// pin driver, applied here to the three SWD pads instead. Boards with a
// true PIO-style programmable IO engine should implement Pads directly
// against that engine instead of using GPIOPads.
type GPIOPads struct {
	// DataReg/DirReg are the GPIO controller's data and direction
	// registers (teacher: GPIO_DR / GPIO_GDIR).
	DataReg, DirReg uint32

	ClkNum, DIONum, RSTNum int

	divisor uint32
}

func (p *GPIOPads) Configure(divisor uint32) {
	p.divisor = divisor
}

func (p *GPIOPads) delay() {
	// busy-wait proportional to the programmed divisor; the real PIO
	// engine paces edges in hardware, a GPIO bit-bang backend has to do
	// it in software.
	for i := uint32(0); i < p.divisor; i++ {
	}
}

func (p *GPIOPads) clockPulse() {
	reg.Clear(p.DataReg, p.ClkNum)
	p.delay()
	reg.Set(p.DataReg, p.ClkNum)
	p.delay()
}

func (p *GPIOPads) WriteBits(n int, bits uint32) {
	for i := 0; i < n; i++ {
		if (bits>>uint(i))&1 == 1 {
			reg.Set(p.DataReg, p.DIONum)
		} else {
			reg.Clear(p.DataReg, p.DIONum)
		}
		p.clockPulse()
	}
}

func (p *GPIOPads) ReadBits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		reg.Set(p.DataReg, p.ClkNum)
		p.delay()
		if reg.Get(p.DataReg, p.DIONum, 1) == 1 {
			v |= 1 << uint(i)
		}
		reg.Clear(p.DataReg, p.ClkNum)
		p.delay()
	}
	return v
}

func (p *GPIOPads) HiZClocks(n int) {
	reg.Clear(p.DirReg, p.DIONum)
	for i := 0; i < n; i++ {
		p.clockPulse()
	}
}

func (p *GPIOPads) SetDirection(dir Direction) {
	if dir == Out {
		reg.Set(p.DirReg, p.DIONum)
	} else {
		reg.Clear(p.DirReg, p.DIONum)
	}
	// busy-wait on the pad output-enable bit to avoid glitching the first
	// edge.
	want := uint32(0)
	if dir == Out {
		want = 1
	}
	reg.Wait(p.DirReg, p.DIONum, 1, want)
}

// Disable releases SWCLK and SWDIO to inputs, presenting Hi-Z to the
// target bus.
func (p *GPIOPads) Disable() {
	reg.Clear(p.DirReg, p.ClkNum)
	reg.Clear(p.DirReg, p.DIONum)
}

func (p *GPIOPads) AssertReset(assert bool) {
	if assert {
		// open-drain emulation: drive low
		reg.Set(p.DirReg, p.RSTNum)
		reg.Clear(p.DataReg, p.RSTNum)
	} else {
		// tri-state, external pull-up takes the line high
		reg.Clear(p.DirReg, p.RSTNum)
	}
}
