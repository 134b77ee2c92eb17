//go:build linux && !tamago

package swdpio

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// gpioRegSpan is the size of the BCM/RP1-style GPIO register block this
// backend maps from /dev/gpiomem; large enough to cover the data,
// direction and pull registers on every Pi GPIO controller generation.
const gpioRegSpan = 0x1000

// LinuxGPIOPads drives SWCLK/SWDIO/RESET through /dev/gpiomem on a
// Linux-hosted build of the probe (a Raspberry Pi running the core
// directly on Linux rather than on bare-metal tamago), bit-banging the
// same protocol GPIOPads implements for the tamago backend. Grounded on
// the ioctl/mmap-device access pattern other hardware control daemons in
// the example pack use to reach Linux device files directly instead of
// shelling out.
type LinuxGPIOPads struct {
	DataReg, DirReg uint32

	ClkNum, DIONum, RSTNum int

	divisor uint32

	mem []byte
	fd  int
}

// NewLinuxGPIOPads maps /dev/gpiomem and returns pads addressing the
// given register offsets within it.
func NewLinuxGPIOPads(dataRegOffset, dirRegOffset uint32, clkNum, dioNum, rstNum int) (*LinuxGPIOPads, error) {
	fd, err := unix.Open("/dev/gpiomem", unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("swdpio: open /dev/gpiomem: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, gpioRegSpan, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("swdpio: mmap /dev/gpiomem: %w", err)
	}

	return &LinuxGPIOPads{
		DataReg: dataRegOffset,
		DirReg:  dirRegOffset,
		ClkNum:  clkNum,
		DIONum:  dioNum,
		RSTNum:  rstNum,
		mem:     mem,
		fd:      fd,
	}, nil
}

// Close unmaps the register window and closes the device file.
func (p *LinuxGPIOPads) Close() error {
	if err := unix.Munmap(p.mem); err != nil {
		return err
	}
	return unix.Close(p.fd)
}

func (p *LinuxGPIOPads) regPtr(offset uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&p.mem[offset]))
}

func (p *LinuxGPIOPads) setBit(offset uint32, bit int) {
	r := p.regPtr(offset)
	for {
		old := atomic.LoadUint32(r)
		if atomic.CompareAndSwapUint32(r, old, old|(1<<uint(bit))) {
			return
		}
	}
}

func (p *LinuxGPIOPads) clearBit(offset uint32, bit int) {
	r := p.regPtr(offset)
	for {
		old := atomic.LoadUint32(r)
		if atomic.CompareAndSwapUint32(r, old, old&^(1<<uint(bit))) {
			return
		}
	}
}

func (p *LinuxGPIOPads) getBit(offset uint32, bit int) bool {
	return atomic.LoadUint32(p.regPtr(offset))&(1<<uint(bit)) != 0
}

func (p *LinuxGPIOPads) Configure(divisor uint32) {
	p.divisor = divisor
}

func (p *LinuxGPIOPads) delay() {
	for i := uint32(0); i < p.divisor; i++ {
	}
}

func (p *LinuxGPIOPads) clockPulse() {
	p.clearBit(p.DataReg, p.ClkNum)
	p.delay()
	p.setBit(p.DataReg, p.ClkNum)
	p.delay()
}

func (p *LinuxGPIOPads) WriteBits(n int, bits uint32) {
	for i := 0; i < n; i++ {
		if (bits>>uint(i))&1 == 1 {
			p.setBit(p.DataReg, p.DIONum)
		} else {
			p.clearBit(p.DataReg, p.DIONum)
		}
		p.clockPulse()
	}
}

func (p *LinuxGPIOPads) ReadBits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		p.setBit(p.DataReg, p.ClkNum)
		p.delay()
		if p.getBit(p.DataReg, p.DIONum) {
			v |= 1 << uint(i)
		}
		p.clearBit(p.DataReg, p.ClkNum)
		p.delay()
	}
	return v
}

func (p *LinuxGPIOPads) HiZClocks(n int) {
	p.clearBit(p.DirReg, p.DIONum)
	for i := 0; i < n; i++ {
		p.clockPulse()
	}
}

func (p *LinuxGPIOPads) SetDirection(dir Direction) {
	if dir == Out {
		p.setBit(p.DirReg, p.DIONum)
	} else {
		p.clearBit(p.DirReg, p.DIONum)
	}
	want := dir == Out
	for p.getBit(p.DirReg, p.DIONum) != want {
		// busy-wait for the output-enable bit to settle, same as the
		// tamago backend's reg.Wait.
	}
}

// Disable releases SWCLK and SWDIO to inputs, presenting Hi-Z to the
// target bus.
func (p *LinuxGPIOPads) Disable() {
	p.clearBit(p.DirReg, p.ClkNum)
	p.clearBit(p.DirReg, p.DIONum)
}

func (p *LinuxGPIOPads) AssertReset(assert bool) {
	if assert {
		p.setBit(p.DirReg, p.RSTNum)
		p.clearBit(p.DataReg, p.RSTNum)
	} else {
		p.clearBit(p.DirReg, p.RSTNum)
	}
}
