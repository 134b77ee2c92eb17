// Package flashprog stages a position-independent flash algorithm into
// target RAM and invokes it through the core's breakpoint calling
// convention to erase, program and verify external flash.
package flashprog

import (
	"container/list"

	"github.com/raspberrypi/debugprobe-core/internal/swdhost"
)

// Memory is the narrow read/write surface ramalloc needs from the SWD
// host; it lets the allocator's bookkeeping be tested without a live
// target.
type Memory interface {
	WriteMemory(addr uint32, buf []byte) bool
	ReadMemory(addr uint32, buf []byte) bool
}

// Target is the full surface the flash programmer needs from the SWD
// host: memory access plus the core-register calling convention used
// to invoke the staged algorithm. *swdhost.Host satisfies this.
type Target interface {
	Memory
	FlashSyscallExec(args swdhost.FlashSyscallArgs) (r0 uint32, ok bool)
}

// block is a free or in-use span of the target RAM window under
// management.
type block struct {
	addr uint32
	size int
}

// ramAllocator is a first-fit allocator over a window of target RAM,
// used to place the flash algorithm blob, its stack, and its argument
// buffers without colliding. Unlike a host-side allocator it never
// touches local memory directly: every byte lands in target RAM via
// mem.WriteMemory.
type ramAllocator struct {
	mem         Memory
	freeBlocks  *list.List
	usedBlocks  map[uint32]*block
	windowBase  uint32
	windowBound uint32
}

// newRAMAllocator manages [base, base+size) of target RAM.
func newRAMAllocator(mem Memory, base uint32, size int) *ramAllocator {
	a := &ramAllocator{
		mem:         mem,
		freeBlocks:  list.New(),
		usedBlocks:  make(map[uint32]*block),
		windowBase:  base,
		windowBound: base + uint32(size),
	}
	a.freeBlocks.PushFront(&block{addr: base, size: size})
	return a
}

func (a *ramAllocator) defrag() {
	var prevBlock *block

	for e := a.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if prevBlock != nil && prevBlock.addr+uint32(prevBlock.size) == b.addr {
			prevBlock.size += b.size
			defer a.freeBlocks.Remove(e)
			continue
		}

		prevBlock = b
	}
}

func (a *ramAllocator) alloc(size, align int) (*block, bool) {
	var e *list.Element
	var freeBlock *block

	if align > 0 {
		size += align
	}

	for e = a.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if b.size >= size {
			freeBlock = b
			break
		}
	}

	if freeBlock == nil {
		return nil, false
	}

	defer a.freeBlocks.Remove(e)

	if size < freeBlock.size {
		a.freeBlocks.InsertAfter(&block{
			addr: freeBlock.addr + uint32(size),
			size: freeBlock.size - size,
		}, e)
		freeBlock.size = size
	}

	if align > 0 {
		if r := int(freeBlock.addr) & (align - 1); r != 0 {
			offset := align - r
			a.freeBlocks.InsertBefore(&block{
				addr: freeBlock.addr,
				size: offset,
			}, e)
			freeBlock.addr += uint32(offset)
			freeBlock.size -= offset
		}

		size -= align
		if freeBlock.size > size {
			a.freeBlocks.InsertAfter(&block{
				addr: freeBlock.addr + uint32(size),
				size: freeBlock.size - size,
			}, e)
			freeBlock.size = size
		}
	}

	return freeBlock, true
}

func (a *ramAllocator) free(used *block) {
	for e := a.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if b.addr > used.addr {
			a.freeBlocks.InsertBefore(used, e)
			a.defrag()
			return
		}
	}
	a.freeBlocks.PushBack(used)
	a.defrag()
}

// Alloc copies buf into target RAM at a freshly reserved address,
// honoring align (0 for none), and returns the address. ok is false if
// the window has no block large enough.
func (a *ramAllocator) Alloc(buf []byte, align int) (uint32, bool) {
	if len(buf) == 0 {
		return 0, false
	}

	b, found := a.alloc(len(buf), align)
	if !found {
		return 0, false
	}

	if !a.mem.WriteMemory(b.addr, buf) {
		a.free(b)
		return 0, false
	}

	a.usedBlocks[b.addr] = b
	return b.addr, true
}

// Reserve carves out size bytes of scratch space (stack, argument
// buffers) without writing to it.
func (a *ramAllocator) Reserve(size, align int) (uint32, bool) {
	b, found := a.alloc(size, align)
	if !found {
		return 0, false
	}
	a.usedBlocks[b.addr] = b
	return b.addr, true
}

// Free returns a previously allocated or reserved region to the pool.
func (a *ramAllocator) Free(addr uint32) {
	if addr == 0 {
		return
	}
	b, ok := a.usedBlocks[addr]
	if !ok {
		return
	}
	a.free(b)
	delete(a.usedBlocks, addr)
}

// Reset discards all allocations, returning the whole window to a
// single free block. Used between flashing sessions.
func (a *ramAllocator) Reset() {
	a.freeBlocks.Init()
	a.freeBlocks.PushFront(&block{addr: a.windowBase, size: int(a.windowBound - a.windowBase)})
	a.usedBlocks = make(map[uint32]*block)
}
