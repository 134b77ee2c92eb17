package flashprog

import (
	"errors"

	"github.com/raspberrypi/debugprobe-core/internal/probelog"
	"github.com/raspberrypi/debugprobe-core/internal/swdhost"
)

const sectorSize = 64 * 1024

// defaultEraseMapSize covers 256 * 64 KiB = 16 MiB of flash with one
// tracking byte per sector, matching the reference flash_block blob's
// fixed-size erase map when an Algorithm doesn't specify its own.
const defaultEraseMapSize = 256

// result bits returned by a flash_block syscall.
const (
	resultErased       = 1 << 0
	resultProgrammed   = 1 << 1
	resultIllegalAddr  = 1 << 30
	resultVerifyFailed = 1 << 31
)

var (
	// ErrNoSpace means the RAM window couldn't fit the blob, stack,
	// argument staging and erase map all at once.
	ErrNoSpace = errors.New("flashprog: target RAM window too small")
	// ErrSyscallFailed means FlashSyscallExec itself timed out or the
	// core never reached the breakpoint.
	ErrSyscallFailed = errors.New("flashprog: flash algorithm did not return")
	// ErrVerifyFailed means the target reported a post-program compare
	// mismatch.
	ErrVerifyFailed = errors.New("flashprog: verify failed")
	// ErrIllegalAddress means the target rejected the address as outside
	// flash or not sector-aligned.
	ErrIllegalAddress = errors.New("flashprog: illegal flash address")
)

// Algorithm describes the fixed ABI contract for one family's
// position-independent flash blob: where its code, entry points,
// static base and stack live once staged.
type Algorithm struct {
	Code       []byte
	EntrySize  uint32 // flash_size() offset from the blob's base
	EntryBlock uint32 // flash_block(addr, src, len) offset from the blob's base
	Breakpoint uint32 // address of the blob's trailing `bkpt`, relative to its base
	StaticBase uint32 // linker-expected R9, relative to the blob's base
	StackSize  int
	ArgBufSize int

	// EraseMapSize is the size, in bytes, of the blob's own resident
	// erase-tracking table (one byte per 64 KiB sector it has erased
	// this session). Zero defaults to defaultEraseMapSize.
	EraseMapSize int
}

// Session stages one Algorithm into a target RAM window and drives
// flash_block calls against it. Each call is a single syscall that
// erases its sector on first touch and programs it: the "has this
// sector been erased yet" bookkeeping lives in the blob's own resident
// erase map, not in this struct, so WriteBlock never issues a separate
// host-driven erase call.
type Session struct {
	host Target
	log  *probelog.Logger

	alloc *ramAllocator

	codeBase   uint32
	entrySize  uint32
	entryBlock uint32
	breakpoint uint32
	staticBase uint32

	stackTop uint32
	argBuf   uint32
	argSize  int

	eraseMap     uint32
	eraseMapSize int
}

// Open stages alg into [ramBase, ramBase+ramSize) and returns a ready
// Session. flashSize bounds the external flash device's address range
// for diagnostics; the target-resident flash_block blob is the
// authority on whether a given address is actually legal.
func Open(host Target, log *probelog.Logger, alg Algorithm, ramBase uint32, ramSize int, flashSize int) (*Session, error) {
	alloc := newRAMAllocator(host, ramBase, ramSize)

	codeBase, ok := alloc.Alloc(alg.Code, 4)
	if !ok {
		return nil, ErrNoSpace
	}

	stackBase, ok := alloc.Reserve(alg.StackSize, 8)
	if !ok {
		return nil, ErrNoSpace
	}

	argBuf, ok := alloc.Reserve(alg.ArgBufSize, 4)
	if !ok {
		return nil, ErrNoSpace
	}

	eraseMapSize := alg.EraseMapSize
	if eraseMapSize == 0 {
		eraseMapSize = defaultEraseMapSize
	}

	eraseMap, ok := alloc.Reserve(eraseMapSize, 4)
	if !ok {
		return nil, ErrNoSpace
	}

	// A stale nonzero byte left over from whatever this RAM held before
	// staging would make flash_block skip an erase it still owes, so the
	// map starts zeroed exactly once per session.
	if !host.WriteMemory(eraseMap, make([]byte, eraseMapSize)) {
		return nil, ErrSyscallFailed
	}

	s := &Session{
		host:         host,
		log:          log,
		alloc:        alloc,
		codeBase:     codeBase,
		entrySize:    codeBase + alg.EntrySize,
		entryBlock:   codeBase + alg.EntryBlock,
		breakpoint:   codeBase + alg.Breakpoint,
		staticBase:   codeBase + alg.StaticBase,
		stackTop:     stackBase + uint32(alg.StackSize),
		argBuf:       argBuf,
		argSize:      alg.ArgBufSize,
		eraseMap:     eraseMap,
		eraseMapSize: eraseMapSize,
	}

	if s.log != nil {
		s.log.WithFields(map[string]interface{}{
			"flash_size": flashSize,
			"ram_base":   ramBase,
			"erase_map":  eraseMap,
		}).Debug("flashprog: session opened")
	}

	return s, nil
}

// FlashSize probes the external flash device's capacity via the
// staged blob's flash_size() entry; 0 means the probe failed.
func (s *Session) FlashSize() uint32 {
	r0, ok := s.host.FlashSyscallExec(swdhost.FlashSyscallArgs{
		StaticBase:   s.staticBase,
		StackPointer: s.stackTop,
		Breakpoint:   s.breakpoint,
		Entry:        s.entrySize,
	})
	if !ok {
		return 0
	}
	return r0
}

// WriteBlock programs len(data) bytes at addr in a single flash_block
// call: the blob erases addr's 64 KiB sector itself, the first time
// that sector is touched this session, before programming and
// verifying. data is staged into the blob's scratch argument buffer
// before invocation.
func (s *Session) WriteBlock(addr uint32, data []byte) error {
	if len(data) > s.argSize {
		return ErrNoSpace
	}

	if !s.host.WriteMemory(s.argBuf, data) {
		return ErrSyscallFailed
	}

	r0, ok := s.host.FlashSyscallExec(swdhost.FlashSyscallArgs{
		R0:           addr,
		R1:           s.argBuf,
		R2:           uint32(len(data)),
		StaticBase:   s.staticBase,
		StackPointer: s.stackTop,
		Breakpoint:   s.breakpoint,
		Entry:        s.entryBlock,
	})
	if !ok {
		return ErrSyscallFailed
	}

	return interpretResult(r0)
}

func interpretResult(r0 uint32) error {
	if r0&resultIllegalAddr != 0 {
		return ErrIllegalAddress
	}
	if r0&resultVerifyFailed != 0 {
		return ErrVerifyFailed
	}
	return nil
}

// Close releases the session's RAM window allocations so a subsequent
// Open can reuse the window.
func (s *Session) Close() {
	s.alloc.Reset()
}
