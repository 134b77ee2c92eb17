package flashprog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raspberrypi/debugprobe-core/internal/swdhost"
)

// fakeTarget is a software model of a staged flash algorithm: it
// treats the blob as opaque bytes and instead reacts to which entry
// offset FlashSyscallExec requests, letting tests assert on the
// single-syscall flash_block calling convention and result-code
// interpretation without any real target RAM.
type fakeTarget struct {
	ram map[uint32][]byte

	entrySizeOffset  uint32
	entryBlockOffset uint32

	flashSize    uint32
	nextBlockR0  uint32
	blockCalls   []uint32 // addr argument of each flash_block call, in order
	syscallFails bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{ram: make(map[uint32][]byte)}
}

func (f *fakeTarget) WriteMemory(addr uint32, buf []byte) bool {
	cp := append([]byte(nil), buf...)
	f.ram[addr] = cp
	return true
}

func (f *fakeTarget) ReadMemory(addr uint32, buf []byte) bool {
	data, ok := f.ram[addr]
	if !ok {
		return false
	}
	copy(buf, data)
	return true
}

func (f *fakeTarget) FlashSyscallExec(args swdhost.FlashSyscallArgs) (uint32, bool) {
	if f.syscallFails {
		return 0, false
	}

	switch args.Entry {
	case f.entrySizeOffset:
		return f.flashSize, true
	case f.entryBlockOffset:
		f.blockCalls = append(f.blockCalls, args.R0)
		return f.nextBlockR0, true
	}
	return 0, false
}

func testAlgorithm() Algorithm {
	return Algorithm{
		Code:         make([]byte, 64),
		EntrySize:    0,
		EntryBlock:   16,
		Breakpoint:   60,
		StaticBase:   0,
		StackSize:    256,
		ArgBufSize:   4096,
		EraseMapSize: 16,
	}
}

func openTestSession(t *testing.T, target *fakeTarget, flashSize int) *Session {
	t.Helper()
	alg := testAlgorithm()
	s, err := Open(target, nil, alg, 0x20000000, 16*1024, flashSize)
	require.NoError(t, err)

	target.entrySizeOffset = s.entrySize
	target.entryBlockOffset = s.entryBlock

	return s
}

func TestOpenZeroesEraseMapOnce(t *testing.T) {
	target := newFakeTarget()
	s := openTestSession(t, target, 2*sectorSize)

	got, ok := target.ram[s.eraseMap]
	require.True(t, ok)
	require.Equal(t, make([]byte, s.eraseMapSize), got)
}

func TestWriteBlockIssuesOneSyscallPerCall(t *testing.T) {
	target := newFakeTarget()
	s := openTestSession(t, target, 2*sectorSize)

	require.NoError(t, s.WriteBlock(0x10000000, []byte{1, 2, 3, 4}))
	require.NoError(t, s.WriteBlock(0x10000100, []byte{5, 6, 7, 8}))
	require.NoError(t, s.WriteBlock(0x10010000, []byte{9})) // next 64 KiB sector

	// each WriteBlock call is exactly one flash_block syscall; the blob
	// decides on its own, from its resident erase map, whether a given
	// call's sector still needs erasing.
	require.Equal(t, []uint32{0x10000000, 0x10000100, 0x10010000}, target.blockCalls)
}

func TestWriteBlockStagesDataBeforeInvoking(t *testing.T) {
	target := newFakeTarget()
	s := openTestSession(t, target, sectorSize)

	require.NoError(t, s.WriteBlock(0x10000000, []byte{0xAA, 0xBB}))

	got, ok := target.ram[s.argBuf]
	require.True(t, ok)
	require.Equal(t, []byte{0xAA, 0xBB}, got)
}

func TestWriteBlockSurfacesVerifyFailure(t *testing.T) {
	target := newFakeTarget()
	target.nextBlockR0 = resultVerifyFailed
	s := openTestSession(t, target, sectorSize)

	err := s.WriteBlock(0x10000000, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrVerifyFailed)
}

func TestWriteBlockSurfacesIllegalAddress(t *testing.T) {
	target := newFakeTarget()
	target.nextBlockR0 = resultIllegalAddr
	s := openTestSession(t, target, sectorSize)

	err := s.WriteBlock(0x10000000, []byte{1})
	require.ErrorIs(t, err, ErrIllegalAddress)
}

func TestWriteBlockRejectsOversizedData(t *testing.T) {
	target := newFakeTarget()
	s := openTestSession(t, target, sectorSize)

	err := s.WriteBlock(0x10000000, make([]byte, s.argSize+1))
	require.ErrorIs(t, err, ErrNoSpace)
	require.Empty(t, target.blockCalls)
}

func TestFlashSizeReadsThroughSyscall(t *testing.T) {
	target := newFakeTarget()
	target.flashSize = 16 * 1024 * 1024
	s := openTestSession(t, target, sectorSize)

	require.Equal(t, uint32(16*1024*1024), s.FlashSize())
}

func TestFlashSizeZeroOnSyscallFailure(t *testing.T) {
	target := newFakeTarget()
	s := openTestSession(t, target, sectorSize)
	target.syscallFails = true

	require.Equal(t, uint32(0), s.FlashSize())
}

func TestOpenFailsWhenRAMWindowTooSmall(t *testing.T) {
	target := newFakeTarget()
	alg := testAlgorithm()

	_, err := Open(target, nil, alg, 0x20000000, 32, sectorSize)
	require.ErrorIs(t, err, ErrNoSpace)
}
