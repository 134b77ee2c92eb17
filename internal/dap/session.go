package dap

import (
	"time"

	"github.com/raspberrypi/debugprobe-core/internal/arbiter"
	"github.com/raspberrypi/debugprobe-core/internal/probelog"
)

// connectTimeout is how long a Disconnect/Info/HostStatus command can
// go without a following "real" command before the session concludes
// the host has gone quiet and releases the bus.
const connectTimeout = 1 * time.Second

// Executor runs one fully-framed DAP command and appends its response
// bytes to resp, returning the new slice. Implementations live outside
// this package (wired to swdhost, the RTT engine, etc); Session only
// owns framing, fingerprinting and arbiter lifecycle.
type Executor interface {
	Execute(cmd []byte, resp []byte) []byte
}

// Session reassembles a byte stream from the host into framed DAP
// commands, forwards each to an Executor, and manages the high
// priority arbiter lock implied by a connected session.
type Session struct {
	exec Executor
	arb  *arbiter.Arbiter
	log  *probelog.Logger

	fp *Fingerprinter

	recvBuf []byte

	connected    bool
	idleArmed    bool
	idleDeadline time.Time

	// nowFunc, when set, replaces time.Now for deterministic tests.
	nowFunc func() time.Time
}

// NewSession wires a Session to arb for bus arbitration and exec to
// carry out decoded commands.
func NewSession(exec Executor, arb *arbiter.Arbiter, log *probelog.Logger) *Session {
	return &Session{
		exec: exec,
		arb:  arb,
		log:  log,
		fp:   NewFingerprinter(),
	}
}

// Feed appends newly received USB bytes to the session's accumulator
// and executes every fully-framed command it can now extract,
// returning the concatenation of their responses in host request
// order. Partial trailing bytes remain buffered for the next call.
func (s *Session) Feed(data []byte) []byte {
	s.recvBuf = append(s.recvBuf, data...)

	var resp []byte

	for {
		n, ok := CommandLength(s.recvBuf)
		if !ok || int(n) > len(s.recvBuf) {
			break
		}

		cmd := s.recvBuf[:n]
		s.recvBuf = s.recvBuf[n:]

		s.beforeExecute(cmd)
		resp = s.exec.Execute(cmd, resp)
		s.afterExecute(cmd)
	}

	return resp
}

// beforeExecute handles connect inference: the first command of a
// session that cannot be answered offline (see isOfflineCommand)
// acquires the arbiter at high priority.
func (s *Session) beforeExecute(cmd []byte) {
	if len(cmd) == 0 {
		return
	}

	s.fp.Observe(cmd)

	if !s.connected && !isOfflineCommand(cmd[0]) {
		if s.arb != nil {
			s.arb.Lock("dap", true)
		}
		s.connected = true
	}
}

// afterExecute handles disconnect inference: Disconnect, Info and
// HostStatus arm a grace-period timer; any other command disarms it.
// When the timer elapses while armed, the session considers itself
// idle and releases the bus.
func (s *Session) afterExecute(cmd []byte) {
	if len(cmd) == 0 {
		return
	}

	switch cmd[0] {
	case CmdDisconnect, CmdInfo, CmdHostStatus:
		if !s.idleArmed {
			s.idleArmed = true
			s.idleDeadline = s.now().Add(connectTimeout)
		}
	default:
		s.idleArmed = false
	}

	s.checkIdle()
}

// checkIdle releases the arbiter once the idle timer has elapsed;
// callers with no external ticker can simply call Feed often enough
// that this runs on every command boundary.
func (s *Session) checkIdle() {
	if !s.connected || !s.idleArmed {
		return
	}
	if s.now().Before(s.idleDeadline) {
		return
	}

	if s.arb != nil {
		s.arb.Unlock("dap")
	}
	s.connected = false
	s.idleArmed = false
	s.fp.Reset()
}

// now is overridden in tests to avoid depending on wall-clock timing.
func (s *Session) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// isOfflineCommand reports whether op is one of the commands that can
// be answered without the bus actually being acquired: Info,
// HostStatus, Connect, Disconnect and (despite appearances) SWJ_Clock,
// which some hosts send before a real Connect.
func isOfflineCommand(op byte) bool {
	switch op {
	case CmdInfo, CmdHostStatus, CmdConnect, CmdDisconnect, CmdSWJClock:
		return true
	default:
		return false
	}
}

// Tool returns the fingerprinted host tool for the current session, or
// ToolUnknown if not yet determined.
func (s *Session) Tool() Tool {
	return s.fp.Verdict()
}
