package dap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raspberrypi/debugprobe-core/internal/arbiter"
)

type echoExecutor struct {
	executed [][]byte
}

func (e *echoExecutor) Execute(cmd []byte, resp []byte) []byte {
	cp := append([]byte(nil), cmd...)
	e.executed = append(e.executed, cp)
	return append(resp, byte(len(cmd)))
}

func TestSessionFeedDispatchesFramedCommands(t *testing.T) {
	exec := &echoExecutor{}
	arb := arbiter.New(nil)
	s := NewSession(exec, arb, nil)

	resp := s.Feed([]byte{CmdDisconnect, CmdInfo, InfoCapabilities})

	require.Len(t, exec.executed, 2)
	require.Equal(t, []byte{CmdDisconnect}, exec.executed[0])
	require.Equal(t, []byte{CmdInfo, InfoCapabilities}, exec.executed[1])
	require.Equal(t, []byte{1, 2}, resp)
}

func TestSessionBuffersPartialCommand(t *testing.T) {
	exec := &echoExecutor{}
	arb := arbiter.New(nil)
	s := NewSession(exec, arb, nil)

	resp := s.Feed([]byte{CmdHostStatus}) // needs 3 bytes total
	require.Empty(t, resp)
	require.Empty(t, exec.executed)

	resp = s.Feed([]byte{0, 1})
	require.Len(t, exec.executed, 1)
	require.Equal(t, []byte{CmdHostStatus, 0, 1}, exec.executed[0])
}

func TestSessionAcquiresArbiterOnFirstRealCommand(t *testing.T) {
	exec := &echoExecutor{}
	arb := arbiter.New(nil)
	s := NewSession(exec, arb, nil)

	// Info is an offline command: observing it alone must not acquire the bus.
	s.Feed([]byte{CmdInfo, InfoCapabilities})
	require.Empty(t, arb.Holder())

	// TransferConfigure is a real command: it must acquire the bus.
	s.Feed([]byte{CmdTransferConfigure, 0, 1, 0, 1, 0})
	require.Equal(t, "dap", arb.Holder())
}

func TestSessionReleasesArbiterAfterIdleTimeout(t *testing.T) {
	exec := &echoExecutor{}
	arb := arbiter.New(nil)
	s := NewSession(exec, arb, nil)

	now := time.Now()
	s.nowFunc = func() time.Time { return now }

	s.Feed([]byte{CmdTransferConfigure, 0, 1, 0, 1, 0})
	require.Equal(t, "dap", arb.Holder())

	s.Feed([]byte{CmdDisconnect})
	require.Equal(t, "dap", arb.Holder(), "armed but not yet expired")

	now = now.Add(2 * time.Second)
	s.Feed([]byte{CmdDisconnect})
	require.Empty(t, arb.Holder(), "idle timer should have released the bus")
}
