package usbglue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSerial struct {
	toSend    []byte
	written   [][]byte
	congested bool
}

func (f *fakeSerial) Read(p []byte) (int, bool) {
	if len(f.toSend) == 0 {
		return 0, false
	}
	n := copy(p, f.toSend)
	f.toSend = f.toSend[n:]
	return n, true
}

func (f *fakeSerial) Write(p []byte) bool {
	if f.congested {
		return true
	}
	f.written = append(f.written, append([]byte(nil), p...))
	return false
}

func (f *fakeSerial) LineStateChanged(dtr, rts bool) {}

type fakeUART struct {
	toSend  []byte
	written [][]byte
}

func (f *fakeUART) Read(p []byte) (int, bool) {
	if len(f.toSend) == 0 {
		return 0, false
	}
	n := copy(p, f.toSend)
	f.toSend = f.toSend[n:]
	return n, true
}

func (f *fakeUART) Write(p []byte) bool {
	f.written = append(f.written, append([]byte(nil), p...))
	return false
}

func TestConsoleMuxPrefersRTTForWrite(t *testing.T) {
	rtt := &fakeSerial{}
	uart := &fakeUART{}
	mux := &ConsoleMux{RTT: rtt, UART: uart}

	require.False(t, mux.Write([]byte("hi")))
	require.Len(t, rtt.written, 1)
	require.Empty(t, uart.written)
}

func TestConsoleMuxFallsBackToUARTWhenNoRTT(t *testing.T) {
	uart := &fakeUART{}
	mux := &ConsoleMux{UART: uart}

	require.False(t, mux.Write([]byte("hi")))
	require.Len(t, uart.written, 1)
}

func TestConsoleMuxReadPrefersRTTThenUART(t *testing.T) {
	rtt := &fakeSerial{toSend: []byte("from-target")}
	uart := &fakeUART{toSend: []byte("from-uart")}
	mux := &ConsoleMux{RTT: rtt, UART: uart}

	buf := make([]byte, 32)
	n, ok := mux.Read(buf)
	require.True(t, ok)
	require.Equal(t, "from-target", string(buf[:n]))

	// RTT now dry: falls back to UART
	n, ok = mux.Read(buf)
	require.True(t, ok)
	require.Equal(t, "from-uart", string(buf[:n]))
}

func TestConsoleMuxWriteReturnsCongestedWhenBothAbsent(t *testing.T) {
	mux := &ConsoleMux{}
	require.True(t, mux.Write([]byte("x")))
}
