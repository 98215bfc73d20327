package dfork

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/catern/dfork/wire"
)

func TestDecodeChildEventExited(t *testing.T) {
	event := decodeChildEvent(wire.Inbound{Code: int32(Exited), Pid: 99, Uid: 1000, Status: 0})

	require.Equal(t, Exited, event.Code)
	require.True(t, event.Died())
	require.True(t, event.Clean())

	_, ok := event.KilledWith()
	require.False(t, ok)
}

func TestDecodeChildEventKilled(t *testing.T) {
	event := decodeChildEvent(wire.Inbound{Code: int32(Killed), Pid: 99, Uid: 0, Status: int32(unix.SIGKILL)})

	require.True(t, event.Died())
	require.False(t, event.Clean())

	signal, ok := event.KilledWith()
	require.True(t, ok)
	require.Equal(t, unix.SIGKILL, signal)
}

func TestDecodeChildEventStoppedIsNotDied(t *testing.T) {
	event := decodeChildEvent(wire.Inbound{Code: int32(Stopped), Pid: 99, Status: int32(unix.SIGSTOP)})

	require.False(t, event.Died())
	_, ok := event.KilledWith()
	require.False(t, ok)
}

func TestChildCodeString(t *testing.T) {
	require.Equal(t, "exited", Exited.String())
	require.Equal(t, "killed", Killed.String())
	require.Contains(t, ChildCode(999).String(), "ChildCode")
}
