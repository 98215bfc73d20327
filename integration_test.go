package dfork_test

import (
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/catern/dfork"
)

// requireSupervise skips the test unless a real "supervise" binary is
// reachable on PATH: these tests exercise the actual fork/exec/wire
// pipeline end to end and cannot run against a stub.
func requireSupervise(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("supervise"); err != nil {
		t.Skip("supervise binary not found on PATH, skipping end-to-end test")
	}
}

func TestBasicExit(t *testing.T) {
	requireSupervise(t)

	h, err := dfork.New(dfork.Request{Argv: []string{"sh", "-c", "echo hi"}})
	require.NoError(t, err)
	defer h.Close()

	event, err := h.Wait()
	require.NoError(t, err)
	require.Equal(t, dfork.Exited, event.Code)
	require.True(t, event.Clean())
}

func TestAbsolutePathAndKill(t *testing.T) {
	requireSupervise(t)

	shPath, ok := dfork.Which("sh", "")
	require.True(t, ok)

	pipeR, pipeW, err := os.Pipe()
	require.NoError(t, err)
	defer pipeR.Close()

	h, err := dfork.New(dfork.Request{
		Argv: []string{shPath, "-c", "sleep 1000"},
		Fds:  dfork.FdMap{3: int(pipeW.Fd())},
	})
	require.NoError(t, err)

	// Our own copy of the write end is no longer needed once the command
	// holds fd 3; the only remaining copy lives in the spawned tree.
	require.NoError(t, pipeW.Close())

	require.NoError(t, h.Kill())

	event, err := h.Wait()
	require.NoError(t, err)
	require.Contains(t, []dfork.ChildCode{dfork.Killed, dfork.Dumped}, event.Code)

	signal, ok := event.KilledWith()
	require.True(t, ok)
	require.Equal(t, unix.SIGKILL, signal)

	require.NoError(t, h.Close())

	// With every copy of the write end gone (the tree is fully torn down),
	// the separately held read end must observe EOF.
	buf := make([]byte, 1)
	n, rerr := pipeR.Read(buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, rerr, io.EOF)
}

func TestMissingExecutable(t *testing.T) {
	_, err := dfork.New(dfork.Request{Argv: []string{"definitely_not_a_real_binary_xyz"}})
	require.ErrorIs(t, err, dfork.ErrNotFound)
}

func TestMultiForkTreeFullyReaped(t *testing.T) {
	requireSupervise(t)

	pipeR, pipeW, err := os.Pipe()
	require.NoError(t, err)
	defer pipeR.Close()

	h, err := dfork.New(dfork.Request{
		Argv: []string{"sh", "-c", "sleep inf & sleep inf & sleep inf & setsid sleep inf & nohup sleep inf &"},
		Fds:  dfork.FdMap{3: int(pipeW.Fd())},
	})
	require.NoError(t, err)

	require.NoError(t, pipeW.Close())

	// Give the shell a moment to actually fork, setsid, and nohup its five
	// backgrounded descendants before the tree is torn down.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, h.Close())

	// close() must reap the whole tree regardless of how far descendants
	// detached (plain background, setsid, or nohup) — the same property
	// that the missing child-subreaper bit used to violate.
	buf := make([]byte, 1)
	n, rerr := pipeR.Read(buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, rerr, io.EOF)
}

func TestUnopenedTargetFd(t *testing.T) {
	requireSupervise(t)

	devnull, err := unix.Open("/dev/null", unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer unix.Close(devnull)

	err = dfork.Run(dfork.Request{
		Argv: []string{"sh", "-c", "exit 0"},
		Fds:  dfork.FdMap{42: devnull},
	}, func(h *dfork.Handle) error {
		_, werr := h.Wait()
		return werr
	})
	require.NoError(t, err)
}
