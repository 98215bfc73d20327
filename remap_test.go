package dfork_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/catern/dfork"
)

// freeFD returns a file descriptor number that is very likely unopened,
// by opening and immediately closing a throwaway fd: the kernel hands
// out the lowest free slot, so the number it closed is free again.
func freeFD(t *testing.T) int {
	t.Helper()

	f, err := os.Open(os.DevNull)
	require.NoError(t, err)

	fd := int(f.Fd())
	require.NoError(t, f.Close())
	require.False(t, dfork.IsOpen(fd))

	return fd
}

func TestApplyUnopenedTarget(t *testing.T) {
	src, err := os.CreateTemp(t.TempDir(), "dfork-remap-")
	require.NoError(t, err)
	defer src.Close()

	_, err = src.WriteString("hello")
	require.NoError(t, err)
	_, err = src.Seek(0, 0)
	require.NoError(t, err)

	target := freeFD(t)

	err = dfork.Apply(dfork.FdMap{target: int(src.Fd())})
	require.NoError(t, err)
	defer unix.Close(target)

	require.True(t, dfork.IsOpen(target))

	buf := make([]byte, 5)
	n, err := unix.Read(target, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	// The two fds share one open file description: reading via target
	// advanced src's offset too.
	tail := make([]byte, 1)
	n, err = unix.Read(int(src.Fd()), tail)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestApplyFdSwap(t *testing.T) {
	a, err := os.CreateTemp(t.TempDir(), "dfork-remap-a-")
	require.NoError(t, err)
	defer a.Close()
	_, err = a.WriteString("AAAA")
	require.NoError(t, err)
	require.NoError(t, seek0(a))

	b, err := os.CreateTemp(t.TempDir(), "dfork-remap-b-")
	require.NoError(t, err)
	defer b.Close()
	_, err = b.WriteString("BBBB")
	require.NoError(t, err)
	require.NoError(t, seek0(b))

	fdA, fdB := int(a.Fd()), int(b.Fd())

	err = dfork.Apply(dfork.FdMap{fdA: fdB, fdB: fdA})
	require.NoError(t, err)

	bufA := make([]byte, 4)
	_, err = unix.Read(fdA, bufA)
	require.NoError(t, err)
	require.Equal(t, "BBBB", string(bufA))

	bufB := make([]byte, 4)
	_, err = unix.Read(fdB, bufB)
	require.NoError(t, err)
	require.Equal(t, "AAAA", string(bufB))
}

func TestApplyClose(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "dfork-remap-close-")
	require.NoError(t, err)

	fd := int(f.Fd())
	err = dfork.Apply(dfork.FdMap{fd: dfork.Close})
	require.NoError(t, err)

	require.False(t, dfork.IsOpen(fd))

	// f's own Close must not panic or error oddly even though the
	// underlying fd is already gone.
	_ = f.Close()
}

func TestApplyOutsideDomUntouched(t *testing.T) {
	untouched, err := os.CreateTemp(t.TempDir(), "dfork-remap-untouched-")
	require.NoError(t, err)
	defer untouched.Close()

	fd := int(untouched.Fd())

	other := freeFD(t)
	src, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer src.Close()

	err = dfork.Apply(dfork.FdMap{other: int(src.Fd())})
	require.NoError(t, err)
	defer unix.Close(other)

	require.True(t, dfork.IsOpen(fd))
}

func seek0(f *os.File) error {
	_, err := f.Seek(0, 0)
	return err
}
