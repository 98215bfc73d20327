package dfork_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/catern/dfork"
)

func TestAsFDInt(t *testing.T) {
	fd, err := dfork.AsFD(7)
	require.NoError(t, err)
	require.Equal(t, 7, fd)
}

func TestAsFDHolder(t *testing.T) {
	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f.Close()

	fd, err := dfork.AsFD(f)
	require.NoError(t, err)
	require.Equal(t, int(f.Fd()), fd)
}

func TestAsFDTypeError(t *testing.T) {
	_, err := dfork.AsFD("3")
	require.ErrorIs(t, err, dfork.ErrTypeError)
}

func TestIsOpen(t *testing.T) {
	f, err := os.Open(os.DevNull)
	require.NoError(t, err)

	fd := int(f.Fd())
	require.True(t, dfork.IsOpen(fd))

	require.NoError(t, f.Close())
	require.False(t, dfork.IsOpen(fd))
}

func TestAsPathBytes(t *testing.T) {
	b, err := dfork.AsPathBytes("/tmp")
	require.NoError(t, err)
	require.Equal(t, []byte("/tmp"), b)

	b, err = dfork.AsPathBytes([]byte("/tmp"))
	require.NoError(t, err)
	require.Equal(t, []byte("/tmp"), b)

	_, err = dfork.AsPathBytes(3)
	require.ErrorIs(t, err, dfork.ErrTypeError)
}
