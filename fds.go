package dfork

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FdHolder is implemented by any value that exposes its own file
// descriptor, such as *os.File or net.Conn's syscall.Conn-backed types.
type FdHolder interface {
	Fd() uintptr
}

// AsFD coerces x to an integer file descriptor. Accepted inputs are a
// plain int or a value implementing FdHolder. Anything else is a type
// error.
func AsFD(x any) (int, error) {
	switch v := x.(type) {
	case int:
		return v, nil
	case FdHolder:
		return int(v.Fd()), nil
	default:
		return 0, fmt.Errorf("%w: expected int or fd holder, not %T", ErrTypeError, x)
	}
}

// IsOpen reports whether fd is currently an open file descriptor. It
// never mutates kernel state: it probes with a no-op F_GETFD query and
// treats any error as "closed".
func IsOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// AsPathBytes coerces p to a byte string for chdir/execve. Only string
// and []byte are accepted; anything else is a type error. Embedded NUL
// bytes are not checked for here.
func AsPathBytes(p any) ([]byte, error) {
	switch v := p.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected string or []byte path, not %T", ErrTypeError, p)
	}
}
