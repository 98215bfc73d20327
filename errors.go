package dfork

import "errors"

// Error kinds returned by this package. Each one's comment says which
// operations return it.
var (
	// ErrNotFound indicates argv[0] or the supervise binary could not be
	// located on PATH.
	ErrNotFound = errors.New("dfork: executable not found in PATH")

	// ErrInvalidValue indicates an fd-map source refers to a closed fd, or
	// that argv is empty.
	ErrInvalidValue = errors.New("dfork: invalid value")

	// ErrTypeError indicates argv/env/fds did not meet the type contract.
	ErrTypeError = errors.New("dfork: type error")

	// ErrIoFailure indicates a socket, fork, dup2, or exec syscall failed.
	ErrIoFailure = errors.New("dfork: io failure")

	// ErrAlreadyClosed is returned by SendSignal, Wait and WaitTree after
	// the control fd has been closed.
	ErrAlreadyClosed = errors.New("dfork: already closed")

	// ErrAbruptClose is returned by Wait/WaitTree when the control socket
	// hung up before a final event was ever recorded.
	ErrAbruptClose = errors.New("dfork: process was abruptly closed, no final status available")
)
