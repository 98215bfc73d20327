package dfork

import (
	"os/signal"

	"golang.org/x/sys/unix"
)

// IgnoreSIGCHLD sets SIGCHLD to SIG_IGN for the whole process, which the
// kernel treats specially: a reaped child never becomes a zombie. This
// is an explicit opt-in a caller can reach for instead of running its
// own reaper; dfork itself never calls this, and never installs any
// signal disposition on the caller's behalf (spec.md §9's "the library
// itself must not install signal handlers").
func IgnoreSIGCHLD() {
	signal.Ignore(unix.SIGCHLD)
}
