package dfork

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/catern/dfork/wire"
)

// ChildCode is one of the POSIX si_code values a wait/waitid call can
// report for a child (spec.md §3).
type ChildCode int

const (
	Exited ChildCode = unix.CLD_EXITED
	// Killed indicates the child was killed by a signal.
	Killed ChildCode = unix.CLD_KILLED
	// Dumped indicates the child was killed by a signal and dumped core.
	Dumped ChildCode = unix.CLD_DUMPED
	// Stopped indicates the child was stopped by a signal.
	Stopped ChildCode = unix.CLD_STOPPED
	// Trapped indicates a traced child has trapped.
	Trapped ChildCode = unix.CLD_TRAPPED
	// Continued indicates the child was continued by SIGCONT.
	Continued ChildCode = unix.CLD_CONTINUED
)

func (c ChildCode) String() string {
	switch c {
	case Exited:
		return "exited"
	case Killed:
		return "killed"
	case Dumped:
		return "dumped"
	case Stopped:
		return "stopped"
	case Trapped:
		return "trapped"
	case Continued:
		return "continued"
	default:
		return fmt.Sprintf("ChildCode(%d)", int(c))
	}
}

// ChildEvent describes one transition of one descendant process, as
// reported by the supervisor over the control socket (spec.md §3).
type ChildEvent struct {
	Code ChildCode
	Pid  int
	Uid  uint32

	// ExitStatus is present iff Code == Exited.
	ExitStatus int
	// Signal is present iff Code is one of Killed, Dumped, Stopped,
	// Trapped, Continued. For Continued this is always SIGCONT, per
	// POSIX (see DESIGN.md's Open Question resolution).
	Signal unix.Signal

	hasExitStatus bool
	hasSignal     bool
}

// Died reports whether this event represents a terminal exit.
func (e ChildEvent) Died() bool {
	return e.Code == Exited || e.Code == Killed || e.Code == Dumped
}

// Clean reports whether the child exited with status 0.
func (e ChildEvent) Clean() bool {
	return e.Code == Exited && e.ExitStatus == 0
}

// KilledWith returns the signal the child was killed with. ok is false
// if the event's code is not Killed or Dumped.
func (e ChildEvent) KilledWith() (signal unix.Signal, ok bool) {
	if e.Code != Killed && e.Code != Dumped {
		return 0, false
	}

	return e.Signal, true
}

func decodeChildEvent(in wire.Inbound) ChildEvent {
	event := ChildEvent{
		Code: ChildCode(in.Code),
		Pid:  int(in.Pid),
		Uid:  in.Uid,
	}

	if event.Code == Exited {
		event.ExitStatus = int(in.Status)
		event.hasExitStatus = true
	} else {
		event.Signal = unix.Signal(in.Status)
		event.hasSignal = true
	}

	return event
}
