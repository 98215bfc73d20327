package dfork

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Request describes a command tree to launch (spec.md §4.1).
type Request struct {
	// Argv is the command and its arguments. Argv[0] is resolved against
	// the effective PATH and replaced with its absolute path.
	Argv []string

	// Env is an update over the inherited environment: it is merged onto
	// a snapshot of the current process's environment, it never clears
	// variables the caller didn't mention.
	Env map[string]string

	// Fds is the target -> source fd-remap applied in the command's new
	// process, following the fd-remap algorithm (see remap.go).
	Fds FdMap

	// Cwd, if non-empty, is chdir'd into before the fd-remap and exec.
	Cwd string

	// Flags is applied to the returned control fd. Recognized bits are
	// unix.O_CLOEXEC and unix.O_NONBLOCK.
	Flags int
}

// Spawn is the low-level entry point: it runs the full spawn protocol
// (validation, socket creation, birth sequence) and returns the
// caller-held control fd and the command's pid. Most callers want New,
// which wraps this in a Process/Handle.
func Spawn(req Request) (controlFD int, pid int, err error) {
	if len(req.Argv) == 0 {
		return 0, 0, fmt.Errorf("%w: argv must not be empty", ErrInvalidValue)
	}

	plan, err := planRemap(req.Fds)
	if err != nil {
		return 0, 0, err
	}

	for _, s := range plan.sources {
		if !IsOpen(s) {
			return 0, 0, fmt.Errorf("%w: fd %d is not open", ErrInvalidValue, s)
		}
	}

	cwdBytes, err := coerceCwd(req.Cwd)
	if err != nil {
		return 0, 0, err
	}

	envSnapshot := mergeEnv(os.Environ(), req.Env)

	pathOverride := req.Env["PATH"]
	if pathOverride == "" {
		pathOverride = os.Getenv("PATH")
	}

	resolvedArgv0, ok := Which(req.Argv[0], pathOverride)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrNotFound, req.Argv[0])
	}

	argv := append([]string{resolvedArgv0}, req.Argv[1:]...)

	supervisorPath, err := resolveSupervisor()
	if err != nil {
		return 0, 0, err
	}

	parentSide, childSide, err := newControlSocket(req.Flags)
	if err != nil {
		return 0, 0, err
	}

	rawPlan := buildRawRemapPlan(plan)

	childPid, err := birth(supervisorPath, argv, envSnapshot, cwdBytes, rawPlan, parentSide, childSide)
	if err != nil {
		_ = unix.Close(parentSide)
		_ = unix.Close(childSide)
		return 0, 0, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}

	if err := unix.Close(childSide); err != nil {
		_ = unix.Close(parentSide)
		return 0, 0, fmt.Errorf("%w: close child_side: %v", ErrIoFailure, err)
	}

	return parentSide, childPid, nil
}

// newControlSocket creates the seqpacket control-socket pair and applies
// the caller's flags to parent_side (spec.md §4.3's "Socket creation").
func newControlSocket(flags int) (parentSide, childSide int, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: socketpair: %v", ErrIoFailure, err)
	}

	parentSide, childSide = fds[0], fds[1]

	if flags&unix.O_CLOEXEC == 0 {
		if _, err := unix.FcntlInt(uintptr(parentSide), unix.F_SETFD, 0); err != nil {
			_ = unix.Close(parentSide)
			_ = unix.Close(childSide)
			return 0, 0, fmt.Errorf("%w: clear cloexec: %v", ErrIoFailure, err)
		}
	}

	if flags&unix.O_NONBLOCK != 0 {
		if err := unix.SetNonblock(parentSide, true); err != nil {
			_ = unix.Close(parentSide)
			_ = unix.Close(childSide)
			return 0, 0, fmt.Errorf("%w: set nonblock: %v", ErrIoFailure, err)
		}
	}

	return parentSide, childSide, nil
}

func coerceCwd(cwd string) ([]byte, error) {
	if cwd == "" {
		return nil, nil
	}

	return AsPathBytes(cwd)
}

// mergeEnv applies update onto base (a snapshot in "KEY=VALUE" form),
// producing a new snapshot. update never clears a variable it doesn't
// mention.
func mergeEnv(base []string, update map[string]string) []string {
	merged := make(map[string]string, len(base)+len(update))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}

	for k, v := range update {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}

	return out
}
