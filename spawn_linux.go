//go:build linux

package dfork

import (
	"encoding/binary"
	"io"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// birth performs the nested-fork birth sequence (spec.md §4.3, "Nested
// fork" variant; see DESIGN.md's Open Question resolution). This is the
// variant the source this package is modeled on actually uses
// (original_source/python/supervise_api/supervise.py:251-270,
// `sfork.subprocess()` nested twice), and it's the only shape that can
// hand back the real command's pid synchronously: the supervisor-to-be
// forks the command itself, so the command's pid is known before the
// supervisor ever execs.
//
// Sequence: fork once for the supervisor-to-be; in it, close
// parentSide, setsid, mark it a child subreaper (so further descendants
// that double-fork or setsid away still reparent somewhere this tree can
// reap them), then fork again for the command. The inner (command) fork
// closes childSide, chdirs, runs the fd-remap, and execs the resolved
// command. The outer fork relays the inner fork's pid back to the
// original caller over a pre-created pipe, binds childSide to fds 0 and
// 1, and execs the supervisor binary with an empty environment.
//
// Every argument has already been reduced, before this call, to the raw
// form (byte pointers, pre-sized slices, pre-resolved fd numbers) the
// child sections need, following the gvisor ptrace platform's forkStub
// idiom: nothing between a fork and its exec may allocate, touch a
// mutex, or otherwise depend on runtime state that only the vanished
// sibling threads held.
func birth(supervisorPath string, commandArgv []string, envp []string, cwd []byte, plan rawRemapPlan, parentSide, childSide int) (pid int, err error) {
	supervisorArgv0, err := unix.BytePtrFromString(supervisorPath)
	if err != nil {
		return 0, err
	}

	supervisorArgvPtrs, err := syscall.SlicePtrFromStrings([]string{supervisorPath})
	if err != nil {
		return 0, err
	}

	supervisorEnvPtrs, err := syscall.SlicePtrFromStrings(nil)
	if err != nil {
		return 0, err
	}

	commandArgv0, err := unix.BytePtrFromString(commandArgv[0])
	if err != nil {
		return 0, err
	}

	commandArgvPtrs, err := syscall.SlicePtrFromStrings(commandArgv)
	if err != nil {
		return 0, err
	}

	commandEnvPtrs, err := syscall.SlicePtrFromStrings(envp)
	if err != nil {
		return 0, err
	}

	var cwdPtr *byte
	if len(cwd) > 0 {
		cwdPtr, err = unix.BytePtrFromString(string(cwd))
		if err != nil {
			return 0, err
		}
	}

	pidPipeR, pidPipeW, err := os.Pipe()
	if err != nil {
		return 0, err
	}
	defer pidPipeR.Close()

	pidPipeRfd := int(pidPipeR.Fd())
	pidPipeWfd := int(pidPipeW.Fd())

	// Mirrors syscall.forkExec's use of the fork lock: no other thread
	// may fork (and thus inherit a half-updated fd table) while a child
	// here is between fork and exec.
	unix.ForkLock.Lock()

	pid1, _, errno := unix.RawSyscall6(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0, 0, 0, 0)
	if errno != 0 {
		unix.ForkLock.Unlock()
		_ = pidPipeW.Close()
		return 0, errno
	}

	if pid1 != 0 {
		// Original caller: block for the command's pid, relayed by the
		// supervisor-to-be once its own inner fork returns.
		unix.ForkLock.Unlock()
		_ = pidPipeW.Close()

		var buf [4]byte
		if _, rerr := io.ReadFull(pidPipeR, buf[:]); rerr != nil {
			return 0, rerr
		}

		return int(binary.LittleEndian.Uint32(buf[:])), nil
	}

	// Supervisor-to-be. No allocation, no locks, no calls into the Go
	// scheduler from here to either SYS_EXECVE below.
	unix.RawSyscall(unix.SYS_CLOSE, uintptr(parentSide), 0, 0)
	unix.RawSyscall(unix.SYS_CLOSE, uintptr(pidPipeRfd), 0, 0)
	unix.RawSyscall(unix.SYS_SETSID, 0, 0, 0)
	unix.RawSyscall(unix.SYS_PRCTL, uintptr(unix.PR_SET_CHILD_SUBREAPER), 1, 0)

	pid2, _, errno2 := unix.RawSyscall6(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0, 0, 0, 0)
	if errno2 != 0 {
		unix.RawSyscall(unix.SYS_EXIT, 127, 0, 0)
	}

	if pid2 == 0 {
		// Command process.
		unix.RawSyscall(unix.SYS_CLOSE, uintptr(childSide), 0, 0)
		unix.RawSyscall(unix.SYS_CLOSE, uintptr(pidPipeWfd), 0, 0)

		if cwdPtr != nil {
			unix.RawSyscall(unix.SYS_CHDIR, uintptr(unsafe.Pointer(cwdPtr)), 0, 0)
		}

		plan.applyRaw()

		unix.RawSyscall(unix.SYS_EXECVE,
			uintptr(unsafe.Pointer(commandArgv0)),
			uintptr(unsafe.Pointer(&commandArgvPtrs[0])),
			uintptr(unsafe.Pointer(&commandEnvPtrs[0])))

		unix.RawSyscall(unix.SYS_EXIT, 127, 0, 0)
		panic("unreachable")
	}

	// Back in the supervisor-to-be: relay the command's pid, bind
	// childSide to fds 0 and 1, and exec the supervisor.
	var pidBuf [4]byte
	pidBuf[0] = byte(pid2)
	pidBuf[1] = byte(pid2 >> 8)
	pidBuf[2] = byte(pid2 >> 16)
	pidBuf[3] = byte(pid2 >> 24)
	unix.RawSyscall(unix.SYS_WRITE, uintptr(pidPipeWfd), uintptr(unsafe.Pointer(&pidBuf[0])), 4)
	unix.RawSyscall(unix.SYS_CLOSE, uintptr(pidPipeWfd), 0, 0)

	unix.RawSyscall(unix.SYS_DUP2, uintptr(childSide), 0, 0)
	unix.RawSyscall(unix.SYS_DUP2, uintptr(childSide), 1, 0)
	unix.RawSyscall(unix.SYS_CLOSE, uintptr(childSide), 0, 0)

	unix.RawSyscall(unix.SYS_EXECVE,
		uintptr(unsafe.Pointer(supervisorArgv0)),
		uintptr(unsafe.Pointer(&supervisorArgvPtrs[0])),
		uintptr(unsafe.Pointer(&supervisorEnvPtrs[0])))

	// execve only returns on failure.
	unix.RawSyscall(unix.SYS_EXIT, 127, 0, 0)
	panic("unreachable")
}

// applyRaw installs p's redirections using only raw syscalls and
// pre-allocated scratch slices, so it is safe to run in the narrow
// window between fork and exec. It mirrors remapPlan.apply's algorithm
// (spec.md §4.2) but cannot return a rich error: a failed open, dup,
// dup2 or close of a requested target exits the child with status 126, matching a shell's "command found but not
// executable" convention closely enough to be diagnosable from the
// exit status alone.
func (p *rawRemapPlan) applyRaw() {
	const noFD = ^uintptr(0)
	devnull := noFD

	for _, t := range p.targets {
		target := uintptr(t)
		_, _, errno := unix.RawSyscall(unix.SYS_FCNTL, target, uintptr(unix.F_GETFD), 0)
		if errno == 0 {
			continue
		}

		if devnull == noFD {
			fd, _, oerrno := unix.RawSyscall(unix.SYS_OPEN, uintptr(unsafe.Pointer(&p.devNullPath[0])), uintptr(unix.O_RDONLY), 0)
			if oerrno != 0 {
				unix.RawSyscall(unix.SYS_EXIT, 126, 0, 0)
			}

			if fd == target {
				// The lowest free slot was the target itself, which is
				// now open on /dev/null; it is not the helper to close.
				continue
			}

			devnull = fd
		}

		if _, _, derrno := unix.RawSyscall(unix.SYS_DUP2, devnull, target, 0); derrno != 0 {
			unix.RawSyscall(unix.SYS_EXIT, 126, 0, 0)
		}
	}

	shadowCount := 0
	for _, s := range p.sources {
		alreadyShadowed := false
		for j := 0; j < shadowCount; j++ {
			if p.shadowSrc[j] == s {
				alreadyShadowed = true
				break
			}
		}

		if alreadyShadowed {
			continue
		}

		isTarget := false
		for _, t := range p.targets {
			if t == s {
				isTarget = true
				break
			}
		}

		if !isTarget {
			continue
		}

		fd, _, errno := unix.RawSyscall(unix.SYS_DUP, uintptr(s), 0, 0)
		if errno != 0 {
			unix.RawSyscall(unix.SYS_EXIT, 126, 0, 0)
		}

		p.shadowSrc[shadowCount] = s
		p.shadowFD[shadowCount] = int32(fd)
		shadowCount++
	}

	for i, t := range p.targets {
		src := p.sources[i]
		for j := 0; j < shadowCount; j++ {
			if p.shadowSrc[j] == src {
				src = p.shadowFD[j]
				break
			}
		}

		if _, _, errno := unix.RawSyscall(unix.SYS_DUP2, uintptr(src), uintptr(t), 0); errno != 0 {
			unix.RawSyscall(unix.SYS_EXIT, 126, 0, 0)
		}
	}

	if devnull != noFD {
		unix.RawSyscall(unix.SYS_CLOSE, devnull, 0, 0)
	}

	for j := 0; j < shadowCount; j++ {
		unix.RawSyscall(unix.SYS_CLOSE, uintptr(p.shadowFD[j]), 0, 0)
	}

	for _, t := range p.toClose {
		if _, _, errno := unix.RawSyscall(unix.SYS_CLOSE, uintptr(t), 0, 0); errno != 0 {
			unix.RawSyscall(unix.SYS_EXIT, 126, 0, 0)
		}
	}
}
