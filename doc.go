// Package dfork provides a safe, file-descriptor-driven API for launching
// and tracking a child command tree on a POSIX (Linux) host.
//
// Unlike a naive process-spawn library, a dfork.Handle exposes a single
// file descriptor which, when closed — whether by explicit Close, scoped
// acquisition via Run, or abnormal termination of the caller — causes the
// entire transitive descendant tree of the launched command to be
// terminated. Lifecycle events (pid assignment, exit, signal death) are
// read from that same descriptor, and control commands (signal delivery)
// are written to it, so a caller integrates with any event loop using
// ordinary readiness polling.
//
// A separate "supervise" binary, expected on PATH, runs in the child half
// after exec and mediates between the caller and the actual command tree;
// this package does not implement or ship that binary.
//
// # Example
//
//	h, err := dfork.New(dfork.Request{Argv: []string{"sh", "-c", "echo hi"}})
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	event, err := h.Wait()
//	if err != nil {
//	    return err
//	}
//	fmt.Println(event.Code, event.ExitStatus)
package dfork
