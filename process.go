package dfork

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/catern/dfork/wire"
)

// Handle is the long-lived representation of a spawned command tree
// (spec.md §4, "Handle"). It exclusively owns control_fd: closing the
// Handle is the sole mechanism guaranteeing the whole descendant tree is
// torn down. A Handle is not safe for concurrent use from multiple
// goroutines.
type Handle struct {
	controlFD int
	pid       int
	hasPid    bool

	finalEvent *ChildEvent
	childfree  bool
	hangup     bool
	closed     bool
}

// New runs the full spawn protocol and returns a Handle wrapping the
// resulting control_fd and pid (spec.md §4.6's new()).
func New(req Request) (*Handle, error) {
	controlFD, pid, err := Spawn(req)
	if err != nil {
		return nil, err
	}

	return &Handle{controlFD: controlFD, pid: pid, hasPid: true}, nil
}

// Fileno returns the control fd, or -1 once the Handle is closed.
func (h *Handle) Fileno() int {
	if h.closed {
		return -1
	}

	return h.controlFD
}

// Closed reports whether Close has run.
func (h *Handle) Closed() bool {
	return h.closed
}

// Pid returns the primary child's pid and whether it is known yet. New
// obtains it synchronously (the nested-fork variant's birth sequence
// forks the command itself and relays its pid back before exec'ing the
// supervisor), so this is always true on a Handle returned by New.
func (h *Handle) Pid() (pid int, ok bool) {
	return h.pid, h.hasPid
}

// Poll drains and applies any events currently available without
// blocking, returning the final status if one was reached. It never
// errors: running out of available events ends the drain, and any other
// read error is treated the same as hangup (spec.md §4.6).
func (h *Handle) Poll() (event ChildEvent, ok bool) {
	if h.closed {
		return ChildEvent{}, false
	}

	if err := unix.SetNonblock(h.controlFD, true); err == nil {
		defer func() { _ = unix.SetNonblock(h.controlFD, false) }()
	}

	for {
		got, final := h.getEvent()
		if !got {
			break
		}

		if final {
			return *h.finalEvent, true
		}
	}

	if h.finalEvent != nil {
		return *h.finalEvent, true
	}

	return ChildEvent{}, false
}

// Wait blocks until the primary child's final status is known, or the
// socket hangs up first (in which case it returns ErrAbruptClose,
// spec.md §4.6).
func (h *Handle) Wait() (ChildEvent, error) {
	return h.waitUntil(func() bool { return h.finalEvent != nil })
}

// WaitTree blocks until the socket reaches Closed: the supervisor is
// gone and every descendant has been reaped (spec.md §4.5's "Closed"
// state).
func (h *Handle) WaitTree() (ChildEvent, error) {
	return h.waitUntil(func() bool { return h.childfree && h.finalEvent != nil })
}

func (h *Handle) waitUntil(done func() bool) (ChildEvent, error) {
	if h.closed {
		return ChildEvent{}, ErrAlreadyClosed
	}

	for !done() {
		// A hangup closes the Handle, and Close synthesizes a final event,
		// so only an event recorded before this read counts as real.
		before := h.finalEvent
		got, _ := h.getEvent()
		if !got {
			if before != nil {
				break
			}

			return ChildEvent{}, ErrAbruptClose
		}
	}

	if h.finalEvent == nil {
		return ChildEvent{}, ErrAbruptClose
	}

	return *h.finalEvent, nil
}

// WaitTreeContext is WaitTree with a deadline: if ctx is done before the
// tree becomes childfree, the Handle is closed (spec.md §5's
// "Cancellation" note: cancelling a pending wait is equivalent to a
// scoped release) and ctx.Err() is returned instead of blocking
// forever.
func (h *Handle) WaitTreeContext(ctx context.Context) (ChildEvent, error) {
	return h.waitContext(ctx, h.WaitTree)
}

// WaitContext is Wait with a deadline, following the same cancellation
// contract as WaitTreeContext.
func (h *Handle) WaitContext(ctx context.Context) (ChildEvent, error) {
	return h.waitContext(ctx, h.Wait)
}

func (h *Handle) waitContext(ctx context.Context, wait func() (ChildEvent, error)) (ChildEvent, error) {
	done := make(chan struct{})

	var event ChildEvent
	var waitErr error

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(done)
		event, waitErr = wait()
		return waitErr
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			select {
			case <-done:
				return nil
			default:
			}

			// close(2) does not wake a recv blocked on the same fd in the
			// other goroutine; shutdown(2) does, and the woken wait then
			// sees a hangup and closes the Handle.
			_ = unix.Shutdown(h.controlFD, unix.SHUT_RDWR)
			return gctx.Err()
		case <-done:
			return nil
		}
	})

	_ = g.Wait()

	if ctx.Err() != nil {
		_ = h.Close()
		return ChildEvent{}, ctx.Err()
	}

	if waitErr != nil {
		return ChildEvent{}, waitErr
	}

	return event, nil
}

// getEvent reads and applies exactly one event from the control
// socket, following the C5 state machine (spec.md §4.5). ok is false when
// a non-blocking read finds no event (EAGAIN), on hangup (zero-length
// read), or on any other read error; only the last two hang up. final is
// true iff this event set finalEvent for the first time. A hangup always marks the
// Handle childfree and closes it (supervise.py:352-355's `if buf ==
// b"": self.childfree = True; self.close()`): the dialect has no
// separate "tree empty" message, so the supervisor closing the socket
// is the one and only childfree signal.
func (h *Handle) getEvent() (ok bool, final bool) {
	buf := make([]byte, wire.InboundSize)
	n, _, err := unix.Recvfrom(h.controlFD, buf, 0)
	if err == unix.EAGAIN {
		return false, false
	}

	if err != nil || n == 0 {
		h.onHangup()
		return false, false
	}

	in, err := wire.DecodeInbound(buf[:n])
	if err != nil {
		h.onHangup()
		return false, false
	}

	event := decodeChildEvent(in)
	return true, h.handleEvent(event)
}

func (h *Handle) onHangup() {
	h.hangup = true
	h.childfree = true
	_ = h.Close()
}

// handleEvent applies one decoded event to the state machine. The
// Starting -> Running transition is implicit in pid already being
// known. Events for descendants other than the primary are observed
// (so a caller draining NewEvents sees the whole tree) but never set
// finalEvent or childfree themselves — only the primary's death sets
// finalEvent, and only a hangup (see onHangup) sets childfree.
func (h *Handle) handleEvent(event ChildEvent) (final bool) {
	if !h.hasPid {
		h.pid = event.Pid
		h.hasPid = true
	}

	if event.Pid == h.pid && event.Died() && h.finalEvent == nil {
		ev := event
		h.finalEvent = &ev
		return true
	}

	return false
}

// FlushEvents drains every event currently available without applying
// them to anything beyond the state machine, discarding the results
// (mirrors the original's flush_events()).
func (h *Handle) FlushEvents() {
	if h.closed {
		return
	}

	if err := unix.SetNonblock(h.controlFD, true); err == nil {
		defer func() { _ = unix.SetNonblock(h.controlFD, false) }()
	}

	for {
		got, _ := h.getEvent()
		if !got {
			return
		}
	}
}

// NewEvents calls yield with every event read from the control socket
// until it would block or hang up, or until yield returns false (mirrors
// the original's new_events()); the method value h.NewEvents has the
// iter.Seq[ChildEvent] shape. Each event is applied to the state machine
// the same way getEvent applies it before it is yielded.
func (h *Handle) NewEvents(yield func(ChildEvent) bool) {
	if h.closed {
		return
	}

	if err := unix.SetNonblock(h.controlFD, true); err == nil {
		defer func() { _ = unix.SetNonblock(h.controlFD, false) }()
	}

	for {
		buf := make([]byte, wire.InboundSize)
		n, _, err := unix.Recvfrom(h.controlFD, buf, 0)
		if err == unix.EAGAIN {
			return
		}

		if err != nil || n == 0 {
			h.onHangup()
			return
		}

		in, derr := wire.DecodeInbound(buf[:n])
		if derr != nil {
			h.onHangup()
			return
		}

		event := decodeChildEvent(in)
		h.handleEvent(event)

		if !yield(event) {
			return
		}
	}
}

// SendSignal delivers signal n to the primary child via the supervisor
// (spec.md §4.6). It fails with ErrAlreadyClosed once Close has run.
func (h *Handle) SendSignal(n unix.Signal) error {
	if h.closed {
		return ErrAlreadyClosed
	}

	buf := wire.EncodeOutbound(h.pid, int(n))
	if err := unix.Sendto(h.controlFD, buf, 0, nil); err != nil {
		return fmt.Errorf("%w: send_signal: %v", ErrIoFailure, err)
	}

	return nil
}

// Terminate is SendSignal(SIGTERM).
func (h *Handle) Terminate() error {
	return h.SendSignal(unix.SIGTERM)
}

// Kill is SendSignal(SIGKILL).
func (h *Handle) Kill() error {
	return h.SendSignal(unix.SIGKILL)
}

// Close releases the control_fd, which is the sole mechanism
// guaranteeing the supervisor tears down every descendant (spec.md
// §4.6). It always succeeds; if no final status was ever recorded, it
// synthesizes one with a -KILL exit so downstream code always has a
// return code to inspect.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}

	h.closed = true

	if h.finalEvent == nil {
		synthesized := ChildEvent{
			Code:      Killed,
			Pid:       h.pid,
			Signal:    unix.SIGKILL,
			hasSignal: true,
		}
		h.finalEvent = &synthesized
	}

	_ = unix.Close(h.controlFD)

	return nil
}

// Run spawns req, hands the Handle to fn, and unconditionally closes it
// on return — fn's error, a panic, or a normal return all release the
// control_fd, which is this package's scoped-acquisition idiom for
// spec.md §4.6's "scoped-use" row (Go has no destructor to hook into,
// so the binding takes the form of this higher-order helper instead).
func Run(req Request, fn func(*Handle) error) error {
	h, err := New(req)
	if err != nil {
		return err
	}

	defer func() { _ = h.Close() }()

	return fn(h)
}
