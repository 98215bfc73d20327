package dfork

import (
	"fmt"
	"sort"

	"golang.org/x/sys/unix"
)

// Close is the sentinel fds-map value meaning "close this target".
//
//	fds := map[int]any{2: dfork.Close}
var Close = closeSentinel{}

type closeSentinel struct{}

// FdMap is the target -> source mapping update_fds (spec.md §4.2) is run
// against. Values are int, an FdHolder, or Close.
type FdMap map[int]any

// remapPlan is the fully-resolved, side-effect-free form of an FdMap:
// every source has been coerced to an int, and closes have been split out.
// It is built once, before any fork, so it can be handed unchanged into an
// async-signal-safe child section.
type remapPlan struct {
	targets  []int   // sorted, stable iteration order
	sources  []int   // sources[i] is the source for targets[i]
	toClose  []int   // targets to close
}

// planRemap validates and normalizes an FdMap. It performs no I/O.
func planRemap(m FdMap) (*remapPlan, error) {
	plan := &remapPlan{}
	for target, v := range m {
		if v == Close {
			plan.toClose = append(plan.toClose, target)
			continue
		}

		fd, err := AsFD(v)
		if err != nil {
			return nil, err
		}

		plan.targets = append(plan.targets, target)
		plan.sources = append(plan.sources, fd)
	}

	// Stable, deterministic ordering makes the plan reproducible and
	// keeps the shadow-dup bookkeeping below easy to reason about.
	idx := make([]int, len(plan.targets))
	for i := range idx {
		idx[i] = i
	}

	sort.Slice(idx, func(a, b int) bool { return plan.targets[idx[a]] < plan.targets[idx[b]] })

	sortedTargets := make([]int, len(idx))
	sortedSources := make([]int, len(idx))
	for i, j := range idx {
		sortedTargets[i] = plan.targets[j]
		sortedSources[i] = plan.sources[j]
	}

	plan.targets = sortedTargets
	plan.sources = sortedSources
	sort.Ints(plan.toClose)
	return plan, nil
}

// Apply executes the target -> source redirection described by m against
// the CURRENT process's file descriptor table, following the algorithm in
// spec.md §4.2: target fds that are not yet open are first pointed at
// /dev/null (so a later dup can't accidentally land a fresh fd on an
// unopened target), source/target collisions are broken with a shadow
// dup, then every (target, source) pair is installed with dup2. fds
// outside dom(m) are never touched.
//
// Apply runs in the calling process (for testing the algorithm in
// isolation). It allocates (the plan, the shadow bookkeeping maps, error
// values), so it is not used between fork and exec; the spawn path runs
// the same algorithm through rawRemapPlan.applyRaw instead.
func Apply(m FdMap) error {
	plan, err := planRemap(m)
	if err != nil {
		return err
	}

	return plan.apply()
}

func (p *remapPlan) apply() (err error) {
	devnull := -1
	defer func() {
		if devnull >= 0 {
			_ = unix.Close(devnull)
		}
	}()

	ensureTargetOpen := func(target int) error {
		if IsOpen(target) {
			return nil
		}

		if devnull < 0 {
			fd, oerr := unix.Open("/dev/null", unix.O_RDONLY, 0)
			if oerr != nil {
				return fmt.Errorf("%w: open /dev/null: %v", ErrIoFailure, oerr)
			}

			if fd == target {
				// The lowest free slot was the target itself, which is
				// now open on /dev/null; it is not the helper to close.
				return nil
			}

			devnull = fd
		}

		return unix.Dup2(devnull, target)
	}

	for _, t := range p.targets {
		if err := ensureTargetOpen(t); err != nil {
			return err
		}
	}

	// A source that is itself a target may be overwritten by a dup2
	// below before we've had a chance to read from it; shadow it with a
	// throwaway dup so later reads of "the original source" still work.
	targetSet := make(map[int]bool, len(p.targets))
	for _, t := range p.targets {
		targetSet[t] = true
	}

	shadow := make(map[int]int)
	defer func() {
		for _, fd := range shadow {
			_ = unix.Close(fd)
		}
	}()

	sourceSet := map[int]bool{}
	for _, s := range p.sources {
		if sourceSet[s] {
			continue
		}

		sourceSet[s] = true
		if targetSet[s] {
			dup, derr := unix.Dup(s)
			if derr != nil {
				return fmt.Errorf("%w: dup %d: %v", ErrIoFailure, s, derr)
			}

			shadow[s] = dup
		}
	}

	for i, t := range p.targets {
		src := p.sources[i]
		if dup, ok := shadow[src]; ok {
			src = dup
		}

		if err := unix.Dup2(src, t); err != nil {
			return fmt.Errorf("%w: dup2(%d, %d): %v", ErrIoFailure, src, t, err)
		}
	}

	for _, t := range p.toClose {
		if err := unix.Close(t); err != nil {
			return fmt.Errorf("%w: close(%d): %v", ErrIoFailure, t, err)
		}
	}

	return nil
}
