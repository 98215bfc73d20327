package dfork

// rawRemapPlan is the async-signal-safe-section form of an FdMap: every
// slice below is allocated once, before any fork, sized so that the
// raw, post-fork application of the plan (spawn_linux.go's applyRaw)
// never allocates.
type rawRemapPlan struct {
	targets []int32
	sources []int32
	toClose []int32

	// scratch space for the shadow-dup bookkeeping in applyRaw, sized to
	// the worst case (every source distinct) so applyRaw only ever
	// writes into pre-existing slots.
	shadowSrc []int32
	shadowFD  []int32

	devNullPath []byte // NUL-terminated, for the raw open(2) call
}

func buildRawRemapPlan(plan *remapPlan) rawRemapPlan {
	rp := rawRemapPlan{
		targets:     make([]int32, len(plan.targets)),
		sources:     make([]int32, len(plan.sources)),
		toClose:     make([]int32, len(plan.toClose)),
		shadowSrc:   make([]int32, len(plan.sources)),
		shadowFD:    make([]int32, len(plan.sources)),
		devNullPath: append([]byte("/dev/null"), 0),
	}

	for i, t := range plan.targets {
		rp.targets[i] = int32(t)
	}

	for i, s := range plan.sources {
		rp.sources[i] = int32(s)
	}

	for i, t := range plan.toClose {
		rp.toClose[i] = int32(t)
	}

	return rp
}
