package compute

// ScratchGrain is the granularity of scratch buffer capacity: the size of
// one uint32 scratch counter word. Scratch requests are rounded up to
// whole grains.
const ScratchGrain = 4

// verifyInitializedLocked checks that the context holds a live queue.
// Operations that hand out pointers log the misuse and yield nil instead
// of failing hard; callers must check. Caller must hold mu.
func (c *Context) verifyInitializedLocked(op string) bool {
	if c.queue != nil {
		return true
	}
	Logger().Warn("compute: device not initialized", "op", op,
		"instance_id", c.instanceID, "finalized", c.wasFinalized)
	return false
}

// ScratchSpace returns device scratch memory of at least size bytes,
// rounded up to the grain size. Capacity only grows: a request at or
// below the current capacity returns the existing pointer. Growth
// releases the old buffer's reference and allocates a fresh one, so
// callers must not hold scratch pointers across a larger request.
//
// Returns nil (logged) when the context is not initialized or allocation
// fails.
func (c *Context) ScratchSpace(size int) Ptr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.verifyInitializedLocked("ScratchSpace") {
		return nil
	}
	rec, grains, ok := c.growScratchLocked(c.scratchSpace, c.spaceGrains, size, labelScratchSpace)
	c.scratchSpace, c.spaceGrains = rec, grains
	if !ok || rec == nil {
		return nil
	}
	return rec.Data()
}

// ScratchFlags returns device memory for atomic flags of at least size
// bytes, with the same growth policy as ScratchSpace. The buffer is
// zero-filled and fenced on every call, not only on growth: callers rely
// on flags starting at zero each time.
//
// Returns nil (logged) when the context is not initialized, or when
// allocation, memset or the fence fails.
func (c *Context) ScratchFlags(size int) Ptr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.verifyInitializedLocked("ScratchFlags") {
		return nil
	}
	rec, grains, ok := c.growScratchLocked(c.scratchFlags, c.flagsGrains, size, labelScratchFlags)
	c.scratchFlags, c.flagsGrains = rec, grains
	if !ok || rec == nil {
		return nil
	}

	ev, err := c.queue.Memset(rec.Data(), 0, grains*ScratchGrain)
	if err != nil {
		Logger().Warn("compute: scratch flags memset failed", "err", err,
			"instance_id", c.instanceID)
		return nil
	}
	if err := c.fence(ev,
		"gogpu/compute: scratch flags: fence after zero fill"); err != nil {
		Logger().Warn("compute: scratch flags fence failed", "err", err,
			"instance_id", c.instanceID)
		return nil
	}
	return rec.Data()
}

// growScratchLocked applies the grow-only policy to one scratch buffer:
// if the grain-rounded capacity already covers size, the current record
// is returned unchanged; otherwise the old record's reference is released
// and a fresh record allocated. The bool is false on allocation failure
// (logged), in which case the old record is already gone. Caller must
// hold mu and store the returned record.
func (c *Context) growScratchLocked(cur *Record, curGrains, size int, label string) (*Record, int, bool) {
	if curGrains*ScratchGrain >= size {
		return cur, curGrains, true
	}
	grains := (size + ScratchGrain - 1) / ScratchGrain
	if cur != nil {
		cur.Release()
	}
	rec, err := newRecord(c.queue, AllocDevice, label, grains*ScratchGrain)
	if err != nil {
		Logger().Warn("compute: scratch allocation failed", "label", label,
			"size", size, "err", err, "instance_id", c.instanceID)
		return nil, 0, false
	}
	Logger().Debug("compute: scratch buffer grown", "label", label,
		"grains", grains, "instance_id", c.instanceID)
	return rec, grains, true
}
