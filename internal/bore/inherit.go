package bore

// updateBurstCache refreshes a cache entry from an aggregate of cnt
// members summing to sum. The cached value is floored by the cache
// owner's own applied penalty.
func (e *Engine) updateBurstCache(bc *BurstCache, owner *Task, cnt, sum uint32, now uint64) {
	var avg uint32
	if cnt > 0 {
		avg = sum / cnt
	}

	bc.Value = avg
	if owner.Penalty > avg {
		bc.Value = owner.Penalty
	}
	bc.Count = cnt
	bc.Stamp = now

	e.cacheRecomputes++
}

func (e *Engine) updateChildBurst(p *Task, now uint64) {
	var cnt, sum uint32
	for _, child := range p.Children {
		if !child.Eligible() {
			continue
		}
		cnt++
		sum += child.Penalty
	}
	e.updateBurstCache(&p.ChildCache, p, cnt, sum, now)
}

func (e *Engine) inheritDirect(parent *Task, now uint64, cloneFlags uint64) uint32 {
	if cloneFlags&CloneParent != 0 && parent.RealParent != nil {
		parent = parent.RealParent
	}

	if parent.ChildCache.expired(now) {
		e.updateChildBurst(parent, now)
	}
	return parent.ChildCache.Value
}

func (e *Engine) updateGroupBurst(leader *Task, now uint64) {
	var cnt, sum uint32
	for _, task := range leader.Threads {
		if !task.Eligible() {
			continue
		}
		cnt++
		sum += task.Penalty
	}
	e.updateBurstCache(&leader.GroupCache, leader, cnt, sum, now)
}

func (e *Engine) inheritGroup(parent *Task, now uint64) uint32 {
	leader := parent.Leader
	if leader == nil {
		leader = parent
	}

	if leader.GroupCache.expired(now) {
		e.updateGroupBurst(leader, now)
	}
	return leader.GroupCache.Value
}

// InheritOnFork seeds a newly forked task's burst history from its
// relatives: thread creation inherits the thread group's aggregate, plain
// fork the parent's children aggregate. Both aggregates are floored by
// their owner's own penalty and served from a cache no older than
// CacheLifetime. The child's smoothing window restarts at 1 and its own
// caches are invalidated.
func (e *Engine) InheritOnFork(child, parent *Task, cloneFlags uint64, now uint64) {
	if !child.Eligible() {
		return
	}

	var penalty uint32
	if cloneFlags&CloneThread != 0 {
		penalty = e.inheritGroup(parent, now)
	} else {
		penalty = e.inheritDirect(parent, now, cloneFlags)
	}

	restartBurst(child)
	if penalty > child.PrevPenalty {
		child.PrevPenalty = penalty
	}
	child.Penalty = child.PrevPenalty
	child.Count = 1
	child.ChildCache.Stamp = 0
	child.GroupCache.Stamp = 0
}
