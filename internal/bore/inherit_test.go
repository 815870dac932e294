package bore

import "testing"

func fairTaskWithPenalty(id int, penalty uint32) *Task {
	task := newFairTask(id)
	task.Penalty = penalty
	return task
}

func TestInheritDirectFreshCache(t *testing.T) {
	e := NewEngine()
	parent := fairTaskWithPenalty(1, 500)
	parent.Children = []*Task{
		fairTaskWithPenalty(2, 1000),
		fairTaskWithPenalty(3, 2000),
		fairTaskWithPenalty(4, 600),
	}
	child := newFairTask(5)
	now := uint64(200_000_000)

	e.InheritOnFork(child, parent, 0, now)

	if child.PrevPenalty != 1200 || child.Penalty != 1200 {
		t.Fatalf("expected inherited penalty 1200, got prev=%d applied=%d",
			child.PrevPenalty, child.Penalty)
	}
	if child.Count != 1 {
		t.Fatalf("expected smoothing window 1, got %d", child.Count)
	}
	if child.ChildCache.Stamp != 0 || child.GroupCache.Stamp != 0 {
		t.Fatalf("expected child's own caches invalidated, got %d %d",
			child.ChildCache.Stamp, child.GroupCache.Stamp)
	}
	if got := e.CacheRecomputes(); got != 1 {
		t.Fatalf("expected 1 aggregation, got %d", got)
	}
	if parent.ChildCache.Count != 3 || parent.ChildCache.Stamp != now {
		t.Fatalf("expected cache {count 3, stamp %d}, got %+v", now, parent.ChildCache)
	}
}

func TestInheritDirectCacheReuse(t *testing.T) {
	e := NewEngine()
	parent := fairTaskWithPenalty(1, 0)
	parent.Children = []*Task{fairTaskWithPenalty(2, 4000)}
	now := uint64(200_000_000)

	first := newFairTask(3)
	e.InheritOnFork(first, parent, 0, now)

	// Mutate the aggregate source; a fork inside the lifetime window must
	// still see the cached value.
	parent.Children[0].Penalty = 9999
	second := newFairTask(4)
	e.InheritOnFork(second, parent, 0, now+50_000_000)

	if second.Penalty != 4000 {
		t.Fatalf("expected cached penalty 4000, got %d", second.Penalty)
	}
	if got := e.CacheRecomputes(); got != 1 {
		t.Fatalf("expected a single aggregation, got %d", got)
	}

	third := newFairTask(5)
	e.InheritOnFork(third, parent, 0, now+150_000_000)

	if third.Penalty != 9999 {
		t.Fatalf("expected recomputed penalty 9999, got %d", third.Penalty)
	}
	if got := e.CacheRecomputes(); got != 2 {
		t.Fatalf("expected 2 aggregations after expiry, got %d", got)
	}
}

func TestInheritUsesParentPenaltyFloor(t *testing.T) {
	e := NewEngine()
	parent := fairTaskWithPenalty(1, 9000)
	parent.Children = []*Task{fairTaskWithPenalty(2, 100)}
	child := newFairTask(3)

	e.InheritOnFork(child, parent, 0, 200_000_000)

	if child.Penalty != 9000 {
		t.Fatalf("expected parent's penalty 9000 as floor, got %d", child.Penalty)
	}
}

func TestInheritSkipsIneligibleSiblings(t *testing.T) {
	e := NewEngine()
	parent := fairTaskWithPenalty(1, 300)
	rt := fairTaskWithPenalty(2, 50_000)
	rt.Class = ClassRealtime
	exiting := fairTaskWithPenalty(3, 60_000)
	exiting.Exiting = true
	parent.Children = []*Task{rt, exiting}
	child := newFairTask(4)

	e.InheritOnFork(child, parent, 0, 200_000_000)

	// No eligible siblings: average is 0, the parent's own penalty wins.
	if child.Penalty != 300 {
		t.Fatalf("expected penalty 300, got %d", child.Penalty)
	}
	if parent.ChildCache.Count != 0 {
		t.Fatalf("expected empty aggregate, got count %d", parent.ChildCache.Count)
	}
}

func TestInheritCloneParent(t *testing.T) {
	e := NewEngine()
	grandparent := fairTaskWithPenalty(1, 0)
	parent := fairTaskWithPenalty(2, 8000)
	parent.RealParent = grandparent
	grandparent.Children = []*Task{parent, fairTaskWithPenalty(3, 2000)}
	child := newFairTask(4)

	e.InheritOnFork(child, parent, CloneParent, 200_000_000)

	// CLONE_PARENT reparents the fork: the aggregate comes from the
	// grandparent's children.
	if child.Penalty != 5000 {
		t.Fatalf("expected sibling average 5000, got %d", child.Penalty)
	}
	if grandparent.ChildCache.Stamp == 0 {
		t.Fatalf("expected aggregation cached on the grandparent")
	}
}

func TestInheritCloneThread(t *testing.T) {
	e := NewEngine()
	leader := fairTaskWithPenalty(1, 3000)
	worker := fairTaskWithPenalty(2, 5000)
	worker.Leader = leader
	leader.Threads = []*Task{leader, worker}
	child := newFairTask(3)

	e.InheritOnFork(child, worker, CloneThread, 200_000_000)

	if child.Penalty != 4000 {
		t.Fatalf("expected thread-group average 4000, got %d", child.Penalty)
	}
	if leader.GroupCache.Count != 2 {
		t.Fatalf("expected group aggregate over 2 threads, got %d", leader.GroupCache.Count)
	}
	if leader.ChildCache.Stamp != 0 {
		t.Fatalf("expected child cache untouched by thread inheritance")
	}
}

func TestInheritIneligibleChildNoop(t *testing.T) {
	e := NewEngine()
	parent := fairTaskWithPenalty(1, 7000)
	parent.Children = []*Task{fairTaskWithPenalty(2, 7000)}
	child := newFairTask(3)
	child.Class = ClassRealtime

	e.InheritOnFork(child, parent, 0, 200_000_000)

	if child.Penalty != 0 || child.PrevPenalty != 0 {
		t.Fatalf("expected untouched record for ineligible child, got %+v", child)
	}
	if got := e.CacheRecomputes(); got != 0 {
		t.Fatalf("expected no aggregation, got %d", got)
	}
}

func TestInheritZeroStampFreshWithinLifetime(t *testing.T) {
	e := NewEngine()
	parent := fairTaskWithPenalty(1, 500)
	parent.Children = []*Task{fairTaskWithPenalty(2, 4000)}
	child := newFairTask(3)

	// A zero stamp counts as fresh until the lifetime has elapsed, so an
	// early fork sees the zero-valued cache instead of aggregating.
	e.InheritOnFork(child, parent, 0, 50_000_000)

	if child.Penalty != 0 {
		t.Fatalf("expected zero inherited penalty before first expiry, got %d", child.Penalty)
	}
	if got := e.CacheRecomputes(); got != 0 {
		t.Fatalf("expected no aggregation, got %d", got)
	}
}

func TestBurstCacheExpiryWraparound(t *testing.T) {
	bc := BurstCache{Stamp: ^uint64(0) - 10_000_000}

	if bc.expired(50_000_000) {
		t.Fatalf("expected cache fresh 60ms after stamp across wraparound")
	}
	if !bc.expired(95_000_000) {
		t.Fatalf("expected cache expired 105ms after stamp across wraparound")
	}
}
