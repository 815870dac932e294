package bore

// Class identifies the scheduling class a task runs under.
type Class int

const (
	ClassFair Class = iota
	ClassRealtime
	ClassDeadline
	ClassIdle
)

// Clone flag bits relevant to burst inheritance, matching clone(2).
const (
	CloneParent uint64 = 0x00008000
	CloneThread uint64 = 0x00010000
)

// BurstCache holds a cached aggregate of related tasks' burst penalties.
type BurstCache struct {
	Value uint32
	Count uint32
	Stamp uint64
}

// expired reports whether the entry is older than CacheLifetime at time
// now. The signed difference keeps the comparison valid across clock
// wraparound.
func (bc *BurstCache) expired(now uint64) bool {
	return int64(bc.Stamp+CacheLifetime-now) < 0
}

// Task is a per-task burst record plus the identity and relationship
// fields burst accounting reads. The owning host serializes all mutation
// of a given task; nothing here is touched from two callers at once.
type Task struct {
	ID         int
	Name       string
	StaticPrio uint8 // MaxRTPrio .. MaxRTPrio+NiceWidth-1
	Class      Class
	KernelTask bool
	Exiting    bool

	BurstTime   uint64
	CurrPenalty uint32
	PrevPenalty uint32
	Penalty     uint32
	Score       uint8
	Count       uint8 // smoothing window, 1..Smoothness

	ChildCache BurstCache
	GroupCache BurstCache

	// Fair-entity bookkeeping consumed by deadline rescaling. The host
	// maintains both; RestartBurstRescaleDeadline rewrites Deadline.
	Vruntime uint64
	Deadline uint64

	// Relationship links maintained by the host. Threads is kept on the
	// group leader and includes the leader itself.
	RealParent *Task
	Leader     *Task
	Children   []*Task
	Threads    []*Task
}

// Eligible reports whether the task participates in burst accounting and
// inheritance.
func (t *Task) Eligible() bool {
	return t != nil && t.Class == ClassFair && !t.Exiting
}
