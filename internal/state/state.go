// Package state defines the shared composite-state constants and helpers
// used across the process/service accumulators and the codec: the process
// lifecycle states, the memory/screen factor, and the 8-bit composite bucket
// key that indexes every SparseStateTable.
//
// Constants are pinned to ProcessTracker.java's STATE_COUNT/ADJ_COUNT/
// PSS_COUNT/STATE_NOTHING so the on-disk format and bucket math match.
package state

// ProcState enumerates the coarse process lifecycle states.
type ProcState int32

const (
	Persistent ProcState = iota
	Top
	Foreground
	Visible
	Perceptible
	Backup
	Service
	Home
	Previous
	Cached
)

// StateCount is the number of distinct ProcState values (ProcessTracker.java: STATE_COUNT).
const StateCount = 10

// AdjCount is the number of mem-factor x screen composite values (ProcessTracker.java: ADJ_COUNT).
const AdjCount = 8

// PssCount is the number of longs reserved per PSS table entry: {count, min, avg, max}.
const PssCount = 4

// Nothing is the sentinel meaning "not running / not tracked" for both
// process composite state and service sub-state.
const Nothing = -1

// Mem-factor levels, before folding in screen state.
const (
	MemFactorNormal = iota
	MemFactorModerate
	MemFactorLow
	MemFactorCritical
)

// Screen contribution to the composite mem factor: ON adds AdjCount/2.
const (
	ScreenOff = 0
	ScreenOn  = AdjCount / 2
)

// CompositeMemFactor folds a mem-factor level and screen-on flag into the
// 0..AdjCount-1 range used to index ServiceRecord's dense arrays and to scale
// ProcessRecord's composite bucket.
func CompositeMemFactor(memFactor int, screenOn bool) int {
	mf := memFactor
	if screenOn {
		mf += ScreenOn
	}
	return mf
}

// CompositeBucket folds a process state and a composite mem factor into the
// 8-bit bucket key stored in every packed offset's type tag. Returns Nothing
// unchanged when procState is Nothing.
func CompositeBucket(procState int, memFactor int) int {
	if procState == Nothing {
		return Nothing
	}
	return procState + memFactor*StateCount
}
