// Package servicerecord implements the per-service accumulator: three
// independent miniature state machines (started, bound, executing), each a
// fixed-size dense array indexed by the composite mem x screen factor.
//
// Grounded on the teacher's fixed-size dense-counter modules (disk/thread
// op-count arrays indexed directly by a small enum); the state-machine
// algorithm itself is pinned to ProcessTracker.java's ServiceState.
package servicerecord

import "procstats/internal/state"

// mode is one independent started/bound/executing state machine.
type mode struct {
	Durations [state.AdjCount]int64
	OpCount   int32
	CurState  int32
	StartTime int64
}

// set applies the started/bound/executing transition rule shared by all
// three modes: compute the new sub-state, no-op if unchanged, otherwise
// commit the elapsed time to the outgoing bucket (or bump OpCount on a
// Nothing->active transition) before swapping in the new state.
func (m *mode) set(active bool, memFactor int, now int64) {
	newState := int32(state.Nothing)
	if active {
		newState = int32(memFactor)
	}
	if m.CurState == newState {
		return
	}
	if m.CurState != state.Nothing {
		m.Durations[m.CurState] += now - m.StartTime
	} else if active {
		m.OpCount++
	}
	m.CurState = newState
	m.StartTime = now
}

// commitRunning folds any in-flight interval into Durations without
// changing CurState, used before serialization (mirrors
// ServiceState.writeToParcel's in-place flush).
func (m *mode) commitRunning(now int64) {
	if m.CurState != state.Nothing {
		m.Durations[m.CurState] += now - m.StartTime
		m.StartTime = now
	}
}

// Record is one declared service's three-mode accumulator.
type Record struct {
	Started   mode
	Bound     mode
	Executing mode
}

// New returns a fresh, all-Nothing service record.
func New() *Record {
	r := &Record{}
	r.Started.CurState = state.Nothing
	r.Bound.CurState = state.Nothing
	r.Executing.CurState = state.Nothing
	return r
}

// SetStarted transitions the started sub-state.
func (r *Record) SetStarted(active bool, memFactor int, now int64) {
	r.Started.set(active, memFactor, now)
}

// SetBound transitions the bound sub-state.
func (r *Record) SetBound(active bool, memFactor int, now int64) {
	r.Bound.set(active, memFactor, now)
}

// SetExecuting transitions the executing sub-state.
func (r *Record) SetExecuting(active bool, memFactor int, now int64) {
	r.Executing.set(active, memFactor, now)
}

// CommitRunning flushes any in-flight interval on all three modes into their
// duration arrays, called before serialization.
func (r *Record) CommitRunning(now int64) {
	r.Started.commitRunning(now)
	r.Bound.commitRunning(now)
	r.Executing.commitRunning(now)
}

// IsStartedActive reports whether the started mode is currently running
// (used by GlobalState.SetMemFactor to decide which records to re-arm).
func (r *Record) IsStartedActive() bool { return r.Started.CurState != state.Nothing }

// IsBoundActive reports whether the bound mode is currently running.
func (r *Record) IsBoundActive() bool { return r.Bound.CurState != state.Nothing }
