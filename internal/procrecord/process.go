// Package procrecord implements the per-process lifecycle accumulator: a
// state machine that folds point-in-time transitions into total-time-in-
// state integrals, plus PSS sampling and excessive-behavior counters.
//
// Grounded on the teacher's ProcessData/ProcessInfo split (hot mutable
// counters kept apart from identity fields) and its sync.Pool-recycled
// control-block shape; the state-machine and PSS-folding algorithms
// themselves are pinned to ProcessTracker.java's ProcessState inner class.
package procrecord

import (
	"math"

	"procstats/internal/pool"
	"procstats/internal/sparsetable"
	"procstats/internal/state"
)

const (
	pssSampleCount = 0
	pssMinimum     = 1
	pssAverage     = 2
	pssMaximum     = 3
)

// Record is one process's lifecycle and memory-sample accumulator. A
// "common" record is the canonical copy for a (name, uid) pair; clones are
// per-package copies produced once multiple packages share a process name.
type Record struct {
	Package string
	UID     uint32
	Name    string

	// Common points at the canonical record for this (name, uid); a
	// common record points at itself.
	Common *Record

	MultiPackage bool

	CurState  int32
	StartTime int64

	Durations *sparsetable.Table
	PSS       *sparsetable.Table

	LastPSSState int32
	LastPSSTime  int64

	ExcessiveWakeCount int32
	ExcessiveCPUCount  int32
}

// NewCommon creates a fresh canonical record for (pkg, uid, name). The
// caller is responsible for inserting it into the process registry.
func NewCommon(pkg string, uid uint32, name string) *Record {
	r := &Record{
		Package:      pkg,
		UID:          uid,
		Name:         name,
		CurState:     state.Nothing,
		LastPSSState: state.Nothing,
		Durations:    sparsetable.New(),
		PSS:          sparsetable.New(),
	}
	r.Common = r
	return r
}

// SetState translates newProcState into the composite bucket (or keeps
// Nothing) and applies it to r's common record (r itself when r is the
// common record), fanning out across pkgCount entries if that record is
// multi-package. pullFixed resolves a possibly-stale pkgList entry at index i
// to its current per-package record, matching PackageRegistry.pull_fixed.
func (r *Record) SetState(p *pool.LongPool, newProcState int, memFactor int, now int64, pkgCount int, pullFixed func(i int) *Record) {
	composite := newProcState
	if composite != state.Nothing {
		composite += memFactor * state.StateCount
	}

	common := r.Common
	common.setStateInternal(p, composite, now)

	if !common.MultiPackage {
		return
	}

	for i := 0; i < pkgCount; i++ {
		fixed := pullFixed(i)
		fixed.setStateInternal(p, composite, now)
	}
}

// setStateInternal applies a pre-computed composite bucket to this specific
// record only (no fan-out), mirroring ProcessState.setState(int, long) in
// the source tracker.
func (r *Record) setStateInternal(p *pool.LongPool, composite int, now int64) {
	if int32(composite) != r.CurState {
		r.CommitStateTime(p, now)
		r.CurState = int32(composite)
	}
}

// CommitStateTime folds the elapsed time since StartTime into the duration
// slot for CurState (allocating it if this is the first visit), then
// unconditionally rewrites StartTime. This is the sole point at which
// durations accumulate.
func (r *Record) CommitStateTime(p *pool.LongPool, now int64) {
	if r.CurState != state.Nothing {
		dur := now - r.StartTime
		off := r.durationSlot(p, uint8(r.CurState))
		p.Set(off, 0, p.Get(off, 0)+dur)
	}
	r.StartTime = now
}

func (r *Record) durationSlot(p *pool.LongPool, bucket uint8) pool.Offset {
	if idx, ok := r.Durations.Find(bucket); ok {
		return r.Durations.Offsets()[idx]
	}
	return r.Durations.Insert(p, bucket, 1)
}

func (r *Record) pssSlot(p *pool.LongPool, bucket uint8) pool.Offset {
	if idx, ok := r.PSS.Find(bucket); ok {
		return r.PSS.Offsets()[idx]
	}
	return r.PSS.Insert(p, bucket, state.PssCount)
}

// AddPSS folds a PSS sample into the table for CurState, subject to a
// throttleMs gap between non-forced samples in the same state (ProcessTracker.java:
// mLastPssState/mLastPssTime, default window 30*1000ms, configurable here via
// config.StorageConfig.PSSThrottle). The running average is computed in
// float64 and truncated, matching the source tracker bit-for-bit.
func (r *Record) AddPSS(p *pool.LongPool, pss int64, force bool, now int64, throttleMs int64) {
	if !force {
		if r.LastPSSState == r.CurState && now < r.LastPSSTime+throttleMs {
			return
		}
	}
	r.LastPSSState = r.CurState
	r.LastPSSTime = now

	if r.CurState == state.Nothing {
		return
	}

	off := r.pssSlot(p, uint8(r.CurState))
	count := p.Get(off, pssSampleCount)
	if count == 0 {
		p.Set(off, pssSampleCount, 1)
		p.Set(off, pssMinimum, pss)
		p.Set(off, pssAverage, pss)
		p.Set(off, pssMaximum, pss)
		return
	}

	p.Set(off, pssSampleCount, count+1)
	if p.Get(off, pssMinimum) > pss {
		p.Set(off, pssMinimum, pss)
	}
	avg := p.Get(off, pssAverage)
	newAvg := int64(math.Floor((float64(avg)*float64(count) + float64(pss)) / float64(count+1)))
	p.Set(off, pssAverage, newAvg)
	if p.Get(off, pssMaximum) < pss {
		p.Set(off, pssMaximum, pss)
	}
}

// ReportExcessiveWake increments the wake-kill counter on this record (the
// common record) and, if multi-package, on every resolved per-package record.
func (r *Record) ReportExcessiveWake(pkgCount int, pullFixed func(i int) *Record) {
	common := r.Common
	common.ExcessiveWakeCount++
	if !common.MultiPackage {
		return
	}
	for i := 0; i < pkgCount; i++ {
		pullFixed(i).ExcessiveWakeCount++
	}
}

// ReportExcessiveCPU increments the cpu-kill counter, fanning out the same way.
func (r *Record) ReportExcessiveCPU(pkgCount int, pullFixed func(i int) *Record) {
	common := r.Common
	common.ExcessiveCPUCount++
	if !common.MultiPackage {
		return
	}
	for i := 0; i < pkgCount; i++ {
		pullFixed(i).ExcessiveCPUCount++
	}
}

// Clone produces a per-package copy of r (intended to be called on the
// common record or another existing record being split): it deep-copies
// every duration slot into freshly allocated pool entries, copies the
// excessive counters, inherits CurState, and starts a fresh StartTime. The
// PSS table is intentionally left empty (see design notes: PSS is
// high-frequency and not considered worth duplicating across package
// splits). Common of the clone points back at r.Common.
func (r *Record) Clone(p *pool.LongPool, newPkg string, now int64) *Record {
	clone := &Record{
		Package:            newPkg,
		UID:                r.UID,
		Name:               r.Name,
		Common:             r.Common,
		CurState:           r.CurState,
		StartTime:          now,
		LastPSSState:       state.Nothing,
		Durations:          sparsetable.New(),
		PSS:                sparsetable.New(),
		ExcessiveWakeCount: r.ExcessiveWakeCount,
		ExcessiveCPUCount:  r.ExcessiveCPUCount,
	}

	r.Durations.Enumerate(func(bucket uint8, off pool.Offset) {
		newOff := clone.Durations.Insert(p, bucket, 1)
		p.Set(newOff, 0, p.Get(off, 0))
	})

	return clone
}

// GetDuration returns the accumulated time for bucket, including the
// currently-running delta if CurState equals bucket.
func (r *Record) GetDuration(p *pool.LongPool, bucket int, now int64) int64 {
	var total int64
	if idx, ok := r.Durations.Find(uint8(bucket)); ok {
		off := r.Durations.Offsets()[idx]
		total = p.Get(off, 0)
	}
	if int(r.CurState) == bucket {
		total += now - r.StartTime
	}
	return total
}
