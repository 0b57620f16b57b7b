// Package global implements GlobalState: the orchestrating facade that owns
// the LongPool, the two registries, the device memory-factor, and the
// time-period window, and wires them to a Persistor for disk round-trips.
//
// Grounded on the teacher's KernelStateManager facade (internal/kernel/
// statemanager/state_manager.go): a singleton-shaped orchestrator delegating
// to specialized sub-components, here LongPool + Registry instead of
// ProcessManager + SystemState. Unlike the teacher, this facade assumes a
// single external caller-held lock (see design notes) rather than managing
// its own internal concurrency.
package global

import (
	"fmt"

	"procstats/internal/codec"
	"procstats/internal/logger"
	"procstats/internal/persist"
	"procstats/internal/pool"
	"procstats/internal/procrecord"
	"procstats/internal/registry"
	"procstats/internal/servicerecord"
	"procstats/internal/state"
)

// UIDTotals is a derived, read-only rollup of a uid's per-bucket durations
// across every package it owns (supplemented from the original tracker's
// lazily-computed uid aggregate; not separately persisted).
type UIDTotals map[int]int64

// GlobalState is the single entry point external callers use to record
// process/service events and to trigger persistence. Every mutating method
// assumes the caller holds one external lock; GlobalState does not re-enter
// any lock of its own.
type GlobalState struct {
	pool *pool.LongPool
	reg  *registry.Registry

	memFactor          int32
	memFactorStartTime int64
	memFactorDurations [state.AdjCount]int64

	timePeriodStart int64
	timePeriodEnd   int64

	shuttingDown bool

	persistor     *persist.Persistor
	writeInterval int64
	pssThrottleMs int64

	log *logger.SampledLogger
}

// New creates an empty GlobalState backed by a Persistor rooted at baseDir.
// writeIntervalMs is the threshold ShouldWriteNow uses and pssThrottleMs is
// the minimum gap AddPSS enforces between non-forced samples in the same
// state (the "30 minutes" / "30 seconds" defaults belong to the caller; this
// package carries no config dependency of its own).
func New(baseDir string, writeIntervalMs int64, pssThrottleMs int64, now int64) (*GlobalState, error) {
	p, err := persist.New(baseDir)
	if err != nil {
		return nil, fmt.Errorf("global: %w", err)
	}
	g := &GlobalState{
		pool:            pool.New(),
		reg:             registry.New(),
		memFactor:       int32(state.Nothing),
		timePeriodStart: now,
		timePeriodEnd:   now,
		persistor:       p,
		writeInterval:   writeIntervalMs,
		pssThrottleMs:   pssThrottleMs,
		log:             logger.NewSampledLoggerCtx("global"),
	}
	return g, nil
}

// MemFactor returns the current device memory factor, defaulting to NORMAL
// (0) when it has never been set, matching the original tracker's
// getMemFactorLocked fallback.
func (g *GlobalState) MemFactor() int {
	if g.memFactor == int32(state.Nothing) {
		return 0
	}
	return int(g.memFactor)
}

// GetProcess resolves (creating if absent) the per-package process handle.
func (g *GlobalState) GetProcess(pkg string, uid uint32, name string, now int64) *procrecord.Record {
	return g.reg.GetProcess(pkg, uid, name, now, g.pool)
}

// GetService resolves (creating if absent) the per-package service handle.
func (g *GlobalState) GetService(pkg string, uid uint32, name string) *servicerecord.Record {
	return g.reg.Service(pkg, uid, name)
}

// ProcessDuration returns proc's accumulated time in bucket, including the
// in-flight interval if proc is currently in it. Exposed so read-only
// reporting code (dump, diagnostics) can read durations without reaching
// into the LongPool directly.
func (g *GlobalState) ProcessDuration(proc *procrecord.Record, bucket int, now int64) int64 {
	return proc.GetDuration(g.pool, bucket, now)
}

// AddPSS folds a memory sample into proc's PSS table for its current state,
// subject to the configured pssThrottleMs gap between non-forced samples.
func (g *GlobalState) AddPSS(proc *procrecord.Record, pss int64, force bool, now int64) {
	proc.AddPSS(g.pool, pss, force, now, g.pssThrottleMs)
}

// SetState applies a process-state transition to proc's common record (proc
// is the handle returned by GetProcess, often but not necessarily the common
// record itself) and, when that record is multi-package, fans it out across
// pkgList via the registry's pull_fixed resolution.
func (g *GlobalState) SetState(proc *procrecord.Record, newProcState int, now int64, pkgList []registry.PkgEntry) {
	proc.SetState(g.pool, newProcState, g.MemFactor(), now, len(pkgList), func(i int) *procrecord.Record {
		return g.reg.PullFixed(pkgList, i)
	})
}

// ReportExcessiveWake increments proc's wake-kill counter and fans out across pkgList.
func (g *GlobalState) ReportExcessiveWake(proc *procrecord.Record, pkgList []registry.PkgEntry) {
	proc.ReportExcessiveWake(len(pkgList), func(i int) *procrecord.Record {
		return g.reg.PullFixed(pkgList, i)
	})
}

// ReportExcessiveCPU increments proc's cpu-kill counter and fans out across pkgList.
func (g *GlobalState) ReportExcessiveCPU(proc *procrecord.Record, pkgList []registry.PkgEntry) {
	proc.ReportExcessiveCPU(len(pkgList), func(i int) *procrecord.Record {
		return g.reg.PullFixed(pkgList, i)
	})
}

// SetMemFactor folds factor and screenOn into the composite device memory
// factor. If it differs from the current one, the elapsed time since the
// last change is accumulated into memFactorDurations, the new factor is
// armed, and every currently-active started/bound service mode is re-armed
// in the new bucket (process records are not refreshed here; callers must
// reissue SetState per process after a mem-factor change). Returns whether
// the factor actually changed.
func (g *GlobalState) SetMemFactor(factor int, screenOn bool, now int64) bool {
	mf := state.CompositeMemFactor(factor, screenOn)
	if int32(mf) == g.memFactor {
		return false
	}

	if g.memFactor != int32(state.Nothing) {
		g.memFactorDurations[g.memFactor] += now - g.memFactorStartTime
	}
	g.memFactor = int32(mf)
	g.memFactorStartTime = now

	g.reg.RangePackages(func(pkg string, uid uint32, rec *registry.PackageRecord) bool {
		for _, svc := range rec.Services {
			if svc.IsStartedActive() {
				svc.SetStarted(true, mf, now)
			}
			if svc.IsBoundActive() {
				svc.SetBound(true, mf, now)
			}
		}
		return true
	})

	return true
}

// AggregateUID walks the package registry for uid and sums each bucket's
// accumulated (stored plus in-flight) duration across every package it owns.
// Derived state, not separately persisted; consistent with time-conservation
// per process (each package's own total still adds up independently).
func (g *GlobalState) AggregateUID(uid uint32, now int64) UIDTotals {
	totals := make(UIDTotals)
	g.reg.RangePackages(func(pkg string, pkgUID uint32, rec *registry.PackageRecord) bool {
		if pkgUID != uid {
			return true
		}
		for _, proc := range rec.Processes {
			proc.Durations.Enumerate(func(bucket uint8, off pool.Offset) {
				totals[int(bucket)] += g.pool.Get(off, 0)
			})
			if proc.CurState != int32(state.Nothing) {
				totals[int(proc.CurState)] += now - proc.StartTime
			}
		}
		return true
	})
	return totals
}

// commitAllRunning folds every record's in-flight interval into its duration
// tables before a snapshot is taken, matching the codec's requirement that
// commit_state_time (and the service CommitRunning equivalent) has already
// run over every record.
func (g *GlobalState) commitAllRunning(now int64) {
	g.reg.RangeProcesses(func(name string, uid uint32, rec *procrecord.Record) bool {
		rec.CommitStateTime(g.pool, now)
		return true
	})
	g.reg.RangePackages(func(pkg string, uid uint32, rec *registry.PackageRecord) bool {
		for _, proc := range rec.Processes {
			if proc.Common != proc {
				proc.CommitStateTime(g.pool, now)
			}
		}
		for _, svc := range rec.Services {
			svc.CommitRunning(now)
		}
		return true
	})
}

// Snapshot commits every in-flight interval and returns the plain codec
// snapshot of the current state, stamping time_period_end at now.
func (g *GlobalState) Snapshot(now int64) codec.Snapshot {
	g.commitAllRunning(now)
	g.timePeriodEnd = now
	return codec.Snapshot{
		Pool:               g.pool,
		Registry:           g.reg,
		MemFactorDurations: g.memFactorDurations,
		TimePeriodStart:    g.timePeriodStart,
		TimePeriodEnd:      g.timePeriodEnd,
	}
}

// LoadSnapshot replaces every owned component with the contents of snap,
// called after a successful Decode.
func (g *GlobalState) LoadSnapshot(snap codec.Snapshot) {
	g.pool = snap.Pool
	g.reg = snap.Registry
	g.memFactorDurations = snap.MemFactorDurations
	g.timePeriodStart = snap.TimePeriodStart
	g.timePeriodEnd = snap.TimePeriodEnd
	g.memFactor = int32(state.Nothing)
}

// ReadFromDisk loads and decodes the persisted snapshot. On any structural
// failure it logs a warning and falls back to Reset, per the defensive-read
// contract: a failed read must never leave partial data visible.
func (g *GlobalState) ReadFromDisk(now int64) {
	snap, ok := g.persistor.Load()
	if !ok {
		g.log.Warnf("read", "no usable snapshot on disk at startup; starting from a fresh reset")
		g.Reset(now)
		return
	}
	g.LoadSnapshot(snap)
}

// WriteAsync snapshots the current state under the caller's lock and hands
// the encoded buffer to the Persistor's background goroutine.
func (g *GlobalState) WriteAsync(now int64) error {
	if g.shuttingDown {
		return nil
	}
	return g.persistor.WriteState(g.Snapshot(now), now, false)
}

// WriteSync snapshots and commits the current state to disk before returning.
func (g *GlobalState) WriteSync(now int64) error {
	if g.shuttingDown {
		return nil
	}
	return g.persistor.WriteState(g.Snapshot(now), now, true)
}

// ShouldWriteNow reports whether more than the configured write interval has
// elapsed since the last stamped write.
func (g *GlobalState) ShouldWriteNow(now int64) bool {
	return g.persistor.ShouldWriteNow(now, g.writeInterval)
}

// Reset drops every record, clears the LongPool, and restarts the time window.
func (g *GlobalState) Reset(now int64) {
	g.pool = pool.New()
	g.reg = registry.New()
	g.memFactor = int32(state.Nothing)
	g.memFactorStartTime = 0
	g.memFactorDurations = [state.AdjCount]int64{}
	g.timePeriodStart = now
	g.timePeriodEnd = now
}

// Shutdown stops accepting further writes and drains the Persistor's
// background goroutine after flushing any pending commit.
func (g *GlobalState) Shutdown() {
	if g.shuttingDown {
		return
	}
	g.shuttingDown = true
	g.persistor.Shutdown()
}

// PoolArrayCount and PoolLongsUsed expose LongPool growth for diagnostics.
func (g *GlobalState) PoolArrayCount() int { return g.pool.ArrayCount() }
func (g *GlobalState) PoolLongsUsed() int  { return g.pool.UsedInTail() }

// ProcessCount and PackageCount expose registry size for diagnostics.
func (g *GlobalState) ProcessCount() int {
	count := 0
	g.reg.RangeProcesses(func(name string, uid uint32, rec *procrecord.Record) bool {
		count++
		return true
	})
	return count
}

func (g *GlobalState) PackageCount() int {
	count := 0
	g.reg.RangePackages(func(pkg string, uid uint32, rec *registry.PackageRecord) bool {
		count++
		return true
	})
	return count
}

// LastWriteDuration and WriteFailures expose Persistor telemetry for diagnostics.
func (g *GlobalState) LastWriteDuration() int64 { return int64(g.persistor.LastWriteDuration()) }
func (g *GlobalState) LastWriteTimestamp() int64 { return g.persistor.LastWriteTime() }
func (g *GlobalState) WriteFailures() int64      { return g.persistor.WriteFailures() }

// Process returns reg's process-registry lookup for read-only callers (dump/CLI).
func (g *GlobalState) Process(name string, uid uint32) (*procrecord.Record, bool) {
	return g.reg.Process(name, uid)
}

// RangeProcesses and RangePackages expose read-only iteration for dump/CLI callers.
func (g *GlobalState) RangeProcesses(f func(name string, uid uint32, rec *procrecord.Record) bool) {
	g.reg.RangeProcesses(f)
}

func (g *GlobalState) RangePackages(f func(pkg string, uid uint32, rec *registry.PackageRecord) bool) {
	g.reg.RangePackages(f)
}

// MemFactorDurations returns a copy of the accumulated per-bucket device
// memory-factor run-time block, for the human dumper's trailing section.
func (g *GlobalState) MemFactorDurations() [state.AdjCount]int64 {
	return g.memFactorDurations
}

// TimePeriod returns the current window bounds.
func (g *GlobalState) TimePeriod() (start, end int64) {
	return g.timePeriodStart, g.timePeriodEnd
}
