package procrecord

import (
	"testing"

	"procstats/internal/pool"
	"procstats/internal/state"
)

func noFanout(i int) *Record { panic("no fan-out expected") }

const pssThrottleMs int64 = 30 * 1000

// S1: single process, two state transitions, check committed + running duration.
func TestSetStateCommitsElapsedDuration(t *testing.T) {
	p := pool.New()
	r := NewCommon("com.x", 1000, "com.x")

	r.SetState(p, int(state.Top), state.MemFactorNormal, 100, 0, noFanout)
	r.SetState(p, int(state.Cached), state.MemFactorNormal, 1100, 0, noFanout)

	topBucket := state.CompositeBucket(int(state.Top), state.MemFactorNormal)
	if got := r.GetDuration(p, topBucket, 1200); got != 1000 {
		t.Fatalf("expected top bucket duration 1000, got %d", got)
	}

	cachedBucket := state.CompositeBucket(int(state.Cached), state.MemFactorNormal)
	if got := r.GetDuration(p, cachedBucket, 1200); got != 100 {
		t.Fatalf("expected running cached duration 100, got %d", got)
	}
}

// S3: PSS folding sequence {100, 400, 100} forced, expect min=100 max=400 count=3 avg=200.
func TestAddPSSRunningAverage(t *testing.T) {
	p := pool.New()
	r := NewCommon("com.x", 1000, "com.x")
	r.SetState(p, int(state.Top), state.MemFactorNormal, 0, 0, noFanout)

	r.AddPSS(p, 100, true, 0, pssThrottleMs)
	r.AddPSS(p, 400, true, 1, pssThrottleMs)
	r.AddPSS(p, 100, true, 2, pssThrottleMs)

	bucket := uint8(state.CompositeBucket(int(state.Top), state.MemFactorNormal))
	idx, ok := r.PSS.Find(bucket)
	if !ok {
		t.Fatalf("expected a PSS entry for the top bucket")
	}
	off := r.PSS.Offsets()[idx]
	if got := p.Get(off, pssSampleCount); got != 3 {
		t.Fatalf("expected count 3, got %d", got)
	}
	if got := p.Get(off, pssMinimum); got != 100 {
		t.Fatalf("expected min 100, got %d", got)
	}
	if got := p.Get(off, pssMaximum); got != 400 {
		t.Fatalf("expected max 400, got %d", got)
	}
	if got := p.Get(off, pssAverage); got != 200 {
		t.Fatalf("expected avg 200, got %d", got)
	}
}

// Invariant 7: throttling. Two non-forced samples within 30s in the same state
// leave the table unchanged after the first.
func TestAddPSSThrottled(t *testing.T) {
	p := pool.New()
	r := NewCommon("com.x", 1000, "com.x")
	r.SetState(p, int(state.Top), state.MemFactorNormal, 0, 0, noFanout)

	r.AddPSS(p, 100, false, 0, pssThrottleMs)
	r.AddPSS(p, 999, false, 5000, pssThrottleMs) // within 30s, same state: ignored

	bucket := uint8(state.CompositeBucket(int(state.Top), state.MemFactorNormal))
	idx, _ := r.PSS.Find(bucket)
	off := r.PSS.Offsets()[idx]
	if got := p.Get(off, pssSampleCount); got != 1 {
		t.Fatalf("expected throttled sample to be dropped, count=%d", got)
	}
	if got := p.Get(off, pssAverage); got != 100 {
		t.Fatalf("expected average unchanged at 100, got %d", got)
	}
}

// LastPSSState must start at state.Nothing, not Go's zero value, since bucket
// 0 (Persistent+MemFactorNormal+ScreenOff) is a legitimate composite state:
// a fresh record's very first non-forced PSS sample in that bucket must not
// be mistaken for a repeat of itself and throttled away.
func TestAddPSSNotThrottledOnFirstSampleInBucketZero(t *testing.T) {
	p := pool.New()
	r := NewCommon("com.x", 1000, "com.x")
	r.SetState(p, int(state.Persistent), state.MemFactorNormal, 100, 0, noFanout)

	r.AddPSS(p, 100, false, 100, pssThrottleMs)

	bucket := uint8(state.CompositeBucket(int(state.Persistent), state.MemFactorNormal))
	idx, ok := r.PSS.Find(bucket)
	if !ok {
		t.Fatalf("expected the first sample in bucket 0 to be recorded, not throttled")
	}
	off := r.PSS.Offsets()[idx]
	if got := p.Get(off, pssSampleCount); got != 1 {
		t.Fatalf("expected sample count 1, got %d", got)
	}
}

func TestCloneDeepCopiesDurationsNotPSS(t *testing.T) {
	p := pool.New()
	common := NewCommon("p1", 1000, "com.x")
	common.SetState(p, int(state.Top), state.MemFactorNormal, 0, 0, noFanout)
	common.SetState(p, int(state.Cached), state.MemFactorNormal, 500, 0, noFanout)
	common.AddPSS(p, 100, true, 500, pssThrottleMs)
	common.MultiPackage = true

	clone := common.Clone(p, "p2", 600)

	if clone.Common != common.Common {
		t.Fatalf("clone's common must point at the canonical record")
	}
	if clone.CurState != common.CurState {
		t.Fatalf("clone must inherit cur_state")
	}
	if clone.StartTime != 600 {
		t.Fatalf("clone must start its own interval at now")
	}

	topBucket := state.CompositeBucket(int(state.Top), state.MemFactorNormal)
	if got := clone.GetDuration(p, topBucket, 600); got != 500 {
		t.Fatalf("expected cloned top duration 500, got %d", got)
	}
	if clone.PSS.Len() != 0 {
		t.Fatalf("clone must start with an empty PSS table")
	}
}

func TestReportExcessiveFanOut(t *testing.T) {
	p := pool.New()
	common := NewCommon("p1", 1000, "com.x")
	common.MultiPackage = true
	clone := common.Clone(p, "p2", 0)

	pkgList := []*Record{clone}
	pull := func(i int) *Record { return pkgList[i] }

	common.ReportExcessiveWake(len(pkgList), pull)
	common.ReportExcessiveCPU(len(pkgList), pull)

	if common.ExcessiveWakeCount != 1 || common.ExcessiveCPUCount != 1 {
		t.Fatalf("expected common counters incremented")
	}
	if clone.ExcessiveWakeCount != 1 || clone.ExcessiveCPUCount != 1 {
		t.Fatalf("expected fan-out to clone")
	}
}
