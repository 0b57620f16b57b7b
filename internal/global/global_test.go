package global

import (
	"testing"

	"procstats/internal/state"
)

func newTestState(t *testing.T) *GlobalState {
	t.Helper()
	g, err := New(t.TempDir(), 1800000, 30000, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(g.Shutdown)
	return g
}

func TestGetProcessAndSetState(t *testing.T) {
	g := newTestState(t)

	proc := g.GetProcess("com.x", 1000, "com.x", 0)
	g.SetState(proc, int(state.Top), 100, nil)
	g.SetState(proc, int(state.Cached), 1100, nil)

	topBucket := state.CompositeBucket(int(state.Top), g.MemFactor())
	if d := proc.GetDuration(g.pool, topBucket, 1100); d != 1000 {
		t.Fatalf("expected 1000ms committed in TOP bucket, got %d", d)
	}
}

func TestSetMemFactorReArmsActiveServices(t *testing.T) {
	g := newTestState(t)

	svc := g.GetService("com.x", 1000, "svc.worker")
	svc.SetBound(true, g.MemFactor(), 0)

	changed := g.SetMemFactor(state.MemFactorLow, true, 500)
	if !changed {
		t.Fatalf("expected the first SetMemFactor call to report a change")
	}

	newComposite := state.CompositeMemFactor(state.MemFactorLow, true)
	if svc.Bound.CurState != int32(newComposite) {
		t.Fatalf("expected bound mode to re-arm in the new composite bucket")
	}
	if svc.Bound.Durations[0] != 500 {
		t.Fatalf("expected 500ms committed to the old bucket on the flip, got %d", svc.Bound.Durations[0])
	}

	if g.SetMemFactor(state.MemFactorLow, true, 600) {
		t.Fatalf("expected a no-op SetMemFactor call (same factor) to report no change")
	}
}

// TestWriteSyncThenReadFromDiskRoundTrips simulates a process restart: a
// second GlobalState backed by the same base directory picks up exactly
// what the first one committed.
func TestWriteSyncThenReadFromDiskRoundTrips(t *testing.T) {
	dir := t.TempDir()

	g, err := New(dir, 1800000, 30000, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	proc := g.GetProcess("com.x", 1000, "com.x", 0)
	g.SetState(proc, int(state.Top), 100, nil)

	if err := g.WriteSync(500); err != nil {
		t.Fatalf("WriteSync: %v", err)
	}
	g.Shutdown()

	fresh, err := New(dir, 1800000, 30000, 0)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	t.Cleanup(fresh.Shutdown)
	fresh.ReadFromDisk(500)

	back, ok := fresh.Process("com.x", 1000)
	if !ok {
		t.Fatalf("expected proc.com.x to survive a disk round trip")
	}
	topBucket := state.CompositeBucket(int(state.Top), fresh.MemFactor())
	if d := back.GetDuration(fresh.pool, topBucket, 500); d != 400 {
		t.Fatalf("expected 400ms in TOP bucket after round trip, got %d", d)
	}
}

func TestReadFromDiskFallsBackToResetWhenNothingPersisted(t *testing.T) {
	g := newTestState(t)

	g.GetProcess("com.x", 1000, "com.x", 0) // populate some state pre-reset
	g.ReadFromDisk(999)                     // no file has ever been written

	if g.ProcessCount() != 0 {
		t.Fatalf("expected ReadFromDisk to reset in-memory state when no snapshot exists")
	}
	start, end := g.TimePeriod()
	if start != 999 || end != 999 {
		t.Fatalf("expected the time window to restart at 999, got (%d,%d)", start, end)
	}
}

func TestAggregateUIDSumsAcrossPackages(t *testing.T) {
	g := newTestState(t)

	procA := g.GetProcess("pkg.a", 42, "proc.a", 0)
	g.SetState(procA, int(state.Top), 0, nil)
	g.SetState(procA, int(state.Cached), 100, nil) // commits 100ms into TOP

	procB := g.GetProcess("pkg.b", 42, "proc.b", 0)
	g.SetState(procB, int(state.Foreground), 0, nil)
	g.SetState(procB, int(state.Cached), 50, nil) // commits 50ms into FOREGROUND

	totals := g.AggregateUID(42, 100)

	topBucket := state.CompositeBucket(int(state.Top), g.MemFactor())
	fgBucket := state.CompositeBucket(int(state.Foreground), g.MemFactor())
	if totals[topBucket] != 100 {
		t.Fatalf("expected 100ms in TOP bucket across uid 42, got %d", totals[topBucket])
	}
	if totals[fgBucket] != 50 {
		t.Fatalf("expected 50ms in FOREGROUND bucket across uid 42, got %d", totals[fgBucket])
	}
}

func TestResetClearsEverything(t *testing.T) {
	g := newTestState(t)

	proc := g.GetProcess("com.x", 1000, "com.x", 0)
	g.SetState(proc, int(state.Top), 100, nil)
	g.GetService("com.x", 1000, "svc.worker")

	g.Reset(2000)

	if g.ProcessCount() != 0 || g.PackageCount() != 0 {
		t.Fatalf("expected Reset to clear all records")
	}
	if g.PoolArrayCount() != 1 || g.PoolLongsUsed() != 0 {
		t.Fatalf("expected Reset to reinitialize the pool to one empty array")
	}
	start, end := g.TimePeriod()
	if start != 2000 || end != 2000 {
		t.Fatalf("expected the time window to restart at 2000, got (%d,%d)", start, end)
	}
}
