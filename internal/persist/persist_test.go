package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"procstats/internal/codec"
	"procstats/internal/pool"
	"procstats/internal/registry"
	"procstats/internal/state"
)

func emptySnapshot() codec.Snapshot {
	return codec.Snapshot{
		Pool:     pool.New(),
		Registry: registry.New(),
	}
}

func TestWriteStateSyncThenLoad(t *testing.T) {
	dir := t.TempDir()
	p, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	snap := emptySnapshot()
	snap.TimePeriodEnd = 500
	snap.MemFactorDurations[state.MemFactorNormal] = 42

	if err := p.WriteState(snap, 1000, true); err != nil {
		t.Fatalf("WriteState sync: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, fileName)); err != nil {
		t.Fatalf("expected current.bin to exist: %v", err)
	}

	got, ok := p.Load()
	if !ok {
		t.Fatalf("expected Load to succeed after sync write")
	}
	if got.TimePeriodEnd != 500 {
		t.Fatalf("expected time period end 500, got %d", got.TimePeriodEnd)
	}
	if got.MemFactorDurations[state.MemFactorNormal] != 42 {
		t.Fatalf("expected mem factor duration 42, got %d", got.MemFactorDurations[state.MemFactorNormal])
	}

	if p.LastWriteTime() != 1000 {
		t.Fatalf("expected last write time 1000, got %d", p.LastWriteTime())
	}
}

func TestWriteStateAsyncEventuallyCommits(t *testing.T) {
	dir := t.TempDir()
	p, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	snap := emptySnapshot()
	snap.TimePeriodEnd = 77

	if err := p.WriteState(snap, 2000, false); err != nil {
		t.Fatalf("WriteState async: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(filepath.Join(dir, fileName)); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, ok := p.Load()
	if !ok {
		t.Fatalf("expected async commit to eventually land on disk")
	}
	if got.TimePeriodEnd != 77 {
		t.Fatalf("expected time period end 77, got %d", got.TimePeriodEnd)
	}
}

func TestLoadMissingFileReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	p, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	if _, ok := p.Load(); ok {
		t.Fatalf("expected Load to report failure when no file has been written yet")
	}
}

func TestShouldWriteNowHonorsInterval(t *testing.T) {
	dir := t.TempDir()
	p, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Shutdown()

	snap := emptySnapshot()
	if err := p.WriteState(snap, 1000, true); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	const interval = int64(1800000)
	if p.ShouldWriteNow(1000+interval-1, interval) {
		t.Fatalf("expected not due just before the interval elapses")
	}
	if !p.ShouldWriteNow(1000+interval+1, interval) {
		t.Fatalf("expected due once the interval has elapsed")
	}
}

func TestShutdownIsIdempotentAndBlocksFurtherWrites(t *testing.T) {
	dir := t.TempDir()
	p, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Shutdown()
	p.Shutdown() // must not panic on a second call

	if err := p.WriteState(emptySnapshot(), 5000, true); err != nil {
		t.Fatalf("WriteState after shutdown should be a no-op, not an error: %v", err)
	}
	if _, ok := p.Load(); ok {
		t.Fatalf("expected no file to have been written after shutdown")
	}
}
