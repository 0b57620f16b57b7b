package diagnostics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeState struct {
	arrays, longsUsed, processes, packages int
	lastWriteDuration, lastWriteTimestamp  int64
	writeFailures                          int64
}

func (f *fakeState) PoolArrayCount() int       { return f.arrays }
func (f *fakeState) PoolLongsUsed() int        { return f.longsUsed }
func (f *fakeState) ProcessCount() int         { return f.processes }
func (f *fakeState) PackageCount() int         { return f.packages }
func (f *fakeState) LastWriteDuration() int64  { return f.lastWriteDuration }
func (f *fakeState) LastWriteTimestamp() int64 { return f.lastWriteTimestamp }
func (f *fakeState) WriteFailures() int64      { return f.writeFailures }

func TestCollectorReportsSevenDistinctMetrics(t *testing.T) {
	fs := &fakeState{
		arrays: 3, longsUsed: 512, processes: 7, packages: 4,
		lastWriteDuration: 250_000_000, lastWriteTimestamp: 123456,
		writeFailures: 2,
	}
	c := New(fs, &sync.Mutex{})

	if count := testutil.CollectAndCount(c); count != 7 {
		t.Fatalf("expected 7 distinct metrics, got %d", count)
	}
}

// countingLocker records how often Collect takes and releases its lock.
type countingLocker struct{ locks, unlocks int }

func (l *countingLocker) Lock()   { l.locks++ }
func (l *countingLocker) Unlock() { l.unlocks++ }

func TestCollectorLocksAroundRead(t *testing.T) {
	fs := &fakeState{arrays: 1}
	lock := &countingLocker{}
	c := New(fs, lock)

	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	n := 0
	for range ch {
		n++
	}
	if n != 7 {
		t.Fatalf("expected 7 metrics emitted, got %d", n)
	}
	if lock.locks != 1 || lock.unlocks != 1 {
		t.Fatalf("expected Collect to lock and unlock exactly once, got %d locks and %d unlocks", lock.locks, lock.unlocks)
	}
}
