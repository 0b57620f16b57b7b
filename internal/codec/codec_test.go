package codec

import (
	"bytes"
	"hash/crc32"
	"testing"

	"procstats/internal/pool"
	"procstats/internal/procrecord"
	"procstats/internal/registry"
	"procstats/internal/state"
)

func noFanout(i int) *procrecord.Record { panic("no fan-out expected") }

// buildSnapshot constructs a small but representative populated state: one
// single-package process, one multi-package process (common + a clone in
// each of its two packages), and one service with all three modes touched.
func buildSnapshot(t *testing.T) (*pool.LongPool, *registry.Registry, [state.AdjCount]int64) {
	t.Helper()
	p := pool.New()
	reg := registry.New()

	single := reg.GetProcess("pkg.single", 100, "proc.single", 0, p)
	single.SetState(p, int(state.Top), state.MemFactorNormal, 10, 0, noFanout)
	single.SetState(p, int(state.Cached), state.MemFactorNormal, 60, 0, noFanout)
	single.AddPSS(p, 12345, true, 60, 30000)

	shared1 := reg.GetProcess("pkg.a", 200, "proc.shared", 0, p)
	shared1.SetState(p, int(state.Foreground), state.MemFactorNormal, 5, 0, noFanout)
	shared1.SetState(p, int(state.Top), state.MemFactorNormal, 105, 0, noFanout)
	_ = reg.GetProcess("pkg.b", 200, "proc.shared", 200, p)

	svc := reg.Service("pkg.single", 100, "svc.worker")
	svc.SetStarted(true, state.MemFactorNormal, 0)
	svc.SetBound(true, state.MemFactorLow, 50)
	svc.SetExecuting(true, state.MemFactorCritical, 20)
	svc.CommitRunning(300)
	svc.SetStarted(false, state.MemFactorNormal, 300)

	var memFactorDurations [state.AdjCount]int64
	memFactorDurations[state.MemFactorNormal] = 1000
	memFactorDurations[state.MemFactorLow] = 250

	return p, reg, memFactorDurations
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p, reg, memDur := buildSnapshot(t)

	snap := Snapshot{
		Pool:               p,
		Registry:           reg,
		MemFactorDurations: memDur,
		TimePeriodStart:    0,
		TimePeriodEnd:      300,
	}

	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, ok := Decode(bytes.NewReader(buf.Bytes()))
	if !ok {
		t.Fatalf("decode reported failure on a freshly encoded buffer")
	}

	if got.TimePeriodStart != snap.TimePeriodStart || got.TimePeriodEnd != snap.TimePeriodEnd {
		t.Fatalf("time period mismatch: got (%d,%d)", got.TimePeriodStart, got.TimePeriodEnd)
	}
	if got.MemFactorDurations != snap.MemFactorDurations {
		t.Fatalf("mem factor durations mismatch: got %v want %v", got.MemFactorDurations, snap.MemFactorDurations)
	}

	singleBack, ok := got.Registry.Process("proc.single", 100)
	if !ok {
		t.Fatalf("expected proc.single to survive round-trip")
	}
	topBucket := state.CompositeBucket(int(state.Top), state.MemFactorNormal)
	if d := singleBack.GetDuration(got.Pool, topBucket, 60); d != 50 {
		t.Fatalf("expected 50ms in TOP bucket for proc.single, got %d", d)
	}

	sharedCommon, ok := got.Registry.Process("proc.shared", 200)
	if !ok {
		t.Fatalf("expected proc.shared common record to survive round-trip")
	}
	if !sharedCommon.MultiPackage {
		t.Fatalf("expected proc.shared to remain multi-package after round-trip")
	}
}

func TestDecodeRejectsCorruptedTrailer(t *testing.T) {
	p, reg, memDur := buildSnapshot(t)
	snap := Snapshot{Pool: p, Registry: reg, MemFactorDurations: memDur}

	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		t.Fatalf("encode: %v", err)
	}

	corrupted := append([]byte(nil), buf.Bytes()...)
	corrupted[0] ^= 0xff // flip a byte inside the magic field, leaving the trailer stale

	if _, ok := Decode(bytes.NewReader(corrupted)); ok {
		t.Fatalf("expected decode to fail on corrupted input")
	}
}

func TestDecodeRejectsWrongPreamble(t *testing.T) {
	p, reg, memDur := buildSnapshot(t)
	snap := Snapshot{Pool: p, Registry: reg, MemFactorDurations: memDur}

	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		t.Fatalf("encode: %v", err)
	}

	tampered := append([]byte(nil), buf.Bytes()...)
	// Corrupt the version field (bytes 4-7), then recompute the CRC trailer
	// so only the preamble check, not the checksum, is exercised.
	tampered[4] ^= 0x01

	body := tampered[:len(tampered)-4]
	crc := crc32.ChecksumIEEE(body)
	tampered[len(tampered)-4] = byte(crc)
	tampered[len(tampered)-3] = byte(crc >> 8)
	tampered[len(tampered)-2] = byte(crc >> 16)
	tampered[len(tampered)-1] = byte(crc >> 24)

	if _, ok := Decode(bytes.NewReader(tampered)); ok {
		t.Fatalf("expected decode to fail on a tampered version field")
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	p, reg, memDur := buildSnapshot(t)
	snap := Snapshot{Pool: p, Registry: reg, MemFactorDurations: memDur}

	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		t.Fatalf("encode: %v", err)
	}

	truncated := buf.Bytes()[:buf.Len()/2]
	if _, ok := Decode(bytes.NewReader(truncated)); ok {
		t.Fatalf("expected decode to fail on truncated input")
	}
}
