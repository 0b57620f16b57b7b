package servicerecord

import (
	"testing"

	"procstats/internal/state"
)

func TestSetBoundAccumulatesOpCount(t *testing.T) {
	r := New()
	r.SetBound(true, state.MemFactorNormal, 0)
	if r.Bound.OpCount != 1 {
		t.Fatalf("expected op count 1 after first activation, got %d", r.Bound.OpCount)
	}
	r.SetBound(true, state.MemFactorNormal, 100) // no-op, same state
	if r.Bound.OpCount != 1 {
		t.Fatalf("expected op count unchanged on no-op transition")
	}
}

// S4: mem-factor flip while bound; duration accrues to the old bucket at the
// moment of the flip.
func TestBoundDurationCommitsOnFlip(t *testing.T) {
	r := New()
	r.SetBound(true, state.MemFactorNormal, 0) // cur = NORMAL+SCREEN_OFF = 0

	newComposite := state.CompositeMemFactor(state.MemFactorLow, true)
	r.SetBound(true, newComposite, 1000)

	if r.Bound.Durations[0] != 1000 {
		t.Fatalf("expected old bucket 0 to accumulate 1000ms, got %d", r.Bound.Durations[0])
	}
	if r.Bound.CurState != int32(newComposite) {
		t.Fatalf("expected cur_state to become new composite")
	}
	if r.Bound.OpCount != 1 {
		t.Fatalf("flipping buckets while active must not increment op count again")
	}
}

func TestSetStartedTurnOffCommitsAndAllowsRestart(t *testing.T) {
	r := New()
	r.SetStarted(true, state.MemFactorNormal, 0)
	r.SetStarted(false, state.MemFactorNormal, 500)
	if r.Started.Durations[state.MemFactorNormal] != 500 {
		t.Fatalf("expected 500ms committed on turn-off")
	}
	if r.Started.CurState != state.Nothing {
		t.Fatalf("expected cur_state Nothing after turn-off")
	}

	r.SetStarted(true, state.MemFactorNormal, 600)
	if r.Started.OpCount != 2 {
		t.Fatalf("expected op count 2 after restarting, got %d", r.Started.OpCount)
	}
}

func TestCommitRunningFlushesWithoutChangingState(t *testing.T) {
	r := New()
	r.SetExecuting(true, state.MemFactorCritical, 0)
	r.CommitRunning(250)
	if r.Executing.Durations[state.MemFactorCritical] != 250 {
		t.Fatalf("expected commit to flush 250ms")
	}
	if r.Executing.CurState != int32(state.MemFactorCritical) {
		t.Fatalf("commit must not change cur_state")
	}
	if r.Executing.StartTime != 250 {
		t.Fatalf("commit must rewrite start_time to now")
	}
}
