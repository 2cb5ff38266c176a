package vdf

import (
	"context"
	"testing"
	"time"

	fcommon "github.com/fediconductor/conductor/common"
)

func TestComputeDeterministic(t *testing.T) {
	seed := fcommon.BytesToHash([]byte("genesis"))
	out1, err := Compute(context.Background(), seed, 5000, 1000, nil)
	if err != nil {
		t.Fatal(err)
	}
	out2, err := Compute(context.Background(), seed, 5000, 1000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out1 != out2 {
		t.Fatalf("VDF not deterministic: %v != %v", out1, out2)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	seed := fcommon.BytesToHash([]byte("seed-1"))
	out, err := Compute(context.Background(), seed, 2000, 500, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !Verify(seed, 2000, out) {
		t.Fatal("verify should succeed for a correct chain")
	}
	if Verify(seed, 2000, fcommon.BytesToHash([]byte("wrong"))) {
		t.Fatal("verify should fail for a wrong output")
	}
}

func TestComputeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seed := fcommon.BytesToHash([]byte("seed"))
	calls := 0
	_, err := Compute(ctx, seed, 10_000, 100, func(uint64) {
		calls++
		if calls == 2 {
			cancel()
		}
	})
	if err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestDeriveSeedIndependentOfPriorDay(t *testing.T) {
	genesis := fcommon.BytesToHash([]byte("genesis"))
	s1 := DeriveSeed(5, genesis)
	s2 := DeriveSeed(5, genesis)
	if s1 != s2 {
		t.Fatal("derive_seed must be deterministic from day and genesis alone")
	}
	if DeriveSeed(6, genesis) == s1 {
		t.Fatal("different days must yield different seeds")
	}
}

func TestAdjustDifficultyBounds(t *testing.T) {
	target := 24 * time.Hour
	// Within 10%: no change.
	if got := AdjustDifficulty(1000, target, target+time.Hour); got != 1000 {
		t.Fatalf("expected no adjustment within tolerance, got %d", got)
	}
	// Way too slow: clamp to /2.
	if got := AdjustDifficulty(1000, target, target*4); got != 500 {
		t.Fatalf("expected /2 clamp, got %d", got)
	}
	// Way too fast: clamp to x2.
	if got := AdjustDifficulty(1000, target, target/4); got != 2000 {
		t.Fatalf("expected x2 clamp, got %d", got)
	}
}

func TestHistoryMedianIgnoresOutliers(t *testing.T) {
	h := NewHistory(5)
	for _, s := range []time.Duration{10, 11, 12, 13, 1000} {
		h.Record(Sample{Elapsed: s})
	}
	if !h.Full() {
		t.Fatal("expected history to be full")
	}
	if got := h.Median(); got != 12 {
		t.Fatalf("median = %v, want 12 (outlier should not skew it)", got)
	}
}

func TestCalibrationWindowTooFast(t *testing.T) {
	w := NewCalibrationWindow(20)
	for i := 0; i < 20; i++ {
		w.Record(time.Duration(100+i) * time.Millisecond)
	}
	if !w.IsTooFast(50 * time.Millisecond) {
		t.Fatal("expected 50ms to be flagged too fast")
	}
	if w.IsTooFast(150 * time.Millisecond) {
		t.Fatal("150ms should not be flagged too fast")
	}
}
