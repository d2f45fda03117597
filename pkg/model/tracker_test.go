package model

import "testing"

func TestBitmap128_SetClearTest(t *testing.T) {
	var b Bitmap128
	for _, i := range []int{0, 1, 63, 64, 65, 127} {
		if b.Test(i) {
			t.Errorf("fresh bitmap: Test(%d) = true", i)
		}
		b.Set(i)
		if !b.Test(i) {
			t.Errorf("after Set(%d): Test = false", i)
		}
	}
	if b.Count() != 6 {
		t.Errorf("Count() = %d, want 6", b.Count())
	}
	b.Clear(64)
	if b.Test(64) {
		t.Error("after Clear(64): Test(64) = true")
	}
	if b.Count() != 5 {
		t.Errorf("Count() = %d, want 5", b.Count())
	}
}

func TestBitmap128_NextSet(t *testing.T) {
	var b Bitmap128
	b.Set(5)
	b.Set(70)
	b.Set(127)

	tests := []struct {
		from int
		want int
		ok   bool
	}{
		{0, 5, true},
		{5, 5, true},
		{6, 70, true},
		{64, 70, true},
		{71, 127, true},
		{127, 127, true},
		{128, 0, false},
	}
	for _, tt := range tests {
		got, ok := b.NextSet(tt.from)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("NextSet(%d) = (%d, %v), want (%d, %v)", tt.from, got, ok, tt.want, tt.ok)
		}
	}

	var empty Bitmap128
	if _, ok := empty.NextSet(0); ok {
		t.Error("empty bitmap: NextSet(0) ok = true")
	}
	if !empty.Empty() {
		t.Error("empty bitmap: Empty() = false")
	}
}

func TestTracker_Accounting(t *testing.T) {
	n := &Tracker{Tier: TierMedium, Depth: DepthSlot, Coord: 42}
	if !n.Drained() {
		t.Error("fresh tracker: Drained() = false")
	}
	if _, ok := n.AverageFee(); ok {
		t.Error("fresh tracker: AverageFee() ok = true")
	}

	n.TotalTasks = 5
	n.ExecutedTasks = 3
	n.FeesCollected = 90_000
	if n.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", n.Pending())
	}
	if n.Drained() {
		t.Error("Drained() = true with pending tasks")
	}
	avg, ok := n.AverageFee()
	if !ok || avg != 30_000 {
		t.Errorf("AverageFee() = (%d, %v), want (30000, true)", avg, ok)
	}
}

func TestSlotCoordinates(t *testing.T) {
	tests := []struct {
		slot     Slot
		cohort   uint64
		division uint64
	}{
		{0, 0, 0},
		{127, 0, 0},
		{128, 1, 0},
		{16_383, 127, 0},
		{16_384, 128, 1},
		{1_000_000, 7_812, 61},
	}
	for _, tt := range tests {
		if got := CohortOf(tt.slot); got != tt.cohort {
			t.Errorf("CohortOf(%d) = %d, want %d", tt.slot, got, tt.cohort)
		}
		if got := DivisionOf(tt.slot); got != tt.division {
			t.Errorf("DivisionOf(%d) = %d, want %d", tt.slot, got, tt.division)
		}
	}
}
