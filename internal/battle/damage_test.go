package battle

import "testing"

func TestDamageRangeOrdering(t *testing.T) {
	cases := []struct {
		name                 string
		base, level, mastery int
	}{
		{"baseline", 100, 1, 1},
		{"zero base", 0, 1, 1},
		{"high level", 100, 10, 1},
		{"high mastery", 100, 1, 8},
		{"both", 250, 12, 5},
		{"negative base clamps", -40, 3, 3},
		{"zero level clamps", 50, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := DamageRange(tc.base, tc.level, tc.mastery)
			if r.Min > r.Average || r.Average > r.Max {
				t.Fatalf("range ordering violated: %+v", r)
			}
			if tc.base <= 0 && (r.Min != 0 || r.Max != 0) {
				t.Fatalf("non-positive base should yield zero range, got %+v", r)
			}
		})
	}
}

func TestDamageRangeScalesWithLevel(t *testing.T) {
	low := DamageRange(100, 1, 1)
	high := DamageRange(100, 5, 1)
	if high.Max <= low.Max {
		t.Fatalf("level 5 max %d not above level 1 max %d", high.Max, low.Max)
	}
}

func TestRollStaysInRange(t *testing.T) {
	r := DamageRange(100, 1, 1)
	for i := 0; i < 1000; i++ {
		v := Roll(r, 3, 1, 2)
		if v < r.Min || v > r.Max {
			t.Fatalf("roll %d outside [%d, %d]", v, r.Min, r.Max)
		}
	}
}

func TestRollDegenerateRange(t *testing.T) {
	r := Range{Min: 7, Max: 7, Average: 7}
	if v := Roll(r, 1, 1, 1); v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
}

func TestApplyModifiers(t *testing.T) {
	r := Range{Min: 80, Max: 120, Average: 100}

	boosted := ApplyModifiers(r, 1.5)
	if boosted.Min != 120 || boosted.Max != 180 {
		t.Fatalf("unexpected boosted range: %+v", boosted)
	}

	// Non-positive multipliers are ignored rather than zeroing the range.
	same := ApplyModifiers(r, 0, -2)
	if same != r {
		t.Fatalf("expected unchanged range, got %+v", same)
	}

	stacked := ApplyModifiers(r, 1.25, 1.1)
	if stacked.Min != 110 || stacked.Max != 165 {
		t.Fatalf("unexpected stacked range: %+v", stacked)
	}
}

func TestAbsorbShield(t *testing.T) {
	cases := []struct {
		name                 string
		raw, shield          int
		wantShield, wantHull int
	}{
		{"fully absorbed", 30, 50, 30, 0},
		{"partial", 80, 50, 50, 30},
		{"no shield", 40, 0, 0, 40},
		{"exact", 50, 50, 50, 0},
		{"negative raw", -10, 20, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, h := AbsorbShield(tc.raw, tc.shield)
			if s != tc.wantShield || h != tc.wantHull {
				t.Fatalf("got (%d, %d), want (%d, %d)", s, h, tc.wantShield, tc.wantHull)
			}
		})
	}
}

func TestStealPP(t *testing.T) {
	if got := StealPP(0, 100, 10); got != 0 {
		t.Fatalf("steal without health damage should be 0, got %d", got)
	}
	if got := StealPP(5, 100, 10); got != 10 {
		t.Fatalf("expected full steal of 10, got %d", got)
	}
	if got := StealPP(5, 4, 10); got != 4 {
		t.Fatalf("steal should cap at defender balance, got %d", got)
	}
	if got := StealPP(5, 0, 10); got != 0 {
		t.Fatalf("broke defender should yield 0, got %d", got)
	}
}
