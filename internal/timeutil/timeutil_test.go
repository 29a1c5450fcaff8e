package timeutil

import (
	"testing"
	"time"
)

func TestOverlaps(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

	cases := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd time.Time
		want                       bool
	}{
		{"identical", at(0), at(30), at(0), at(30), true},
		{"partial overlap", at(0), at(30), at(15), at(45), true},
		{"contained", at(0), at(60), at(15), at(30), true},
		{"touching end to start", at(0), at(30), at(30), at(60), false},
		{"touching start to end", at(30), at(60), at(0), at(30), false},
		{"disjoint", at(0), at(30), at(60), at(90), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd); got != tc.want {
				t.Fatalf("Overlaps = %v, want %v", got, tc.want)
			}
			// Overlap is symmetric.
			if got := Overlaps(tc.bStart, tc.bEnd, tc.aStart, tc.aEnd); got != tc.want {
				t.Fatalf("Overlaps (swapped) = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDayBounds(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatal(err)
	}

	start, end, err := DayBounds("2025-03-10", loc)
	if err != nil {
		t.Fatal(err)
	}
	// Sao Paulo is UTC-3 year round since 2019: local midnight is 03:00 UTC.
	wantStart := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("start = %s, want %s", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Fatalf("end = %s, want %s", end, wantEnd)
	}
}

func TestDayBoundsRejectsGarbage(t *testing.T) {
	if _, _, err := DayBounds("10/03/2025", time.UTC); err == nil {
		t.Fatal("expected error for non ISO date")
	}
}

func TestDayBoundsAtCrossesUTCDate(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatal(err)
	}
	// 23:30 local on March 10 is 02:30 UTC on March 11; the local day must
	// still be March 10.
	instant := time.Date(2025, 3, 11, 2, 30, 0, 0, time.UTC)
	start, end := DayBoundsAt(instant, loc)
	if !start.Equal(time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %s", start)
	}
	if !end.Equal(time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("end = %s", end)
	}
}
