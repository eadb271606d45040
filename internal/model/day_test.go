package model

import (
	"testing"
	"time"
)

func TestDayOfNormalizesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	in := time.Date(2025, 3, 1, 2, 30, 0, 0, loc) // 2025-02-28T21:30Z
	got := DayOf(in)
	want := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("DayOf = %v, want %v", got, want)
	}
}

func TestParseFormatDayRoundTrip(t *testing.T) {
	d, err := ParseDay("2025-08-25")
	if err != nil {
		t.Fatalf("ParseDay: %v", err)
	}
	if got := FormatDay(d); got != "2025-08-25" {
		t.Fatalf("FormatDay = %q", got)
	}
	if d.Hour() != 0 || d.Location() != time.UTC {
		t.Fatalf("ParseDay not UTC midnight: %v", d)
	}
}

func TestDaysApart(t *testing.T) {
	a, _ := ParseDay("2025-08-20")
	b, _ := ParseDay("2025-08-25")
	if got := DaysApart(a, b); got != 5 {
		t.Fatalf("DaysApart = %d, want 5", got)
	}
	if got := DaysApart(b, a); got != -5 {
		t.Fatalf("DaysApart reversed = %d, want -5", got)
	}
}

func TestComputeScore(t *testing.T) {
	if got := ComputeScore(3, 2); got != 7 {
		t.Fatalf("ComputeScore(3,2) = %d, want 7", got)
	}
	if got := ComputeScore(0, 0); got != 0 {
		t.Fatalf("ComputeScore(0,0) = %d, want 0", got)
	}
}
