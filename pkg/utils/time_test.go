package utils

import (
	"testing"
	"time"
)

func TestDayStartUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	in := time.Date(2026, 3, 15, 1, 30, 0, 0, loc) // 2026-03-14 22:30 UTC
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	if got := DayStartUTC(in); !got.Equal(want) {
		t.Errorf("DayStartUTC = %v, want %v", got, want)
	}
}
