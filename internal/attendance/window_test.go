package attendance

import (
	"testing"
	"time"
)

func TestPermittedWindow(t *testing.T) {
	start := time.Date(2026, 5, 12, 14, 0, 0, 0, time.UTC)
	session := Session{StartsAt: start, DurationMin: 60}

	w := PermittedWindow(session, 30*time.Minute, 30*time.Minute)
	if want := start.Add(-30 * time.Minute); !w.Start.Equal(want) {
		t.Errorf("window start = %v, want %v", w.Start, want)
	}
	if want := start.Add(90 * time.Minute); !w.End.Equal(want) {
		t.Errorf("window end = %v, want %v", w.End, want)
	}
	if w.End.Before(w.Start) {
		t.Errorf("window end %v before start %v", w.End, w.Start)
	}
}

func TestPermittedWindowWidensWithTolerance(t *testing.T) {
	session := Session{StartsAt: time.Date(2026, 5, 12, 14, 0, 0, 0, time.UTC), DurationMin: 45}
	base := PermittedWindow(session, 10*time.Minute, 10*time.Minute)

	wider := PermittedWindow(session, 20*time.Minute, 10*time.Minute)
	if !wider.Start.Before(base.Start) || !wider.End.Equal(base.End) {
		t.Errorf("increasing before-tolerance should only move start earlier: %+v vs %+v", wider, base)
	}

	wider = PermittedWindow(session, 10*time.Minute, 20*time.Minute)
	if !wider.Start.Equal(base.Start) || !wider.End.After(base.End) {
		t.Errorf("increasing after-tolerance should only move end later: %+v vs %+v", wider, base)
	}
}

func TestWindowContains(t *testing.T) {
	start := time.Date(2026, 5, 12, 14, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(time.Hour)}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "before", at: start.Add(-time.Second), want: false},
		{name: "at start", at: start, want: true},
		{name: "inside", at: start.Add(30 * time.Minute), want: true},
		{name: "at end", at: start.Add(time.Hour), want: true},
		{name: "after", at: start.Add(time.Hour + time.Second), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.at); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestDwellMinutes(t *testing.T) {
	entry := time.Date(2026, 5, 12, 14, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		exit time.Time
		want int
	}{
		{name: "exact minutes", exit: entry.Add(69 * time.Minute), want: 69},
		{name: "floors partial minute", exit: entry.Add(59*time.Minute + 59*time.Second), want: 59},
		{name: "zero", exit: entry, want: 0},
		{name: "clock skew clamps to zero", exit: entry.Add(-5 * time.Minute), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DwellMinutes(entry, tt.exit); got != tt.want {
				t.Errorf("DwellMinutes() = %d, want %d", got, tt.want)
			}
		})
	}
}
