package attendance

import "testing"

func TestEligible(t *testing.T) {
	tests := []struct {
		name        string
		dwellMin    int
		durationMin int
		fraction    float64
		want        bool
	}{
		{name: "just under threshold", dwellMin: 59, durationMin: 100, fraction: 0, want: false},
		{name: "at threshold", dwellMin: 60, durationMin: 100, fraction: 0, want: true},
		{name: "full attendance", dwellMin: 100, durationMin: 100, fraction: 0, want: true},
		{name: "overstay counts", dwellMin: 120, durationMin: 100, fraction: 0, want: true},
		{name: "short session", dwellMin: 36, durationMin: 60, fraction: 0, want: true},
		{name: "custom fraction", dwellMin: 50, durationMin: 100, fraction: 0.5, want: true},
		{name: "custom fraction under", dwellMin: 49, durationMin: 100, fraction: 0.5, want: false},
		{name: "zero dwell zero duration", dwellMin: 0, durationMin: 0, fraction: 0, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(tt.dwellMin, tt.durationMin, tt.fraction); got != tt.want {
				t.Errorf("Eligible(%d, %d, %v) = %v, want %v", tt.dwellMin, tt.durationMin, tt.fraction, got, tt.want)
			}
		})
	}
}
