package attendance

import "time"

// DefaultTolerance is how far outside the scheduled slot check-ins and
// check-outs are still accepted.
const DefaultTolerance = 30 * time.Minute

// Window is the permitted time range for registering entry or exit.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PermittedWindow computes the range in which attendance may be
// registered for s: tolerance before the scheduled start through
// tolerance after the scheduled end.
func PermittedWindow(s Session, before, after time.Duration) Window {
	return Window{
		Start: s.StartsAt.Add(-before),
		End:   s.EndsAt().Add(after),
	}
}

// Contains is an inclusive range test.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
