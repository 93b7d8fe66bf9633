package attendance

// DefaultEligibleFraction is the minimum share of a session's duration a
// participant must stay for the attendance to count toward a certificate
// and points. 60% is the program's definition of meaningful attendance;
// override via Config.EligibleFraction.
const DefaultEligibleFraction = 0.6

// Eligible reports whether a dwell time earns the certificate/credit for
// a session of the given duration.
func Eligible(dwellMin, durationMin int, fraction float64) bool {
	if fraction <= 0 {
		fraction = DefaultEligibleFraction
	}
	return float64(dwellMin) >= float64(durationMin)*fraction
}
