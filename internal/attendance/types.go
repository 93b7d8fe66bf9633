package attendance

import (
	"time"

	"eventpoints/internal/geo"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionInProgress SessionStatus = "in_progress"
	SessionFinished   SessionStatus = "finished"
	SessionCancelled  SessionStatus = "cancelled"
)

// SessionKind distinguishes talks from exhibitions; they carry different
// default point values.
type SessionKind string

const (
	KindTalk       SessionKind = "talk"
	KindExhibition SessionKind = "exhibition"
)

// Geofence is the allowed circular area around a session venue.
type Geofence struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	RadiusM float64 `json:"radius_m"`
}

// Center returns the fence center as a geo point.
func (g Geofence) Center() geo.Point {
	return geo.Point{Lat: g.Lat, Lng: g.Lng}
}

// Enforced reports whether the fence actually constrains attendees.
// Sessions created without a venue keep the zero coordinates, which
// means "no geofence" regardless of the default radius.
func (g *Geofence) Enforced() bool {
	return g != nil && (g.Lat != 0 || g.Lng != 0)
}

// Session is a scheduled talk or exhibition participants check into.
// Owned by the scheduling side; the core reads it and drives its
// lifecycle status.
type Session struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Speaker     string        `json:"speaker"`
	Venue       string        `json:"venue"`
	Kind        SessionKind   `json:"kind"`
	StartsAt    time.Time     `json:"starts_at"`
	DurationMin int           `json:"duration_min"`
	Geofence    *Geofence     `json:"geofence,omitempty"`
	Points      float64       `json:"points"`
	Capacity    int           `json:"capacity"`
	Status      SessionStatus `json:"status"`
	QRToken     string        `json:"qr_token,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// EndsAt returns the scheduled end of the session.
func (s Session) EndsAt() time.Time {
	return s.StartsAt.Add(time.Duration(s.DurationMin) * time.Minute)
}

// Participant is an attendee accumulating points across sessions.
type Participant struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email,omitempty"`
	PointsTotal    float64    `json:"points_total"`
	LastCreditedAt *time.Time `json:"last_credited_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Record is one check-in/check-out cycle for a participant at a session.
// A nil ExitAt means the participant is still checked in.
type Record struct {
	ID              string     `json:"id"`
	ParticipantID   string     `json:"participant_id"`
	SessionID       string     `json:"session_id"`
	EntryAt         time.Time  `json:"entry_at"`
	ExitAt          *time.Time `json:"exit_at,omitempty"`
	DwellMin        int        `json:"dwell_min"`
	EntryLocation   *geo.Point `json:"entry_location,omitempty"`
	ExitLocation    *geo.Point `json:"exit_location,omitempty"`
	WithinPerimeter bool       `json:"within_perimeter"`
	Eligible        bool       `json:"eligible"`
	PointsCredited  bool       `json:"points_credited"`
	PointsApplied   float64    `json:"points_applied"`
	CertificateSent bool       `json:"certificate_sent"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Open reports whether the record is still awaiting check-out.
func (r Record) Open() bool { return r.ExitAt == nil }

// PointKind is the business reason for a ledger entry.
type PointKind string

const (
	PointsSession   PointKind = "session-attendance"
	PointsVolunteer PointKind = "volunteer"
)

// LedgerEntry is one immutable row in the point audit log.
type LedgerEntry struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	Kind          PointKind `json:"kind"`
	Value         float64   `json:"value"`
	SessionID     string    `json:"session_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DwellMinutes returns whole minutes between entry and exit, floored and
// never negative.
func DwellMinutes(entry, exit time.Time) int {
	d := exit.Sub(entry)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
