package attendance

import (
	"context"
	"errors"
	"time"

	"eventpoints/internal/geo"
)

// Storage-level sentinels. Repositories return these; the service maps
// them onto the business rejection kinds.
var (
	ErrNotFound   = errors.New("not found")
	ErrOpenExists = errors.New("open attendance record already exists")
	ErrNoOpen     = errors.New("no open attendance record")
)

// SessionRepository owns session storage.
type SessionRepository interface {
	GetSession(ctx context.Context, id string) (Session, error)
	CreateSession(ctx context.Context, s Session) (Session, error)
	UpdateSession(ctx context.Context, s Session) (Session, error)
	// TransitionSession moves a session from one status to another.
	// The compare is atomic with the write; ErrNotFound when the session
	// is missing or not in the expected status.
	TransitionSession(ctx context.Context, id string, from, to SessionStatus) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	CountActiveSessions(ctx context.Context) (int, error)
}

// ExitData is what check-out stamps onto an open record.
type ExitData struct {
	At       time.Time
	DwellMin int
	Location *geo.Point
	Eligible bool
}

// AttendanceRepository owns attendance records. CreateOpen and CloseOpen
// are the serialization points for the at-most-one-open invariant: both
// must be atomic with their existence check.
type AttendanceRepository interface {
	GetRecord(ctx context.Context, id string) (Record, error)
	FindOpen(ctx context.Context, participantID, sessionID string) (*Record, error)
	// CreateOpen persists a new open record; ErrOpenExists when the pair
	// already has one.
	CreateOpen(ctx context.Context, r Record) (Record, error)
	// CloseOpen stamps exit data onto the pair's open record; ErrNoOpen
	// when there is none.
	CloseOpen(ctx context.Context, participantID, sessionID string, exit ExitData) (Record, error)
	// MarkCredited flips the points-credited flag exactly once.
	MarkCredited(ctx context.Context, recordID string, value float64) error
	MarkCertificateSent(ctx context.Context, recordID string) error
	OpenBySession(ctx context.Context, sessionID string) ([]Record, error)
	CountEntriesSince(ctx context.Context, since time.Time) (int, error)
}

// ParticipantRepository owns participant storage. IncrementPoints is an
// atomic add, never a read-modify-write.
type ParticipantRepository interface {
	GetParticipant(ctx context.Context, id string) (Participant, error)
	CreateParticipant(ctx context.Context, p Participant) (Participant, error)
	IncrementPoints(ctx context.Context, id string, value float64, at time.Time) (float64, error)
	CountParticipants(ctx context.Context) (int, error)
}

// PointLedgerRepository is the append-only audit log.
type PointLedgerRepository interface {
	AppendEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error)
	TotalPoints(ctx context.Context) (float64, error)
}

// Notifier is the fire-and-forget hook invoked after a completed,
// eligible attendance. Errors are logged by the caller, never surfaced
// as a check-out failure.
type Notifier interface {
	AttendanceCompleted(ctx context.Context, rec Record) error
}
