package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Default point values applied when the admin leaves them unset.
const (
	DefaultTalkPoints       = 0.15
	DefaultExhibitionPoints = 0.20
	DefaultRadiusM          = 50
)

// Config holds the attendance policy knobs.
type Config struct {
	CheckInTolerance  time.Duration
	CheckOutTolerance time.Duration
	EligibleFraction  float64
	// QRBaseURL is the public origin embedded in issued QR tokens.
	QRBaseURL string
}

// Service is the attendance state machine for (participant, session)
// pairs and the entry point for session lifecycle and point operations.
type Service struct {
	sessions     SessionRepository
	records      AttendanceRepository
	participants ParticipantRepository
	ledger       PointLedgerRepository
	creditor     *Creditor
	notifier     Notifier
	cfg          Config
	now          func() time.Time
}

// NewService wires the service. notifier may be nil, in which case
// completion notifications are skipped.
func NewService(sessions SessionRepository, records AttendanceRepository, participants ParticipantRepository, ledger PointLedgerRepository, notifier Notifier, cfg Config) *Service {
	if cfg.CheckInTolerance <= 0 {
		cfg.CheckInTolerance = DefaultTolerance
	}
	if cfg.CheckOutTolerance <= 0 {
		cfg.CheckOutTolerance = DefaultTolerance
	}
	if cfg.EligibleFraction <= 0 {
		cfg.EligibleFraction = DefaultEligibleFraction
	}
	return &Service{
		sessions:     sessions,
		records:      records,
		participants: participants,
		ledger:       ledger,
		creditor:     NewCreditor(participants, ledger),
		notifier:     notifier,
		cfg:          cfg,
		now:          time.Now,
	}
}

// gate runs the shared session/window/strategy checks for both
// directions of the state machine.
func (s *Service) gate(ctx context.Context, sessionID string, attempt Attempt, now time.Time, tolerance time.Duration) (Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, reject(RejectSessionNotFound, "session %s not found", sessionID)
		}
		return Session{}, err
	}
	if session.Status == SessionCancelled {
		return Session{}, reject(RejectSessionCancelled, "session %s was cancelled", sessionID)
	}

	window := PermittedWindow(session, tolerance, tolerance)
	if !window.Contains(now) {
		r := reject(RejectOutOfWindow, "attendance for %q is only accepted between %s and %s",
			session.Title, window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
		r.Window = &window
		return Session{}, r
	}

	strategy, err := StrategyFor(attempt.Mode)
	if err != nil {
		return Session{}, err
	}
	if err := strategy.Validate(session, attempt); err != nil {
		return Session{}, err
	}
	return session, nil
}

// CheckIn opens an attendance record for the pair. At most one open
// record may exist; a duplicate attempt gets AlreadyCheckedIn and no new
// record is created. The existence check lives in the repository so it
// is atomic with the insert.
func (s *Service) CheckIn(ctx context.Context, participantID, sessionID string, attempt Attempt) (Record, error) {
	if participantID == "" {
		return Record{}, reject(RejectParticipantNotFound, "participant id is required")
	}
	now := s.now().UTC()
	if _, err := s.gate(ctx, sessionID, attempt, now, s.cfg.CheckInTolerance); err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:              uuid.NewString(),
		ParticipantID:   participantID,
		SessionID:       sessionID,
		EntryAt:         now,
		EntryLocation:   attempt.Location,
		WithinPerimeter: true,
		CreatedAt:       now,
	}
	created, err := s.records.CreateOpen(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrOpenExists) {
			return Record{}, reject(RejectAlreadyCheckedIn, "already checked in to session %s", sessionID)
		}
		return Record{}, err
	}
	return created, nil
}

// CheckOut closes the pair's open record, computes dwell time and, when
// the stay qualifies, credits the session's point value. A replayed
// check-out finds no open record and credits nothing.
func (s *Service) CheckOut(ctx context.Context, participantID, sessionID string, attempt Attempt) (Record, error) {
	now := s.now().UTC()
	session, err := s.gate(ctx, sessionID, attempt, now, s.cfg.CheckOutTolerance)
	if err != nil {
		return Record{}, err
	}

	open, err := s.records.FindOpen(ctx, participantID, sessionID)
	if err != nil {
		return Record{}, err
	}
	if open == nil {
		return Record{}, reject(RejectNoOpenEntry, "no open attendance for session %s", sessionID)
	}

	dwell := DwellMinutes(open.EntryAt, now)
	eligible := Eligible(dwell, session.DurationMin, s.cfg.EligibleFraction)

	closed, err := s.records.CloseOpen(ctx, participantID, sessionID, ExitData{
		At:       now,
		DwellMin: dwell,
		Location: attempt.Location,
		Eligible: eligible,
	})
	if err != nil {
		if errors.Is(err, ErrNoOpen) {
			// lost the race against a concurrent check-out
			return Record{}, reject(RejectNoOpenEntry, "no open attendance for session %s", sessionID)
		}
		return Record{}, err
	}

	if eligible && !closed.PointsCredited && session.Points > 0 {
		result, err := s.creditor.Credit(ctx, participantID, session.Points, PointsSession, sessionID, "")
		if err != nil {
			// the record stays closed; the credit can be reconciled manually
			return closed, fmt.Errorf("attendance closed but credit failed: %w", err)
		}
		if err := s.records.MarkCredited(ctx, closed.ID, result.Entry.Value); err != nil {
			return closed, fmt.Errorf("credit applied but record flag not set: %w", err)
		}
		closed.PointsCredited = true
		closed.PointsApplied = result.Entry.Value
	}

	if s.notifier != nil && closed.Eligible {
		// fire-and-forget: certificate/email failures never fail a check-out
		if err := s.notifier.AttendanceCompleted(ctx, closed); err != nil {
			log.Printf("attendance completed notification failed for record %s: %v", closed.ID, err)
		}
	}
	return closed, nil
}

// Status returns the pair's open record, or nil when the participant is
// not currently checked in.
func (s *Service) Status(ctx context.Context, participantID, sessionID string) (*Record, error) {
	return s.records.FindOpen(ctx, participantID, sessionID)
}

// Present lists the currently open records for a session.
func (s *Service) Present(ctx context.Context, sessionID string) ([]Record, error) {
	return s.records.OpenBySession(ctx, sessionID)
}

// CreateSession persists a new session, applying the program defaults:
// point value by kind, 50 m geofence radius and a canonical QR token.
func (s *Service) CreateSession(ctx context.Context, session Session) (Session, error) {
	if session.Title == "" || session.StartsAt.IsZero() || session.DurationMin <= 0 {
		return Session{}, reject(RejectInvalidValue, "session needs a title, start time and positive duration")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Kind == "" {
		session.Kind = KindTalk
	}
	if session.Points == 0 {
		if session.Kind == KindExhibition {
			session.Points = DefaultExhibitionPoints
		} else {
			session.Points = DefaultTalkPoints
		}
	}
	if session.Geofence != nil && session.Geofence.RadiusM <= 0 {
		session.Geofence.RadiusM = DefaultRadiusM
	}
	session.Status = SessionScheduled
	session.QRToken = fmt.Sprintf("%s/qr?p=%s", s.cfg.QRBaseURL, session.ID)
	session.CreatedAt = s.now().UTC()
	return s.sessions.CreateSession(ctx, session)
}

// StartSession moves a scheduled session to in-progress.
func (s *Service) StartSession(ctx context.Context, id string) (Session, error) {
	return s.transition(ctx, id, SessionScheduled, SessionInProgress)
}

// FinishSession moves an in-progress session to finished.
func (s *Service) FinishSession(ctx context.Context, id string) (Session, error) {
	return s.transition(ctx, id, SessionInProgress, SessionFinished)
}

// CancelSession cancels a session that has not finished.
func (s *Service) CancelSession(ctx context.Context, id string) (Session, error) {
	session, err := s.transition(ctx, id, SessionScheduled, SessionCancelled)
	if err == nil || RejectionKind(err) != RejectInvalidTransition {
		return session, err
	}
	return s.transition(ctx, id, SessionInProgress, SessionCancelled)
}

func (s *Service) transition(ctx context.Context, id string, from, to SessionStatus) (Session, error) {
	session, err := s.sessions.TransitionSession(ctx, id, from, to)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}
	if _, getErr := s.sessions.GetSession(ctx, id); errors.Is(getErr, ErrNotFound) {
		return Session{}, reject(RejectSessionNotFound, "session %s not found", id)
	}
	return Session{}, reject(RejectInvalidTransition, "session %s is not %s", id, from)
}

// CreditVolunteer credits volunteer-work points, clamped to at most one
// point per act; a zero value means the default full point.
func (s *Service) CreditVolunteer(ctx context.Context, participantID string, value float64, reason string) (CreditResult, error) {
	if value == 0 {
		value = 1
	}
	if value > 1 {
		value = 1
	}
	return s.creditor.Credit(ctx, participantID, value, PointsVolunteer, "", reason)
}

// RegisterParticipant persists a new participant with a zeroed total.
func (s *Service) RegisterParticipant(ctx context.Context, p Participant) (Participant, error) {
	if p.Name == "" {
		return Participant{}, reject(RejectInvalidValue, "participant needs a name")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.PointsTotal = 0
	p.LastCreditedAt = nil
	p.CreatedAt = s.now().UTC()
	return s.participants.CreateParticipant(ctx, p)
}

// MarkCertificateSent records that the worker dispatched a certificate
// for the given record.
func (s *Service) MarkCertificateSent(ctx context.Context, recordID string) error {
	return s.records.MarkCertificateSent(ctx, recordID)
}

// Overview is the public dashboard snapshot.
type Overview struct {
	Participants      int       `json:"participants"`
	ActiveSessions    int       `json:"active_sessions"`
	CheckInsToday     int       `json:"check_ins_today"`
	PointsDistributed float64   `json:"points_distributed"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PublicOverview aggregates the headline numbers for the public dashboard.
func (s *Service) PublicOverview(ctx context.Context) (Overview, error) {
	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	participants, err := s.participants.CountParticipants(ctx)
	if err != nil {
		return Overview{}, err
	}
	active, err := s.sessions.CountActiveSessions(ctx)
	if err != nil {
		return Overview{}, err
	}
	today, err := s.records.CountEntriesSince(ctx, midnight)
	if err != nil {
		return Overview{}, err
	}
	points, err := s.ledger.TotalPoints(ctx)
	if err != nil {
		return Overview{}, err
	}
	return Overview{
		Participants:      participants,
		ActiveSessions:    active,
		CheckInsToday:     today,
		PointsDistributed: points,
		UpdatedAt:         now,
	}, nil
}

// ListSessions returns all sessions.
func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	return s.sessions.ListSessions(ctx)
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	session, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Session{}, reject(RejectSessionNotFound, "session %s not found", id)
	}
	return session, err
}

// GetParticipant returns one participant.
func (s *Service) GetParticipant(ctx context.Context, id string) (Participant, error) {
	p, err := s.participants.GetParticipant(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Participant{}, reject(RejectParticipantNotFound, "participant %s not found", id)
	}
	return p, err
}
