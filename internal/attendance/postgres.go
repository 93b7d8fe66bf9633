package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"eventpoints/internal/geo"
)

const pgUniqueViolation = "23505"

// PostgresStore implements every repository over Postgres. The
// at-most-one-open invariant is enforced by a partial unique index on
// (participant_id, session_id) WHERE exit_at IS NULL; closing uses a
// conditional UPDATE so concurrent check-outs cannot both succeed.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var (
	_ SessionRepository     = (*PostgresStore)(nil)
	_ AttendanceRepository  = (*PostgresStore)(nil)
	_ ParticipantRepository = (*PostgresStore)(nil)
	_ PointLedgerRepository = (*PostgresStore)(nil)
)

const sessionCols = `id, title, description, speaker, venue, kind, starts_at, duration_min,
	geo_lat, geo_lng, geo_radius_m, points, capacity, status, qr_token, created_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var lat, lng, radius sql.NullFloat64
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.Speaker, &s.Venue, &s.Kind,
		&s.StartsAt, &s.DurationMin, &lat, &lng, &radius, &s.Points, &s.Capacity,
		&s.Status, &s.QRToken, &s.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	if lat.Valid && lng.Valid {
		s.Geofence = &Geofence{Lat: lat.Float64, Lng: lng.Float64, RadiusM: radius.Float64}
	}
	return s, nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func geofenceArgs(g *Geofence) (lat, lng, radius any) {
	if g == nil {
		return nil, nil, nil
	}
	return g.Lat, g.Lng, g.RadiusM
}

func (p *PostgresStore) CreateSession(ctx context.Context, s Session) (Session, error) {
	lat, lng, radius := geofenceArgs(s.Geofence)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, description, speaker, venue, kind, starts_at, duration_min,
			geo_lat, geo_lng, geo_radius_m, points, capacity, status, qr_token, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, s.ID, s.Title, s.Description, s.Speaker, s.Venue, s.Kind, s.StartsAt, s.DurationMin,
		lat, lng, radius, s.Points, s.Capacity, s.Status, s.QRToken, s.CreatedAt)
	return s, err
}

func (p *PostgresStore) UpdateSession(ctx context.Context, s Session) (Session, error) {
	lat, lng, radius := geofenceArgs(s.Geofence)
	res, err := p.db.ExecContext(ctx, `
		UPDATE sessions SET title=$2, description=$3, speaker=$4, venue=$5, kind=$6,
			starts_at=$7, duration_min=$8, geo_lat=$9, geo_lng=$10, geo_radius_m=$11,
			points=$12, capacity=$13, status=$14, qr_token=$15
		WHERE id = $1
	`, s.ID, s.Title, s.Description, s.Speaker, s.Venue, s.Kind, s.StartsAt, s.DurationMin,
		lat, lng, radius, s.Points, s.Capacity, s.Status, s.QRToken)
	if err != nil {
		return Session{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (p *PostgresStore) TransitionSession(ctx context.Context, id string, from, to SessionStatus) (Session, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE sessions SET status = $3 WHERE id = $1 AND status = $2
		RETURNING `+sessionCols, id, from, to)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+sessionCols+` FROM sessions ORDER BY starts_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountActiveSessions(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE status <> $1`, SessionCancelled).Scan(&n)
	return n, err
}

const recordCols = `id, participant_id, session_id, entry_at, exit_at, dwell_min,
	entry_lat, entry_lng, exit_lat, exit_lng, within_perimeter, eligible,
	points_credited, points_applied, certificate_sent, created_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var r Record
	var exitAt sql.NullTime
	var entryLat, entryLng, exitLat, exitLng sql.NullFloat64
	err := row.Scan(&r.ID, &r.ParticipantID, &r.SessionID, &r.EntryAt, &exitAt, &r.DwellMin,
		&entryLat, &entryLng, &exitLat, &exitLng, &r.WithinPerimeter, &r.Eligible,
		&r.PointsCredited, &r.PointsApplied, &r.CertificateSent, &r.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	if exitAt.Valid {
		t := exitAt.Time
		r.ExitAt = &t
	}
	if entryLat.Valid && entryLng.Valid {
		r.EntryLocation = &geo.Point{Lat: entryLat.Float64, Lng: entryLng.Float64}
	}
	if exitLat.Valid && exitLng.Valid {
		r.ExitLocation = &geo.Point{Lat: exitLat.Float64, Lng: exitLng.Float64}
	}
	return r, nil
}

func pointArgs(pt *geo.Point) (lat, lng any) {
	if pt == nil {
		return nil, nil
	}
	return pt.Lat, pt.Lng
}

func (p *PostgresStore) GetRecord(ctx context.Context, id string) (Record, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+recordCols+` FROM attendance_records WHERE id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) FindOpen(ctx context.Context, participantID, sessionID string) (*Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records
		WHERE participant_id = $1 AND session_id = $2 AND exit_at IS NULL
	`, participantID, sessionID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) CreateOpen(ctx context.Context, r Record) (Record, error) {
	lat, lng := pointArgs(r.EntryLocation)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, participant_id, session_id, entry_at,
			entry_lat, entry_lng, within_perimeter, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, r.ID, r.ParticipantID, r.SessionID, r.EntryAt, lat, lng, r.WithinPerimeter, r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Record{}, ErrOpenExists
		}
		return Record{}, err
	}
	return r, nil
}

func (p *PostgresStore) CloseOpen(ctx context.Context, participantID, sessionID string, exit ExitData) (Record, error) {
	lat, lng := pointArgs(exit.Location)
	row := p.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET exit_at = $3, dwell_min = $4, exit_lat = $5, exit_lng = $6, eligible = $7
		WHERE participant_id = $1 AND session_id = $2 AND exit_at IS NULL
		RETURNING `+recordCols, participantID, sessionID, exit.At, exit.DwellMin, lat, lng, exit.Eligible)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoOpen
	}
	return r, err
}

func (p *PostgresStore) MarkCredited(ctx context.Context, recordID string, value float64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET points_credited = TRUE, points_applied = $2
		WHERE id = $1 AND points_credited = FALSE
	`, recordID, value)
	return err
}

func (p *PostgresStore) MarkCertificateSent(ctx context.Context, recordID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE attendance_records SET certificate_sent = TRUE WHERE id = $1`, recordID)
	return err
}

func (p *PostgresStore) OpenBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records
		WHERE session_id = $1 AND exit_at IS NULL
		ORDER BY entry_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountEntriesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_records WHERE entry_at >= $1`, since).Scan(&n)
	return n, err
}

func (p *PostgresStore) GetParticipant(ctx context.Context, id string) (Participant, error) {
	var pt Participant
	var last sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, email, points_total, last_credited_at, created_at
		FROM participants WHERE id = $1
	`, id).Scan(&pt.ID, &pt.Name, &pt.Email, &pt.PointsTotal, &last, &pt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Participant{}, ErrNotFound
	}
	if err != nil {
		return Participant{}, err
	}
	if last.Valid {
		t := last.Time
		pt.LastCreditedAt = &t
	}
	return pt, nil
}

func (p *PostgresStore) CreateParticipant(ctx context.Context, pt Participant) (Participant, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO participants (id, name, email, points_total, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, pt.ID, pt.Name, pt.Email, pt.PointsTotal, pt.CreatedAt)
	return pt, err
}

// IncrementPoints is a single atomic add; concurrent credits to the same
// participant cannot lose updates.
func (p *PostgresStore) IncrementPoints(ctx context.Context, id string, value float64, at time.Time) (float64, error) {
	var total float64
	err := p.db.QueryRowContext(ctx, `
		UPDATE participants
		SET points_total = points_total + $2, last_credited_at = $3
		WHERE id = $1
		RETURNING points_total
	`, id, value, at).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return total, err
}

func (p *PostgresStore) CountParticipants(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants`).Scan(&n)
	return n, err
}

func (p *PostgresStore) AppendEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error) {
	var sessionID any
	if e.SessionID != "" {
		sessionID = e.SessionID
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO point_ledger (id, participant_id, kind, value, session_id, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.ParticipantID, e.Kind, e.Value, sessionID, e.Reason, e.CreatedAt)
	return e, err
}

func (p *PostgresStore) TotalPoints(ctx context.Context) (float64, error) {
	var total float64
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(value), 0) FROM point_ledger`).Scan(&total)
	return total, err
}
