package attendance

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"eventpoints/internal/geo"
)

type captureNotifier struct {
	mu      sync.Mutex
	records []Record
	fail    bool
}

func (n *captureNotifier) AttendanceCompleted(_ context.Context, rec Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp down")
	}
	n.records = append(n.records, rec)
	return nil
}

type fixture struct {
	store    *MemoryStore
	notifier *captureNotifier
	svc      *Service
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		notifier: &captureNotifier{},
		clock:    time.Date(2026, 5, 12, 13, 31, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, f.store, f.store, f.store, f.notifier, Config{
		QRBaseURL: "http://localhost:8080",
	})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) at(t *testing.T, hour, minute int) {
	t.Helper()
	f.clock = time.Date(2026, 5, 12, hour, minute, 0, 0, time.UTC)
}

func (f *fixture) seedSession(t *testing.T, s Session) Session {
	t.Helper()
	if s.Status == "" {
		s.Status = SessionScheduled
	}
	created, err := f.store.CreateSession(context.Background(), s)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return created
}

// talkAt1400 starts at 14:00 for 60 minutes,
// 50 m fence around the origin, 0.15 points.
func talkAt1400() Session {
	return Session{
		ID:          "talk-1",
		Title:       "Keynote",
		StartsAt:    time.Date(2026, 5, 12, 14, 0, 0, 0, time.UTC),
		DurationMin: 60,
		Geofence:    &Geofence{Lat: 0, Lng: 0, RadiusM: 50},
		Points:      0.15,
		Status:      SessionScheduled,
	}
}

func origin() *geo.Point { return &geo.Point{Lat: 0, Lng: 0} }

func TestCheckInOutOfWindow(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, talkAt1400())
	seedParticipant(t, f.store, "p1")

	f.at(t, 13, 29)
	_, err := f.svc.CheckIn(context.Background(), "p1", "talk-1", Attempt{Mode: ModeGPS, Location: origin()})
	if !IsRejection(err, RejectOutOfWindow) {
		t.Fatalf("CheckIn at 13:29 = %v, want out_of_window", err)
	}
	var rej *Rejection
	if !errors.As(err, &rej) || rej.Window == nil {
		t.Fatal("out_of_window rejection must carry the permitted window")
	}
	if want := time.Date(2026, 5, 12, 13, 30, 0, 0, time.UTC); !rej.Window.Start.Equal(want) {
		t.Errorf("window start = %v, want %v", rej.Window.Start, want)
	}
	if want := time.Date(2026, 5, 12, 15, 30, 0, 0, time.UTC); !rej.Window.End.Equal(want) {
		t.Errorf("window end = %v, want %v", rej.Window.End, want)
	}
}

func TestCheckInCheckOutFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSession(t, talkAt1400())
	seedParticipant(t, f.store, "p1")

	f.at(t, 13, 31)
	rec, err := f.svc.CheckIn(ctx, "p1", "talk-1", Attempt{Mode: ModeGPS, Location: origin()})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if !rec.Open() || !rec.WithinPerimeter {
		t.Errorf("check-in record not open/within perimeter: %+v", rec)
	}

	status, err := f.svc.Status(ctx, "p1", "talk-1")
	if err != nil || status == nil {
		t.Fatalf("Status after check-in = %v, %v; want open record", status, err)
	}

	f.at(t, 14, 40)
	closed, err := f.svc.CheckOut(ctx, "p1", "talk-1", Attempt{Mode: ModeGPS, Location: origin()})
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if closed.Open() {
		t.Fatal("record still open after check-out")
	}
	if closed.DwellMin != 69 {
		t.Errorf("DwellMin = %d, want 69", closed.DwellMin)
	}
	if !closed.Eligible {
		t.Error("69 min of a 60 min session must be eligible")
	}
	if !closed.PointsCredited || closed.PointsApplied != 0.15 {
		t.Errorf("credit outcome = credited=%v applied=%v, want true/0.15", closed.PointsCredited, closed.PointsApplied)
	}

	p, _ := f.store.GetParticipant(ctx, "p1")
	if p.PointsTotal != 0.15 {
		t.Errorf("PointsTotal = %v, want 0.15", p.PointsTotal)
	}
	entries := f.store.LedgerEntries()
	if len(entries) != 1 || entries[0].Value != 0.15 || entries[0].Kind != PointsSession {
		t.Errorf("unexpected ledger: %+v", entries)
	}
	if len(f.notifier.records) != 1 {
		t.Errorf("notifier calls = %d, want 1", len(f.notifier.records))
	}
}

func TestCheckOutReplayCreditsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSession(t, talkAt1400())
	seedParticipant(t, f.store, "p1")

	f.at(t, 13, 31)
	if _, err := f.svc.CheckIn(ctx, "p1", "talk-1", Attempt{Mode: ModeGPS, Location: origin()}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	f.at(t, 14, 40)
	attempt := Attempt{Mode: ModeGPS, Location: origin()}
	if _, err := f.svc.CheckOut(ctx, "p1", "talk-1", attempt); err != nil {
		t.Fatalf("first CheckOut: %v", err)
	}
	_, err := f.svc.CheckOut(ctx, "p1", "talk-1", attempt)
	if !IsRejection(err, RejectNoOpenEntry) {
		t.Fatalf("replayed CheckOut = %v, want no_open_entry", err)
	}

	p, _ := f.store.GetParticipant(ctx, "p1")
	if p.PointsTotal != 0.15 {
		t.Errorf("PointsTotal after replay = %v, want 0.15 (credited once)", p.PointsTotal)
	}
	if got := len(f.store.LedgerEntries()); got != 1 {
		t.Errorf("ledger entries = %d, want 1", got)
	}
}

func TestCheckOutBelowThresholdNotCredited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSession(t, talkAt1400())
	seedParticipant(t, f.store, "p1")

	f.at(t, 14, 0)
	if _, err := f.svc.CheckIn(ctx, "p1", "talk-1", Attempt{Mode: ModeGPS, Location: origin()}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	// 35 of 60 minutes is under the 60% threshold (36 min)
	f.at(t, 14, 35)
	closed, err := f.svc.CheckOut(ctx, "p1", "talk-1", Attempt{Mode: ModeGPS, Location: origin()})
	if err != nil {
		t.Fatalf("CheckOut: %v", err)
	}
	if closed.Eligible || closed.PointsCredited {
		t.Errorf("short stay must not be credited: %+v", closed)
	}
	if got := len(f.store.LedgerEntries()); got != 0 {
		t.Errorf("ledger entries = %d, want 0", got)
	}
	if len(f.notifier.records) != 0 {
		t.Error("ineligible completion must not trigger the notifier")
	}
}

func TestConcurrentCheckInsCreateOneRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSession(t, talkAt1400())
	seedParticipant(t, f.store, "p1")
	f.at(t, 14, 0)

	const n = 20
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := f.svc.CheckIn(ctx, "p1", "talk-1", Attempt{Mode: ModeGPS, Location: origin()})
			results <- err
		}()
	}

	succeeded, duplicates := 0, 0
	for i := 0; i < n; i++ {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case IsRejection(err, RejectAlreadyCheckedIn):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || duplicates != n-1 {
		t.Errorf("succeeded=%d duplicates=%d, want 1/%d", succeeded, duplicates, n-1)
	}
}

func TestCheckInGates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cancelled := talkAt1400()
	cancelled.ID = "talk-cancelled"
	cancelled.Status = SessionCancelled
	f.seedSession(t, talkAt1400())
	f.seedSession(t, cancelled)
	seedParticipant(t, f.store, "p1")
	f.at(t, 14, 0)

	tests := []struct {
		name      string
		sessionID string
		attempt   Attempt
		wantKind  RejectKind
	}{
		{name: "unknown session", sessionID: "nope", attempt: Attempt{Mode: ModeGPS, Location: origin()}, wantKind: RejectSessionNotFound},
		{name: "cancelled session", sessionID: "talk-cancelled", attempt: Attempt{Mode: ModeGPS, Location: origin()}, wantKind: RejectSessionCancelled},
		{name: "gps without location", sessionID: "talk-1", attempt: Attempt{Mode: ModeGPS}, wantKind: RejectInsufficientData},
		{name: "gps outside fence", sessionID: "talk-1", attempt: Attempt{Mode: ModeGPS, Location: &geo.Point{Lat: 1, Lng: 1}}, wantKind: RejectOutOfPerimeter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CheckIn(ctx, "p1", tt.sessionID, tt.attempt)
			if got := RejectionKind(err); got != tt.wantKind {
				t.Errorf("CheckIn kind = %q, want %q", got, tt.wantKind)
			}
		})
	}
}

func TestQRCheckInWithoutFence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := talkAt1400()
	s.Geofence = &Geofence{Lat: 0, Lng: 0, RadiusM: 50}
	f.seedSession(t, s)
	seedParticipant(t, f.store, "p1")
	f.at(t, 14, 0)

	// zero coordinates: QR alone suffices, no location needed
	rec, err := f.svc.CheckIn(ctx, "p1", "talk-1", Attempt{Mode: ModeQR, Token: `{"session_id":"talk-1"}`})
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if !rec.Open() {
		t.Error("expected open record")
	}
}

func TestQRCheckInFencedRequiresLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := talkAt1400()
	s.Geofence = &Geofence{Lat: -23.55, Lng: -46.63, RadiusM: 50}
	f.seedSession(t, s)
	seedParticipant(t, f.store, "p1")
	f.at(t, 14, 0)

	_, err := f.svc.CheckIn(ctx, "p1", "talk-1", Attempt{Mode: ModeQR, Token: `{"session_id":"talk-1"}`})
	if !IsRejection(err, RejectLocationRequired) {
		t.Fatalf("CheckIn = %v, want location_required", err)
	}
}

func TestNotifierFailureDoesNotFailCheckOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.fail = true
	f.seedSession(t, talkAt1400())
	seedParticipant(t, f.store, "p1")

	f.at(t, 14, 0)
	if _, err := f.svc.CheckIn(ctx, "p1", "talk-1", Attempt{Mode: ModeGPS, Location: origin()}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	f.at(t, 15, 0)
	closed, err := f.svc.CheckOut(ctx, "p1", "talk-1", Attempt{Mode: ModeGPS, Location: origin()})
	if err != nil {
		t.Fatalf("CheckOut must succeed despite notifier failure, got %v", err)
	}
	if !closed.PointsCredited {
		t.Error("credit must be applied despite notifier failure")
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.CreateSession(ctx, Session{
		Title:       "Robotics Lab Tour",
		Kind:        KindExhibition,
		StartsAt:    time.Date(2026, 5, 12, 16, 0, 0, 0, time.UTC),
		DurationMin: 45,
		Geofence:    &Geofence{Lat: -23.55, Lng: -46.63},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.Points != DefaultExhibitionPoints {
		t.Errorf("Points = %v, want exhibition default %v", created.Points, DefaultExhibitionPoints)
	}
	if created.Geofence.RadiusM != DefaultRadiusM {
		t.Errorf("RadiusM = %v, want default %v", created.Geofence.RadiusM, DefaultRadiusM)
	}
	if created.QRToken == "" {
		t.Error("created session must carry a QR token")
	}

	if _, err := f.svc.StartSession(ctx, created.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := f.svc.StartSession(ctx, created.ID); !IsRejection(err, RejectInvalidTransition) {
		t.Errorf("double start = %v, want invalid_transition", err)
	}
	if _, err := f.svc.FinishSession(ctx, created.ID); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	if _, err := f.svc.CancelSession(ctx, created.ID); !IsRejection(err, RejectInvalidTransition) {
		t.Errorf("cancel after finish = %v, want invalid_transition", err)
	}
	if _, err := f.svc.StartSession(ctx, "ghost"); !IsRejection(err, RejectSessionNotFound) {
		t.Errorf("start unknown = %v, want session_not_found", err)
	}
}

func TestCreditVolunteerClamps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedParticipant(t, f.store, "p1")

	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{name: "default full point", value: 0, want: 1},
		{name: "half point", value: 0.5, want: 0.5},
		{name: "clamped to one", value: 3, want: 1},
	}
	total := 0.0
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.CreditVolunteer(ctx, "p1", tt.value, "setup crew")
			if err != nil {
				t.Fatalf("CreditVolunteer: %v", err)
			}
			if result.Entry.Value != tt.want {
				t.Errorf("credited %v, want %v", result.Entry.Value, tt.want)
			}
			total += tt.want
			if math.Abs(result.NewTotal-total) > 1e-9 {
				t.Errorf("NewTotal = %v, want %v", result.NewTotal, total)
			}
		})
	}

	if _, err := f.svc.CreditVolunteer(ctx, "p1", -2, ""); !IsRejection(err, RejectInvalidValue) {
		t.Errorf("negative value = %v, want invalid_value", err)
	}
}

func TestPublicOverview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSession(t, talkAt1400())
	seedParticipant(t, f.store, "p1")
	seedParticipant(t, f.store, "p2")

	f.at(t, 14, 0)
	if _, err := f.svc.CheckIn(ctx, "p1", "talk-1", Attempt{Mode: ModeGPS, Location: origin()}); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if _, err := f.svc.CreditVolunteer(ctx, "p2", 1, "registration desk"); err != nil {
		t.Fatalf("CreditVolunteer: %v", err)
	}

	overview, err := f.svc.PublicOverview(ctx)
	if err != nil {
		t.Fatalf("PublicOverview: %v", err)
	}
	if overview.Participants != 2 {
		t.Errorf("Participants = %d, want 2", overview.Participants)
	}
	if overview.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1", overview.ActiveSessions)
	}
	if overview.CheckInsToday != 1 {
		t.Errorf("CheckInsToday = %d, want 1", overview.CheckInsToday)
	}
	if overview.PointsDistributed != 1 {
		t.Errorf("PointsDistributed = %v, want 1", overview.PointsDistributed)
	}
}
