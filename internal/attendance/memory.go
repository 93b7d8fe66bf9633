package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements every repository in process memory. It backs
// tests and the dev/memory backend. A single mutex serializes the
// find-then-write sections, which is the invariant the Postgres store
// gets from its partial unique index.
type MemoryStore struct {
	mu           sync.Mutex
	sessions     map[string]Session
	records      map[string]Record
	participants map[string]Participant
	ledger       []LedgerEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]Session),
		records:      make(map[string]Record),
		participants: make(map[string]Participant),
	}
}

var (
	_ SessionRepository     = (*MemoryStore)(nil)
	_ AttendanceRepository  = (*MemoryStore)(nil)
	_ ParticipantRepository = (*MemoryStore)(nil)
	_ PointLedgerRepository = (*MemoryStore)(nil)
)

func (m *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return Session{}, ErrNotFound
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemoryStore) TransitionSession(_ context.Context, id string, from, to SessionStatus) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != from {
		return Session{}, ErrNotFound
	}
	s.Status = to
	m.sessions[id] = s
	return s, nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (m *MemoryStore) CountActiveSessions(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.Status != SessionCancelled {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetRecord(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) FindOpen(_ context.Context, participantID, sessionID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.findOpenLocked(participantID, sessionID); ok {
		out := r
		return &out, nil
	}
	return nil, nil
}

func (m *MemoryStore) findOpenLocked(participantID, sessionID string) (Record, bool) {
	for _, r := range m.records {
		if r.ParticipantID == participantID && r.SessionID == sessionID && r.Open() {
			return r, true
		}
	}
	return Record{}, false
}

func (m *MemoryStore) CreateOpen(_ context.Context, r Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.findOpenLocked(r.ParticipantID, r.SessionID); ok {
		return Record{}, ErrOpenExists
	}
	m.records[r.ID] = r
	return r, nil
}

func (m *MemoryStore) CloseOpen(_ context.Context, participantID, sessionID string, exit ExitData) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.findOpenLocked(participantID, sessionID)
	if !ok {
		return Record{}, ErrNoOpen
	}
	at := exit.At
	r.ExitAt = &at
	r.DwellMin = exit.DwellMin
	r.ExitLocation = exit.Location
	r.Eligible = exit.Eligible
	m.records[r.ID] = r
	return r, nil
}

func (m *MemoryStore) MarkCredited(_ context.Context, recordID string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordID]
	if !ok {
		return ErrNotFound
	}
	if !r.PointsCredited {
		r.PointsCredited = true
		r.PointsApplied = value
		m.records[recordID] = r
	}
	return nil
}

func (m *MemoryStore) MarkCertificateSent(_ context.Context, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordID]
	if !ok {
		return ErrNotFound
	}
	r.CertificateSent = true
	m.records[recordID] = r
	return nil
}

func (m *MemoryStore) OpenBySession(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.SessionID == sessionID && r.Open() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryAt.Before(out[j].EntryAt) })
	return out, nil
}

func (m *MemoryStore) CountEntriesSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if !r.EntryAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetParticipant(_ context.Context, id string) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) CreateParticipant(_ context.Context, p Participant) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[p.ID] = p
	return p, nil
}

func (m *MemoryStore) IncrementPoints(_ context.Context, id string, value float64, at time.Time) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[id]
	if !ok {
		return 0, ErrNotFound
	}
	p.PointsTotal += value
	t := at
	p.LastCreditedAt = &t
	m.participants[id] = p
	return p.PointsTotal, nil
}

func (m *MemoryStore) CountParticipants(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.participants), nil
}

func (m *MemoryStore) AppendEntry(_ context.Context, e LedgerEntry) (LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = append(m.ledger, e)
	return e, nil
}

func (m *MemoryStore) TotalPoints(_ context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for _, e := range m.ledger {
		total += e.Value
	}
	return total, nil
}

// LedgerEntries returns a copy of the audit log, oldest first.
func (m *MemoryStore) LedgerEntries() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LedgerEntry, len(m.ledger))
	copy(out, m.ledger)
	return out
}
