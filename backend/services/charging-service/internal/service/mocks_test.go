package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"solarcharge/backend/services/charging-service/internal/models"
)

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.ChargingSession
	seq      int
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]models.ChargingSession)}
}

func (m *memSessionStore) CreateRequested(_ context.Context, s *models.ChargingSession) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.Port() == s.Port() && existing.Status != SessionStatusClosed {
			return false, nil
		}
	}
	m.seq++
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	m.sessions[s.ID] = *s
	return true, nil
}

func (m *memSessionStore) MarkActive(_ context.Context, id string) error {
	return m.transition(id, SessionStatusRequested, SessionStatusActive)
}

func (m *memSessionStore) MarkClosing(_ context.Context, id string) error {
	return m.transition(id, SessionStatusActive, SessionStatusClosing)
}

func (m *memSessionStore) transition(id, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	if s.Status != from {
		return fmt.Errorf("session %s in status %s, want %s", id, s.Status, from)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return nil
}

func (m *memSessionStore) Close(_ context.Context, id string, endTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.Status = SessionStatusClosed
	s.EndTime = &endTime
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return nil
}

func (m *memSessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if s.Status != SessionStatusRequested {
		return fmt.Errorf("session %s not requested", id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *memSessionStore) AddEnergy(_ context.Context, id string, deltaMah float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.EnergyMah += deltaMah
	m.sessions[id] = s
	return nil
}

func (m *memSessionStore) OpenByPort(_ context.Context, key models.PortKey) (*models.ChargingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Port() == key && s.Status != SessionStatusClosed {
			copied := s
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memSessionStore) ActiveByUser(_ context.Context, userID int64) ([]models.ChargingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChargingSession
	for _, s := range m.sessions {
		if s.UserID == userID && s.Status == SessionStatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessionStore) OpenAll(_ context.Context) ([]models.ChargingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChargingSession
	for _, s := range m.sessions {
		if s.Status != SessionStatusClosed {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessionStore) ListByUser(_ context.Context, userID int64, limit int) ([]models.ChargingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChargingSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memSessionStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *memSessionStore) get(id string) (models.ChargingSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

type memPlanStore struct {
	mu    sync.Mutex
	plans map[string]models.Plan
}

func newMemPlanStore(plans ...models.Plan) *memPlanStore {
	store := &memPlanStore{plans: make(map[string]models.Plan)}
	for _, p := range plans {
		store.plans[p.ID] = p
	}
	return store
}

func (m *memPlanStore) Get(_ context.Context, id string) (*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, nil
	}
	copied := p
	return &copied, nil
}

type memCatalog struct {
	mu       sync.Mutex
	ports    []models.StationPort
	stations []models.Station
}

func (m *memCatalog) AllPorts(context.Context) ([]models.StationPort, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StationPort(nil), m.ports...), nil
}

func (m *memCatalog) PortsByStation(_ context.Context, stationID string) ([]models.StationPort, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StationPort
	for _, p := range m.ports {
		if p.StationID == stationID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memCatalog) FindPort(_ context.Context, key models.PortKey) (*models.StationPort, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.ports {
		if p.Key() == key {
			copied := p
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memCatalog) ListStations(context.Context) ([]models.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Station(nil), m.stations...), nil
}

type fakeGuard struct {
	mu     sync.Mutex
	held   map[models.PortKey]string
	seq    int
	broken bool
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{held: make(map[models.PortKey]string)}
}

func (g *fakeGuard) TryLock(_ context.Context, key models.PortKey, _ time.Duration) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.broken {
		return "", false, errors.New("guard store down")
	}
	if _, taken := g.held[key]; taken {
		return "", false, nil
	}
	g.seq++
	token := fmt.Sprintf("tok-%d", g.seq)
	g.held[key] = token
	return token, true, nil
}

func (g *fakeGuard) Unlock(_ context.Context, key models.PortKey, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[key] == token {
		delete(g.held, key)
	}
	return nil
}

const (
	senderModeOK      = "ok"
	senderModeHang    = "hang"
	senderModeOffline = "offline"
	senderModeReject  = "reject"
)

type fakeSender struct {
	mu    sync.Mutex
	mode  string
	delay time.Duration
	calls int
}

func (f *fakeSender) SendControlCommand(ctx context.Context, _ models.PortKey, _ bool, _ int64) (*CommandResult, error) {
	f.mu.Lock()
	f.calls++
	mode := f.mode
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	switch mode {
	case senderModeHang:
		<-ctx.Done()
		return nil, ctx.Err()
	case senderModeOffline:
		return &CommandResult{Accepted: false, Reason: CommandReasonOffline}, nil
	case senderModeReject:
		return &CommandResult{Accepted: false, Reason: "relay_fault"}, nil
	default:
		return &CommandResult{Accepted: true}, nil
	}
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSender) setMode(mode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
}

type fakeActiveCache struct {
	mu     sync.Mutex
	active map[string]models.ChargingSession
}

func newFakeActiveCache() *fakeActiveCache {
	return &fakeActiveCache{active: make(map[string]models.ChargingSession)}
}

func (f *fakeActiveCache) Save(_ context.Context, s models.ChargingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[s.ID] = s
	return nil
}

func (f *fakeActiveCache) Delete(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, sessionID)
	return nil
}

func (f *fakeActiveCache) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

type fakeReconcile struct {
	mu      sync.Mutex
	flagged map[models.PortKey]bool
}

func newFakeReconcile() *fakeReconcile {
	return &fakeReconcile{flagged: make(map[models.PortKey]bool)}
}

func (f *fakeReconcile) Flag(_ context.Context, key models.PortKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged[key] = true
	return nil
}

func (f *fakeReconcile) Clear(_ context.Context, key models.PortKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.flagged, key)
	return nil
}

func (f *fakeReconcile) List(context.Context) ([]models.PortKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]models.PortKey, 0, len(f.flagged))
	for key := range f.flagged {
		keys = append(keys, key)
	}
	return keys, nil
}

func (f *fakeReconcile) isFlagged(key models.PortKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flagged[key]
}
