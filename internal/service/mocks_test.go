package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"risksignal/internal/models"
	"risksignal/internal/notify"
	"risksignal/internal/repository"
	"risksignal/pkg/crypto"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// ============ Mock PolicyRepository ============

type MockPolicyRepository struct {
	mu         sync.Mutex
	policies   map[string]*models.Policy
	referenced map[string]bool
	nextID     int
	createErr  error
	getErr     error
	listErr    error
	updateErr  error
}

func NewMockPolicyRepository(policies ...models.Policy) *MockPolicyRepository {
	m := &MockPolicyRepository{policies: make(map[string]*models.Policy), referenced: make(map[string]bool)}
	for i := range policies {
		p := policies[i]
		m.policies[p.ID] = &p
	}
	return m
}

func (m *MockPolicyRepository) Create(ctx context.Context, p *models.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	p.ID = fmt.Sprintf("policy-%d", m.nextID)
	cp := *p
	m.policies[p.ID] = &cp
	return nil
}

func (m *MockPolicyRepository) GetForUser(ctx context.Context, id, userID string) (*models.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.policies[id]
	if !ok || p.UserID != userID {
		return nil, repository.ErrPolicyNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPolicyRepository) filter(keep func(p *models.Policy) bool) ([]models.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Policy
	for _, p := range m.policies {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockPolicyRepository) ListByUser(ctx context.Context, userID string) ([]models.Policy, error) {
	return m.filter(func(p *models.Policy) bool { return p.UserID == userID })
}

func (m *MockPolicyRepository) ListActive(ctx context.Context) ([]models.Policy, error) {
	return m.filter(func(p *models.Policy) bool { return p.IsActive })
}

func (m *MockPolicyRepository) ListActiveForAccount(ctx context.Context, accountID string) ([]models.Policy, error) {
	return m.filter(func(p *models.Policy) bool { return p.IsActive && p.AccountID == accountID })
}

func (m *MockPolicyRepository) Update(ctx context.Context, p *models.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	existing, ok := m.policies[p.ID]
	if !ok || existing.UserID != p.UserID {
		return repository.ErrPolicyNotFound
	}
	cp := *p
	m.policies[p.ID] = &cp
	return nil
}

func (m *MockPolicyRepository) SetActive(ctx context.Context, id, userID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok || p.UserID != userID {
		return repository.ErrPolicyNotFound
	}
	p.IsActive = active
	return nil
}

func (m *MockPolicyRepository) Delete(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok || p.UserID != userID {
		return repository.ErrPolicyNotFound
	}
	if m.referenced[id] {
		return repository.ErrPolicyReferenced
	}
	delete(m.policies, id)
	return nil
}

// ============ Mock RiskEventRepository ============

type MockRiskEventRepository struct {
	mu        sync.Mutex
	events    []*models.RiskEvent
	owners    map[string]string // event id -> user id
	createErr error
	updateErr error
	lastQuery models.RiskEventFilter
}

func NewMockRiskEventRepository() *MockRiskEventRepository {
	return &MockRiskEventRepository{owners: make(map[string]string)}
}

func (m *MockRiskEventRepository) Create(ctx context.Context, e *models.RiskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	e.ID = fmt.Sprintf("event-%d", len(m.events)+1)
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *MockRiskEventRepository) add(e models.RiskEvent, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, &e)
	m.owners[e.ID] = userID
}

func (m *MockRiskEventRepository) GetForUser(ctx context.Context, id, userID string) (*models.RiskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id && m.owners[id] == userID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, repository.ErrRiskEventNotFound
}

func (m *MockRiskEventRepository) List(ctx context.Context, f models.RiskEventFilter) ([]models.RiskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = f
	var out []models.RiskEvent
	for _, e := range m.events {
		if m.owners[e.ID] == f.UserID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *MockRiskEventRepository) UpdateStatus(ctx context.Context, id string, from, to models.EventStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	for _, e := range m.events {
		if e.ID == id {
			if e.Status != from {
				return repository.ErrInvalidStatusChange
			}
			e.Status = to
			return nil
		}
	}
	return repository.ErrInvalidStatusChange
}

func (m *MockRiskEventRepository) created() []models.RiskEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RiskEvent, len(m.events))
	for i, e := range m.events {
		out[i] = *e
	}
	return out
}

// ============ Mock AlertRepository ============

type MockAlertRepository struct {
	mu        sync.Mutex
	records   []models.AlertRecord
	countErr  error
	createErr error
	lastSince time.Time
}

func (m *MockAlertRepository) Create(ctx context.Context, a *models.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	a.ID = fmt.Sprintf("alert-%d", len(m.records)+1)
	m.records = append(m.records, *a)
	return nil
}

func (m *MockAlertRepository) CountRecent(ctx context.Context, riskEventID string, statuses []models.AlertStatus, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSince = since
	if m.countErr != nil {
		return 0, m.countErr
	}
	count := 0
	for _, r := range m.records {
		if r.RiskEventID != riskEventID || r.SentAt.Before(since) {
			continue
		}
		for _, s := range statuses {
			if r.Status == s {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *MockAlertRepository) ListByRiskEvent(ctx context.Context, riskEventID string) ([]models.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AlertRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].RiskEventID == riskEventID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *MockAlertRepository) all() []models.AlertRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AlertRecord(nil), m.records...)
}

// ============ Mock AgentRepository ============

type MockAgentRepository struct {
	mu           sync.Mutex
	agents       map[string]*models.Agent
	haltLog      []models.HaltLogEntry
	nextID       int
	applyErr     error
	heartbeatErr error
	prefixCalls  int
	// afterKeyLookup вызывается после поиска по префиксу ключа, вне мьютекса
	afterKeyLookup func()
}

func NewMockAgentRepository() *MockAgentRepository {
	return &MockAgentRepository{agents: make(map[string]*models.Agent)}
}

func (m *MockAgentRepository) Create(ctx context.Context, a *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = fmt.Sprintf("agent-%d", m.nextID)
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *MockAgentRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, repository.ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAgentRepository) GetForUser(ctx context.Context, id, userID string) (*models.Agent, error) {
	a, err := m.GetByID(ctx, id)
	if err != nil || a.UserID != userID {
		return nil, repository.ErrAgentNotFound
	}
	return a, nil
}

func (m *MockAgentRepository) ListByAPIKeyPrefix(ctx context.Context, prefix string) ([]models.Agent, error) {
	m.mu.Lock()
	m.prefixCalls++
	var out []models.Agent
	for _, a := range m.agents {
		if a.APIKeyPrefix == prefix {
			out = append(out, *a)
		}
	}
	hook := m.afterKeyLookup
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *MockAgentRepository) isHalted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	return ok && a.IsHalted
}

func (m *MockAgentRepository) ListByUser(ctx context.Context, userID string) ([]models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Agent
	for _, a := range m.agents {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *MockAgentRepository) RecordHeartbeat(ctx context.Context, id string, at time.Time, meta models.AgentMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.heartbeatErr != nil {
		return m.heartbeatErr
	}
	a, ok := m.agents[id]
	if !ok {
		return repository.ErrAgentNotFound
	}
	a.LastHeartbeat = &at
	a.Metadata = meta
	if !a.IsHalted {
		a.Status = models.AgentStatusActive
	}
	return nil
}

// ApplyHalt повторяет условный UPDATE репозитория
func (m *MockAgentRepository) ApplyHalt(ctx context.Context, entry *models.HaltLogEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return false, m.applyErr
	}
	a, ok := m.agents[entry.AgentID]
	if !ok {
		return false, repository.ErrAgentNotFound
	}
	halt := entry.Action == models.HaltActionHalt
	if a.IsHalted == halt {
		return false, nil
	}
	a.IsHalted = halt
	if halt {
		reason, ts := entry.Reason, entry.Timestamp
		a.Status = models.AgentStatusHalted
		a.HaltReason = &reason
		a.HaltTimestamp = &ts
	} else {
		a.Status = models.AgentStatusActive
		a.HaltReason = nil
		a.HaltTimestamp = nil
	}
	entry.ID = fmt.Sprintf("halt-%d", len(m.haltLog)+1)
	m.haltLog = append(m.haltLog, *entry)
	return true, nil
}

func (m *MockAgentRepository) ListHaltLog(ctx context.Context, agentID string, limit int) ([]models.HaltLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.HaltLogEntry
	for i := len(m.haltLog) - 1; i >= 0; i-- {
		if m.haltLog[i].AgentID == agentID {
			out = append(out, m.haltLog[i])
		}
	}
	return out, nil
}

func (m *MockAgentRepository) logEntries() []models.HaltLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.HaltLogEntry(nil), m.haltLog...)
}

// addAgentWithKey регистрирует агента с известным ключом
func addAgentWithKey(t *testing.T, repo *MockAgentRepository, userID string) (*models.Agent, string) {
	t.Helper()
	key, err := crypto.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	hash, err := crypto.HashAPIKeyWithCost(key, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashAPIKeyWithCost: %v", err)
	}
	agent := &models.Agent{
		UserID:       userID,
		Name:         "test-agent",
		APIKeyPrefix: key[:crypto.APIKeyPrefixLen],
		APIKeyHash:   hash,
		Status:       models.AgentStatusInactive,
	}
	if err := repo.Create(context.Background(), agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return agent, key
}

// ============ Mock TelemetryRepository ============

type MockTelemetryRepository struct {
	mu          sync.Mutex
	samples     []models.TelemetrySample
	validations []models.TradeValidation
	tradesToday int
	countSince  time.Time
	insertErr   error
	countErr    error
	// beforeInsert вызывается в начале InsertSample, вне мьютекса
	beforeInsert func()
}

func (m *MockTelemetryRepository) InsertSample(ctx context.Context, s *models.TelemetrySample) error {
	if m.beforeInsert != nil {
		m.beforeInsert()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.samples = append(m.samples, *s)
	return nil
}

func (m *MockTelemetryRepository) CountEventsSince(ctx context.Context, agentID, eventType string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countSince = since
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.tradesToday, nil
}

func (m *MockTelemetryRepository) InsertValidation(ctx context.Context, v *models.TradeValidation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations = append(m.validations, *v)
	return nil
}

// ============ Mock SnapshotRepository ============

type MockSnapshotRepository struct {
	mu        sync.Mutex
	snapshots []models.AccountSnapshot
	createErr error
}

func (m *MockSnapshotRepository) Create(ctx context.Context, s *models.AccountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.snapshots = append(m.snapshots, *s)
	return nil
}

// ============ Mock PreferencesRepository ============

type MockPreferencesRepository struct {
	mu     sync.Mutex
	prefs  map[string]*models.NotificationPreferences
	getErr error
}

func NewMockPreferencesRepository() *MockPreferencesRepository {
	return &MockPreferencesRepository{prefs: make(map[string]*models.NotificationPreferences)}
}

func (m *MockPreferencesRepository) Get(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if p, ok := m.prefs[userID]; ok {
		cp := *p
		return &cp, nil
	}
	return models.DefaultNotificationPreferences(userID), nil
}

func (m *MockPreferencesRepository) Upsert(ctx context.Context, p *models.NotificationPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.prefs[p.UserID] = &cp
	return nil
}

// ============ Mock Notifier ============

type MockNotifier struct {
	mu       sync.Mutex
	channel  models.AlertChannel
	err      error
	calls    []string // получатели
	messages []notify.Message
}

func (m *MockNotifier) Channel() models.AlertChannel { return m.channel }

func (m *MockNotifier) Send(ctx context.Context, recipient string, msg notify.Message) (notify.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recipient)
	m.messages = append(m.messages, msg)
	content := fmt.Sprintf("[%s] %s", m.channel, msg.Text)
	if m.err != nil {
		return notify.Receipt{Content: content}, m.err
	}
	return notify.Receipt{MessageID: fmt.Sprintf("%s-%d", m.channel, len(m.calls)), Content: content}, nil
}

func (m *MockNotifier) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newMockChannels() (Channels, map[models.AlertChannel]*MockNotifier) {
	mocks := map[models.AlertChannel]*MockNotifier{
		models.AlertChannelEmail: {channel: models.AlertChannelEmail},
		models.AlertChannelSMS:   {channel: models.AlertChannelSMS},
		models.AlertChannelSlack: {channel: models.AlertChannelSlack},
	}
	ch := Channels{}
	for k, v := range mocks {
		ch[k] = v
	}
	return ch, mocks
}

// ============ Mock AlertSender / Broadcaster ============

type MockAlertSender struct {
	mu       sync.Mutex
	payloads []AlertPayload
	prefs    []*models.NotificationPreferences
	err      error
}

func (m *MockAlertSender) SendAlerts(ctx context.Context, payload AlertPayload, prefs *models.NotificationPreferences) ([]models.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	m.prefs = append(m.prefs, prefs)
	if m.err != nil {
		return nil, m.err
	}
	return []models.AlertRecord{{RiskEventID: payload.RiskEventID, Status: models.AlertStatusSent}}, nil
}

func (m *MockAlertSender) sent() []AlertPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AlertPayload(nil), m.payloads...)
}

type MockBroadcaster struct {
	mu     sync.Mutex
	events []*models.RiskEvent
	halts  []*HaltState
}

func (m *MockBroadcaster) BroadcastRiskEvent(userID string, event *models.RiskEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *MockBroadcaster) BroadcastHalt(state *HaltState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halts = append(m.halts, state)
}

// ============ Mock SnapshotProvider ============

type MockSnapshotProvider struct {
	mu        sync.Mutex
	snapshots map[string]*models.AccountSnapshot
	errs      map[string]error
	calls     map[string]int
	onFetch   func(accountID string)
}

func NewMockSnapshotProvider() *MockSnapshotProvider {
	return &MockSnapshotProvider{
		snapshots: make(map[string]*models.AccountSnapshot),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (m *MockSnapshotProvider) FetchSnapshot(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[accountID]++
	if m.onFetch != nil {
		m.onFetch(accountID)
	}
	if err := m.errs[accountID]; err != nil {
		return nil, err
	}
	snap, ok := m.snapshots[accountID]
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s", accountID)
	}
	cp := *snap
	return &cp, nil
}

// ============ Хелперы политик ============

func agentPolicy(id, userID, agentID string, typ models.PolicyType, severity models.Severity, config string) models.Policy {
	return models.Policy{
		ID:        id,
		UserID:    userID,
		AccountID: agentID,
		Type:      typ,
		Name:      string(typ) + " policy",
		Config:    json.RawMessage(config),
		Severity:  severity,
		IsActive:  true,
	}
}

func floatPtr(v float64) *float64 { return &v }
