package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"risksignal/internal/api/middleware"
	"risksignal/internal/models"
	"risksignal/internal/service"
)

// ErrMockDatabase - имитация сбоя хранилища
var ErrMockDatabase = errors.New("mock database error")

// ============ Helpers ============

// withUser добавляет оператора в context запроса, как это делает Auth
func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.WithUserID(r.Context(), userID))
}

// withVars задает переменные пути gorilla/mux
func withVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

// errorSet - ошибки, внедряемые в мок по имени операции
type errorSet struct {
	mu   sync.RWMutex
	errs map[string]error
}

func (e *errorSet) SetError(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.errs == nil {
		e.errs = make(map[string]error)
	}
	e.errs[op] = err
}

func (e *errorSet) err(op string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.errs[op]
}

// ============ Mock Telemetry Service ============

type MockTelemetryService struct {
	errorSet
	result      *service.TelemetryResult
	lastKey     string
	lastPayload service.TelemetryPayload
}

func NewMockTelemetryService() *MockTelemetryService {
	return &MockTelemetryService{
		result: &service.TelemetryResult{Status: service.TelemetryStatusProcessed, Action: service.ActionContinue},
	}
}

func (m *MockTelemetryService) Ingest(ctx context.Context, apiKey string, payload service.TelemetryPayload) (*service.TelemetryResult, error) {
	m.lastKey = apiKey
	m.lastPayload = payload
	if err := m.err("ingest"); err != nil {
		return nil, err
	}
	return m.result, nil
}

// ============ Mock Trade Validator ============

type MockTradeValidator struct {
	errorSet
	decision *service.TradeDecision
	claims   *service.ValidationClaims
	lastReq  service.TradeRequest
}

func NewMockTradeValidator() *MockTradeValidator {
	return &MockTradeValidator{
		decision: &service.TradeDecision{
			Validation: service.ValidationPass,
			Action:     service.ActionContinue,
			Token:      "signed-token",
		},
	}
}

func (m *MockTradeValidator) Validate(ctx context.Context, req service.TradeRequest) (*service.TradeDecision, error) {
	m.lastReq = req
	if err := m.err("validate"); err != nil {
		return nil, err
	}
	return m.decision, nil
}

func (m *MockTradeValidator) VerifyToken(token string) (*service.ValidationClaims, error) {
	if err := m.err("verify"); err != nil {
		return nil, err
	}
	if m.claims == nil || token != "signed-token" {
		return nil, service.ErrInvalidValidationToken
	}
	return m.claims, nil
}

// ============ Mock Agent Service ============

type MockAgentService struct {
	errorSet
	mu     sync.Mutex
	agents map[string]*models.Agent
	nextID int
}

func NewMockAgentService() *MockAgentService {
	return &MockAgentService{agents: make(map[string]*models.Agent), nextID: 1}
}

func (m *MockAgentService) AddAgent(a *models.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
}

func (m *MockAgentService) Create(ctx context.Context, userID, name string) (*models.Agent, string, error) {
	if err := m.err("create"); err != nil {
		return nil, "", err
	}
	if name == "" {
		return nil, "", service.ErrInvalidAgentName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &models.Agent{
		ID:           "agent-new",
		UserID:       userID,
		Name:         name,
		APIKeyPrefix: "rsk_0123",
		Status:       models.AgentStatusInactive,
		CreatedAt:    time.Now(),
	}
	m.agents[a.ID] = a
	m.nextID++
	return a, "rsk_0123456789abcdef0123456789abcdef01234567", nil
}

func (m *MockAgentService) List(ctx context.Context, userID string) ([]models.Agent, error) {
	if err := m.err("list"); err != nil {
		return nil, err
	}
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

func (m *MockAgentService) Get(ctx context.Context, userID, agentID string) (*models.Agent, error) {
	if err := m.err("get"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok || a.UserID != userID {
		return nil, service.ErrAgentNotFound
	}
	return a, nil
}

// ============ Mock Halt Controller ============

type MockHaltController struct {
	errorSet
	mu     sync.Mutex
	states map[string]*service.HaltState // agentID -> state
	owners map[string]string             // agentID -> userID
	keys   map[string]string             // apiKey -> agentID
	log    []models.HaltLogEntry

	lastReason string
	lastLimit  int
}

func NewMockHaltController() *MockHaltController {
	return &MockHaltController{
		states: make(map[string]*service.HaltState),
		owners: make(map[string]string),
		keys:   make(map[string]string),
	}
}

func (m *MockHaltController) AddAgent(agentID, userID, apiKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[agentID] = &service.HaltState{AgentID: agentID, UserID: userID, Status: models.AgentStatusActive}
	m.owners[agentID] = userID
	m.keys[apiKey] = agentID
}

func (m *MockHaltController) SetHalted(ctx context.Context, userID, agentID string, halt bool, reason string) (*service.HaltState, error) {
	if err := m.err("set"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[agentID] != userID {
		return nil, service.ErrAgentNotFound
	}
	st := m.states[agentID]
	m.lastReason = reason
	st.Changed = st.IsHalted != halt
	if st.Changed {
		action := models.HaltActionResume
		if halt {
			action = models.HaltActionHalt
		}
		m.log = append(m.log, models.HaltLogEntry{AgentID: agentID, UserID: userID, Actor: userID, Action: action, Reason: reason})
	}
	st.IsHalted = halt
	if halt {
		st.Status = models.AgentStatusHalted
		st.Reason = &reason
	} else {
		st.Status = models.AgentStatusActive
		st.Reason = nil
	}
	cp := *st
	return &cp, nil
}

func (m *MockHaltController) Status(ctx context.Context, userID, agentID string) (*service.HaltState, error) {
	if err := m.err("status"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[agentID] != userID {
		return nil, service.ErrAgentNotFound
	}
	cp := *m.states[agentID]
	return &cp, nil
}

func (m *MockHaltController) StatusByAPIKey(ctx context.Context, apiKey string) (*service.HaltState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agentID, ok := m.keys[apiKey]
	if !ok {
		return nil, service.ErrInvalidAPIKey
	}
	cp := *m.states[agentID]
	return &cp, nil
}

func (m *MockHaltController) History(ctx context.Context, userID, agentID string, limit int) ([]models.HaltLogEntry, error) {
	if err := m.err("history"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.owners[agentID] != userID {
		return nil, service.ErrAgentNotFound
	}
	return m.log, nil
}

// ============ Mock Policy Service ============

type MockPolicyService struct {
	errorSet
	mu       sync.Mutex
	policies map[string]*models.Policy
}

func NewMockPolicyService() *MockPolicyService {
	return &MockPolicyService{policies: make(map[string]*models.Policy)}
}

func (m *MockPolicyService) AddPolicy(p *models.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.ID] = p
}

func (m *MockPolicyService) owned(userID, id string) (*models.Policy, error) {
	p, ok := m.policies[id]
	if !ok || p.UserID != userID {
		return nil, service.ErrPolicyNotFound
	}
	return p, nil
}

func (m *MockPolicyService) Create(ctx context.Context, userID string, in service.PolicyInput) (*models.Policy, error) {
	if err := m.err("create"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &models.Policy{
		ID:        "pol-new",
		UserID:    userID,
		AccountID: in.AccountID,
		Type:      in.Type,
		Name:      in.Name,
		Config:    in.Config,
		Severity:  in.Severity,
		IsActive:  true,
	}
	m.policies[p.ID] = p
	return p, nil
}

func (m *MockPolicyService) List(ctx context.Context, userID string) ([]models.Policy, error) {
	if err := m.err("list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Policy
	for _, p := range m.policies {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *MockPolicyService) Get(ctx context.Context, userID, id string) (*models.Policy, error) {
	if err := m.err("get"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owned(userID, id)
}

func (m *MockPolicyService) Update(ctx context.Context, userID, id string, patch service.PolicyPatch) (*models.Policy, error) {
	if err := m.err("update"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.owned(userID, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Severity != nil {
		p.Severity = *patch.Severity
	}
	if patch.Config != nil {
		p.Config = patch.Config
	}
	return p, nil
}

func (m *MockPolicyService) SetActive(ctx context.Context, userID, id string, active bool) error {
	if err := m.err("set_active"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.owned(userID, id)
	if err != nil {
		return err
	}
	p.IsActive = active
	return nil
}

func (m *MockPolicyService) Delete(ctx context.Context, userID, id string) error {
	if err := m.err("delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(userID, id); err != nil {
		return err
	}
	delete(m.policies, id)
	return nil
}

// ============ Mock Risk Event Service ============

type MockRiskEventService struct {
	errorSet
	mu         sync.Mutex
	events     map[string]*models.RiskEvent
	owners     map[string]string
	alerts     map[string][]models.AlertRecord
	lastFilter models.RiskEventFilter
}

func NewMockRiskEventService() *MockRiskEventService {
	return &MockRiskEventService{
		events: make(map[string]*models.RiskEvent),
		owners: make(map[string]string),
		alerts: make(map[string][]models.AlertRecord),
	}
}

func (m *MockRiskEventService) AddEvent(userID string, ev *models.RiskEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
	m.owners[ev.ID] = userID
}

func (m *MockRiskEventService) List(ctx context.Context, userID string, f models.RiskEventFilter) ([]models.RiskEvent, error) {
	m.lastFilter = f
	if f.Status != "" && !f.Status.Valid() {
		return nil, service.ErrInvalidFilter
	}
	if err := m.err("list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RiskEvent
	for id, ev := range m.events {
		if m.owners[id] == userID {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (m *MockRiskEventService) Get(ctx context.Context, userID, id string) (*models.RiskEvent, error) {
	if err := m.err("get"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok || m.owners[id] != userID {
		return nil, service.ErrRiskEventNotFound
	}
	return ev, nil
}

func (m *MockRiskEventService) Alerts(ctx context.Context, userID, id string) ([]models.AlertRecord, error) {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if err := m.err("alerts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts[id], nil
}

func (m *MockRiskEventService) UpdateStatus(ctx context.Context, userID, id string, to models.EventStatus) (*models.RiskEvent, error) {
	ev, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !ev.Status.CanTransitionTo(to) {
		return nil, service.ErrInvalidStatusTransition
	}
	ev.Status = to
	return ev, nil
}

// ============ Mock Preferences Service ============

type MockPreferencesService struct {
	errorSet
	prefs map[string]*models.NotificationPreferences
}

func NewMockPreferencesService() *MockPreferencesService {
	return &MockPreferencesService{prefs: make(map[string]*models.NotificationPreferences)}
}

func (m *MockPreferencesService) Get(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	if err := m.err("get"); err != nil {
		return nil, err
	}
	if p, ok := m.prefs[userID]; ok {
		return p, nil
	}
	return models.DefaultNotificationPreferences(userID), nil
}

func (m *MockPreferencesService) Update(ctx context.Context, userID string, in service.PreferencesInput) (*models.NotificationPreferences, error) {
	if err := m.err("update"); err != nil {
		return nil, err
	}
	if in.SMSEnabled && in.PhoneNumber == "" {
		return nil, service.ErrInvalidPreferences
	}
	p := &models.NotificationPreferences{
		UserID:            userID,
		Email:             in.Email,
		EmailEnabled:      in.EmailEnabled,
		SMSEnabled:        in.SMSEnabled,
		PhoneNumber:       in.PhoneNumber,
		SeverityThreshold: in.SeverityThreshold,
	}
	m.prefs[userID] = p
	return p, nil
}

// ============ Mock Sweep Service ============

type MockSweepService struct {
	errorSet
	runs int
}

func (m *MockSweepService) Run(ctx context.Context) (*service.SweepSummary, error) {
	if err := m.err("run"); err != nil {
		return nil, err
	}
	m.runs++
	return &service.SweepSummary{PoliciesChecked: 4, WalletsScanned: 2, ViolationsDetected: 1, Timestamp: time.Now()}, nil
}
