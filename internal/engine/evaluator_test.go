package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risksignal/internal/models"
)

type fakeProvider struct {
	mu        sync.Mutex
	snapshots map[string]*models.AccountSnapshot
	errs      map[string]error
	calls     int
}

func (f *fakeProvider) FetchSnapshot(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[accountID]; err != nil {
		return nil, err
	}
	return f.snapshots[accountID], nil
}

type fakeHistory struct {
	since time.Time
	err   error
}

func (f *fakeHistory) ListSince(ctx context.Context, accountID string, since time.Time) ([]models.AccountSnapshot, error) {
	f.since = since
	return []models.AccountSnapshot{{AccountID: accountID}}, f.err
}

func netWorthPolicy(id, account string, threshold string) models.Policy {
	return models.Policy{
		ID:        id,
		AccountID: account,
		Type:      models.PolicyTypeNetWorth,
		Severity:  models.SeverityCritical,
		IsActive:  true,
		Config:    json.RawMessage(`{"threshold": ` + threshold + `, "comparison": "LESS_THAN"}`),
	}
}

func newTestEvaluator(p SnapshotProvider, h SnapshotHistory, cfg EvaluatorConfig) *Evaluator {
	e := NewEvaluator(NewDefaultRegistry(nil), p, h, cfg)
	e.now = func() time.Time { return fixedNow }
	return e
}

func TestEvaluator_EvaluatePolicy(t *testing.T) {
	p := &fakeProvider{snapshots: map[string]*models.AccountSnapshot{
		"0xa": {AccountID: "0xa", NetWorthUSD: 90000},
	}}
	e := newTestEvaluator(p, nil, EvaluatorConfig{})

	res, err := e.EvaluatePolicy(context.Background(), netWorthPolicy("p1", "0xa", "100000"))
	require.NoError(t, err)
	assert.True(t, res.IsViolation)
	assert.Equal(t, "p1", res.PolicyID)
	assert.Equal(t, "0xa", res.AccountID)
}

func TestEvaluator_EvaluatePoliciesReportsEveryOutcome(t *testing.T) {
	p := &fakeProvider{
		snapshots: map[string]*models.AccountSnapshot{
			"0xa": {AccountID: "0xa", NetWorthUSD: 90000},
			"0xb": {AccountID: "0xb", NetWorthUSD: 500000},
		},
		errs: map[string]error{"0xc": errors.New("provider down")},
	}
	e := newTestEvaluator(p, nil, EvaluatorConfig{Concurrency: 2})

	bad := netWorthPolicy("p4", "0xa", "100000")
	bad.Config = json.RawMessage(`{"threshold": -1, "comparison": "LESS_THAN"}`)

	outcomes := e.EvaluatePolicies(context.Background(), []models.Policy{
		netWorthPolicy("p1", "0xa", "100000"),
		netWorthPolicy("p2", "0xb", "100000"),
		netWorthPolicy("p3", "0xc", "100000"),
		bad,
	})

	require.Len(t, outcomes, 4)
	assert.Equal(t, OutcomeViolation, outcomes[0].Kind)
	assert.Equal(t, OutcomeNoViolation, outcomes[1].Kind)
	assert.Equal(t, OutcomeEvaluationError, outcomes[2].Kind)
	assert.ErrorContains(t, outcomes[2].Err, "provider down")
	assert.Equal(t, OutcomeEvaluationError, outcomes[3].Kind)
	assert.True(t, IsConfigError(outcomes[3].Err))
	assert.Equal(t, "p4", outcomes[3].Policy.ID)
}

func TestEvaluator_EvaluatePoliciesForAccount(t *testing.T) {
	p := &fakeProvider{snapshots: map[string]*models.AccountSnapshot{
		"0xa": {AccountID: "0xa", NetWorthUSD: 90000},
	}}
	e := newTestEvaluator(p, nil, EvaluatorConfig{})

	inactive := netWorthPolicy("p2", "0xa", "100000")
	inactive.IsActive = false

	outcomes := e.EvaluatePoliciesForAccount(context.Background(), []models.Policy{
		netWorthPolicy("p1", "0xa", "100000"),
		inactive,
		netWorthPolicy("p3", "0xb", "100000"),
	}, "0xa")

	require.Len(t, outcomes, 1)
	assert.Equal(t, "p1", outcomes[0].Policy.ID)
}

func TestEvaluator_EvaluateAgainstSharesSnapshot(t *testing.T) {
	p := &fakeProvider{}
	e := newTestEvaluator(p, nil, EvaluatorConfig{})

	snap := &models.AccountSnapshot{AccountID: "0xa", NetWorthUSD: 90000}
	outcomes := e.EvaluateAgainst(context.Background(), []models.Policy{
		netWorthPolicy("p1", "0xa", "100000"),
		netWorthPolicy("p2", "0xa", "50000"),
	}, snap)

	require.Len(t, outcomes, 2)
	assert.Equal(t, OutcomeViolation, outcomes[0].Kind)
	assert.Equal(t, OutcomeNoViolation, outcomes[1].Kind)
	assert.Equal(t, 0, p.calls)
}

func TestEvaluator_HistoryLookback(t *testing.T) {
	p := &fakeProvider{snapshots: map[string]*models.AccountSnapshot{"0xa": {NetWorthUSD: 1}}}
	h := &fakeHistory{}
	e := newTestEvaluator(p, h, EvaluatorConfig{IncludeHistory: true})

	_, err := e.EvaluatePolicy(context.Background(), netWorthPolicy("p1", "0xa", "100"))
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(-7*24*time.Hour), h.since)

	// ошибка истории не мешает вердикту
	h.err = errors.New("db down")
	res, err := e.EvaluatePolicy(context.Background(), netWorthPolicy("p1", "0xa", "100"))
	require.NoError(t, err)
	assert.True(t, res.IsViolation)
}

func TestEvaluator_CancelledContext(t *testing.T) {
	p := &fakeProvider{snapshots: map[string]*models.AccountSnapshot{"0xa": {NetWorthUSD: 1}}}
	e := newTestEvaluator(p, nil, EvaluatorConfig{Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := e.EvaluatePolicies(ctx, []models.Policy{
		netWorthPolicy("p1", "0xa", "100"),
		netWorthPolicy("p2", "0xa", "100"),
		netWorthPolicy("p3", "0xa", "100"),
	})
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.NotEmpty(t, o.Kind)
	}
}

func TestCreateRiskEvent(t *testing.T) {
	e := newTestEvaluator(&fakeProvider{}, nil, EvaluatorConfig{})

	ev, err := e.CreateRiskEvent(&Result{PolicyID: "p1", IsViolation: false})
	require.NoError(t, err)
	assert.Nil(t, ev)

	res := &Result{
		PolicyID:    "p1",
		AccountID:   "0xa",
		IsViolation: true,
		Severity:    models.SeverityHigh,
		Violation:   &ConcentrationViolation{Type: models.PolicyTypeAssetConcentration, AssetSymbol: "BTC", CurrentPercentage: 38, MaxPercentage: 30},
	}
	ev, err = e.CreateRiskEvent(res)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, models.EventStatusOpen, ev.Status)
	assert.Equal(t, models.PolicyTypeAssetConcentration, ev.EventType)
	assert.Equal(t, fixedNow, ev.DetectedAt)
	assert.NotNil(t, ev.Metadata)
	assert.Contains(t, string(ev.ViolationData), `"asset_symbol":"BTC"`)

	events, err := e.CreateRiskEvents([]*Result{res, {IsViolation: false}})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
