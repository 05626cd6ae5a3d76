package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"risksignal/internal/metrics"
	"risksignal/internal/models"
	"risksignal/pkg/utils"
)

// SnapshotProvider - внешний источник текущей оценки аккаунта
type SnapshotProvider interface {
	FetchSnapshot(ctx context.Context, accountID string) (*models.AccountSnapshot, error)
}

// SnapshotHistory - сохраненные снимки для анализа трендов
type SnapshotHistory interface {
	ListSince(ctx context.Context, accountID string, since time.Time) ([]models.AccountSnapshot, error)
}

// OutcomeKind - итог оценки одной политики
type OutcomeKind string

const (
	OutcomeViolation       OutcomeKind = "violation"
	OutcomeNoViolation     OutcomeKind = "no_violation"
	OutcomeEvaluationError OutcomeKind = "evaluation_error"
)

// Outcome - результат оценки одной политики в пакетном режиме
//
// Ошибки провайдера и конфигурации не отбрасываются, а возвращаются как OutcomeEvaluationError.
type Outcome struct {
	Policy models.Policy
	Kind   OutcomeKind
	Result *Result
	Err    error
}

// EvaluatorConfig - параметры оценщика
type EvaluatorConfig struct {
	IncludeHistory bool
	HistoryWindow  time.Duration // по умолчанию 7 дней
	Concurrency    int           // по умолчанию 8
}

// Evaluator оркестрирует оценку политик по полученным снимкам
type Evaluator struct {
	registry *Registry
	provider SnapshotProvider
	history  SnapshotHistory
	cfg      EvaluatorConfig
	now      func() time.Time
	logger   *utils.Logger
}

// NewEvaluator создает оценщик. history может быть nil.
func NewEvaluator(registry *Registry, provider SnapshotProvider, history SnapshotHistory, cfg EvaluatorConfig) *Evaluator {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 7 * 24 * time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Evaluator{
		registry: registry,
		provider: provider,
		history:  history,
		cfg:      cfg,
		now:      time.Now,
		logger:   utils.L().WithComponent("evaluator"),
	}
}

// Registry возвращает реестр правил оценщика
func (e *Evaluator) Registry() *Registry {
	return e.registry
}

// FetchSnapshot получает текущий снимок аккаунта с учетом метрик латентности
func (e *Evaluator) FetchSnapshot(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	if e.provider == nil {
		return nil, errors.New("snapshot provider is not configured")
	}
	start := time.Now()
	snap, err := e.provider.FetchSnapshot(ctx, accountID)
	metrics.RecordSnapshotFetch(float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot for %s: %w", accountID, err)
	}
	return snap, nil
}

// EvaluatePolicy получает снимок и выполняет политику через реестр
func (e *Evaluator) EvaluatePolicy(ctx context.Context, policy models.Policy) (*Result, error) {
	snap, err := e.FetchSnapshot(ctx, policy.AccountID)
	if err != nil {
		return nil, err
	}
	return e.evaluateWith(ctx, policy, snap)
}

func (e *Evaluator) evaluateWith(ctx context.Context, policy models.Policy, snap *models.AccountSnapshot) (*Result, error) {
	var history []models.AccountSnapshot
	if e.cfg.IncludeHistory && e.history != nil {
		h, err := e.history.ListSince(ctx, policy.AccountID, e.now().Add(-e.cfg.HistoryWindow))
		if err != nil {
			// история нужна только для трендов, текущий вердикт без нее корректен
			e.logger.Warn("historical snapshots unavailable", utils.AccountID(policy.AccountID), zap.Error(err))
		} else {
			history = h
		}
	}

	return e.registry.Execute(&ExecutionContext{
		Policy:    policy,
		Snapshot:  snap,
		History:   history,
		Timestamp: e.now(),
	})
}

// EvaluatePolicies параллельно оценивает политики
//
// Возвращает ровно один Outcome на каждую входную политику в исходном порядке.
func (e *Evaluator) EvaluatePolicies(ctx context.Context, policies []models.Policy) []Outcome {
	return e.fanOut(ctx, policies, func(ctx context.Context, p models.Policy) (*Result, error) {
		return e.EvaluatePolicy(ctx, p)
	})
}

// EvaluatePoliciesForAccount оценивает только активные политики указанного аккаунта
func (e *Evaluator) EvaluatePoliciesForAccount(ctx context.Context, policies []models.Policy, accountID string) []Outcome {
	filtered := make([]models.Policy, 0, len(policies))
	for _, p := range policies {
		if p.AccountID == accountID && p.IsActive {
			filtered = append(filtered, p)
		}
	}
	return e.EvaluatePolicies(ctx, filtered)
}

// EvaluateAgainst оценивает политики по одному общему снимку (один снимок на аккаунт за проход)
func (e *Evaluator) EvaluateAgainst(ctx context.Context, policies []models.Policy, snap *models.AccountSnapshot) []Outcome {
	return e.fanOut(ctx, policies, func(ctx context.Context, p models.Policy) (*Result, error) {
		return e.evaluateWith(ctx, p, snap)
	})
}

func (e *Evaluator) fanOut(ctx context.Context, policies []models.Policy, eval func(context.Context, models.Policy) (*Result, error)) []Outcome {
	outcomes := make([]Outcome, len(policies))
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for i := range policies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := policies[i]

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = e.outcome(p, nil, ctx.Err())
				return
			}

			res, err := eval(ctx, p)
			outcomes[i] = e.outcome(p, res, err)
		}(i)
	}
	wg.Wait()
	return outcomes
}

func (e *Evaluator) outcome(p models.Policy, res *Result, err error) Outcome {
	o := Outcome{Policy: p, Result: res, Err: err}
	switch {
	case err != nil:
		o.Kind = OutcomeEvaluationError
		e.logger.Warn("policy evaluation failed",
			utils.PolicyID(p.ID), utils.PolicyType(string(p.Type)), zap.Error(err))
	case res.IsViolation:
		o.Kind = OutcomeViolation
	default:
		o.Kind = OutcomeNoViolation
	}
	metrics.RecordEvaluation(string(p.Type), string(o.Kind))
	return o
}

// CreateRiskEvent строит risk event из вердикта. Для вердикта без нарушения возвращает nil.
func (e *Evaluator) CreateRiskEvent(res *Result) (*models.RiskEvent, error) {
	return NewRiskEvent(res, e.now())
}

// CreateRiskEvents строит события для всех нарушений
func (e *Evaluator) CreateRiskEvents(results []*Result) ([]*models.RiskEvent, error) {
	events := make([]*models.RiskEvent, 0, len(results))
	for _, r := range results {
		ev, err := e.CreateRiskEvent(r)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// NewRiskEvent - чистое отображение вердикта в запись со статусом OPEN
func NewRiskEvent(res *Result, detectedAt time.Time) (*models.RiskEvent, error) {
	if res == nil || !res.IsViolation || res.Violation == nil {
		return nil, nil
	}
	data, err := res.ViolationJSON()
	if err != nil {
		return nil, err
	}
	meta := res.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return &models.RiskEvent{
		PolicyID:      res.PolicyID,
		AccountID:     res.AccountID,
		EventType:     res.Violation.Kind(),
		Severity:      res.Severity,
		Status:        models.EventStatusOpen,
		ViolationData: data,
		Metadata:      meta,
		DetectedAt:    detectedAt,
	}, nil
}
