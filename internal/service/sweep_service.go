package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"risksignal/internal/engine"
	"risksignal/internal/metrics"
	"risksignal/internal/models"
	"risksignal/pkg/utils"
)

// ErrSweepInProgress - предыдущий проход еще не завершен
var ErrSweepInProgress = errors.New("sweep already in progress")

// SweepSummary - итог одного прохода
type SweepSummary struct {
	PoliciesChecked    int       `json:"policies_checked"`
	WalletsScanned     int       `json:"wallets_scanned"`
	AgentsScanned      int       `json:"agents_scanned"`
	SnapshotsCreated   int       `json:"snapshots_created"`
	ViolationsDetected int       `json:"violations_detected"`
	EvaluationErrors   int       `json:"evaluation_errors"`
	AlertsSent         int       `json:"alerts_sent"`
	Aborted            bool      `json:"aborted,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// SweepService - периодическая оценка всех активных политик
//
// Политики группируются по аккаунту. Для кошелька снимок запрашивается один раз
// и используется всеми его политиками. Для агента снимок строится из последней
// телеметрии. Отмена проверяется между аккаунтами: начатый аккаунт доводится до конца.
type SweepService struct {
	policies  PolicyRepositoryInterface
	agents    AgentRepositoryInterface
	snapshots SnapshotRepositoryInterface
	evaluator PolicyEvaluator
	publisher *eventPublisher
	running   atomic.Bool
	now       func() time.Time
	logger    *utils.Logger
}

// SweepDeps - зависимости прохода
type SweepDeps struct {
	Policies    PolicyRepositoryInterface
	Agents      AgentRepositoryInterface
	Snapshots   SnapshotRepositoryInterface
	Events      RiskEventRepositoryInterface
	Preferences PreferencesRepositoryInterface
	Evaluator   PolicyEvaluator
	Alerts      AlertSender
	Broadcaster Broadcaster
}

// NewSweepService создает сервис прохода
func NewSweepService(d SweepDeps) *SweepService {
	logger := utils.L().WithComponent("sweep")
	return &SweepService{
		policies:  d.Policies,
		agents:    d.Agents,
		snapshots: d.Snapshots,
		evaluator: d.Evaluator,
		publisher: &eventPublisher{
			events:      d.Events,
			prefs:       d.Preferences,
			alerts:      d.Alerts,
			broadcaster: d.Broadcaster,
			logger:      logger,
		},
		now:    time.Now,
		logger: logger,
	}
}

// Run выполняет один проход. Одновременно выполняется не более одного прохода.
func (s *SweepService) Run(ctx context.Context) (*SweepSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	summary := &SweepSummary{Timestamp: s.now().UTC()}
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	policies, err := s.policies.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active policies: %w", err)
	}

	accounts, byAccount := groupByAccount(policies)
	for i, account := range accounts {
		if ctx.Err() != nil {
			summary.Aborted = true
			s.logger.Warn("sweep cancelled between accounts", zap.Int("remaining_accounts", len(accounts)-i))
			break
		}
		// начатый аккаунт не прерывается, чтобы не оставить частичный набор событий
		actx := context.WithoutCancel(ctx)

		wallet, agent := splitByKind(byAccount[account])
		if len(wallet) > 0 {
			s.sweepWallet(actx, account, wallet, summary)
		}
		if len(agent) > 0 {
			s.sweepAgent(actx, account, agent, summary)
		}
	}

	s.logger.Info("sweep finished",
		zap.Int("policies_checked", summary.PoliciesChecked),
		zap.Int("wallets_scanned", summary.WalletsScanned),
		zap.Int("violations", summary.ViolationsDetected),
		zap.Int("errors", summary.EvaluationErrors),
		zap.Int("alerts_sent", summary.AlertsSent),
		utils.Elapsed(time.Since(start)))

	if summary.Aborted {
		return summary, ctx.Err()
	}
	return summary, nil
}

func (s *SweepService) sweepWallet(ctx context.Context, account string, policies []models.Policy, summary *SweepSummary) {
	log := s.logger.With(utils.AccountID(account))

	snap, err := s.evaluator.FetchSnapshot(ctx, account)
	if err != nil {
		summary.PoliciesChecked += len(policies)
		summary.EvaluationErrors += len(policies)
		for _, p := range policies {
			metrics.RecordEvaluation(string(p.Type), string(engine.OutcomeEvaluationError))
		}
		log.Warn("snapshot fetch failed, account skipped", zap.Error(err), zap.Int("policies", len(policies)))
		return
	}
	summary.WalletsScanned++

	// снимок и события пишутся независимо
	if err := s.snapshots.Create(ctx, snap); err != nil {
		log.Error("failed to store snapshot", zap.Error(err))
	} else {
		summary.SnapshotsCreated++
	}

	s.process(ctx, s.evaluator.EvaluateAgainst(ctx, policies, snap), nil, summary)
}

func (s *SweepService) sweepAgent(ctx context.Context, agentID string, policies []models.Policy, summary *SweepSummary) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		summary.PoliciesChecked += len(policies)
		summary.EvaluationErrors += len(policies)
		s.logger.Warn("agent lookup failed, policies skipped", utils.AgentID(agentID), zap.Error(err))
		return
	}
	if agent.LastHeartbeat == nil {
		// телеметрии еще не было, оценивать нечего
		return
	}
	summary.AgentsScanned++

	snap := &models.AccountSnapshot{
		AccountID:   agent.ID,
		NetWorthUSD: agent.Metadata.LastEquity,
		Agent: &models.AgentMetrics{
			Balance:       agent.Metadata.LastBalance,
			Equity:        agent.Metadata.LastEquity,
			OpenPositions: agent.Metadata.LastPositions,
		},
		CapturedAt: *agent.LastHeartbeat,
	}
	s.process(ctx, s.evaluator.EvaluateAgainst(ctx, policies, snap), &agent.ID, summary)
}

// process сохраняет события по нарушениям и рассылает алерты
func (s *SweepService) process(ctx context.Context, outcomes []engine.Outcome, agentID *string, summary *SweepSummary) {
	for _, o := range outcomes {
		summary.PoliciesChecked++
		switch o.Kind {
		case engine.OutcomeEvaluationError:
			summary.EvaluationErrors++
			continue
		case engine.OutcomeNoViolation:
			continue
		}
		summary.ViolationsDetected++

		ev, err := s.evaluator.CreateRiskEvent(o.Result)
		if err != nil || ev == nil {
			s.logger.Error("failed to build risk event", utils.PolicyID(o.Policy.ID), zap.Error(err))
			continue
		}
		ev.AgentID = agentID
		if err := s.publisher.persist(ctx, ev, o.Policy.UserID); err != nil {
			s.logger.Error("failed to store risk event", utils.PolicyID(o.Policy.ID), zap.Error(err))
			continue
		}
		summary.AlertsSent += s.publisher.alert(ctx, ev, o.Policy, o.Result.Violation.Summary())
	}
}

// groupByAccount группирует политики, аккаунты возвращаются в стабильном порядке
func groupByAccount(policies []models.Policy) ([]string, map[string][]models.Policy) {
	byAccount := make(map[string][]models.Policy)
	for _, p := range policies {
		byAccount[p.AccountID] = append(byAccount[p.AccountID], p)
	}
	accounts := make([]string, 0, len(byAccount))
	for a := range byAccount {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts, byAccount
}

// splitByKind разделяет политики кошелька и агента. В проходе из agent-политик
// оцениваются только те, что не требуют параметров сделки.
func splitByKind(policies []models.Policy) (wallet, agent []models.Policy) {
	for _, p := range policies {
		switch {
		case !p.Type.IsAgentType():
			wallet = append(wallet, p)
		case inlineTelemetryChecks[p.Type]:
			agent = append(agent, p)
		}
	}
	return wallet, agent
}
