package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"risksignal/internal/metrics"
	"risksignal/internal/models"
	"risksignal/internal/repository"
	"risksignal/pkg/utils"
)

// ActorSystem - инициатор автоматических остановок
const ActorSystem = "system"

// Причины по умолчанию для ручных переходов
const (
	DefaultHaltReason   = "Manual halt by operator"
	DefaultResumeReason = "Manual resume by operator"
)

// ErrAgentHalted - агент остановлен, телеметрия и сделки блокируются
var ErrAgentHalted = errors.New("agent is halted")

// HaltState - текущее состояние kill-switch агента
type HaltState struct {
	AgentID       string     `json:"agent_id"`
	UserID        string     `json:"-"`
	Status        string     `json:"status"`
	IsHalted      bool       `json:"is_halted"`
	Reason        *string    `json:"halt_reason"`
	HaltTimestamp *time.Time `json:"halt_timestamp"`
	Automatic     bool       `json:"automatic,omitempty"`
	// Changed - false если агент уже был в запрошенном состоянии
	Changed bool `json:"changed"`
}

func stateFromAgent(a *models.Agent) *HaltState {
	return &HaltState{
		AgentID:       a.ID,
		UserID:        a.UserID,
		Status:        a.Status,
		IsHalted:      a.IsHalted,
		Reason:        a.HaltReason,
		HaltTimestamp: a.HaltTimestamp,
	}
}

// HaltController - машина состояний ACTIVE/HALTED агента
//
// Переходы по одному агенту сериализуются мьютексом агента, а в БД применяются
// условным UPDATE вместе с записью в журнал. Повторный переход в то же состояние
// ничего не пишет в журнал.
type HaltController struct {
	agents      AgentRepositoryInterface
	auth        *AgentService
	broadcaster Broadcaster
	locks       *keyedMutex
	now         func() time.Time
	logger      *utils.Logger
}

// NewHaltController создает контроллер
func NewHaltController(agents AgentRepositoryInterface, auth *AgentService) *HaltController {
	return &HaltController{
		agents: agents,
		auth:   auth,
		locks:  newKeyedMutex(),
		now:    time.Now,
		logger: utils.L().WithComponent("halt"),
	}
}

// SetBroadcaster подключает живую ленту переходов
func (c *HaltController) SetBroadcaster(b Broadcaster) {
	c.broadcaster = b
}

// Halt переводит агента в HALTED
func (c *HaltController) Halt(ctx context.Context, agent *models.Agent, actor, reason string, automatic bool) (*HaltState, error) {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultHaltReason
	}
	return c.transition(ctx, agent, models.HaltActionHalt, actor, reason, automatic)
}

// Resume возвращает агента в ACTIVE. Автоматического возобновления нет.
func (c *HaltController) Resume(ctx context.Context, agent *models.Agent, actor, reason string) (*HaltState, error) {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultResumeReason
	}
	return c.transition(ctx, agent, models.HaltActionResume, actor, reason, false)
}

// HaltFunc - автоматическая остановка агента, мьютекс которого уже захвачен
type HaltFunc func(ctx context.Context, reason string) (*HaltState, error)

// WithAgentLocked перечитывает агента под его мьютексом и выполняет fn, не отпуская мьютекс
//
// fn получает актуальное состояние и сама решает что делать с остановленным агентом.
// Ручная остановка, начатая во время fn, ждет ее завершения, а зафиксированная раньше
// видна в agent.IsHalted. Внутри fn останавливать агента можно только через halt.
func (c *HaltController) WithAgentLocked(ctx context.Context, agentID string, fn func(agent *models.Agent, halt HaltFunc) error) error {
	unlock := c.locks.Lock(agentID)
	defer unlock()

	agent, err := c.agents.GetByID(ctx, agentID)
	if errors.Is(err, repository.ErrAgentNotFound) {
		return ErrAgentNotFound
	}
	if err != nil {
		return fmt.Errorf("reload agent: %w", err)
	}

	halt := func(ctx context.Context, reason string) (*HaltState, error) {
		if strings.TrimSpace(reason) == "" {
			reason = DefaultHaltReason
		}
		return c.applyLocked(ctx, agent, models.HaltActionHalt, ActorSystem, reason, true)
	}
	return fn(agent, halt)
}

func (c *HaltController) transition(ctx context.Context, agent *models.Agent, action models.HaltAction, actor, reason string, automatic bool) (*HaltState, error) {
	unlock := c.locks.Lock(agent.ID)
	defer unlock()
	return c.applyLocked(ctx, agent, action, actor, reason, automatic)
}

// applyLocked применяет переход; вызывающий держит мьютекс агента
func (c *HaltController) applyLocked(ctx context.Context, agent *models.Agent, action models.HaltAction, actor, reason string, automatic bool) (*HaltState, error) {
	entry := &models.HaltLogEntry{
		AgentID:   agent.ID,
		UserID:    agent.UserID,
		Actor:     actor,
		Action:    action,
		Reason:    reason,
		Automatic: automatic,
		Timestamp: c.now(),
	}
	changed, err := c.agents.ApplyHalt(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", strings.ToLower(string(action)), err)
	}

	if !changed {
		current, err := c.agents.GetByID(ctx, agent.ID)
		if err != nil {
			return nil, fmt.Errorf("reload agent: %w", err)
		}
		return stateFromAgent(current), nil
	}

	state := &HaltState{
		AgentID:   agent.ID,
		UserID:    agent.UserID,
		Automatic: automatic,
		Changed:   true,
	}
	if action == models.HaltActionHalt {
		ts := entry.Timestamp
		state.Status = models.AgentStatusHalted
		state.IsHalted = true
		state.Reason = &reason
		state.HaltTimestamp = &ts
	} else {
		state.Status = models.AgentStatusActive
	}

	metrics.RecordHalt(string(action), automatic)
	c.logger.Warn("agent halt state changed",
		utils.AgentID(agent.ID), utils.Action(string(action)),
		zap.String("actor", actor), zap.String("reason", reason), zap.Bool("automatic", automatic))

	if c.broadcaster != nil {
		c.broadcaster.BroadcastHalt(state)
	}
	return state, nil
}

// SetHalted - ручное переключение оператором для своего агента
func (c *HaltController) SetHalted(ctx context.Context, userID, agentID string, halt bool, reason string) (*HaltState, error) {
	agent, err := c.ownedAgent(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	if halt {
		return c.Halt(ctx, agent, userID, reason, false)
	}
	return c.Resume(ctx, agent, userID, reason)
}

// Status возвращает состояние агента пользователя
func (c *HaltController) Status(ctx context.Context, userID, agentID string) (*HaltState, error) {
	agent, err := c.ownedAgent(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	return stateFromAgent(agent), nil
}

// StatusByAPIKey - чтение состояния самим агентом по его ключу
func (c *HaltController) StatusByAPIKey(ctx context.Context, apiKey string) (*HaltState, error) {
	agent, err := c.auth.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return stateFromAgent(agent), nil
}

// History возвращает журнал переходов агента, новые первыми
func (c *HaltController) History(ctx context.Context, userID, agentID string, limit int) ([]models.HaltLogEntry, error) {
	if _, err := c.ownedAgent(ctx, userID, agentID); err != nil {
		return nil, err
	}
	return c.agents.ListHaltLog(ctx, agentID, limit)
}

func (c *HaltController) ownedAgent(ctx context.Context, userID, agentID string) (*models.Agent, error) {
	agent, err := c.agents.GetForUser(ctx, agentID, userID)
	if errors.Is(err, repository.ErrAgentNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}
