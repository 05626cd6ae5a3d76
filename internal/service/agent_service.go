package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"risksignal/internal/models"
	"risksignal/internal/repository"
	"risksignal/pkg/crypto"
	"risksignal/pkg/utils"
)

var (
	// ErrInvalidAPIKey - ключ агента неизвестен или имеет неверный формат
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrAgentNotFound - агент не найден у пользователя
	ErrAgentNotFound = errors.New("agent not found")

	// ErrInvalidAgentName - пустое или слишком длинное имя
	ErrInvalidAgentName = errors.New("agent name must be 1-100 characters")
)

// maxKeyCache - предел кэша проверенных ключей, при превышении кэш сбрасывается
const maxKeyCache = 10000

// AgentService управляет агентами и их ключами
//
// Открытый ключ возвращается только при создании, в БД хранится префикс и bcrypt хеш.
// Проверенные ключи кэшируются по sha256, чтобы не выполнять bcrypt на каждую телеметрию.
type AgentService struct {
	agents   AgentRepositoryInterface
	hashCost int
	now      func() time.Time
	logger   *utils.Logger

	mu       sync.RWMutex
	verified map[string]string // fingerprint ключа -> agent id
}

// NewAgentService создает сервис агентов
func NewAgentService(agents AgentRepositoryInterface) *AgentService {
	return &AgentService{
		agents:   agents,
		hashCost: crypto.DefaultCost,
		now:      time.Now,
		logger:   utils.L().WithComponent("agents"),
		verified: make(map[string]string),
	}
}

// Create создает агента и возвращает его открытый ключ
func (s *AgentService) Create(ctx context.Context, userID, name string) (*models.Agent, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return nil, "", ErrInvalidAgentName
	}

	key, err := crypto.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	hash, err := crypto.HashAPIKeyWithCost(key, s.hashCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash api key: %w", err)
	}

	agent := &models.Agent{
		UserID:       userID,
		Name:         name,
		APIKeyPrefix: key[:crypto.APIKeyPrefixLen],
		APIKeyHash:   hash,
		Status:       models.AgentStatusInactive,
		CreatedAt:    s.now(),
	}
	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, "", fmt.Errorf("create agent: %w", err)
	}

	s.logger.Info("agent created", utils.AgentID(agent.ID), utils.UserID(userID))
	return agent, key, nil
}

// List возвращает агентов пользователя
func (s *AgentService) List(ctx context.Context, userID string) ([]models.Agent, error) {
	return s.agents.ListByUser(ctx, userID)
}

// Get возвращает агента пользователя
func (s *AgentService) Get(ctx context.Context, userID, agentID string) (*models.Agent, error) {
	agent, err := s.agents.GetForUser(ctx, agentID, userID)
	if errors.Is(err, repository.ErrAgentNotFound) {
		return nil, ErrAgentNotFound
	}
	return agent, err
}

// Authenticate находит агента по открытому ключу
//
// Неизвестный или некорректный ключ всегда дает ErrInvalidAPIKey.
func (s *AgentService) Authenticate(ctx context.Context, apiKey string) (*models.Agent, error) {
	prefix, err := crypto.APIKeyPrefix(apiKey)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	fp := crypto.Fingerprint(apiKey)

	s.mu.RLock()
	agentID, cached := s.verified[fp]
	s.mu.RUnlock()
	if cached {
		agent, err := s.agents.GetByID(ctx, agentID)
		if err == nil {
			return agent, nil
		}
		if !errors.Is(err, repository.ErrAgentNotFound) {
			return nil, err
		}
		s.forget(fp)
		return nil, ErrInvalidAPIKey
	}

	candidates, err := s.agents.ListByAPIKeyPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	for i := range candidates {
		if crypto.VerifyAPIKey(apiKey, candidates[i].APIKeyHash) == nil {
			s.remember(fp, candidates[i].ID)
			return &candidates[i], nil
		}
	}
	return nil, ErrInvalidAPIKey
}

func (s *AgentService) remember(fp, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.verified) >= maxKeyCache {
		s.verified = make(map[string]string)
	}
	s.verified[fp] = agentID
}

func (s *AgentService) forget(fp string) {
	s.mu.Lock()
	delete(s.verified, fp)
	s.mu.Unlock()
}
