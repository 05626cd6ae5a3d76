package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"risksignal/internal/models"
)

// Registry - таблица policy_type → Rule
//
// Одно правило на тип, переопределение запрещено.
// Конструируется явно и передается оценщику и сервисам агентов.
type Registry struct {
	mu    sync.RWMutex
	rules map[models.PolicyType]Rule
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{rules: make(map[models.PolicyType]Rule)}
}

// NewDefaultRegistry создает реестр со всеми встроенными правилами
func NewDefaultRegistry(assets *ReferenceAssets) *Registry {
	r := NewRegistry()
	for _, rule := range []Rule{
		NewNetWorthRule(),
		NewConcentrationRule(assets),
		NewUnauthorizedTokenRule(assets),
		NewDrawdownRule(),
		NewPositionLimitRule(),
		NewPositionSizeRule(),
		NewDailyTradeLimitRule(),
	} {
		// встроенные типы уникальны, ошибка здесь - дефект сборки
		if err := r.Register(rule); err != nil {
			panic(err)
		}
	}
	return r
}

// Register добавляет правило. Повторная регистрация типа - ошибка.
func (r *Registry) Register(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[rule.Type()]; exists {
		return fmt.Errorf("%w: %s", ErrRuleAlreadyRegistered, rule.Type())
	}
	r.rules[rule.Type()] = rule
	return nil
}

// Get возвращает правило для типа
func (r *Registry) Get(typ models.PolicyType) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[typ]
	return rule, ok
}

// Has проверяет наличие правила
func (r *Registry) Has(typ models.PolicyType) bool {
	_, ok := r.Get(typ)
	return ok
}

// Types возвращает зарегистрированные типы в отсортированном порядке
func (r *Registry) Types() []models.PolicyType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.PolicyType, 0, len(r.rules))
	for t := range r.rules {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Validate проверяет config без выполнения (для создания/редактирования политик)
func (r *Registry) Validate(typ models.PolicyType, raw json.RawMessage) error {
	_, err := r.bind(typ, raw)
	return err
}

// Execute проверяет config политики и вычисляет вердикт
//
// Невалидный config - жесткая ошибка (*ConfigError), не пропуск.
func (r *Registry) Execute(ec *ExecutionContext) (*Result, error) {
	if ec.Snapshot == nil {
		return nil, fmt.Errorf("execute policy %s: snapshot is required", ec.Policy.ID)
	}
	check, err := r.bind(ec.Policy.Type, ec.Policy.Config)
	if err != nil {
		return nil, err
	}
	if ec.Timestamp.IsZero() {
		ec.Timestamp = time.Now()
	}
	return check(ec), nil
}

func (r *Registry) bind(typ models.PolicyType, raw json.RawMessage) (Check, error) {
	rule, ok := r.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, typ)
	}
	return rule.Bind(raw)
}
