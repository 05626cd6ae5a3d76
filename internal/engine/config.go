package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"risksignal/internal/models"
	"risksignal/pkg/utils"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Операторы сравнения NET_WORTH
const (
	ComparisonLessThan    = "LESS_THAN"
	ComparisonGreaterThan = "GREATER_THAN"
)

// Режимы UNAUTHORIZED_TOKEN
const (
	CheckModeStrict           = "STRICT"
	CheckModeAllowStablecoins = "ALLOW_STABLECOINS"
	CheckModeAllowBlueChip    = "ALLOW_BLUECHIP"
)

// policyConfig - закрытое множество типизированных конфигураций
type policyConfig interface {
	normalize() error
}

// NetWorthConfig - порог стоимости кошелька
type NetWorthConfig struct {
	Threshold  float64 `json:"threshold"`
	Comparison string  `json:"comparison"`
	Currency   string  `json:"currency,omitempty"`
}

func (c *NetWorthConfig) normalize() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive")
	}
	c.Comparison = strings.ToUpper(c.Comparison)
	if c.Comparison != ComparisonLessThan && c.Comparison != ComparisonGreaterThan {
		return fmt.Errorf("comparison must be %s or %s", ComparisonLessThan, ComparisonGreaterThan)
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.Currency != "USD" {
		return fmt.Errorf("unsupported currency %q", c.Currency)
	}
	return nil
}

// ConcentrationConfig - максимальная доля одного актива
type ConcentrationConfig struct {
	AssetSymbol        string  `json:"asset_symbol"`
	MaxPercentage      float64 `json:"max_percentage"`
	IncludeStablecoins bool    `json:"include_stablecoins"`
}

func (c *ConcentrationConfig) normalize() error {
	c.AssetSymbol = strings.ToUpper(strings.TrimSpace(c.AssetSymbol))
	if c.AssetSymbol == "" {
		return fmt.Errorf("asset_symbol is required")
	}
	if err := utils.ValidatePercentage(c.MaxPercentage); err != nil {
		return fmt.Errorf("max_percentage: %w", err)
	}
	return nil
}

// UnauthorizedTokenConfig - белый список контрактов
type UnauthorizedTokenConfig struct {
	Whitelist []string `json:"whitelist"`
	CheckMode string   `json:"check_mode"`
}

func (c *UnauthorizedTokenConfig) normalize() error {
	if len(c.Whitelist) == 0 {
		return fmt.Errorf("whitelist must not be empty")
	}
	for i, addr := range c.Whitelist {
		c.Whitelist[i] = strings.ToLower(strings.TrimSpace(addr))
	}
	c.CheckMode = strings.ToUpper(c.CheckMode)
	if c.CheckMode == "ALLOW_STABLE" {
		c.CheckMode = CheckModeAllowStablecoins
	}
	switch c.CheckMode {
	case CheckModeStrict, CheckModeAllowStablecoins, CheckModeAllowBlueChip:
		return nil
	}
	return fmt.Errorf("check_mode must be one of %s, %s, %s", CheckModeStrict, CheckModeAllowStablecoins, CheckModeAllowBlueChip)
}

// DrawdownConfig - максимальная просадка equity относительно balance
type DrawdownConfig struct {
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
}

func (c *DrawdownConfig) normalize() error {
	if c.MaxDrawdownPercent <= 0 || c.MaxDrawdownPercent > 100 {
		return fmt.Errorf("max_drawdown_percent must be in (0, 100]")
	}
	return nil
}

// PositionLimitConfig - максимальное число открытых позиций
type PositionLimitConfig struct {
	MaxPositions int `json:"max_positions"`
}

func (c *PositionLimitConfig) normalize() error {
	if c.MaxPositions < 0 {
		return fmt.Errorf("max_positions cannot be negative")
	}
	return nil
}

// PositionSizeConfig - максимальный объем одной сделки
type PositionSizeConfig struct {
	MaxVolume float64 `json:"max_volume"`
}

func (c *PositionSizeConfig) normalize() error {
	if c.MaxVolume <= 0 {
		return fmt.Errorf("max_volume must be positive")
	}
	return nil
}

// DailyTradeLimitConfig - максимальное число сделок за календарный день
type DailyTradeLimitConfig struct {
	MaxTrades int `json:"max_trades"`
}

func (c *DailyTradeLimitConfig) normalize() error {
	if c.MaxTrades < 0 {
		return fmt.Errorf("max_trades cannot be negative")
	}
	return nil
}

// decodeConfig декодирует raw JSON в типизированную конфигурацию правила.
// Необязательное поле "type" должно совпадать с типом политики.
func decodeConfig[C any, PC interface {
	*C
	policyConfig
}](typ models.PolicyType, raw json.RawMessage) (C, error) {
	var cfg C
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, &ConfigError{PolicyType: typ, Reason: "config is empty"}
	}

	var tag struct {
		Type string `json:"type"`
	}
	if err := jsonAPI.Unmarshal(raw, &tag); err != nil {
		return cfg, &ConfigError{PolicyType: typ, Reason: "config must be a JSON object"}
	}
	if tag.Type != "" && models.PolicyType(tag.Type) != typ {
		return cfg, &ConfigError{PolicyType: typ, Reason: fmt.Sprintf("config type %q does not match policy type", tag.Type)}
	}

	if err := jsonAPI.Unmarshal(raw, &cfg); err != nil {
		return cfg, &ConfigError{PolicyType: typ, Reason: err.Error()}
	}
	if err := PC(&cfg).normalize(); err != nil {
		return cfg, &ConfigError{PolicyType: typ, Reason: err.Error()}
	}
	return cfg, nil
}

// typedRule связывает тип политики, декодер конфигурации и функцию оценки
type typedRule[C any, PC interface {
	*C
	policyConfig
}] struct {
	typ  models.PolicyType
	eval func(cfg *C, ec *ExecutionContext) *Result
}

func (r *typedRule[C, PC]) Type() models.PolicyType { return r.typ }

func (r *typedRule[C, PC]) Bind(raw json.RawMessage) (Check, error) {
	cfg, err := decodeConfig[C, PC](r.typ, raw)
	if err != nil {
		return nil, err
	}
	return func(ec *ExecutionContext) *Result {
		return r.eval(&cfg, ec)
	}, nil
}
