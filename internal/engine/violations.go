package engine

import (
	"fmt"

	"risksignal/internal/models"
)

// NetWorthViolation - стоимость кошелька вышла за порог
type NetWorthViolation struct {
	Type             models.PolicyType `json:"type"`
	CurrentBalance   float64           `json:"current_balance"`
	Threshold        float64           `json:"threshold"`
	Difference       float64           `json:"difference"`
	PercentageChange float64           `json:"percentage_change"`
	Comparison       string            `json:"comparison"`
}

func (v *NetWorthViolation) Kind() models.PolicyType { return models.PolicyTypeNetWorth }

func (v *NetWorthViolation) Summary() string {
	dir := "below"
	if v.Comparison == ComparisonGreaterThan {
		dir = "above"
	}
	return fmt.Sprintf("Net worth $%.2f is %s threshold $%.2f (%.2f%%)", v.CurrentBalance, dir, v.Threshold, v.PercentageChange)
}

func (v *NetWorthViolation) Measured() (float64, float64) { return v.CurrentBalance, v.Threshold }

// ConcentrationViolation - доля актива превысила потолок
type ConcentrationViolation struct {
	Type              models.PolicyType `json:"type"`
	AssetSymbol       string            `json:"asset_symbol"`
	CurrentPercentage float64           `json:"current_percentage"`
	MaxPercentage     float64           `json:"max_percentage"`
	TotalValueUSD     float64           `json:"total_value_usd"`
}

func (v *ConcentrationViolation) Kind() models.PolicyType { return models.PolicyTypeAssetConcentration }

func (v *ConcentrationViolation) Summary() string {
	return fmt.Sprintf("%s concentration %.2f%% exceeds limit %g%%", v.AssetSymbol, v.CurrentPercentage, v.MaxPercentage)
}

func (v *ConcentrationViolation) Measured() (float64, float64) {
	return v.CurrentPercentage, v.MaxPercentage
}

// DetectedToken - токен вне белого списка
type DetectedToken struct {
	Symbol          string  `json:"symbol"`
	ContractAddress string  `json:"contract_address"`
	BalanceUSD      float64 `json:"balance_usd"`
}

// UnauthorizedTokenViolation - все неразрешенные токены одним вердиктом
type UnauthorizedTokenViolation struct {
	Type           models.PolicyType `json:"type"`
	DetectedTokens []DetectedToken   `json:"detected_tokens"`
}

func (v *UnauthorizedTokenViolation) Kind() models.PolicyType { return models.PolicyTypeUnauthorizedToken }

func (v *UnauthorizedTokenViolation) Summary() string {
	current, _ := v.Measured()
	return fmt.Sprintf("%d unauthorized token(s) held worth $%.2f", len(v.DetectedTokens), current)
}

func (v *UnauthorizedTokenViolation) Measured() (float64, float64) {
	var total float64
	for _, t := range v.DetectedTokens {
		total += t.BalanceUSD
	}
	return total, 0
}

// DrawdownViolation - просадка equity превысила лимит
type DrawdownViolation struct {
	Type               models.PolicyType `json:"type"`
	DrawdownPercent    float64           `json:"drawdown_percent"`
	MaxDrawdownPercent float64           `json:"max_drawdown_percent"`
	Balance            float64           `json:"balance"`
	Equity             float64           `json:"equity"`
}

func (v *DrawdownViolation) Kind() models.PolicyType { return models.PolicyTypeDrawdown }

func (v *DrawdownViolation) Summary() string {
	return fmt.Sprintf("Drawdown %.2f%% exceeds limit %g%%", v.DrawdownPercent, v.MaxDrawdownPercent)
}

func (v *DrawdownViolation) Measured() (float64, float64) {
	return v.DrawdownPercent, v.MaxDrawdownPercent
}

// PositionLimitViolation - превышено число открытых позиций
type PositionLimitViolation struct {
	Type          models.PolicyType `json:"type"`
	OpenPositions int               `json:"open_positions"`
	MaxPositions  int               `json:"max_positions"`
	PreTrade      bool              `json:"pre_trade"`
}

func (v *PositionLimitViolation) Kind() models.PolicyType { return models.PolicyTypePositionLimit }

func (v *PositionLimitViolation) Summary() string {
	if v.PreTrade {
		return fmt.Sprintf("Position limit reached (%d/%d)", v.OpenPositions, v.MaxPositions)
	}
	return fmt.Sprintf("Open positions %d exceeds limit %d", v.OpenPositions, v.MaxPositions)
}

func (v *PositionLimitViolation) Measured() (float64, float64) {
	return float64(v.OpenPositions), float64(v.MaxPositions)
}

// PositionSizeViolation - объем сделки больше допустимого
type PositionSizeViolation struct {
	Type      models.PolicyType `json:"type"`
	Symbol    string            `json:"symbol"`
	Volume    float64           `json:"volume"`
	MaxVolume float64           `json:"max_volume"`
}

func (v *PositionSizeViolation) Kind() models.PolicyType { return models.PolicyTypePositionSize }

func (v *PositionSizeViolation) Summary() string {
	return fmt.Sprintf("Position size %g exceeds limit %g", v.Volume, v.MaxVolume)
}

func (v *PositionSizeViolation) Measured() (float64, float64) { return v.Volume, v.MaxVolume }

// DailyTradeLimitViolation - исчерпан дневной лимит сделок
type DailyTradeLimitViolation struct {
	Type        models.PolicyType `json:"type"`
	TradesToday int               `json:"trades_today"`
	MaxTrades   int               `json:"max_trades"`
}

func (v *DailyTradeLimitViolation) Kind() models.PolicyType { return models.PolicyTypeDailyTradeLimit }

func (v *DailyTradeLimitViolation) Summary() string {
	return fmt.Sprintf("Daily trade limit reached (%d/%d)", v.TradesToday, v.MaxTrades)
}

func (v *DailyTradeLimitViolation) Measured() (float64, float64) {
	return float64(v.TradesToday), float64(v.MaxTrades)
}
