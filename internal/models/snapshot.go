package models

import "time"

// AccountSnapshot - неизменяемая оценка аккаунта на момент времени
//
// Для кошельков заполняется провайдером (Holdings, Chains).
// Для агентов строится из телеметрии (Agent).
type AccountSnapshot struct {
	ID          string         `json:"id" db:"id"`
	AccountID   string         `json:"account_id" db:"account_id"`
	NetWorthUSD float64        `json:"net_worth_usd" db:"net_worth_usd"`
	Holdings    []Holding      `json:"holdings"`
	Chains      []ChainBalance `json:"chains,omitempty"`
	Agent       *AgentMetrics  `json:"agent,omitempty"`
	CapturedAt  time.Time      `json:"captured_at" db:"captured_at"`
}

// Holding - позиция в одном токене
type Holding struct {
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name,omitempty"`
	ContractAddress string  `json:"contract_address"`
	Chain           string  `json:"chain,omitempty"`
	Balance         string  `json:"balance,omitempty"` // сырое значение от провайдера
	ValueUSD        float64 `json:"balance_usd"`
	PortfolioPct    float64 `json:"percentage_of_portfolio"`
	IsSpam          bool    `json:"is_spam,omitempty"`
}

// ChainBalance - нативный баланс в одной сети
type ChainBalance struct {
	Chain            string  `json:"chain"`
	NativeBalance    string  `json:"native_balance"`
	NativeBalanceUSD float64 `json:"native_balance_usd"`
	TokenCount       int     `json:"token_count"`
}

// AgentMetrics - показатели агента, присланные телеметрией или запросом pre-trade
type AgentMetrics struct {
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	Margin        float64 `json:"margin,omitempty"`
	MarginFree    float64 `json:"margin_free,omitempty"`
	OpenPositions int     `json:"open_positions"`
	UnrealizedPnL float64 `json:"unrealized_pnl,omitempty"`
	RealizedPnL   float64 `json:"realized_pnl,omitempty"`
	TradesToday   int     `json:"trades_today,omitempty"`
}
