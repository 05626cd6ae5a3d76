package engine

import (
	"risksignal/internal/models"
	"risksignal/pkg/utils"
)

// Правила агентов читают Snapshot.Agent. В pre-trade режиме (ec.Trade != nil)
// лимиты количества срабатывают при достижении, так как сделка добавит еще одну единицу.

func agentMetrics(ec *ExecutionContext, res *Result) (*models.AgentMetrics, bool) {
	if ec.Snapshot.Agent == nil {
		res.Metadata = map[string]interface{}{"reason": "AGENT_METRICS_UNAVAILABLE"}
		return nil, false
	}
	return ec.Snapshot.Agent, true
}

// NewDrawdownRule - (balance - equity) / balance * 100 > max
func NewDrawdownRule() Rule {
	return &typedRule[DrawdownConfig, *DrawdownConfig]{
		typ: models.PolicyTypeDrawdown,
		eval: func(cfg *DrawdownConfig, ec *ExecutionContext) *Result {
			res := baseResult(ec)
			m, ok := agentMetrics(ec, res)
			if !ok || m.Balance <= 0 {
				return res
			}

			drawdown := utils.Percentage(m.Balance-m.Equity, m.Balance)
			if drawdown <= cfg.MaxDrawdownPercent {
				return res
			}
			return res.violate(&DrawdownViolation{
				Type:               models.PolicyTypeDrawdown,
				DrawdownPercent:    drawdown,
				MaxDrawdownPercent: cfg.MaxDrawdownPercent,
				Balance:            m.Balance,
				Equity:             m.Equity,
			}, ec.Timestamp, nil)
		},
	}
}

// NewPositionLimitRule - число открытых позиций
func NewPositionLimitRule() Rule {
	return &typedRule[PositionLimitConfig, *PositionLimitConfig]{
		typ: models.PolicyTypePositionLimit,
		eval: func(cfg *PositionLimitConfig, ec *ExecutionContext) *Result {
			res := baseResult(ec)
			m, ok := agentMetrics(ec, res)
			if !ok {
				return res
			}

			preTrade := ec.Trade != nil
			violated := m.OpenPositions > cfg.MaxPositions
			if preTrade {
				violated = m.OpenPositions >= cfg.MaxPositions
			}
			if !violated {
				return res
			}
			return res.violate(&PositionLimitViolation{
				Type:          models.PolicyTypePositionLimit,
				OpenPositions: m.OpenPositions,
				MaxPositions:  cfg.MaxPositions,
				PreTrade:      preTrade,
			}, ec.Timestamp, nil)
		},
	}
}

// NewPositionSizeRule - объем предлагаемой сделки. Без сделки нарушения нет.
func NewPositionSizeRule() Rule {
	return &typedRule[PositionSizeConfig, *PositionSizeConfig]{
		typ: models.PolicyTypePositionSize,
		eval: func(cfg *PositionSizeConfig, ec *ExecutionContext) *Result {
			res := baseResult(ec)
			if ec.Trade == nil {
				res.Metadata = map[string]interface{}{"reason": "NO_TRADE_INTENT"}
				return res
			}
			if ec.Trade.Volume <= cfg.MaxVolume {
				return res
			}
			return res.violate(&PositionSizeViolation{
				Type:      models.PolicyTypePositionSize,
				Symbol:    ec.Trade.Symbol,
				Volume:    ec.Trade.Volume,
				MaxVolume: cfg.MaxVolume,
			}, ec.Timestamp, nil)
		},
	}
}

// NewDailyTradeLimitRule - сделок с начала дня (TradesToday считает вызывающая сторона)
func NewDailyTradeLimitRule() Rule {
	return &typedRule[DailyTradeLimitConfig, *DailyTradeLimitConfig]{
		typ: models.PolicyTypeDailyTradeLimit,
		eval: func(cfg *DailyTradeLimitConfig, ec *ExecutionContext) *Result {
			res := baseResult(ec)
			m, ok := agentMetrics(ec, res)
			if !ok {
				return res
			}

			violated := m.TradesToday > cfg.MaxTrades
			if ec.Trade != nil {
				violated = m.TradesToday >= cfg.MaxTrades
			}
			if !violated {
				return res
			}
			return res.violate(&DailyTradeLimitViolation{
				Type:        models.PolicyTypeDailyTradeLimit,
				TradesToday: m.TradesToday,
				MaxTrades:   cfg.MaxTrades,
			}, ec.Timestamp, nil)
		},
	}
}
