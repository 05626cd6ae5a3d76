package engine

import (
	"math"
	"strings"

	"risksignal/internal/models"
	"risksignal/pkg/utils"
)

// NewNetWorthRule - порог общей стоимости кошелька (LESS_THAN / GREATER_THAN)
func NewNetWorthRule() Rule {
	return &typedRule[NetWorthConfig, *NetWorthConfig]{
		typ:  models.PolicyTypeNetWorth,
		eval: evalNetWorth,
	}
}

func evalNetWorth(cfg *NetWorthConfig, ec *ExecutionContext) *Result {
	res := baseResult(ec)
	current := ec.Snapshot.NetWorthUSD

	violated := current < cfg.Threshold
	if cfg.Comparison == ComparisonGreaterThan {
		violated = current > cfg.Threshold
	}
	if !violated {
		return res
	}

	return res.violate(&NetWorthViolation{
		Type:             models.PolicyTypeNetWorth,
		CurrentBalance:   current,
		Threshold:        cfg.Threshold,
		Difference:       math.Abs(current - cfg.Threshold),
		PercentageChange: utils.PercentChange(current, cfg.Threshold),
		Comparison:       cfg.Comparison,
	}, ec.Timestamp, map[string]interface{}{
		"comparison_type": cfg.Comparison,
	})
}

// NewConcentrationRule - доля одного актива в портфеле
func NewConcentrationRule(assets *ReferenceAssets) Rule {
	if assets == nil {
		assets = DefaultReferenceAssets()
	}
	return &typedRule[ConcentrationConfig, *ConcentrationConfig]{
		typ: models.PolicyTypeAssetConcentration,
		eval: func(cfg *ConcentrationConfig, ec *ExecutionContext) *Result {
			return evalConcentration(assets, cfg, ec)
		},
	}
}

func evalConcentration(assets *ReferenceAssets, cfg *ConcentrationConfig, ec *ExecutionContext) *Result {
	res := baseResult(ec)

	var target *models.Holding
	for i := range ec.Snapshot.Holdings {
		if strings.ToUpper(ec.Snapshot.Holdings[i].Symbol) == cfg.AssetSymbol {
			target = &ec.Snapshot.Holdings[i]
			break
		}
	}
	// отсутствие актива - не риск
	if target == nil {
		res.Metadata = map[string]interface{}{
			"reason":          "ASSET_NOT_FOUND",
			"searched_symbol": cfg.AssetSymbol,
		}
		return res
	}

	total := ec.Snapshot.NetWorthUSD
	adjusted := total
	if !cfg.IncludeStablecoins {
		for _, h := range ec.Snapshot.Holdings {
			if assets.IsStablecoinSymbol(h.Symbol) {
				adjusted -= h.ValueUSD
			}
		}
	}

	pct := utils.Percentage(target.ValueUSD, adjusted)
	if pct <= cfg.MaxPercentage {
		return res
	}

	return res.violate(&ConcentrationViolation{
		Type:              models.PolicyTypeAssetConcentration,
		AssetSymbol:       cfg.AssetSymbol,
		CurrentPercentage: pct,
		MaxPercentage:     cfg.MaxPercentage,
		TotalValueUSD:     target.ValueUSD,
	}, ec.Timestamp, map[string]interface{}{
		"total_portfolio_value": total,
		"adjusted_total":        adjusted,
		"stablecoins_excluded":  !cfg.IncludeStablecoins,
	})
}

// NewUnauthorizedTokenRule - любые токены вне разрешенного множества
func NewUnauthorizedTokenRule(assets *ReferenceAssets) Rule {
	if assets == nil {
		assets = DefaultReferenceAssets()
	}
	return &typedRule[UnauthorizedTokenConfig, *UnauthorizedTokenConfig]{
		typ: models.PolicyTypeUnauthorizedToken,
		eval: func(cfg *UnauthorizedTokenConfig, ec *ExecutionContext) *Result {
			return evalUnauthorizedToken(assets, cfg, ec)
		},
	}
}

func evalUnauthorizedToken(assets *ReferenceAssets, cfg *UnauthorizedTokenConfig, ec *ExecutionContext) *Result {
	res := baseResult(ec)

	// списки разрешаются на момент выполнения, не кешируются
	allowed := assets.AllowedAddresses(cfg.CheckMode)
	whitelist := make(map[string]struct{}, len(cfg.Whitelist))
	for _, addr := range cfg.Whitelist {
		whitelist[addr] = struct{}{}
		allowed[addr] = struct{}{}
	}

	var detected []DetectedToken
	var total float64
	for _, h := range ec.Snapshot.Holdings {
		if h.IsSpam {
			continue
		}
		if _, ok := allowed[strings.ToLower(h.ContractAddress)]; ok {
			continue
		}
		detected = append(detected, DetectedToken{
			Symbol:          h.Symbol,
			ContractAddress: h.ContractAddress,
			BalanceUSD:      h.ValueUSD,
		})
		total += h.ValueUSD
	}
	if len(detected) == 0 {
		return res
	}

	return res.violate(&UnauthorizedTokenViolation{
		Type:           models.PolicyTypeUnauthorizedToken,
		DetectedTokens: detected,
	}, ec.Timestamp, map[string]interface{}{
		"total_unauthorized_value": total,
		"unauthorized_count":       len(detected),
		"check_mode":               cfg.CheckMode,
		"whitelist_size":           len(whitelist),
	})
}
