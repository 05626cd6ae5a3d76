package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"risksignal/internal/models"
	"risksignal/pkg/ratelimit"
	"risksignal/pkg/retry"
	"risksignal/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMoralisBaseURL - базовый адрес Moralis Web3 Data API
const DefaultMoralisBaseURL = "https://deep-index.moralis.io/api/v2.2"

// ErrAPIKeyRequired - провайдер создан без ключа
var ErrAPIKeyRequired = errors.New("moralis API key is required")

// MoralisConfig - параметры провайдера
type MoralisConfig struct {
	APIKey  string
	BaseURL string
	RPS     float64 // лимит исходящих запросов в секунду
	HTTP    HTTPClientConfig
	Retry   retry.Config
}

// MoralisProvider реализует engine.SnapshotProvider через Moralis net-worth API
type MoralisProvider struct {
	cfg     MoralisConfig
	client  *http.Client
	limiter *ratelimit.Limiter
	now     func() time.Time
	logger  *utils.Logger
}

// NewMoralisProvider создает провайдер. Нулевые поля конфигурации заменяются значениями по умолчанию.
func NewMoralisProvider(cfg MoralisConfig) (*MoralisProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMoralisBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.HTTP == (HTTPClientConfig{}) {
		cfg.HTTP = DefaultHTTPClientConfig()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.ProviderConfig()
	}

	p := &MoralisProvider{
		cfg:     cfg,
		client:  NewHTTPClient(cfg.HTTP),
		limiter: ratelimit.NewLimiter(cfg.RPS, 0),
		now:     time.Now,
		logger:  utils.L().WithComponent("moralis"),
	}
	p.cfg.Retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		p.logger.Warn("moralis request failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	return p, nil
}

type moralisToken struct {
	TokenAddress     string   `json:"token_address"`
	Symbol           string   `json:"symbol"`
	Name             string   `json:"name"`
	Balance          string   `json:"balance"`
	BalanceFormatted string   `json:"balance_formatted"`
	USDValue         *float64 `json:"usd_value"`
	PossibleSpam     bool     `json:"possible_spam"`
}

type moralisChain struct {
	Chain            string  `json:"chain"`
	NativeBalance    string  `json:"native_balance"`
	NativeBalanceUSD float64 `json:"native_balance_usd"`
	TokenCount       int     `json:"token_count"`
}

type moralisNetWorthResponse struct {
	TotalNetWorthUSD string         `json:"total_networth_usd"`
	Chains           []moralisChain `json:"chains"`
	Tokens           []moralisToken `json:"tokens"`
}

// FetchSnapshot получает текущую оценку кошелька
func (p *MoralisProvider) FetchSnapshot(ctx context.Context, address string) (*models.AccountSnapshot, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, errors.New("wallet address is required")
	}

	endpoint := fmt.Sprintf("%s/wallets/%s/net-worth?exclude_spam=true", p.cfg.BaseURL, url.PathEscape(address))

	resp, err := retry.DoWithResult(ctx, p.cfg.Retry, func(ctx context.Context) (*moralisNetWorthResponse, error) {
		return p.get(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}
	return p.toSnapshot(address, resp)
}

func (p *MoralisProvider) get(ctx context.Context, endpoint string) (*moralisNetWorthResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("X-API-Key", p.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{Service: "Moralis", StatusCode: res.StatusCode, Body: string(body)}
	}

	var out moralisNetWorthResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode moralis response: %w", err))
	}
	return &out, nil
}

func (p *MoralisProvider) toSnapshot(address string, resp *moralisNetWorthResponse) (*models.AccountSnapshot, error) {
	total, err := strconv.ParseFloat(resp.TotalNetWorthUSD, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid total_networth_usd %q: %w", resp.TotalNetWorthUSD, err)
	}

	now := p.now().UTC()
	snap := &models.AccountSnapshot{
		ID:          uuid.NewString(),
		AccountID:   address,
		NetWorthUSD: total,
		Holdings:    make([]models.Holding, 0, len(resp.Tokens)),
		Chains:      make([]models.ChainBalance, 0, len(resp.Chains)),
		CapturedAt:  now,
	}

	for _, c := range resp.Chains {
		snap.Chains = append(snap.Chains, models.ChainBalance{
			Chain:            c.Chain,
			NativeBalance:    c.NativeBalance,
			NativeBalanceUSD: c.NativeBalanceUSD,
			TokenCount:       c.TokenCount,
		})
	}

	for _, t := range resp.Tokens {
		var value float64
		if t.USDValue != nil {
			value = *t.USDValue
		}
		snap.Holdings = append(snap.Holdings, models.Holding{
			Symbol:          t.Symbol,
			Name:            t.Name,
			ContractAddress: t.TokenAddress,
			Chain:           "eth", // net-worth API отдает токены основной сети
			Balance:         t.Balance,
			ValueUSD:        value,
			PortfolioPct:    utils.Percentage(value, total),
			IsSpam:          t.PossibleSpam,
		})
	}
	return snap, nil
}
