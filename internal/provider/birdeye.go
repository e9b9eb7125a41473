package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/solanaaddr"
)

// Birdeye API defaults.
const (
	BirdeyeName            = "birdeye"
	BirdeyeBaseURL         = "https://public-api.birdeye.so"
	birdeyeMinInterval     = 80 * time.Millisecond // Starter plan: 15 rps
	birdeyeMaxPerMinute    = 800
	birdeyeTradesPageLimit = 50
)

// BirdeyeConfig configures the Birdeye adapter.
type BirdeyeConfig struct {
	APIKey       string
	BaseURL      string        // defaults to BirdeyeBaseURL
	Timeout      time.Duration // defaults to DefaultTimeout
	MinInterval  time.Duration // defaults to birdeyeMinInterval
	MaxPerMinute int           // defaults to birdeyeMaxPerMinute
}

// Birdeye fetches token swap history from the Birdeye DeFi API. It is the
// default primary source for token-scoped queries.
type Birdeye struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *RateLimiter
}

// NewBirdeye creates a Birdeye adapter.
func NewBirdeye(cfg BirdeyeConfig) *Birdeye {
	if cfg.BaseURL == "" {
		cfg.BaseURL = BirdeyeBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = birdeyeMinInterval
	}
	if cfg.MaxPerMinute == 0 {
		cfg.MaxPerMinute = birdeyeMaxPerMinute
	}
	return &Birdeye{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.MinInterval, cfg.MaxPerMinute),
	}
}

var _ TradeSource = (*Birdeye)(nil)

// Name returns the provider identifier.
func (b *Birdeye) Name() string { return BirdeyeName }

// birdeyeTxResponse is the /defi/txs/token envelope.
type birdeyeTxResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Items   []birdeyeTxItem `json:"items"`
		HasNext bool            `json:"hasNext"`
	} `json:"data"`
}

// birdeyeTxItem is one swap in Birdeye's token transaction feed.
type birdeyeTxItem struct {
	TxHash        string  `json:"txHash"`
	BlockUnixTime int64   `json:"blockUnixTime"`
	Side          string  `json:"side"`
	Owner         string  `json:"owner"`
	PricePair     float64 `json:"pricePair"`
	From          struct {
		Address  string  `json:"address"`
		Amount   float64 `json:"amount"`
		Decimals int     `json:"decimals"`
	} `json:"from"`
	To struct {
		Address  string  `json:"address"`
		Amount   float64 `json:"amount"`
		Decimals int     `json:"decimals"`
	} `json:"to"`
}

// FetchTrades returns swap trades for a token. Birdeye has no wallet-history
// endpoint on this plan, so wallet-only queries yield an empty result rather
// than an error; the aggregator will rely on wallet-capable providers.
func (b *Birdeye) FetchTrades(ctx context.Context, q TradeQuery) ([]*domain.CanonicalTrade, error) {
	if q.Token == "" {
		return nil, nil
	}
	if err := solanaaddr.Validate(q.Token); err != nil {
		return nil, &UpstreamError{Provider: BirdeyeName, Kind: ErrorKindPermanent, Msg: fmt.Sprintf("invalid token address %q", q.Token), Err: err}
	}

	var trades []*domain.CanonicalTrade
	offset := 0

	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		params := url.Values{}
		params.Set("address", q.Token)
		params.Set("tx_type", "swap")
		params.Set("sort_type", "asc")
		params.Set("after_time", strconv.FormatInt(q.From, 10))
		params.Set("before_time", strconv.FormatInt(q.To+1, 10))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(birdeyeTradesPageLimit))

		req, err := http.NewRequest(http.MethodGet, b.baseURL+"/defi/txs/token?"+params.Encode(), nil)
		if err != nil {
			return nil, &UpstreamError{Provider: BirdeyeName, Kind: ErrorKindPermanent, Msg: "build request", Err: err}
		}
		req.Header.Set("accept", "application/json")
		req.Header.Set("x-chain", "solana")
		req.Header.Set("X-API-KEY", b.apiKey)

		var resp birdeyeTxResponse
		if err := getJSON(ctx, b.client, BirdeyeName, req, &resp); err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, &UpstreamError{Provider: BirdeyeName, Kind: ErrorKindPermanent, Msg: resp.Message}
		}

		for _, item := range resp.Data.Items {
			if t := b.toCanonical(q.Token, item); t != nil {
				trades = append(trades, t)
			}
		}

		if !resp.Data.HasNext || len(resp.Data.Items) == 0 {
			break
		}
		offset += len(resp.Data.Items)
	}

	return trades, nil
}

// toCanonical converts a Birdeye swap item to a CanonicalTrade. Amounts are
// raw integer units and need decimals normalization.
func (b *Birdeye) toCanonical(token string, item birdeyeTxItem) *domain.CanonicalTrade {
	if item.TxHash == "" || item.BlockUnixTime == 0 {
		return nil
	}

	side := item.Side
	if side != domain.TradeSideBuy && side != domain.TradeSideSell {
		return nil
	}

	// The token leg is whichever side of the swap carries the queried mint.
	var baseRaw, quoteRaw float64
	var baseDecimals, quoteDecimals int
	if item.From.Address == token {
		baseRaw, baseDecimals = item.From.Amount, item.From.Decimals
		quoteRaw, quoteDecimals = item.To.Amount, item.To.Decimals
	} else {
		baseRaw, baseDecimals = item.To.Amount, item.To.Decimals
		quoteRaw, quoteDecimals = item.From.Amount, item.From.Decimals
	}

	base := normalizeAmount(baseRaw, baseDecimals)
	quote := normalizeAmount(quoteRaw, quoteDecimals)

	price := item.PricePair
	if price == 0 && base > 0 {
		price = quote / base
	}

	// Program-derived owners (pool vaults, router authorities) are not
	// user wallets; drop them so wallet PnL never attributes pool flow.
	wallet := item.Owner
	if wallet != "" && !solanaaddr.IsOnCurve(wallet) {
		wallet = ""
	}

	return &domain.CanonicalTrade{
		Token:        token,
		Wallet:       wallet,
		Side:         side,
		BaseAmount:   base,
		QuoteAmount:  quote,
		Price:        price,
		Timestamp:    item.BlockUnixTime,
		Source:       BirdeyeName,
		ProvenanceID: item.TxHash,
	}
}
