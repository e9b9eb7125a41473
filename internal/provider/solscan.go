package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/solanaaddr"
)

// Solscan API defaults.
const (
	SolscanName         = "solscan"
	SolscanBaseURL      = "https://pro-api.solscan.io/v2.0"
	solscanMaxPerMinute = 1000 // Level 2 plan
	solscanPageSize     = 100
)

// WSOL mint address, the quote side of SOL-denominated swaps.
const wsolMint = "So11111111111111111111111111111111111111112"

// SolscanConfig configures the Solscan adapter.
type SolscanConfig struct {
	APIToken     string
	BaseURL      string
	Timeout      time.Duration
	MaxPerMinute int
}

// Solscan fetches DeFi swap activity from the Solscan Pro API. It serves as
// the backup source when the primary disagrees or is unavailable.
type Solscan struct {
	apiToken string
	baseURL  string
	client   *http.Client
	limiter  *RateLimiter
}

// NewSolscan creates a Solscan adapter.
func NewSolscan(cfg SolscanConfig) *Solscan {
	if cfg.BaseURL == "" {
		cfg.BaseURL = SolscanBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPerMinute == 0 {
		cfg.MaxPerMinute = solscanMaxPerMinute
	}
	return &Solscan{
		apiToken: cfg.APIToken,
		baseURL:  cfg.BaseURL,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  NewRateLimiter(time.Minute/time.Duration(cfg.MaxPerMinute), cfg.MaxPerMinute),
	}
}

var _ TradeSource = (*Solscan)(nil)

// Name returns the provider identifier.
func (s *Solscan) Name() string { return SolscanName }

// solscanActivityResponse is the /account/defi/activities envelope. The
// response shape is fixed here; older duck-typed fallbacks are deliberately
// not supported.
type solscanActivityResponse struct {
	Success bool                  `json:"success"`
	Data    []solscanActivityItem `json:"data"`
}

type solscanActivityItem struct {
	TransID      string `json:"trans_id"`
	BlockTime    int64  `json:"block_time"`
	ActivityType string `json:"activity_type"`
	FromAddress  string `json:"from_address"`
	Routers      struct {
		Token1         string  `json:"token1"`
		Token1Decimals int     `json:"token1_decimals"`
		Amount1        float64 `json:"amount1"`
		Token2         string  `json:"token2"`
		Token2Decimals int     `json:"token2_decimals"`
		Amount2        float64 `json:"amount2"`
	} `json:"routers"`
}

// FetchTrades returns swap trades for a token or wallet.
func (s *Solscan) FetchTrades(ctx context.Context, q TradeQuery) ([]*domain.CanonicalTrade, error) {
	var trades []*domain.CanonicalTrade
	page := 1

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		params := url.Values{}
		if q.Wallet != "" {
			params.Set("address", q.Wallet)
		}
		if q.Token != "" {
			params.Set("token", q.Token)
		}
		params.Set("activity_type[]", "ACTIVITY_TOKEN_SWAP")
		params.Set("from_time", strconv.FormatInt(q.From, 10))
		params.Set("to_time", strconv.FormatInt(q.To, 10))
		params.Set("page", strconv.Itoa(page))
		params.Set("page_size", strconv.Itoa(solscanPageSize))

		req, err := http.NewRequest(http.MethodGet, s.baseURL+"/account/defi/activities?"+params.Encode(), nil)
		if err != nil {
			return nil, &UpstreamError{Provider: SolscanName, Kind: ErrorKindPermanent, Msg: "build request", Err: err}
		}
		req.Header.Set("accept", "application/json")
		req.Header.Set("token", s.apiToken)

		var resp solscanActivityResponse
		if err := getJSON(ctx, s.client, SolscanName, req, &resp); err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, &UpstreamError{Provider: SolscanName, Kind: ErrorKindPermanent, Msg: "api returned success=false"}
		}

		for _, item := range resp.Data {
			if t := s.toCanonical(q, item); t != nil {
				trades = append(trades, t)
			}
		}

		if len(resp.Data) < solscanPageSize {
			break
		}
		page++
	}

	return trades, nil
}

// toCanonical converts a swap activity to a CanonicalTrade. Routers lists the
// two legs; token1 is what the wallet gave, token2 what it received.
func (s *Solscan) toCanonical(q TradeQuery, item solscanActivityItem) *domain.CanonicalTrade {
	if item.TransID == "" || item.BlockTime == 0 {
		return nil
	}

	r := item.Routers

	// Identify the non-SOL leg as the traded token.
	var token string
	var side string
	var baseRaw, quoteRaw float64
	var baseDec, quoteDec int

	switch {
	case r.Token1 != wsolMint && r.Token1 != "":
		// Gave token, received SOL: a sell.
		token = r.Token1
		side = domain.TradeSideSell
		baseRaw, baseDec = r.Amount1, r.Token1Decimals
		quoteRaw, quoteDec = r.Amount2, r.Token2Decimals
	case r.Token2 != wsolMint && r.Token2 != "":
		// Gave SOL, received token: a buy.
		token = r.Token2
		side = domain.TradeSideBuy
		baseRaw, baseDec = r.Amount2, r.Token2Decimals
		quoteRaw, quoteDec = r.Amount1, r.Token1Decimals
	default:
		return nil
	}

	if q.Token != "" && token != q.Token {
		return nil
	}

	base := normalizeAmount(baseRaw, baseDec)
	quote := normalizeAmount(quoteRaw, quoteDec)

	var price float64
	if base > 0 {
		price = quote / base
	}

	// Swap activities initiated through a program-derived address belong
	// to a pool or router, not a user wallet.
	wallet := item.FromAddress
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
		Timestamp:    item.BlockTime,
		Source:       SolscanName,
		ProvenanceID: item.TransID,
	}
}
