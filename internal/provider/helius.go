package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/solanaaddr"
)

// Helius API defaults.
const (
	HeliusName     = "helius"
	HeliusBaseURL  = "https://api.helius.xyz/v0"
	heliusPageSize = 100

	lamportsPerSOL = 1_000_000_000
)

// HeliusConfig configures the Helius adapter.
type HeliusConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MinInterval  time.Duration
	MaxPerMinute int
}

// Helius fetches wallet trade history from the Helius enhanced transactions
// API. Trade direction follows the token transfer: a transfer into the wallet
// is a buy, out of it a sell; price is the SOL balance change divided by the
// token amount.
type Helius struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *RateLimiter
}

// NewHelius creates a Helius adapter.
func NewHelius(cfg HeliusConfig) *Helius {
	if cfg.BaseURL == "" {
		cfg.BaseURL = HeliusBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Helius{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.MinInterval, cfg.MaxPerMinute),
	}
}

var _ TradeSource = (*Helius)(nil)

// Name returns the provider identifier.
func (h *Helius) Name() string { return HeliusName }

// heliusTransaction is one enhanced transaction.
type heliusTransaction struct {
	Signature      string `json:"signature"`
	Timestamp      int64  `json:"timestamp"`
	Type           string `json:"type"`
	TokenTransfers []struct {
		FromUserAccount string  `json:"fromUserAccount"`
		ToUserAccount   string  `json:"toUserAccount"`
		Mint            string  `json:"mint"`
		TokenAmount     float64 `json:"tokenAmount"`
	} `json:"tokenTransfers"`
	AccountData []struct {
		Account             string `json:"account"`
		NativeBalanceChange int64  `json:"nativeBalanceChange"`
	} `json:"accountData"`
}

// FetchTrades returns a wallet's trades. Helius is wallet-scoped; token-only
// queries yield an empty result and the aggregator falls through to
// token-capable providers.
func (h *Helius) FetchTrades(ctx context.Context, q TradeQuery) ([]*domain.CanonicalTrade, error) {
	if q.Wallet == "" {
		return nil, nil
	}
	if err := solanaaddr.Validate(q.Wallet); err != nil {
		return nil, &UpstreamError{Provider: HeliusName, Kind: ErrorKindPermanent, Msg: fmt.Sprintf("invalid wallet address %q", q.Wallet), Err: err}
	}

	var trades []*domain.CanonicalTrade
	before := ""

	for {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		params := url.Values{}
		params.Set("api-key", h.apiKey)
		params.Set("type", "SWAP")
		params.Set("limit", fmt.Sprintf("%d", heliusPageSize))
		if before != "" {
			params.Set("before", before)
		}

		endpoint := fmt.Sprintf("%s/addresses/%s/transactions?%s", h.baseURL, q.Wallet, params.Encode())
		req, err := http.NewRequest(http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, &UpstreamError{Provider: HeliusName, Kind: ErrorKindPermanent, Msg: "build request", Err: err}
		}
		req.Header.Set("accept", "application/json")

		var page []heliusTransaction
		if err := getJSON(ctx, h.client, HeliusName, req, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		done := false
		for _, tx := range page {
			if tx.Timestamp < q.From {
				// Pages run newest-first; past the window start means done.
				done = true
				break
			}
			if tx.Timestamp > q.To {
				continue
			}
			if t := h.toCanonical(q, tx); t != nil {
				trades = append(trades, t)
			}
		}

		if done || len(page) < heliusPageSize {
			break
		}
		before = page[len(page)-1].Signature
	}

	return trades, nil
}

// toCanonical converts an enhanced transaction into a CanonicalTrade for the
// queried wallet.
func (h *Helius) toCanonical(q TradeQuery, tx heliusTransaction) *domain.CanonicalTrade {
	if tx.Signature == "" {
		return nil
	}

	// SOL balance change for the wallet itself.
	var solChange float64
	for _, acct := range tx.AccountData {
		if acct.Account == q.Wallet {
			solChange = float64(acct.NativeBalanceChange) / lamportsPerSOL
			break
		}
	}

	for _, tr := range tx.TokenTransfers {
		if tr.Mint == "" || tr.TokenAmount <= 0 {
			continue
		}
		if q.Token != "" && tr.Mint != q.Token {
			continue
		}

		var side string
		switch q.Wallet {
		case tr.ToUserAccount:
			side = domain.TradeSideBuy
		case tr.FromUserAccount:
			side = domain.TradeSideSell
		default:
			continue
		}

		quote := math.Abs(solChange)
		var price float64
		if tr.TokenAmount > 0 {
			price = quote / tr.TokenAmount
		}

		return &domain.CanonicalTrade{
			Token:        tr.Mint,
			Wallet:       q.Wallet,
			Side:         side,
			BaseAmount:   tr.TokenAmount,
			QuoteAmount:  quote,
			Price:        price,
			Timestamp:    tx.Timestamp,
			Source:       HeliusName,
			ProvenanceID: tx.Signature,
		}
	}

	return nil
}
