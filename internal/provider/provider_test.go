package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const (
	testToken  = "So11111111111111111111111111111111111111112"
	testWallet = "11111111111111111111111111111111"

	// 32 canonical bytes that decode off the ed25519 curve.
	offCurveAddr = "8opHzTAnfzRpPEx21XtnrVTX28YQuCpAjcn1PczScKh"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusTooManyRequests, ErrorKindRateLimited},
		{http.StatusUnauthorized, ErrorKindPermanent},
		{http.StatusForbidden, ErrorKindPermanent},
		{http.StatusNotFound, ErrorKindPermanent},
		{http.StatusBadRequest, ErrorKindPermanent},
		{http.StatusInternalServerError, ErrorKindTransient},
		{http.StatusBadGateway, ErrorKindTransient},
		{http.StatusServiceUnavailable, ErrorKindTransient},
	}

	for _, tc := range cases {
		if got := classifyStatus(tc.status); got != tc.want {
			t.Errorf("classifyStatus(%d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestGetJSON_ErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"too many"}`, ErrorKindRateLimited},
		{"server error", http.StatusInternalServerError, `boom`, ErrorKindTransient},
		{"auth failure", http.StatusUnauthorized, `{"error":"bad key"}`, ErrorKindPermanent},
		{"malformed body", http.StatusOK, `{not json`, ErrorKindPermanent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			var out map[string]interface{}
			err := getJSON(context.Background(), srv.Client(), "test", req, &out)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var ue *UpstreamError
			if !errors.As(err, &ue) {
				t.Fatalf("expected *UpstreamError, got %T", err)
			}
			if ue.Kind != tc.want {
				t.Errorf("kind = %s, want %s", ue.Kind, tc.want)
			}
		})
	}
}

func TestUpstreamError_Retryable(t *testing.T) {
	if !(&UpstreamError{Kind: ErrorKindTransient}).Retryable() {
		t.Error("transient should be retryable")
	}
	if (&UpstreamError{Kind: ErrorKindPermanent}).Retryable() {
		t.Error("permanent should not be retryable")
	}
	if (&UpstreamError{Kind: ErrorKindRateLimited}).Retryable() {
		t.Error("rate_limited should not be retryable")
	}
}

func TestRateLimiter_MinInterval(t *testing.T) {
	l := NewRateLimiter(50*time.Millisecond, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	if elapsed < 100*time.Millisecond {
		t.Errorf("3 calls at 50ms spacing took %v, want >= 100ms", elapsed)
	}
}

func TestRateLimiter_ContextCancel(t *testing.T) {
	l := NewRateLimiter(time.Hour, 0)
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err := l.Wait(cancelCtx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestNormalizeAmount(t *testing.T) {
	cases := []struct {
		raw      float64
		decimals int
		want     float64
	}{
		{1_000_000_000, 9, 1},
		{500_000, 6, 0.5},
		{42, 0, 42},
		{0, 9, 0},
	}

	for _, tc := range cases {
		if got := normalizeAmount(tc.raw, tc.decimals); got != tc.want {
			t.Errorf("normalizeAmount(%v, %d) = %v, want %v", tc.raw, tc.decimals, got, tc.want)
		}
	}
}

func TestBirdeye_FetchTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-KEY"); got != "key123" {
			t.Errorf("X-API-KEY = %q, want key123", got)
		}
		if got := r.URL.Query().Get("address"); got != testToken {
			t.Errorf("address = %q, want %q", got, testToken)
		}
		w.Write([]byte(`{
			"success": true,
			"data": {
				"items": [{
					"txHash": "sig1",
					"blockUnixTime": 1700000000,
					"side": "buy",
					"owner": "walletA",
					"pricePair": 0,
					"from": {"address": "other", "amount": 2000000000, "decimals": 9},
					"to": {"address": "` + testToken + `", "amount": 4000000000, "decimals": 9}
				}],
				"hasNext": false
			}
		}`))
	}))
	defer srv.Close()

	b := NewBirdeye(BirdeyeConfig{APIKey: "key123", BaseURL: srv.URL, MinInterval: time.Nanosecond})
	trades, err := b.FetchTrades(context.Background(), TradeQuery{Token: testToken, From: 0, To: 2000000000})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}

	tr := trades[0]
	if tr.Side != "buy" {
		t.Errorf("side = %q, want buy", tr.Side)
	}
	if tr.BaseAmount != 4 {
		t.Errorf("base = %v, want 4", tr.BaseAmount)
	}
	if tr.QuoteAmount != 2 {
		t.Errorf("quote = %v, want 2", tr.QuoteAmount)
	}
	if tr.Price != 0.5 {
		t.Errorf("price = %v, want 0.5", tr.Price)
	}
	if tr.Source != BirdeyeName {
		t.Errorf("source = %q, want %q", tr.Source, BirdeyeName)
	}
	if tr.ProvenanceID != "sig1" {
		t.Errorf("provenance = %q, want sig1", tr.ProvenanceID)
	}
}

func TestBirdeye_InvalidToken(t *testing.T) {
	b := NewBirdeye(BirdeyeConfig{APIKey: "k", BaseURL: "http://unused"})
	_, err := b.FetchTrades(context.Background(), TradeQuery{Token: "not-base58!"})

	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Kind != ErrorKindPermanent {
		t.Fatalf("expected permanent UpstreamError, got %v", err)
	}
}

func TestBirdeye_WalletOnlyQuery(t *testing.T) {
	b := NewBirdeye(BirdeyeConfig{APIKey: "k", BaseURL: "http://unused"})
	trades, err := b.FetchTrades(context.Background(), TradeQuery{Wallet: testWallet})
	if err != nil {
		t.Fatalf("wallet-only query should not error: %v", err)
	}
	if trades != nil {
		t.Errorf("got %d trades, want none", len(trades))
	}
}

func TestBirdeye_ClearsDerivedOwner(t *testing.T) {
	// One swap owned by a real wallet, one by a program-derived address
	// (a pool vault). The vault is not a user wallet.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"success": true,
			"data": {
				"items": [{
					"txHash": "sig-user",
					"blockUnixTime": 1700000000,
					"side": "buy",
					"owner": "` + testWallet + `",
					"from": {"address": "other", "amount": 1000000000, "decimals": 9},
					"to": {"address": "` + testToken + `", "amount": 1000000000, "decimals": 9}
				}, {
					"txHash": "sig-vault",
					"blockUnixTime": 1700000001,
					"side": "sell",
					"owner": "` + offCurveAddr + `",
					"from": {"address": "` + testToken + `", "amount": 1000000000, "decimals": 9},
					"to": {"address": "other", "amount": 1000000000, "decimals": 9}
				}],
				"hasNext": false
			}
		}`))
	}))
	defer srv.Close()

	b := NewBirdeye(BirdeyeConfig{APIKey: "k", BaseURL: srv.URL, MinInterval: time.Nanosecond})
	trades, err := b.FetchTrades(context.Background(), TradeQuery{Token: testToken, From: 0, To: 2000000000})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	if trades[0].Wallet != testWallet {
		t.Errorf("on-curve owner = %q, want %q", trades[0].Wallet, testWallet)
	}
	if trades[1].Wallet != "" {
		t.Errorf("derived owner = %q, want cleared", trades[1].Wallet)
	}
}

func TestSolscan_SideDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"success": true,
			"data": [
				{
					"trans_id": "sell-sig",
					"block_time": 1700000100,
					"activity_type": "ACTIVITY_TOKEN_SWAP",
					"from_address": "walletA",
					"routers": {
						"token1": "TokenMint111", "token1_decimals": 6, "amount1": 10000000,
						"token2": "So11111111111111111111111111111111111111112", "token2_decimals": 9, "amount2": 5000000000
					}
				},
				{
					"trans_id": "buy-sig",
					"block_time": 1700000200,
					"activity_type": "ACTIVITY_TOKEN_SWAP",
					"from_address": "walletA",
					"routers": {
						"token1": "So11111111111111111111111111111111111111112", "token1_decimals": 9, "amount1": 1000000000,
						"token2": "TokenMint111", "token2_decimals": 6, "amount2": 2000000
					}
				}
			]
		}`))
	}))
	defer srv.Close()

	s := NewSolscan(SolscanConfig{APIToken: "tok", BaseURL: srv.URL, MaxPerMinute: 100000})
	trades, err := s.FetchTrades(context.Background(), TradeQuery{Wallet: "walletA", From: 0, To: 2000000000})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}

	sell := trades[0]
	if sell.Side != "sell" {
		t.Errorf("first trade side = %q, want sell", sell.Side)
	}
	if sell.BaseAmount != 10 {
		t.Errorf("sell base = %v, want 10", sell.BaseAmount)
	}
	if sell.Price != 0.5 {
		t.Errorf("sell price = %v, want 0.5", sell.Price)
	}

	buy := trades[1]
	if buy.Side != "buy" {
		t.Errorf("second trade side = %q, want buy", buy.Side)
	}
	if buy.BaseAmount != 2 {
		t.Errorf("buy base = %v, want 2", buy.BaseAmount)
	}
	if buy.Price != 0.5 {
		t.Errorf("buy price = %v, want 0.5", buy.Price)
	}
}

func TestSolscan_TokenFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"success": true,
			"data": [{
				"trans_id": "sig-other",
				"block_time": 1700000100,
				"activity_type": "ACTIVITY_TOKEN_SWAP",
				"from_address": "walletA",
				"routers": {
					"token1": "OtherMint222", "token1_decimals": 6, "amount1": 1000000,
					"token2": "So11111111111111111111111111111111111111112", "token2_decimals": 9, "amount2": 1000000000
				}
			}]
		}`))
	}))
	defer srv.Close()

	s := NewSolscan(SolscanConfig{APIToken: "tok", BaseURL: srv.URL, MaxPerMinute: 100000})
	trades, err := s.FetchTrades(context.Background(), TradeQuery{Token: "WantedMint333", From: 0, To: 2000000000})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("got %d trades for non-matching token, want 0", len(trades))
	}
}

func TestSolscan_ClearsDerivedInitiator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"success": true,
			"data": [{
				"trans_id": "sig-router",
				"block_time": 1700000100,
				"activity_type": "ACTIVITY_TOKEN_SWAP",
				"from_address": "` + offCurveAddr + `",
				"routers": {
					"token1": "TokenMint111", "token1_decimals": 6, "amount1": 1000000,
					"token2": "So11111111111111111111111111111111111111112", "token2_decimals": 9, "amount2": 1000000000
				}
			}]
		}`))
	}))
	defer srv.Close()

	s := NewSolscan(SolscanConfig{APIToken: "tok", BaseURL: srv.URL, MaxPerMinute: 100000})
	trades, err := s.FetchTrades(context.Background(), TradeQuery{Token: "TokenMint111", From: 0, To: 2000000000})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	if trades[0].Wallet != "" {
		t.Errorf("derived initiator = %q, want cleared", trades[0].Wallet)
	}
}

func TestHelius_FetchTrades(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`[
			{
				"signature": "buy-sig",
				"timestamp": 1700000300,
				"type": "SWAP",
				"tokenTransfers": [{
					"fromUserAccount": "poolX",
					"toUserAccount": "` + testWallet + `",
					"mint": "TokenMint111",
					"tokenAmount": 100
				}],
				"accountData": [{"account": "` + testWallet + `", "nativeBalanceChange": -2000000000}]
			},
			{
				"signature": "sell-sig",
				"timestamp": 1700000200,
				"type": "SWAP",
				"tokenTransfers": [{
					"fromUserAccount": "` + testWallet + `",
					"toUserAccount": "poolX",
					"mint": "TokenMint111",
					"tokenAmount": 50
				}],
				"accountData": [{"account": "` + testWallet + `", "nativeBalanceChange": 1500000000}]
			}
		]`))
	}))
	defer srv.Close()

	h := NewHelius(HeliusConfig{APIKey: "k", BaseURL: srv.URL})
	trades, err := h.FetchTrades(context.Background(), TradeQuery{Wallet: testWallet, From: 0, To: 2000000000})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("made %d requests, want 1 (short page ends pagination)", calls)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}

	buy := trades[0]
	if buy.Side != "buy" {
		t.Errorf("first trade side = %q, want buy", buy.Side)
	}
	if buy.QuoteAmount != 2 {
		t.Errorf("buy quote = %v, want 2 SOL", buy.QuoteAmount)
	}
	if buy.Price != 0.02 {
		t.Errorf("buy price = %v, want 0.02", buy.Price)
	}

	sell := trades[1]
	if sell.Side != "sell" {
		t.Errorf("second trade side = %q, want sell", sell.Side)
	}
	if sell.Price != 0.03 {
		t.Errorf("sell price = %v, want 0.03", sell.Price)
	}
}

func TestHelius_TokenOnlyQuery(t *testing.T) {
	h := NewHelius(HeliusConfig{APIKey: "k", BaseURL: "http://unused"})
	trades, err := h.FetchTrades(context.Background(), TradeQuery{Token: testToken})
	if err != nil {
		t.Fatalf("token-only query should not error: %v", err)
	}
	if trades != nil {
		t.Errorf("got %d trades, want none", len(trades))
	}
}

func TestHelius_WindowCutoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{
				"signature": "in-window",
				"timestamp": 1700000500,
				"type": "SWAP",
				"tokenTransfers": [{"fromUserAccount": "poolX", "toUserAccount": "` + testWallet + `", "mint": "M1", "tokenAmount": 10}],
				"accountData": [{"account": "` + testWallet + `", "nativeBalanceChange": -100000000}]
			},
			{
				"signature": "too-old",
				"timestamp": 1600000000,
				"type": "SWAP",
				"tokenTransfers": [{"fromUserAccount": "poolX", "toUserAccount": "` + testWallet + `", "mint": "M1", "tokenAmount": 10}],
				"accountData": [{"account": "` + testWallet + `", "nativeBalanceChange": -100000000}]
			}
		]`))
	}))
	defer srv.Close()

	h := NewHelius(HeliusConfig{APIKey: "k", BaseURL: srv.URL})
	trades, err := h.FetchTrades(context.Background(), TradeQuery{Wallet: testWallet, From: 1700000000, To: 1800000000})
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1 (older than window dropped)", len(trades))
	}
	if trades[0].ProvenanceID != "in-window" {
		t.Errorf("provenance = %q, want in-window", trades[0].ProvenanceID)
	}
}
