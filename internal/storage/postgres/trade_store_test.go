package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-pnl-engine/internal/domain"
	"solana-pnl-engine/internal/storage"
)

func makeTrade(source, prov string, ts int64) *domain.CanonicalTrade {
	return &domain.CanonicalTrade{
		Token:        "TestMint1",
		Wallet:       "TestWalletA",
		Side:         domain.TradeSideBuy,
		BaseAmount:   10,
		QuoteAmount:  20,
		Price:        2,
		Timestamp:    ts,
		Source:       source,
		ProvenanceID: prov,
	}
}

func TestTradeStore_AppendAndGetByToken(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	n, err := store.Append(ctx, []*domain.CanonicalTrade{
		makeTrade("birdeye", "sig2", 200),
		makeTrade("birdeye", "sig1", 100),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	trades, err := store.GetByToken(ctx, "TestMint1", 0, 1000)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, "sig1", trades[0].ProvenanceID)
	assert.Equal(t, "sig2", trades[1].ProvenanceID)
	assert.Equal(t, 2.0, trades[0].Price)
}

func TestTradeStore_AppendSkipsDuplicates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	n, err := store.Append(ctx, []*domain.CanonicalTrade{makeTrade("birdeye", "sig1", 100)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Append(ctx, []*domain.CanonicalTrade{
		makeTrade("birdeye", "sig1", 100),
		makeTrade("solscan", "sig1", 100),
		makeTrade("birdeye", "sig2", 200),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "existing (source, provenance) pair skipped")

	trades, err := store.GetByToken(ctx, "TestMint1", 0, 1000)
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestTradeStore_GetByWalletToken(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	other := makeTrade("birdeye", "sig2", 150)
	other.Wallet = "TestWalletB"

	otherToken := makeTrade("birdeye", "sig3", 160)
	otherToken.Token = "TestMint2"

	_, err := store.Append(ctx, []*domain.CanonicalTrade{
		makeTrade("birdeye", "sig1", 100),
		other,
		otherToken,
	})
	require.NoError(t, err)

	trades, err := store.GetByWalletToken(ctx, "TestWalletA", "TestMint1", 0, 1000)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "sig1", trades[0].ProvenanceID)

	trades, err = store.GetByWallet(ctx, "TestWalletB", 0, 1000)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "sig2", trades[0].ProvenanceID)
}

func TestTradeStore_TimeRangeInclusive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	_, err := store.Append(ctx, []*domain.CanonicalTrade{
		makeTrade("birdeye", "sig1", 100),
		makeTrade("birdeye", "sig2", 200),
		makeTrade("birdeye", "sig3", 300),
	})
	require.NoError(t, err)

	trades, err := store.GetByToken(ctx, "TestMint1", 100, 200)
	require.NoError(t, err)
	assert.Len(t, trades, 2, "range boundaries are inclusive")
}

func TestTradeStore_LatestTimestamp(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	_, err := store.LatestTimestamp(ctx, "TestMint1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = store.Append(ctx, []*domain.CanonicalTrade{
		makeTrade("birdeye", "sig1", 100),
		makeTrade("birdeye", "sig2", 300),
		makeTrade("birdeye", "sig3", 200),
	})
	require.NoError(t, err)

	ts, err := store.LatestTimestamp(ctx, "TestMint1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), ts)
}

func TestTradeStore_AppendInvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(pool)

	_, err := store.Append(context.Background(), []*domain.CanonicalTrade{
		{Token: "TestMint1", Side: domain.TradeSideBuy, Timestamp: 100},
	})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))
}
