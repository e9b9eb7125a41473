// Package ohlcv builds contiguous candle series from ordered trade lists.
package ohlcv

import (
	"solana-pnl-engine/internal/domain"
)

// Build aggregates trades into a contiguous candle series over [from, to].
// Trades must already be ordered by (timestamp, provenance_id) ascending;
// the builder trusts that ordering for open/close selection.
//
// Buckets are epoch-aligned. A bucket with no trades is flat-filled from the
// previous close with zero volume and Filled=true, so consumers always see a
// gap-free series. Buckets before the first trade have no close to carry
// forward and are omitted.
func Build(token string, interval domain.Interval, trades []*domain.CanonicalTrade, from, to int64) ([]*domain.Candle, error) {
	if interval.Seconds <= 0 {
		return nil, domain.ErrInvalidInterval
	}
	if to < from {
		return nil, nil
	}

	startBucket := interval.BucketStart(from)
	endBucket := interval.BucketStart(to)

	// Group trades into buckets, skipping anything outside the window.
	byBucket := make(map[int64][]*domain.CanonicalTrade)
	for _, t := range trades {
		if t.Timestamp < from || t.Timestamp > to {
			continue
		}
		b := interval.BucketStart(t.Timestamp)
		byBucket[b] = append(byBucket[b], t)
	}

	var candles []*domain.Candle
	var prevClose float64
	started := false

	for b := startBucket; b <= endBucket; b += interval.Seconds {
		group := byBucket[b]
		if len(group) == 0 {
			if !started {
				continue
			}
			candles = append(candles, &domain.Candle{
				Token:       token,
				Interval:    interval.Name,
				BucketStart: b,
				Open:        prevClose,
				High:        prevClose,
				Low:         prevClose,
				Close:       prevClose,
				Volume:      0,
				TradeCount:  0,
				Filled:      true,
			})
			continue
		}

		c := &domain.Candle{
			Token:       token,
			Interval:    interval.Name,
			BucketStart: b,
			Open:        group[0].Price,
			High:        group[0].Price,
			Low:         group[0].Price,
			Close:       group[len(group)-1].Price,
			TradeCount:  len(group),
		}
		for _, t := range group {
			if t.Price > c.High {
				c.High = t.Price
			}
			if t.Price < c.Low {
				c.Low = t.Price
			}
			c.Volume += t.BaseAmount
		}

		candles = append(candles, c)
		prevClose = c.Close
		started = true
	}

	return candles, nil
}
