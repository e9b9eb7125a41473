package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidInterval is returned when an interval outside the supported set
// is requested.
var ErrInvalidInterval = errors.New("invalid interval")

// Interval is a candle aggregation interval.
type Interval struct {
	Name    string // "1m", "5m", ...
	Seconds int64
}

// Supported intervals.
var (
	Interval1Min  = Interval{Name: "1m", Seconds: 60}
	Interval5Min  = Interval{Name: "5m", Seconds: 300}
	Interval15Min = Interval{Name: "15m", Seconds: 900}
	Interval1Hour = Interval{Name: "1h", Seconds: 3600}
	Interval4Hour = Interval{Name: "4h", Seconds: 14400}
	Interval1Day  = Interval{Name: "1d", Seconds: 86400}
)

// SupportedIntervals lists the fixed enumerated interval set, smallest first.
var SupportedIntervals = []Interval{
	Interval1Min, Interval5Min, Interval15Min,
	Interval1Hour, Interval4Hour, Interval1Day,
}

// ParseInterval resolves an interval name. Returns ErrInvalidInterval for
// anything outside the supported set.
func ParseInterval(name string) (Interval, error) {
	for _, iv := range SupportedIntervals {
		if iv.Name == name {
			return iv, nil
		}
	}
	return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, name)
}

// BucketStart aligns a timestamp (seconds) to this interval's epoch boundary.
func (iv Interval) BucketStart(ts int64) int64 {
	return ts - (ts % iv.Seconds)
}

// Candle is an OHLCV bar for one interval bucket.
// Invariants: Low <= Open,Close <= High; BucketStart aligned to the interval
// boundary; Volume >= 0.
type Candle struct {
	Token       string
	Interval    string  // interval name
	BucketStart int64   // Unix timestamp in seconds, interval-aligned
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64 // sum of base amounts
	TradeCount  int     // number of trades aggregated
	Filled      bool    // true for flat-filled empty buckets
}
