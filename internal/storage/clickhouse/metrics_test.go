package clickhouse

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"solana-pnl-engine/internal/observability"
)

func TestConnTrack(t *testing.T) {
	c := (&Conn{}).WithMetrics(observability.NewMetrics("conntrack_test"))

	c.track("get_candles")(nil)
	c.track("insert_candles")(errors.New("boom"))

	if got := testutil.CollectAndCount(c.metrics.DBQueryDuration); got == 0 {
		t.Error("expected duration samples for tracked operations")
	}
	if got := testutil.ToFloat64(c.metrics.DBQueryErrors.WithLabelValues("clickhouse", "insert_candles")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

func TestConnTrack_NilMetrics(t *testing.T) {
	var c Conn
	c.track("get_candles")(errors.New("ignored"))
}
