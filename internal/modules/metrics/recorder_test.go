package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout_bot/internal/feed"
	"breakout_bot/internal/models"
	"breakout_bot/internal/orchestrator"
	"breakout_bot/internal/runner"
)

var (
	_ runner.Metrics       = (*Recorder)(nil)
	_ feed.Metrics         = (*Recorder)(nil)
	_ orchestrator.Metrics = (*Recorder)(nil)
)

func TestRecorder_Trading(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.SignalDetected("a", models.RegimeHigh)
	r.SignalDetected("a", models.RegimeHigh)
	r.PositionOpened("a")
	r.PositionClosed("a", models.ExitStopLoss, -84)
	r.PositionClosed("a", models.ExitProfitTarget, 420)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.signals.WithLabelValues("a", "high_volatility")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.opened.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.closed.WithLabelValues("a", "stop_loss")))
	assert.Equal(t, 84.0, testutil.ToFloat64(r.realizedPnL.WithLabelValues("a", "loss")))
	assert.Equal(t, 420.0, testutil.ToFloat64(r.realizedPnL.WithLabelValues("a", "profit")))
}

func TestRecorder_AccountStatusOneHot(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.AccountStatus(models.AccountStatus{
		AccountID: "a",
		Health:    models.HealthRecord{Status: models.StatusRunning},
		Daily:     models.DailyState{TradeCount: 2, RealizedPnL: -150},
		Exposure:  models.Exposure{OpenPositions: 1},
	})
	r.AccountStatus(models.AccountStatus{
		AccountID: "a",
		Health:    models.HealthRecord{Status: models.StatusDegraded},
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(r.accountStatus.WithLabelValues("a", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.accountStatus.WithLabelValues("a", "degraded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.openPositions.WithLabelValues("a")))
}

func TestRecorder_FeedAndGlobal(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.SnapshotPublished()
	r.SnapshotDropped("slow")
	r.SnapshotDropped("slow")
	r.FetchFailed()
	r.FeedStatusChanged(models.FeedDegraded)
	r.GlobalExposure(2100, 2)
	r.StepObserved("a", 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.published))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.dropped.WithLabelValues("slow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.feedStatus.WithLabelValues("degraded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.feedStatus.WithLabelValues("running")))
	assert.Equal(t, 2100.0, testutil.ToFloat64(r.globalLoss))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.globalOpen))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	reg := NewRegistry()
	r := New(reg)
	r.PositionOpened("acc-1")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `breakout_positions_opened_total{account="acc-1"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
