package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"breakout_bot/internal/models"
)

const namespace = "breakout"

// Recorder метрики движка, процессоров, фида и оркестратора на Prometheus.
type Recorder struct {
	signals       *prometheus.CounterVec
	opened        *prometheus.CounterVec
	closed        *prometheus.CounterVec
	realizedPnL   *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	faults        *prometheus.CounterVec
	restarts      *prometheus.CounterVec
	accountStatus *prometheus.GaugeVec
	dailyPnL      *prometheus.GaugeVec
	dailyTrades   *prometheus.GaugeVec
	openPositions *prometheus.GaugeVec

	published   prometheus.Counter
	dropped     *prometheus.CounterVec
	fetchErrors prometheus.Counter
	feedStatus  *prometheus.GaugeVec

	globalLoss prometheus.Gauge
	globalOpen prometheus.Gauge

	notifyDropped *prometheus.CounterVec
}

var (
	healthStatuses = []models.HealthStatus{
		models.StatusStarting, models.StatusRunning, models.StatusDegraded, models.StatusFailed, models.StatusStopped,
	}
	feedStatuses = []models.FeedStatus{
		models.FeedStarting, models.FeedRunning, models.FeedDegraded, models.FeedStopped,
	}
)

func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total",
			Help: "Breakout signals detected",
		}, []string{"account", "regime"}),
		opened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "positions_opened_total",
			Help: "Positions opened",
		}, []string{"account"}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "positions_closed_total",
			Help: "Positions closed by exit reason",
		}, []string{"account", "reason"}),
		realizedPnL: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "realized_pnl_abs_total",
			Help: "Absolute realized P&L split by sign",
		}, []string{"account", "sign"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "processor", Name: "step_duration_seconds",
			Help:    "Duration of one snapshot processing step",
			Buckets: prometheus.DefBuckets,
		}, []string{"account"}),
		faults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "processor", Name: "faults_total",
			Help: "Recovered processing faults",
		}, []string{"account"}),
		restarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "processor", Name: "restarts_total",
			Help: "Processor restarts",
		}, []string{"account"}),
		accountStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "processor", Name: "status",
			Help: "1 for the current health status of the account",
		}, []string{"account", "status"}),
		dailyPnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "daily_realized_pnl",
			Help: "Realized P&L of the current trading day",
		}, []string{"account"}),
		dailyTrades: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "daily_trades",
			Help: "Trades opened during the current trading day",
		}, []string{"account"}),
		openPositions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_positions",
			Help: "Open positions per account",
		}, []string{"account"}),

		published: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "feed", Name: "snapshots_published_total",
			Help: "Snapshots fanned out to subscribers",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "feed", Name: "snapshots_dropped_total",
			Help: "Snapshots evicted from a full subscriber queue",
		}, []string{"subscriber"}),
		fetchErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "feed", Name: "fetch_errors_total",
			Help: "Quote fetches that failed after retries",
		}),
		feedStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "feed", Name: "status",
			Help: "1 for the current feed status",
		}, []string{"status"}),

		globalLoss: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "global", Name: "current_loss",
			Help: "Sum of realized and unrealized losses across accounts",
		}),
		globalOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "global", Name: "open_positions",
			Help: "Open positions across accounts",
		}),

		notifyDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "dropped_total",
			Help: "Notifications dropped because the dispatcher queue was full",
		}, []string{"sink"}),
	}
}

func (r *Recorder) SignalDetected(account string, regime models.Regime) {
	r.signals.WithLabelValues(account, string(regime)).Inc()
}

func (r *Recorder) PositionOpened(account string) {
	r.opened.WithLabelValues(account).Inc()
}

func (r *Recorder) PositionClosed(account string, reason models.ExitReason, pnl float64) {
	r.closed.WithLabelValues(account, string(reason)).Inc()
	if pnl >= 0 {
		r.realizedPnL.WithLabelValues(account, "profit").Add(pnl)
	} else {
		r.realizedPnL.WithLabelValues(account, "loss").Add(-pnl)
	}
}

func (r *Recorder) StepObserved(account string, d time.Duration) {
	r.stepDuration.WithLabelValues(account).Observe(d.Seconds())
}

func (r *Recorder) ProcessorFault(account string) {
	r.faults.WithLabelValues(account).Inc()
}

func (r *Recorder) ProcessorRestarted(account string) {
	r.restarts.WithLabelValues(account).Inc()
}

// AccountStatus one-hot по статусу плюс дневные счётчики.
func (r *Recorder) AccountStatus(st models.AccountStatus) {
	for _, s := range healthStatuses {
		v := 0.0
		if s == st.Health.Status {
			v = 1
		}
		r.accountStatus.WithLabelValues(st.AccountID, string(s)).Set(v)
	}
	r.dailyPnL.WithLabelValues(st.AccountID).Set(st.Daily.RealizedPnL)
	r.dailyTrades.WithLabelValues(st.AccountID).Set(float64(st.Daily.TradeCount))
	r.openPositions.WithLabelValues(st.AccountID).Set(float64(st.Exposure.OpenPositions))
}

func (r *Recorder) SnapshotPublished() { r.published.Inc() }

func (r *Recorder) SnapshotDropped(subscriber string) {
	r.dropped.WithLabelValues(subscriber).Inc()
}

func (r *Recorder) FetchFailed() { r.fetchErrors.Inc() }

func (r *Recorder) FeedStatusChanged(status models.FeedStatus) {
	for _, s := range feedStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		r.feedStatus.WithLabelValues(string(s)).Set(v)
	}
}

func (r *Recorder) GlobalExposure(loss float64, openPositions int) {
	r.globalLoss.Set(loss)
	r.globalOpen.Set(float64(openPositions))
}

func (r *Recorder) NotificationDropped(sink string) {
	r.notifyDropped.WithLabelValues(sink).Inc()
}
