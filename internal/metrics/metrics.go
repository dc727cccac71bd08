package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agrivest/internal/ledger"
)

const namespace = "agrivest"

// Metrics owns a private registry so tests and multiple binaries in one
// process never collide on the default one.
type Metrics struct {
	Registry *prometheus.Registry

	accrualRuns     prometheus.Counter
	accrualRecords  *prometheus.CounterVec
	accrualDuration prometheus.Histogram
	accrualPaid     *prometheus.CounterVec
	accrualMissed   prometheus.Counter

	commissionLevels *prometheus.CounterVec
	commissionPaise  *prometheus.CounterVec

	cascadeTasks *prometheus.CounterVec

	investmentsOpened *prometheus.CounterVec
	principalPaise    prometheus.Counter

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ ledger.Recorder = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		accrualRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "runs_total",
			Help:      "Completed daily accrual runs.",
		}),
		accrualRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "records_total",
			Help:      "Investments visited by accrual runs, by outcome.",
		}, []string{"outcome"}),
		accrualDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a daily accrual run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		accrualPaid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "paise_total",
			Help:      "Paise moved by accrual runs: accrued returns and maturity payouts.",
		}, []string{"kind"}),
		accrualMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "missed_days_total",
			Help:      "Trigger days skipped over without catch-up, summed across investments.",
		}),
		commissionLevels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "levels_total",
			Help:      "Referral cascade levels evaluated, by level and outcome.",
		}, []string{"level", "outcome"}),
		commissionPaise: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "paid_paise_total",
			Help:      "Commission paise credited, by level.",
		}, []string{"level"}),
		cascadeTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cascade",
			Name:      "tasks_total",
			Help:      "Cascade task attempts, by resulting status.",
		}, []string{"status"}),
		investmentsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "investments",
			Name:      "opened_total",
			Help:      "Investments opened, by package.",
		}, []string{"package"}),
		principalPaise: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "investments",
			Name:      "principal_paise_total",
			Help:      "Principal locked by newly opened investments.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
	}

	m.Registry.MustRegister(
		m.accrualRuns,
		m.accrualRecords,
		m.accrualDuration,
		m.accrualPaid,
		m.accrualMissed,
		m.commissionLevels,
		m.commissionPaise,
		m.cascadeTasks,
		m.investmentsOpened,
		m.principalPaise,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Server returns a bare listener for processes without an API router. It
// serves /metrics and /healthz.
func (m *Metrics) Server(addr string) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (m *Metrics) AccrualRun(s ledger.AccrualSummary) {
	m.accrualRuns.Inc()
	m.accrualRecords.WithLabelValues("accrued").Add(float64(s.Accrued))
	m.accrualRecords.WithLabelValues("matured").Add(float64(s.Matured))
	m.accrualRecords.WithLabelValues("skipped").Add(float64(s.Skipped))
	m.accrualRecords.WithLabelValues("failed").Add(float64(s.Failed))
	m.accrualPaid.WithLabelValues("accrued").Add(float64(s.AccruedPaise))
	m.accrualPaid.WithLabelValues("payout").Add(float64(s.PaidOutPaise))
	m.accrualMissed.Add(float64(s.MissedDays))
	d := time.Duration(s.DurationMilli) * time.Millisecond
	if d <= 0 {
		d = time.Millisecond
	}
	m.accrualDuration.Observe(d.Seconds())
}

func (m *Metrics) CommissionLevel(lr ledger.LevelResult) {
	level := strconv.Itoa(lr.Level)
	m.commissionLevels.WithLabelValues(level, string(lr.Outcome)).Inc()
	if lr.Outcome == ledger.LevelPaid && lr.AmountPaise > 0 {
		m.commissionPaise.WithLabelValues(level).Add(float64(lr.AmountPaise))
	}
}

func (m *Metrics) CascadeTask(status ledger.CascadeStatus) {
	m.cascadeTasks.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) InvestmentOpened(inv ledger.Investment) {
	pkg := inv.PackageID
	if pkg == "" {
		pkg = "custom"
	}
	m.investmentsOpened.WithLabelValues(pkg).Inc()
	m.principalPaise.Add(float64(inv.PrincipalPaise))
}

// InstrumentHandler records request counts and latency. The route label is
// the chi pattern so ids never explode label cardinality.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
