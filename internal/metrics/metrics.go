package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qbank"

// Metrics holds the Prometheus collectors for the gateway. A nil *Metrics
// records nothing.
type Metrics struct {
	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	AttemptsStarted  *prometheus.CounterVec
	AttemptsFinished *prometheus.CounterVec
	AnswersCaptured  *prometheus.CounterVec
	ScorePercentage  prometheus.Histogram
	QuestionsWritten *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. Pass a fresh prometheus.NewRegistry()
// in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		AttemptsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_started_total",
			Help:      "Attempts started, by purpose",
		}, []string{"purpose"}),
		AttemptsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_finished_total",
			Help:      "Attempts closed, by purpose and terminal status",
		}, []string{"purpose", "status"}),
		AnswersCaptured: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_captured_total",
			Help:      "Answers submitted, by question type and outcome",
		}, []string{"type", "outcome"}),
		ScorePercentage: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score_percentage",
			Help:      "Percentage scored by finished assessment attempts",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		QuestionsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_written_total",
			Help:      "Question bank writes, by operation",
		}, []string{"op"}),
		gatherer: reg,
	}
}

func (m *Metrics) AttemptStarted(purpose string) {
	if m == nil {
		return
	}
	m.AttemptsStarted.WithLabelValues(purpose).Inc()
}

func (m *Metrics) AttemptFinished(purpose, status string) {
	if m == nil {
		return
	}
	m.AttemptsFinished.WithLabelValues(purpose, status).Inc()
}

func (m *Metrics) AnswerCaptured(typ string, ok bool) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if !ok {
		outcome = "rejected"
	}
	m.AnswersCaptured.WithLabelValues(typ, outcome).Inc()
}

func (m *Metrics) Scored(percentage float64) {
	if m == nil {
		return
	}
	m.ScorePercentage.Observe(percentage)
}

func (m *Metrics) QuestionWritten(op string) {
	if m == nil {
		return
	}
	m.QuestionsWritten.WithLabelValues(op).Inc()
}

// Middleware records count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
