package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records bill, payment and AI call counters. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	billsAdded        *prometheus.CounterVec
	payments          *prometheus.CounterVec
	aiRequests        *prometheus.CounterVec
	aiRequestDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them with registerer
// (prometheus.DefaultRegisterer when nil)
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	billsAdded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoicer_bills_added_total",
			Help: "Bills added to a session.",
		},
		[]string{"source"}, // extraction | manual
	)

	payments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoicer_payments_total",
			Help: "Payment forms that reached a terminal state.",
		},
		[]string{"outcome"}, // succeeded | cancelled
	)

	aiRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoicer_ai_requests_total",
			Help: "Calls to the extraction and question answering services.",
		},
		[]string{"operation", "result"}, // extract | ask, ok | error
	)

	aiRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoicer_ai_request_duration_seconds",
			Help:    "Duration of calls to the AI services.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"operation"},
	)

	registerer.MustRegister(billsAdded, payments, aiRequests, aiRequestDuration)

	return &Metrics{
		billsAdded:        billsAdded,
		payments:          payments,
		aiRequests:        aiRequests,
		aiRequestDuration: aiRequestDuration,
	}
}

// BillAdded counts a new bill by where it came from
func (m *Metrics) BillAdded(source string) {
	if m == nil {
		return
	}
	m.billsAdded.WithLabelValues(source).Inc()
}

// PaymentFinished counts a terminal payment outcome
func (m *Metrics) PaymentFinished(outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome).Inc()
}

// ObserveAIRequest records one AI call and its duration
func (m *Metrics) ObserveAIRequest(operation string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.aiRequests.WithLabelValues(operation, result).Inc()
	m.aiRequestDuration.WithLabelValues(operation).Observe(took.Seconds())
}
