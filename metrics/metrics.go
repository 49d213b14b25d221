package metrics

import (
	"time"

	"go-badge-printer/badge"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Print job outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

type Metrics struct {
	PrintJobs         *prometheus.CounterVec
	EmbedFailures     *prometheus.CounterVec
	CompletionRecords *prometheus.CounterVec
	PrintDuration     prometheus.Histogram
}

// New registers the instruments on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PrintJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "badge_print_jobs_total",
			Help: "Print document jobs by outcome",
		}, []string{"outcome"}),
		EmbedFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "badge_image_embed_failures_total",
			Help: "Per-person images left blank in a print document",
		}, []string{"region"}),
		CompletionRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "badge_completion_records_total",
			Help: "Printed-flag updates sent to the data layer by outcome",
		}, []string{"outcome"}),
		PrintDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "badge_print_duration_seconds",
			Help:    "Duration of print document generation",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) IncrementPrintJob(outcome string) {
	m.PrintJobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementCompletionRecord(outcome string) {
	m.CompletionRecords.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePrint(start time.Time) {
	m.PrintDuration.Observe(time.Since(start).Seconds())
}

// ImageEmbedFailed lets the document generator report blank regions.
func (m *Metrics) ImageEmbedFailed(region badge.Field) {
	m.EmbedFailures.WithLabelValues(string(region)).Inc()
}
