// Package metrics exposes history capture counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chronolog/internal/domain/history"
)

var _ history.Recorder = (*Recorder)(nil)

// Recorder counts appended records and refused mutations.
type Recorder struct {
	records    *prometheus.CounterVec
	rejections *prometheus.CounterVec
}

// NewRecorder registers the history counters with reg.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronolog_history_records_total",
			Help: "History records appended, by table and operation",
		}, []string{"table", "operation"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronolog_history_rejections_total",
			Help: "Mutations and history modifications refused, by table and error code",
		}, []string{"table", "code"}),
	}
}

// Appended implements history.Recorder.
func (r *Recorder) Appended(table string, op history.Operation) {
	r.records.WithLabelValues(table, string(op)).Inc()
}

// Rejected implements history.Recorder.
func (r *Recorder) Rejected(table, code string) {
	r.rejections.WithLabelValues(table, code).Inc()
}
