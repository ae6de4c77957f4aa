package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chronolog/internal/core/apperror"
	"chronolog/internal/domain/history"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.Appended("person", history.OpInsert)
	r.Appended("person", history.OpInsert)
	r.Appended("person", history.OpDelete)
	r.Rejected("person", apperror.CodeMissingActor)

	assert.Equal(t, 2.0, counterValue(t, reg, "chronolog_history_records_total",
		map[string]string{"table": "person", "operation": "INSERT"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chronolog_history_records_total",
		map[string]string{"table": "person", "operation": "DELETE"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "chronolog_history_rejections_total",
		map[string]string{"table": "person", "code": "MISSING_ACTOR"}))
}

func TestRecorder_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRecorder(reg)
	assert.Panics(t, func() { NewRecorder(reg) })
}
