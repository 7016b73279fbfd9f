package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_HandlerServesPrometheusFormat(t *testing.T) {
	m := New()
	m.ObserveIteration()
	m.ObserveToolCall("echo", nil)
	m.ObserveBackendCall("native", nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "toolgate_orchestrator_iterations_total")
	assert.Contains(t, rec.Body.String(), "toolgate_tool_calls_total")
}

func TestMetrics_NewDoesNotPanicOnMultipleInstances(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
