package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeetme/yeet/internal/hosts"
	"github.com/yeetme/yeet/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticStats registry.Stats

func (s staticStats) Stats() registry.Stats { return registry.Stats(s) }

func gather(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	result := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		result[f.GetName()] = f
	}
	return result
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestRegistryCollector(t *testing.T) {
	m := New(staticStats{
		Hosts:            3,
		PendingAttempts:  2,
		PreRegistrations: 1,
		AdminKeys:        1,
		BuildKeys:        4,
		HostsByState:     map[hosts.ProvisionKind]int{hosts.Provisioned: 2, hosts.Detached: 1},
	})

	families := gather(t, m)

	byState := map[string]float64{}
	for _, metric := range families["yeet_hosts"].GetMetric() {
		byState[labelValue(metric, "state")] = metric.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"NotSet": 0, "Detached": 1, "Provisioned": 2}, byState)
	assert.Equal(t, 2.0, families["yeet_verification_attempts_pending"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, families["yeet_pre_registrations"].GetMetric()[0].GetGauge().GetValue())
	assert.Len(t, families["yeet_credentials"].GetMetric(), 2)
}

func TestMiddlewareRecordsRoute(t *testing.T) {
	m := New(nil)
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/host/:name", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/host/db1", nil))
	require.Equal(t, http.StatusTeapot, w.Code)

	families := gather(t, m)
	requests := families["yeet_http_requests_total"].GetMetric()
	require.Len(t, requests, 1)
	assert.Equal(t, "/host/:name", labelValue(requests[0], "route"))
	assert.Equal(t, "418", labelValue(requests[0], "code"))
	assert.Equal(t, 1.0, requests[0].GetCounter().GetValue())
}

func TestRecordActionAndSnapshot(t *testing.T) {
	m := New(nil)
	m.RecordAction(hosts.Nothing())
	m.RecordAction(hosts.Nothing())
	m.RecordSnapshotSave(nil)
	m.RecordSnapshotSave(errors.New("disk full"))

	families := gather(t, m)
	actions := families["yeet_agent_actions_total"].GetMetric()
	require.Len(t, actions, 1)
	assert.Equal(t, 2.0, actions[0].GetCounter().GetValue())
	assert.Len(t, families["yeet_snapshot_saves_total"].GetMetric(), 2)
}

func TestHandlerServesExposition(t *testing.T) {
	m := New(staticStats{HostsByState: map[hosts.ProvisionKind]int{}})
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "yeet_verification_attempts_pending 0")
}
