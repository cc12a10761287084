package ldap

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statsConfig(urls ...string) *Config {
	cfg := testConfig(urls...)
	cfg.EnableStatistics = true
	return cfg
}

func TestStatistics_CountsByCapability(t *testing.T) {
	n := newFakeNetwork()
	clock := newManualClock()
	f := newTestFactory(t, n, clock)

	h, err := f.NewConnection(t.Context(), statsConfig("ldap://dc1.example.com"))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = h.Search(t.Context(), searchReq(""))
	require.NoError(t, err)
	_, err = h.ReadAttributes(t.Context(), testBindDN, []string{"cn"})
	require.NoError(t, err)
	_, err = h.WhoAmI(t.Context())
	require.NoError(t, err)
	require.NoError(t, h.Modify(t.Context(), &ModifyRequest{
		DN:                testBindDN,
		ReplaceAttributes: map[string][]string{"description": {"x"}},
	}))

	// untagged calls are not operations
	h.IsConnected()
	h.Config()

	s := h.Statistics()
	assert.EqualValues(t, 1, s.Searches)
	assert.EqualValues(t, 2, s.Reads)
	assert.EqualValues(t, 1, s.Writes)
	assert.EqualValues(t, 4, s.Operations)
	assert.EqualValues(t, 1, s.Binds)
	assert.Zero(t, s.Unavailable)
	assert.True(t, clock.Now().Equal(s.LastSearch))
	assert.True(t, clock.Now().Add(-time.Minute).Equal(s.LastBind))
	assert.True(t, s.LastUnavailable.IsZero())

	g := f.GlobalStatistics()
	assert.EqualValues(t, 4, g["operations"])
	assert.EqualValues(t, 1, g["connections"])
	assert.Equal(t, 1, g["active_connections"])
}

func TestStatistics_FailedOperationsStillCount(t *testing.T) {
	n := newFakeNetwork()
	f := newTestFactory(t, n, newManualClock())

	h, err := f.NewConnection(t.Context(), statsConfig("ldap://dc1.example.com"))
	require.NoError(t, err)

	_, err = h.ReadAttributes(t.Context(), "CN=missing,DC=example,DC=com", nil)
	require.Error(t, err)

	s := h.Statistics()
	assert.EqualValues(t, 1, s.Reads)
	assert.Zero(t, s.Unavailable, "a missing entry is not an availability failure")
}

func TestStatistics_Unavailable(t *testing.T) {
	n := newFakeNetwork()
	clock := newManualClock()
	f := newTestFactory(t, n, clock)
	urls := []string{"ldap://dc1.example.com", "ldap://dc2.example.com"}

	h, err := f.NewConnection(t.Context(), statsConfig(urls...))
	require.NoError(t, err)
	for _, u := range urls {
		n.setDown(u, true)
	}

	_, err = h.Search(t.Context(), searchReq(""))
	require.ErrorIs(t, err, ErrUnavailable)

	s := h.Statistics()
	assert.EqualValues(t, 1, s.Searches)
	assert.EqualValues(t, 1, s.Unavailable)
	assert.True(t, clock.Now().Equal(s.LastUnavailable))
	assert.EqualValues(t, 1, f.GlobalStatistics()["unavailable"])
}

func TestStatistics_PerHandleAndGlobal(t *testing.T) {
	n := newFakeNetwork()
	f := newTestFactory(t, n, newManualClock())

	a, err := f.NewConnection(t.Context(), statsConfig("ldap://dc1.example.com"))
	require.NoError(t, err)
	b, err := f.NewConnection(t.Context(), statsConfig("ldap://dc2.example.com"))
	require.NoError(t, err)

	for range 3 {
		_, err := a.Search(t.Context(), searchReq(""))
		require.NoError(t, err)
	}
	_, err = b.Search(t.Context(), searchReq(""))
	require.NoError(t, err)

	assert.EqualValues(t, 3, a.Statistics().Searches)
	assert.EqualValues(t, 1, b.Statistics().Searches)
	assert.EqualValues(t, 4, f.GlobalStatistics()["searches"])
	assert.EqualValues(t, 2, f.GlobalStatistics()["binds"])
}

func TestStatistics_Disabled(t *testing.T) {
	n := newFakeNetwork()
	f := newTestFactory(t, n, newManualClock())

	h, err := f.NewConnection(t.Context(), testConfig("ldap://dc1.example.com"))
	require.NoError(t, err)
	_, err = h.Search(t.Context(), searchReq(""))
	require.NoError(t, err)

	assert.Zero(t, h.Statistics().Operations)
	assert.NotContains(t, Layers(h), string(layerStatistics))
}

func TestStatistics_Map(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	bean := newStatsBean(created)
	bean.recordOperation(OpSearch, created.Add(time.Second))

	m := bean.Snapshot().Map()
	assert.Equal(t, "2025-01-02T03:04:05Z", m["created_at"])
	assert.Equal(t, "2025-01-02T03:04:06Z", m["last_search"])
	assert.Equal(t, "", m["last_write"])
	assert.EqualValues(t, 1, m["searches"])
	assert.EqualValues(t, 0, m["writes"])
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestFactory_Collector(t *testing.T) {
	n := newFakeNetwork()
	f := newTestFactory(t, n, newManualClock())

	h, err := f.NewConnection(t.Context(), statsConfig("ldap://dc1.example.com"))
	require.NoError(t, err)
	_, err = h.Search(t.Context(), searchReq(""))
	require.NoError(t, err)
	require.NoError(t, h.Delete(t.Context(), testBindDN))

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(f.Collector()))

	families, err := reg.Gather()
	require.NoError(t, err)

	ops := findFamily(families, "ldap_client_operations_total")
	require.NotNil(t, ops)
	byCapability := map[string]float64{}
	for _, m := range ops.GetMetric() {
		byCapability[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"read": 0, "write": 1, "search": 1}, byCapability)

	active := findFamily(families, "ldap_client_active_connections")
	require.NotNil(t, active)
	assert.Equal(t, 1.0, active.GetMetric()[0].GetGauge().GetValue())

	created := findFamily(families, "ldap_client_connections_created_total")
	require.NotNil(t, created)
	assert.Equal(t, 1.0, created.GetMetric()[0].GetCounter().GetValue())

	require.NoError(t, h.Close())
	families, err = reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 0.0, findFamily(families, "ldap_client_active_connections").GetMetric()[0].GetGauge().GetValue())
}
