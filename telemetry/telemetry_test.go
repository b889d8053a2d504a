package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncSchemaLoad("schema.json")
	collector.AddPrunedParameters(3)
	collector.IncFinalizeConflict("Base_Infectivity_Exponential")
}

func TestPrometheusCollectorRegistersAndReusesCounters(t *testing.T) {
	resetForTest()
	t.Cleanup(resetForTest)

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncSchemaLoad("schema.json")

	family := gatherFamily(t, reg, "emodcfg_schema_loads_total")
	requireCounterValue(t, family, 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.schemaLoads, again.schemaLoads)

	again.IncSchemaLoad("schema.json")
	family = gatherFamily(t, reg, "emodcfg_schema_loads_total")
	requireCounterValue(t, family, 2)
}

func TestPrometheusCollectorReusesMetricsFromAnotherCollector(t *testing.T) {
	resetForTest()
	t.Cleanup(resetForTest)

	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	resetForTest()
	second, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, first.finalizeConflicts, second.finalizeConflicts)

	second.IncFinalizeConflict("A")
	second.AddPrunedParameters(0)
	second.AddPrunedParameters(4)

	requireCounterValue(t, gatherFamily(t, reg, "emodcfg_finalize_conflicts_total"), 1)
	requireCounterValue(t, gatherFamily(t, reg, "emodcfg_pruned_parameters_total"), 4)
}

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return nil
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
