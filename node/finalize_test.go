package node

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kfrey-idm/emod-api-sub000/errkind"
)

type recordingCollector struct {
	mu        sync.Mutex
	pruned    int
	conflicts []string
}

func (c *recordingCollector) IncSchemaLoad(string)     {}
func (c *recordingCollector) IncSchemaCacheHit(string) {}
func (c *recordingCollector) IncHotReload(string)      {}

func (c *recordingCollector) AddPrunedParameters(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruned += count
}

func (c *recordingCollector) IncFinalizeConflict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts = append(c.conflicts, key)
}

func TestFinalizeExponentialInfectivity(t *testing.T) {
	n := newDefaultNode(t, infectivitySchema)
	require.NoError(t, n.Set("Base_Infectivity_Exponential", 0.5))

	collector := &recordingCollector{}
	out, err := NewFinalizer(WithTelemetry(collector)).Finalize(n)
	require.NoError(t, err)

	require.Equal(t, 0.5, out["Base_Infectivity_Exponential"])
	require.Equal(t, "EXPONENTIAL_DISTRIBUTION", out["Base_Infectivity_Distribution"])
	require.Contains(t, out, "Base_Infectivity_Gaussian_Mean")
	require.NotContains(t, out, "Base_Infectivity_Constant")

	require.NotContains(t, out, "Vector_Sampling_Type")
	require.NotContains(t, out, "Enable_Birth")
	require.NotContains(t, out, "Birth_Rate_Dependence")
	require.Contains(t, out, "Enable_Vital_Dynamics")

	require.NotContains(t, out, "logLevel_Susceptibility")
	require.NotContains(t, out, "logLevel_Migration")
	require.Equal(t, "INFO", out["logLevel_default"])

	require.Equal(t, "", out["Config_Name"])
	require.Equal(t, 6, collector.pruned)
	require.Empty(t, collector.conflicts)
}

func TestFinalizeDefaultsKeepConstantDistribution(t *testing.T) {
	n := newDefaultNode(t, infectivitySchema)
	out, err := n.Finalize()
	require.NoError(t, err)
	require.Equal(t, 0.3, out["Base_Infectivity_Constant"])
	require.NotContains(t, out, "Base_Infectivity_Exponential")
	require.NotContains(t, out, "Base_Infectivity_Gaussian_Mean")
}

func TestFinalizeRejectsDisabledExplicitParameter(t *testing.T) {
	n := newDefaultNode(t, infectivitySchema)
	require.NoError(t, n.Set("Base_Infectivity_Constant", 0.5))
	require.NoError(t, n.Set("Base_Infectivity_Distribution", "GAUSSIAN_DISTRIBUTION"))

	collector := &recordingCollector{}
	_, err := NewFinalizer(WithTelemetry(collector)).Finalize(n)
	var derr *DisabledExplicitParameterError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, "Base_Infectivity_Constant", derr.Key)
	require.Equal(t, errkind.DependencyConflict, errkind.KindOf(err))
	require.Equal(t, []string{"Base_Infectivity_Constant"}, collector.conflicts)
}

func TestFinalizeTransitiveDisable(t *testing.T) {
	n := newDefaultNode(t, infectivitySchema)
	require.NoError(t, n.Set("Enable_Birth", 1))
	require.Equal(t, []string{"Enable_Vital_Dynamics"}, n.Implicits())
	require.NoError(t, n.Set("Enable_Vital_Dynamics", 0))

	_, err := n.Finalize()
	var derr *DisabledExplicitParameterError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, "Enable_Birth", derr.Key)
}

func TestFinalizeImplicitRemovalIsSilent(t *testing.T) {
	n := newDefaultNode(t, `{
		"Mode": {"type": "enum", "enum": ["A", "B"], "default": "A"},
		"Option_A": {"type": "float", "default": 1, "depends-on": {"Mode": "A"}},
		"Option_B": {"type": "float", "default": 2, "depends-on": {"Mode": "B"}}
	}`)
	require.NoError(t, n.Set("Option_B", 3.0))

	out, err := n.Finalize()
	require.NoError(t, err)
	require.Equal(t, map[string]any{"Mode": "B", "Option_B": 3.0}, out)
}

func TestFinalizeNestedNodes(t *testing.T) {
	child := newDefaultNode(t, `{
		"X": {"type": "float", "depends-on": {"Y": 1}},
		"Y": {"type": "bool", "default": 0},
		"Z": {"type": "float", "default": 4, "depends-on": {"Y": 1}}
	}`)
	root := New(decodeBlob(t, `{"Child": {"type": "idmType:Child"}, "Items": {"type": "Vector idmType:Child"}}`))
	root.Define("Child", child)

	item := New(nil)
	item.Define("class", "Item")
	root.Define("Items", []any{item})

	out, err := root.Finalize()
	require.NoError(t, err)
	require.Equal(t, map[string]any{"Y": 0.0}, out["Child"])
	require.Equal(t, []any{map[string]any{"class": "Item"}}, out["Items"])
	require.True(t, child.Finalized())
	require.True(t, root.Finalized())
}

func TestFinalizeNestedConflictCarriesPath(t *testing.T) {
	child := newDefaultNode(t, `{
		"X": {"type": "float", "depends-on": {"Y": 1}},
		"Y": {"type": "bool", "default": 0}
	}`)
	require.NoError(t, child.Set("X", 2.0))
	require.NoError(t, child.Set("Y", 0))

	root := New(decodeBlob(t, `{"Child": {"type": "idmType:Child"}}`))
	root.Define("Child", child)

	_, err := root.Finalize()
	var derr *DisabledExplicitParameterError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, "X", derr.Key)
	require.Equal(t, "Child", derr.Path)
	require.Contains(t, err.Error(), "Child.X")
}

func TestFinalizeConflictLeavesTreeUsable(t *testing.T) {
	sibling := newDefaultNode(t, `{"Rate": {"type": "float", "default": 1}}`)
	child := newDefaultNode(t, `{
		"X": {"type": "float", "depends-on": {"Y": 1}},
		"Y": {"type": "bool", "default": 0}
	}`)
	require.NoError(t, child.Set("X", 2.0))
	require.NoError(t, child.Set("Y", 0))

	root := New(decodeBlob(t, `{
		"A_Sibling": {"type": "idmType:Sibling"},
		"Child": {"type": "idmType:Child"}
	}`))
	root.Define("A_Sibling", sibling)
	root.Define("Child", child)

	collector := &recordingCollector{}
	finalizer := NewFinalizer(WithTelemetry(collector))
	_, err := finalizer.Finalize(root)
	var derr *DisabledExplicitParameterError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, []string{"X"}, collector.conflicts)
	require.Zero(t, collector.pruned)

	require.False(t, root.Finalized())
	require.False(t, child.Finalized())
	require.False(t, sibling.Finalized())
	value, err := child.Get("X")
	require.NoError(t, err)
	require.Equal(t, 2.0, value)

	require.NoError(t, child.Set("Y", 1))
	out, err := finalizer.Finalize(root)
	require.NoError(t, err)
	require.Equal(t, 2.0, out["Child"].(map[string]any)["X"])
	require.Equal(t, map[string]any{"Rate": 1.0}, out["A_Sibling"])
	require.True(t, child.Finalized())
}

func TestFinalizeRedundantExplicitLogLevel(t *testing.T) {
	n := newDefaultNode(t, infectivitySchema)
	require.NoError(t, n.Set("logLevel_Migration", "WARNING"))
	require.NoError(t, n.Set("logLevel_default", "WARNING"))
	require.Contains(t, n.Explicits(), "logLevel_Migration")

	// A per-component level equal to the default carries no information and
	// is dropped even when it was set explicitly.
	out, err := n.Finalize()
	require.NoError(t, err)
	require.NotContains(t, out, "logLevel_Migration")
	require.Equal(t, "INFO", out["logLevel_Susceptibility"])
	require.Equal(t, "WARNING", out["logLevel_default"])
}

func TestFinalizeInterventionConfigs(t *testing.T) {
	blob := `{
		"Actual_IndividualIntervention_Config": {"type": "idmAbstractType:IndividualIntervention"},
		"Actual_NodeIntervention_Config": {"type": "idmAbstractType:NodeIntervention"}
	}`

	t.Run("individual populated", func(t *testing.T) {
		n := New(decodeBlob(t, blob))
		intervention := New(nil)
		intervention.Define("class", "OutbreakIndividual")
		n.Define("Actual_IndividualIntervention_Config", intervention)
		n.Define("Actual_NodeIntervention_Config", New(nil))

		out, err := n.Finalize()
		require.NoError(t, err)
		require.Equal(t, map[string]any{
			"Actual_IndividualIntervention_Config": map[string]any{"class": "OutbreakIndividual"},
		}, out)
	})

	t.Run("node populated", func(t *testing.T) {
		n := New(decodeBlob(t, blob))
		n.Define("Actual_IndividualIntervention_Config", map[string]any{})
		n.Define("Actual_NodeIntervention_Config", map[string]any{"class": "Outbreak"})

		out, err := n.Finalize()
		require.NoError(t, err)
		require.NotContains(t, out, "Actual_IndividualIntervention_Config")
		require.Contains(t, out, "Actual_NodeIntervention_Config")
	})

	t.Run("both populated warns", func(t *testing.T) {
		var buf bytes.Buffer
		n := New(decodeBlob(t, blob))
		n.Define("Actual_IndividualIntervention_Config", map[string]any{"class": "A"})
		n.Define("Actual_NodeIntervention_Config", map[string]any{"class": "B"})

		out, err := NewFinalizer(WithLogger(zerolog.New(&buf))).Finalize(n)
		require.NoError(t, err)
		require.Len(t, out, 2)
		require.Contains(t, buf.String(), "both Actual_IndividualIntervention_Config")
	})
}

func TestFinalizeToleratesKeysMissingFromSchema(t *testing.T) {
	var buf bytes.Buffer
	n := newDefaultNode(t, `{"A": {"type": "float", "default": 1}}`)
	n.Define("Legacy_Parameter", "kept")

	out, err := NewFinalizer(WithLogger(zerolog.New(&buf)), WithSchemaWarnings(true)).Finalize(n)
	require.NoError(t, err)
	require.Equal(t, "kept", out["Legacy_Parameter"])
	require.Contains(t, buf.String(), "Legacy_Parameter")
	require.Contains(t, buf.String(), `"level":"warn"`)
}

func TestFinalizeWithoutSchemaIsMalformed(t *testing.T) {
	_, err := New(nil).Finalize()
	require.ErrorIs(t, err, ErrMalformedNode)
	require.Equal(t, errkind.Internal, errkind.KindOf(err))
}

func TestFinalizeIsTerminal(t *testing.T) {
	n := newDefaultNode(t, infectivitySchema)
	_, err := n.Finalize()
	require.NoError(t, err)

	require.Empty(t, n.Explicits())
	require.Empty(t, n.Implicits())
	require.Nil(t, n.Schema())

	_, err = n.Finalize()
	require.ErrorIs(t, err, ErrMalformedNode)
	require.ErrorIs(t, n.Set("Run_Number", 2), ErrFinalized)
	_, err = n.Clone()
	require.ErrorIs(t, err, ErrFinalized)
}
