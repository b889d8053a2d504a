package node

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kfrey-idm/emod-api-sub000/schema"
	"github.com/kfrey-idm/emod-api-sub000/telemetry"
)

const (
	uninitializedString = "UNINITIALIZED STRING"
	logLevelPrefix      = "logLevel_"
	logLevelDefault     = "logLevel_default"
	individualConfig    = "Actual_IndividualIntervention_Config"
	nodeConfig          = "Actual_NodeIntervention_Config"
)

// Finalizer prunes dependency-disabled parameters and strips bookkeeping.
type Finalizer struct {
	logger         zerolog.Logger
	collector      telemetry.Collector
	schemaWarnings bool
}

// FinalizerOption customises a Finalizer.
type FinalizerOption func(*Finalizer)

// WithLogger sets the logger used for non-fatal diagnostics.
func WithLogger(logger zerolog.Logger) FinalizerOption {
	return func(f *Finalizer) {
		f.logger = logger
	}
}

// WithTelemetry installs a telemetry collector.
func WithTelemetry(collector telemetry.Collector) FinalizerOption {
	return func(f *Finalizer) {
		if collector != nil {
			f.collector = collector
		}
	}
}

// WithSchemaWarnings logs keys missing from the schema at warn level instead
// of debug.
func WithSchemaWarnings(enabled bool) FinalizerOption {
	return func(f *Finalizer) {
		f.schemaWarnings = enabled
	}
}

// NewFinalizer builds a finalizer.
func NewFinalizer(opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{logger: zerolog.Nop(), collector: telemetry.Noop()}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Finalize finalizes n with a default finalizer.
func (n *Node) Finalize() (map[string]any, error) {
	return NewFinalizer().Finalize(n)
}

// Finalize removes every parameter disabled by unmet depends-on conditions
// and returns the node as a plain value tree. Child nodes are finalized
// first. It fails if an explicitly set parameter anywhere in the tree is
// disabled; that check runs before anything is modified, so the tree is left
// untouched and can be corrected and finalized again. A successful Finalize
// is terminal: the node cannot be used afterwards.
func (f *Finalizer) Finalize(n *Node) (map[string]any, error) {
	if n == nil || n.finalized || n.schema == nil {
		return nil, ErrMalformedNode
	}
	if err := f.conflicts(n, ""); err != nil {
		return nil, err
	}
	return f.finalize(n, "")
}

// conflicts reports the first explicitly set parameter that finalizing value
// would have to remove, searching child nodes first. It reads only.
func (f *Finalizer) conflicts(value any, path string) error {
	switch v := value.(type) {
	case *Node:
		if v.finalized {
			return fmt.Errorf("%s: %w", path, ErrFinalized)
		}
		for _, key := range v.Keys() {
			if err := f.conflicts(v.values[key], joinPath(path, key)); err != nil {
				return err
			}
		}
		if v.schema == nil {
			return nil
		}
		dropped, _ := droppedInterventionConfig(v)
		for _, key := range disabledKeys(v).items {
			if _, ok := v.values[key]; !ok || key == dropped {
				continue
			}
			if v.isExplicit(key) {
				f.collector.IncFinalizeConflict(key)
				return &DisabledExplicitParameterError{Key: key, Path: path}
			}
		}
	case []any:
		for i, elem := range v {
			if err := f.conflicts(elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, key := range schema.SortedKeys(v) {
			if err := f.conflicts(v[key], joinPath(path, key)); err != nil {
				return err
			}
		}
	}
	return nil
}

// disabledKeys returns the parameters of n whose depends-on conditions are
// unmet, directly or through a disabled dependency.
func disabledKeys(n *Node) *keySet {
	removal := newKeySet()
	evaluated := make(map[string]bool)
	for _, key := range n.Keys() {
		desc, ok := schema.DescriptorOf(n.schema[key])
		if ok && len(desc.DependsOn) > 0 {
			purge(n, key, removal, evaluated)
		}
	}
	return removal
}

func (f *Finalizer) finalize(n *Node, path string) (map[string]any, error) {
	if n == nil || n.finalized || n.schema == nil {
		if path != "" {
			return nil, fmt.Errorf("%s: %w", path, ErrMalformedNode)
		}
		return nil, ErrMalformedNode
	}
	logger := f.logger.With().Str("node", nodeLabel(n, path)).Logger()

	for _, key := range n.Keys() {
		plain, err := f.plainValue(n.values[key], joinPath(path, key))
		if err != nil {
			return nil, err
		}
		n.values[key] = plain

		raw, inSchema := n.schema[key]
		if !inSchema {
			event := logger.Debug()
			if f.schemaWarnings {
				event = logger.Warn()
			}
			event.Str("key", key).Msg("parameter not in schema during dependency purge")
			continue
		}
		desc, ok := schema.DescriptorOf(raw)
		if !ok || len(desc.DependsOn) > 0 {
			continue
		}
		if s, ok := plain.(string); ok && s == uninitializedString {
			n.values[key] = ""
		}
	}
	removal := disabledKeys(n)

	redundant := redundantLogLevels(n)
	f.resolveInterventionConfigs(n, logger)

	for _, key := range removal.items {
		if _, ok := n.values[key]; !ok {
			continue
		}
		if n.isExplicit(key) {
			f.collector.IncFinalizeConflict(key)
			return nil, &DisabledExplicitParameterError{Key: key, Path: path}
		}
	}

	pruned := 0
	for _, key := range append(removal.items, redundant...) {
		if _, ok := n.values[key]; !ok {
			continue
		}
		delete(n.values, key)
		pruned++
		logger.Debug().Str("key", key).Msg("parameter pruned")
	}
	f.collector.AddPrunedParameters(pruned)

	out := make(map[string]any, len(n.values))
	for key, value := range n.values {
		out[key] = value
	}
	n.strip()
	return out, nil
}

// purge marks key for removal when one of its dependencies is unmet or is
// itself marked. Each key is evaluated once so cyclic graphs terminate.
func purge(n *Node, key string, removal *keySet, evaluated map[string]bool) {
	if evaluated[key] {
		return
	}
	evaluated[key] = true
	if _, ok := n.values[key]; !ok {
		return
	}
	desc, ok := schema.DescriptorOf(n.schema[key])
	if !ok {
		return
	}
	for _, dep := range desc.DependsOn {
		if !removal.has(dep.Key) {
			purge(n, dep.Key, removal, evaluated)
		}
		current, present := n.values[dep.Key]
		if !present {
			continue
		}
		if removal.has(dep.Key) || !dependencySatisfied(current, dep) {
			removal.add(key)
		}
	}
}

// redundantLogLevels returns logLevel_ overrides equal to logLevel_default.
func redundantLogLevels(n *Node) []string {
	base, ok := n.values[logLevelDefault]
	if !ok {
		return nil
	}
	var out []string
	for _, key := range n.Keys() {
		if key == logLevelDefault || !strings.HasPrefix(key, logLevelPrefix) {
			continue
		}
		if equalValues(n.values[key], base) {
			out = append(out, key)
		}
	}
	return out
}

// resolveInterventionConfigs keeps whichever of the individual or node
// intervention configs is populated.
func (f *Finalizer) resolveInterventionConfigs(n *Node, logger zerolog.Logger) {
	dropped, both := droppedInterventionConfig(n)
	if dropped != "" {
		delete(n.values, dropped)
	}
	if both {
		logger.Warn().Msg("both Actual_IndividualIntervention_Config and Actual_NodeIntervention_Config are set")
	}
}

// droppedInterventionConfig names the empty one of the two intervention
// configs when the other is populated, and reports whether both are.
func droppedInterventionConfig(n *Node) (string, bool) {
	individual, hasIndividual := n.values[individualConfig]
	nodeLevel, hasNode := n.values[nodeConfig]
	if !hasIndividual || !hasNode {
		return "", false
	}
	individualEmpty, nodeEmpty := isEmpty(individual), isEmpty(nodeLevel)
	switch {
	case !individualEmpty && nodeEmpty:
		return nodeConfig, false
	case individualEmpty && !nodeEmpty:
		return individualConfig, false
	}
	return "", !individualEmpty && !nodeEmpty
}

func (f *Finalizer) plainValue(value any, path string) (any, error) {
	switch v := value.(type) {
	case *Node:
		if v.schema != nil {
			return f.finalize(v, path)
		}
		return f.plainNode(v, path)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			plain, err := f.plainValue(elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = plain
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elem := range v {
			plain, err := f.plainValue(elem, joinPath(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = plain
		}
		return out, nil
	default:
		return value, nil
	}
}

// plainNode converts a schema-less node, which only holds data.
func (f *Finalizer) plainNode(n *Node, path string) (map[string]any, error) {
	if n.finalized {
		return nil, fmt.Errorf("%s: %w", path, ErrFinalized)
	}
	out := make(map[string]any, len(n.values))
	for key, value := range n.values {
		plain, err := f.plainValue(value, joinPath(path, key))
		if err != nil {
			return nil, err
		}
		out[key] = plain
	}
	n.strip()
	return out, nil
}

func (n *Node) strip() {
	n.schema = nil
	n.explicits = nil
	n.implicits = nil
	n.values = map[string]any{}
	n.keys = nil
	n.finalized = true
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case *Node:
		return v.Len() == 0
	}
	return false
}

func nodeLabel(n *Node, path string) string {
	if path != "" {
		return path
	}
	if class, ok := n.values[schema.KeyClass].(string); ok {
		return class
	}
	return "root"
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

type keySet struct {
	items []string
	index map[string]struct{}
}

func newKeySet() *keySet {
	return &keySet{index: make(map[string]struct{})}
}

func (s *keySet) add(key string) {
	if _, ok := s.index[key]; ok {
		return
	}
	s.index[key] = struct{}{}
	s.items = append(s.items, key)
}

func (s *keySet) has(key string) bool {
	_, ok := s.index[key]
	return ok
}
