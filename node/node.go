// Package node implements the constrained configuration node: a parameter map
// bound to its schema subtree that validates every assignment, propagates
// depends-on requirements and records which keys were set explicitly or as a
// side effect. A Finalizer turns a node into a plain value tree once the
// caller is done mutating it.
package node

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"

	"github.com/kfrey-idm/emod-api-sub000/schema"
)

// SimulationType is never assigned implicitly; dependencies on it are
// checked against the node's current value instead.
const SimulationType = "Simulation_Type"

// Node maps parameter names to values and enforces the attached schema.
// A Node is not safe for concurrent use.
type Node struct {
	keys      []string
	values    map[string]any
	schema    map[string]any
	explicits []string
	implicits []string
	finalized bool
}

// New creates an empty node bound to a schema subtree. A nil schema disables
// validation.
func New(blob map[string]any) *Node {
	return &Node{
		values: make(map[string]any),
		schema: blob,
	}
}

// Define declares key with an initial value without validation. It is used
// while a node is instantiated from the schema; callers mutate with Set.
func (n *Node) Define(key string, value any) {
	if n.finalized {
		return
	}
	if _, exists := n.values[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.values[key] = value
}

// DefineSchema attaches descriptor metadata for key, creating the schema map
// when the node has none.
func (n *Node) DefineSchema(key string, descriptor any) {
	if n.finalized {
		return
	}
	if n.schema == nil {
		n.schema = make(map[string]any)
	}
	n.schema[key] = descriptor
}

// Set assigns value to key after validating it against the schema and
// propagating its depends-on requirements. A nil value is ignored.
func (n *Node) Set(key string, value any) error {
	if n.finalized {
		return ErrFinalized
	}
	return n.assign(key, value, false, make(map[string]bool))
}

func (n *Node) assign(key string, value any, implicit bool, visiting map[string]bool) error {
	current, ok := n.values[key]
	if !ok {
		return &UnknownKeyError{Key: key, Known: n.Keys()}
	}
	if value == nil {
		return nil
	}
	if n.schema == nil {
		n.store(key, value, implicit)
		return nil
	}
	desc, described := schema.DescriptorOf(n.schema[key])
	if !described {
		n.store(key, value, implicit)
		return nil
	}

	normalized, err := validate(key, value, desc)
	if err != nil {
		return err
	}

	visiting[key] = true
	defer delete(visiting, key)
	if err := n.propagate(key, normalized, desc, visiting); err != nil {
		return err
	}

	if desc.HasDefault && equalValues(desc.Default, normalized) && equalValues(current, normalized) {
		return nil
	}
	n.store(key, normalized, implicit)
	return nil
}

// propagate satisfies the depends-on edges of key. Dependencies the caller set
// explicitly, or that already hold a non-default value, are left alone; the
// finalizer reports any resulting conflict.
func (n *Node) propagate(key string, value any, desc schema.Descriptor, visiting map[string]bool) error {
	for _, dep := range desc.DependsOn {
		if dep.Key == SimulationType {
			current, ok := n.values[SimulationType]
			if !ok {
				continue
			}
			if !dependencySatisfied(current, dep) {
				return &ValidationError{
					Key:        key,
					Value:      value,
					Constraint: fmt.Sprintf("Simulation_Type needs to be one of %v but it is %v", dep.Value, current),
				}
			}
			continue
		}
		if visiting[dep.Key] {
			continue
		}
		current, ok := n.values[dep.Key]
		if !ok {
			return fmt.Errorf("%s depends on %s: %w", key, dep.Key, &UnknownKeyError{Key: dep.Key, Known: n.Keys()})
		}
		if n.isExplicit(dep.Key) {
			continue
		}
		depDesc, _ := schema.DescriptorOf(n.schema[dep.Key])
		if depDesc.HasDefault && !equalValues(current, depDesc.Default) {
			continue
		}
		if err := n.assign(dep.Key, dep.Preferred(), true, visiting); err != nil {
			return err
		}
	}
	return nil
}

func dependencySatisfied(current any, dep schema.Dependency) bool {
	if alts, ok := dep.Alternatives(); ok {
		return matchesAlternative(current, alts)
	}
	return equalValues(current, dep.Value)
}

func (n *Node) store(key string, value any, implicit bool) {
	n.values[key] = value
	if implicit {
		if n.isExplicit(key) || contains(n.implicits, key) {
			return
		}
		n.implicits = append(n.implicits, key)
		return
	}
	n.implicits = remove(n.implicits, key)
	if !contains(n.explicits, key) {
		n.explicits = append(n.explicits, key)
	}
}

// Get returns the value stored for key.
func (n *Node) Get(key string) (any, error) {
	value, ok := n.values[key]
	if !ok {
		return nil, &MissingKeyError{Key: key, Known: n.Keys()}
	}
	return value, nil
}

// Has reports whether key is declared.
func (n *Node) Has(key string) bool {
	_, ok := n.values[key]
	return ok
}

// Keys returns the declared keys in insertion order.
func (n *Node) Keys() []string {
	out := make([]string, 0, len(n.keys))
	for _, key := range n.keys {
		if _, ok := n.values[key]; ok {
			out = append(out, key)
		}
	}
	return out
}

// Len returns the number of declared keys.
func (n *Node) Len() int {
	return len(n.values)
}

// Schema returns the attached schema subtree; nil when validation is off.
func (n *Node) Schema() map[string]any {
	return n.schema
}

// Explicits returns the keys assigned directly, in assignment order.
func (n *Node) Explicits() []string {
	return append([]string(nil), n.explicits...)
}

// Implicits returns the keys assigned as dependency side effects.
func (n *Node) Implicits() []string {
	return append([]string(nil), n.implicits...)
}

// Finalized reports whether the node has been finalized.
func (n *Node) Finalized() bool {
	return n.finalized
}

func (n *Node) isExplicit(key string) bool {
	return contains(n.explicits, key)
}

// Clone returns an independent deep copy. The schema subtree is shared
// because schema documents are immutable.
func (n *Node) Clone() (*Node, error) {
	if n.finalized {
		return nil, ErrFinalized
	}
	clone := &Node{
		keys:      append([]string(nil), n.keys...),
		values:    make(map[string]any, len(n.values)),
		schema:    n.schema,
		explicits: append([]string(nil), n.explicits...),
		implicits: append([]string(nil), n.implicits...),
	}
	for key, value := range n.values {
		copied, err := CopyValue(value)
		if err != nil {
			return nil, fmt.Errorf("clone %s: %w", key, err)
		}
		clone.values[key] = copied
	}
	return clone, nil
}

// CopyValue deep copies a JSON-compatible value that may contain nodes.
func CopyValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string, bool, float64, int:
		return v, nil
	case *Node:
		return v.Clone()
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			copied, err := CopyValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = copied
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elem := range v {
			copied, err := CopyValue(elem)
			if err != nil {
				return nil, err
			}
			out[key] = copied
		}
		return out, nil
	}
	var out any
	if err := deepcopy.Copy(&out, value); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalJSON encodes the current values without bookkeeping.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.values)
}

func contains(list []string, key string) bool {
	for _, item := range list {
		if item == key {
			return true
		}
	}
	return false
}

func remove(list []string, key string) []string {
	out := list[:0]
	for _, item := range list {
		if item != key {
			out = append(out, item)
		}
	}
	return out
}
