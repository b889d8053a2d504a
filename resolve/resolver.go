// Package resolve instantiates fully defaulted values for the named types of
// a schema document. Type names are dispatched through an ordered list of
// rules that mirrors the way the schema partitions its families; the first
// rule whose predicate matches owns the lookup.
package resolve

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kfrey-idm/emod-api-sub000/node"
	"github.com/kfrey-idm/emod-api-sub000/schema"
)

// MaxDepth bounds how deeply type references are followed.
const MaxDepth = 32

const (
	idmTypePrefix      = "idmType:"
	abstractTypePrefix = "idmAbstractType:"
	umbrellaWaning     = "WaningEffect"
	nodeSetAll         = "NodeSetAll"
	nodesetConfigKey   = "Nodeset_Config"
	nodeListConfigType = "idmType:NodeListConfig"
	vector2dRestrict   = "Vector2d idmType:AdditionalRestrictions"
)

type rule struct {
	name  string
	match func(doc schema.Document, typeName string) bool
	build func(r *Resolver, typeName string, depth int) (any, bool, error)
}

// Resolver builds default values from one schema document.
type Resolver struct {
	doc    schema.Document
	logger zerolog.Logger
	rules  []rule
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for dispatch tracing.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a resolver for doc, which may be a whole schema or just its
// idmTypes section.
func New(doc schema.Document, opts ...Option) *Resolver {
	r := &Resolver{doc: doc, logger: zerolog.Nop(), rules: defaultRules()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// InstantiateDefault builds the default value of typeName from doc.
func InstantiateDefault(typeName string, doc schema.Document) (any, error) {
	return New(doc).InstantiateDefault(typeName)
}

// InstantiateDefault returns a freshly built default for typeName. Objects
// are returned as *node.Node with the type's schema attached; templated list
// types are returned as []any. Every call builds new containers.
func (r *Resolver) InstantiateDefault(typeName string) (any, error) {
	return r.instantiate(typeName, 0)
}

// Instantiate is InstantiateDefault for types that resolve to a single
// object.
func (r *Resolver) Instantiate(typeName string) (*node.Node, error) {
	value, err := r.InstantiateDefault(typeName)
	if err != nil {
		return nil, err
	}
	n, ok := value.(*node.Node)
	if !ok {
		return nil, fmt.Errorf("type %s resolves to %T, not an object", typeName, value)
	}
	return n, nil
}

// Document returns the schema the resolver reads from.
func (r *Resolver) Document() schema.Document {
	return r.doc
}

func (r *Resolver) instantiate(typeName string, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, &DepthError{TypeName: typeName}
	}
	for _, rl := range r.rules {
		if !rl.match(r.doc, typeName) {
			continue
		}
		r.logger.Debug().Str("type", typeName).Str("rule", rl.name).Int("depth", depth).Msg("resolving default")
		value, found, err := rl.build(r, typeName, depth)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, &UnknownTypeError{TypeName: typeName}
		}
		return value, nil
	}
	return nil, &UnknownTypeError{TypeName: typeName}
}

func defaultRules() []rule {
	return []rule{
		{name: "campaign-event", match: containsFold("campaignevent"), build: (*Resolver).campaignEvent},
		{name: "event-coordinator", match: containsFold("coordinator"), build: (*Resolver).eventCoordinator},
		{name: "idm-type", match: hasPrefix(idmTypePrefix), build: (*Resolver).idmType},
		{name: "waning-effect", match: isWaning, build: (*Resolver).waningEffect},
		{name: "additional-restrictions", match: inFamily(schema.FamilyAdditionalRestrictions), build: (*Resolver).additionalRestriction},
		{name: "node-set", match: containsFold("nodeset"), build: (*Resolver).nodeSet},
		{name: "report", match: inFamily(schema.FamilyReport, schema.FamilyReportLegacy), build: (*Resolver).report},
		{name: "intervention", match: always, build: (*Resolver).intervention},
	}
}

func containsFold(fragment string) func(schema.Document, string) bool {
	return func(_ schema.Document, typeName string) bool {
		return strings.Contains(strings.ToLower(typeName), fragment)
	}
}

func hasPrefix(prefix string) func(schema.Document, string) bool {
	return func(_ schema.Document, typeName string) bool {
		return strings.HasPrefix(typeName, prefix)
	}
}

func isWaning(_ schema.Document, typeName string) bool {
	return typeName == umbrellaWaning || strings.Contains(strings.ToLower(typeName), "waning")
}

func inFamily(families ...string) func(schema.Document, string) bool {
	return func(doc schema.Document, typeName string) bool {
		for _, family := range families {
			if _, ok := doc.Member(family, typeName); ok {
				return true
			}
		}
		return false
	}
}

func always(schema.Document, string) bool { return true }

func (r *Resolver) campaignEvent(typeName string, depth int) (any, bool, error) {
	blob, ok := r.doc.Member(schema.FamilyCampaignEvent, typeName)
	if !ok {
		return nil, false, nil
	}
	n, err := r.buildClass(typeName, blob, depth, skipNone, campaignEventField)
	return n, true, err
}

// eventCoordinator matches exactly first. Otherwise it accepts the member
// whose name without "EventCoordinator" occurs in typeName, preferring the
// longest such name and then the lexically first, so the choice does not
// depend on member order in the document.
func (r *Resolver) eventCoordinator(typeName string, depth int) (any, bool, error) {
	family := r.doc.Family(schema.FamilyEventCoordinator)
	blob, ok := family[typeName].(map[string]any)
	if !ok {
		best := ""
		for _, name := range schema.SortedKeys(family) {
			stripped := strings.ReplaceAll(name, "EventCoordinator", "")
			if stripped == "" || len(stripped) <= len(best) || !strings.Contains(typeName, stripped) {
				continue
			}
			if candidate, isClass := family[name].(map[string]any); isClass {
				best, blob, ok = stripped, candidate, true
			}
		}
	}
	if !ok {
		return nil, false, nil
	}
	n, err := r.buildClass(typeName, blob, depth, skipKeys(schema.KeySimTypes), genericField)
	return n, true, err
}

// idmType resolves generic named types. An entry that is itself a family of
// classes is abstract and yields an empty object. A one-element list entry is
// a template for a list of that element.
func (r *Resolver) idmType(typeName string, depth int) (any, bool, error) {
	entry, ok := r.doc.IDMTypes()[typeName]
	if !ok {
		return nil, false, nil
	}
	if r.doc.IsClassFamily(typeName) {
		return node.New(map[string]any{}), true, nil
	}
	switch blob := entry.(type) {
	case map[string]any:
		n, err := r.buildClass(typeName, blob, depth, skipTemplateKeys, idmTypeField)
		return n, true, err
	case []any:
		out := []any{}
		if len(blob) == 0 {
			return out, true, nil
		}
		elem, ok := blob[0].(map[string]any)
		if !ok {
			return out, true, nil
		}
		n, err := r.buildClass(typeName, elem, depth, skipTemplateKeys, idmTypeField)
		if err != nil {
			return nil, true, err
		}
		if n.Len() > 0 {
			out = append(out, n)
		}
		return out, true, nil
	}
	return nil, false, nil
}

func (r *Resolver) waningEffect(typeName string, depth int) (any, bool, error) {
	for _, family := range []string{schema.FamilyWaningEffect, schema.FamilyWaningEffectLegacy} {
		if blob, ok := r.doc.Member(family, typeName); ok {
			n, err := r.buildClass(typeName, blob, depth, skipNone, genericField)
			return n, true, err
		}
	}
	if typeName == umbrellaWaning || strings.HasPrefix(typeName, abstractTypePrefix) {
		return node.New(map[string]any{}), true, nil
	}
	return nil, false, nil
}

func (r *Resolver) additionalRestriction(typeName string, depth int) (any, bool, error) {
	blob, ok := r.doc.Member(schema.FamilyAdditionalRestrictions, typeName)
	if !ok {
		return nil, false, nil
	}
	n, err := r.buildClass(typeName, blob, depth, skipKeys(schema.KeySimTypes, vector2dRestrict), restrictionField)
	return n, true, err
}

func (r *Resolver) nodeSet(typeName string, depth int) (any, bool, error) {
	blob, ok := r.doc.Member(schema.FamilyNodeSet, typeName)
	if !ok {
		return nil, false, nil
	}
	n, err := r.buildClass(typeName, blob, depth, skipNone, nodeSetField)
	return n, true, err
}

func (r *Resolver) report(typeName string, depth int) (any, bool, error) {
	for _, family := range []string{schema.FamilyReport, schema.FamilyReportLegacy} {
		if blob, ok := r.doc.Member(family, typeName); ok {
			n, err := r.buildClass(typeName, blob, depth, skipNone, genericField)
			return n, true, err
		}
	}
	return nil, false, nil
}

// intervention searches every intervention category for an exact match.
func (r *Resolver) intervention(typeName string, depth int) (any, bool, error) {
	categories := r.doc.Family(schema.FamilyIntervention)
	for _, category := range schema.SortedKeys(categories) {
		members, ok := categories[category].(map[string]any)
		if !ok {
			continue
		}
		blob, ok := members[typeName].(map[string]any)
		if !ok {
			continue
		}
		n, err := r.buildClass(typeName, blob, depth, skipKeys(schema.KeySimTypes), interventionField)
		return n, true, err
	}
	return nil, false, nil
}

// fieldChain derives the default of one field. A false result omits the
// field from the node.
type fieldChain func(r *Resolver, key string, desc schema.Descriptor, depth int) (any, bool, error)

// buildClass creates a node for a type blob. The class name comes first;
// fields follow in lexical order. Entries that are not descriptors, such as
// class and Sim_Types, carry no field.
func (r *Resolver) buildClass(typeName string, blob map[string]any, depth int, skip func(string) bool, chain fieldChain) (*node.Node, error) {
	n := node.New(blob)
	if class, ok := blob[schema.KeyClass].(string); ok {
		n.Define(schema.KeyClass, class)
	}
	for _, key := range schema.SortedKeys(blob) {
		if key == schema.KeyClass || skip(key) {
			continue
		}
		desc, ok := schema.DescriptorOf(blob[key])
		if !ok {
			continue
		}
		value, keep, err := chain(r, key, desc, depth)
		if err != nil {
			return nil, &FieldError{TypeName: typeName, Field: key, Err: err}
		}
		if keep {
			n.Define(key, value)
		}
	}
	return n, nil
}

func skipNone(string) bool { return false }

func skipTemplateKeys(key string) bool { return strings.HasPrefix(key, "<") }

func skipKeys(keys ...string) func(string) bool {
	return func(key string) bool {
		for _, k := range keys {
			if k == key {
				return true
			}
		}
		return false
	}
}
