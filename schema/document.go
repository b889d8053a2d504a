// Package schema loads, caches and interprets the JSON schema documents that
// describe every configuration and campaign parameter: its type, default,
// numeric range, enum set and depends-on edges.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Top-level sections and abstract type families of a schema document.
const (
	IDMTypesKey = "idmTypes"
	ConfigKey   = "config"

	FamilyAdditionalRestrictions = "idmType:AdditionalRestrictions"
	FamilyCampaignEvent          = "idmAbstractType:CampaignEvent"
	FamilyEventCoordinator       = "idmAbstractType:EventCoordinator"
	FamilyReport                 = "idmAbstractType:IReport"
	FamilyReportLegacy           = "idmType:IReport"
	FamilyNodeSet                = "idmAbstractType:NodeSet"
	FamilyWaningEffect           = "idmAbstractType:WaningEffect"
	FamilyWaningEffectLegacy     = "idmType:WaningEffect"
	FamilyIntervention           = "idmAbstractType:Intervention"
)

// Reserved descriptor keys.
const (
	KeyType             = "type"
	KeyDefault          = "default"
	KeyMin              = "min"
	KeyMax              = "max"
	KeyEnum             = "enum"
	KeyDependsOn        = "depends-on"
	KeyRequiredSimTypes = "required-simtypes"
	KeyDescription      = "description"
	KeyClass            = "class"
	KeySimTypes         = "Sim_Types"
)

// Document is a decoded schema. It is treated as immutable once loaded.
type Document map[string]any

// Parse decodes a schema document from r.
func Parse(r io.Reader) (Document, error) {
	if r == nil {
		return nil, errors.New("schema reader must not be nil")
	}
	var raw any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode schema: top-level value must be an object, got %T", raw)
	}
	return Document(obj), nil
}

// Decode parses a schema document from raw JSON bytes.
func Decode(data []byte) (Document, error) {
	return Parse(bytes.NewReader(data))
}

// IDMTypes returns the named-type section. Documents that are themselves an
// idmTypes section are returned as-is.
func (d Document) IDMTypes() map[string]any {
	if d == nil {
		return nil
	}
	if section, ok := d[IDMTypesKey].(map[string]any); ok {
		return section
	}
	return map[string]any(d)
}

// Family returns the member map of a named type family, or nil.
func (d Document) Family(name string) map[string]any {
	family, _ := d.IDMTypes()[name].(map[string]any)
	return family
}

// Member returns the schema blob of a family member.
func (d Document) Member(family, name string) (map[string]any, bool) {
	blob, ok := d.Family(family)[name].(map[string]any)
	return blob, ok
}

// ConfigGroups returns the parameter groups under the config section.
func (d Document) ConfigGroups() map[string]any {
	groups, _ := d[ConfigKey].(map[string]any)
	return groups
}

// IsClassFamily reports whether the named-type entry is a family of classes
// rather than a concrete type: every member is an object carrying a class.
// Old-style WaningEffect schemas encode the abstract type this way.
func (d Document) IsClassFamily(name string) bool {
	entry, ok := d.IDMTypes()[name].(map[string]any)
	if !ok || len(entry) == 0 {
		return false
	}
	for _, member := range entry {
		blob, ok := member.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := blob[KeyClass]; !ok {
			return false
		}
	}
	return true
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SplitAlternatives splits a comma separated depends-on value into trimmed
// alternatives.
func SplitAlternatives(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}
