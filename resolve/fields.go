package resolve

import (
	"strings"

	"github.com/kfrey-idm/emod-api-sub000/node"
	"github.com/kfrey-idm/emod-api-sub000/schema"
)

// genericField: declared default, then the field's type, then an empty
// object.
func genericField(r *Resolver, _ string, desc schema.Descriptor, depth int) (any, bool, error) {
	if desc.HasDefault {
		return copyDefault(desc.Default)
	}
	if value, ok, err := r.byType(desc.Type, depth); err != nil || ok {
		return value, ok, err
	}
	return map[string]any{}, true, nil
}

// campaignEventField targets every node when the event leaves its node set
// unspecified.
func campaignEventField(r *Resolver, key string, desc schema.Descriptor, depth int) (any, bool, error) {
	if desc.HasDefault {
		return copyDefault(desc.Default)
	}
	if value, ok, err := r.byType(desc.Type, depth); err != nil || ok {
		return value, ok, err
	}
	if key == nodesetConfigKey {
		if value, ok, err := r.recurse(nodeSetAll, depth); err != nil || ok {
			return value, ok, err
		}
	}
	return map[string]any{}, true, nil
}

func idmTypeField(r *Resolver, _ string, desc schema.Descriptor, depth int) (any, bool, error) {
	if desc.HasDefault {
		return copyDefault(desc.Default)
	}
	if desc.Min != nil {
		return *desc.Min, true, nil
	}
	if value, ok, err := r.byType(desc.Type, depth); err != nil || ok {
		return value, ok, err
	}
	return map[string]any{}, true, nil
}

func restrictionField(r *Resolver, key string, desc schema.Descriptor, depth int) (any, bool, error) {
	if desc.HasDefault {
		return copyDefault(desc.Default)
	}
	if strings.Contains(desc.Type, vector2dRestrict) {
		return []any{}, true, nil
	}
	return genericField(r, key, desc, depth)
}

func nodeSetField(r *Resolver, key string, desc schema.Descriptor, depth int) (any, bool, error) {
	if desc.HasDefault {
		return copyDefault(desc.Default)
	}
	if strings.Contains(desc.Type, "Vector") || desc.Type == nodeListConfigType {
		return []any{}, true, nil
	}
	return genericField(r, key, desc, depth)
}

// interventionField works around fields the intervention schemas leave
// without a usable default. Fields without a type or default are omitted.
func interventionField(r *Resolver, key string, desc schema.Descriptor, depth int) (any, bool, error) {
	switch {
	case desc.HasDefault:
		return copyDefault(desc.Default)
	case desc.Type == "":
		return nil, false, nil
	case strings.HasSuffix(key, "_Config") && strings.Count(key, "_") > 1:
		return map[string]any{}, true, nil
	case strings.Contains(desc.Type, "Vector"):
		return []any{}, true, nil
	case strings.Contains(desc.Type, "String"):
		return "", true, nil
	case r.isAbstract(desc.Type):
		return map[string]any{}, true, nil
	case strings.HasPrefix(desc.Type, idmTypePrefix):
		if value, ok, err := r.recurse(desc.Type, depth); err != nil || ok {
			return value, ok, err
		}
	}
	if strings.Contains(key, "List") {
		return []any{}, true, nil
	}
	return nil, false, &UnknownTypeError{TypeName: desc.Type}
}

// byType instantiates a field's declared type. Abstract references and lookup
// misses report false so the caller's next fallback applies.
func (r *Resolver) byType(typeName string, depth int) (any, bool, error) {
	if typeName == "" || r.isAbstract(typeName) {
		return nil, false, nil
	}
	return r.recurse(typeName, depth)
}

func (r *Resolver) recurse(typeName string, depth int) (any, bool, error) {
	value, err := r.instantiate(typeName, depth+1)
	if err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// isAbstract reports whether typeName names a family rather than a concrete
// type. Such fields are filled in by the caller.
func (r *Resolver) isAbstract(typeName string) bool {
	if strings.HasPrefix(typeName, abstractTypePrefix) {
		return true
	}
	return strings.HasPrefix(typeName, idmTypePrefix) && r.doc.IsClassFamily(typeName)
}

func copyDefault(value any) (any, bool, error) {
	copied, err := node.CopyValue(value)
	if err != nil {
		return nil, false, err
	}
	return copied, true, nil
}
