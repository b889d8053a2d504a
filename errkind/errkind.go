// Package errkind classifies the errors surfaced by the schema, resolve and
// node packages so callers can react per category instead of matching on
// concrete types.
package errkind

import "errors"

// Kind is a machine-readable error category.
type Kind string

const (
	// Unknown is reported for errors that carry no classification.
	Unknown Kind = "UNKNOWN"
	// Resource covers unreadable or missing schema sources.
	Resource Kind = "RESOURCE"
	// SchemaShape covers type names that cannot be found in the schema.
	SchemaShape Kind = "SCHEMA_SHAPE"
	// Usage covers reads or writes of keys a node does not declare.
	Usage Kind = "USAGE"
	// Value covers type, range, enum, bool and vector violations.
	Value Kind = "VALUE"
	// DependencyConflict covers explicit parameters disabled by depends-on.
	DependencyConflict Kind = "DEPENDENCY_CONFLICT"
	// Internal covers malformed nodes and misuse of terminal operations.
	Internal Kind = "INTERNAL"
)

// Classified is implemented by errors that know their category.
type Classified interface {
	error
	Kind() Kind
}

// KindOf returns the category of the first classified error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var classified Classified
	if errors.As(err, &classified) {
		return classified.Kind()
	}
	return Unknown
}

// Fatal reports whether an error of this category aborts the operation that
// produced it. Every category is currently fatal.
func (k Kind) Fatal() bool {
	return true
}

// Fatal reports whether err aborts the current operation.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Fatal()
}
