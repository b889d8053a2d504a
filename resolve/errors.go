package resolve

import (
	"fmt"

	"github.com/kfrey-idm/emod-api-sub000/errkind"
)

// UnknownTypeError reports a type name that no family of the schema declares.
type UnknownTypeError struct {
	TypeName string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("failed to find %s in schema", e.TypeName)
}

// Kind classifies the error.
func (e *UnknownTypeError) Kind() errkind.Kind { return errkind.SchemaShape }

// FieldError reports a field of a schema type for which no default could be
// derived.
type FieldError struct {
	TypeName string
	Field    string
	Err      error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("default for %s.%s: %v", e.TypeName, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Kind classifies the error.
func (e *FieldError) Kind() errkind.Kind { return errkind.SchemaShape }

// DepthError reports a type graph nested deeper than MaxDepth, which in
// practice means the schema refers to itself.
type DepthError struct {
	TypeName string
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("type %s nested deeper than %d levels", e.TypeName, MaxDepth)
}

// Kind classifies the error.
func (e *DepthError) Kind() errkind.Kind { return errkind.SchemaShape }

// notFound reports a bare lookup miss. Misses wrapped in a FieldError come
// from deeper types and must not be swallowed by a caller's fallback.
func notFound(err error) bool {
	_, ok := err.(*UnknownTypeError)
	return ok
}
