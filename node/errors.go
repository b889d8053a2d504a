package node

import (
	"fmt"

	"github.com/kfrey-idm/emod-api-sub000/errkind"
)

type internalError string

func (e internalError) Error() string { return string(e) }

func (internalError) Kind() errkind.Kind { return errkind.Internal }

var (
	// ErrFinalized is returned when a finalized node is used again.
	ErrFinalized error = internalError("node already finalized")
	// ErrMalformedNode is returned when a node reaches finalization without
	// an attached schema.
	ErrMalformedNode error = internalError("node has no schema to finalize against")
)

// UnknownKeyError reports an assignment to a key the node does not declare.
type UnknownKeyError struct {
	Key   string
	Known []string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("'%s' not found in this object. List of keys = %v", e.Key, e.Known)
}

// Kind classifies the error.
func (e *UnknownKeyError) Kind() errkind.Kind { return errkind.Usage }

// MissingKeyError reports a read of a key the node does not hold.
type MissingKeyError struct {
	Key   string
	Known []string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("'%s' not found in this object. List of keys = %v", e.Key, e.Known)
}

// Kind classifies the error.
func (e *MissingKeyError) Kind() errkind.Kind { return errkind.Usage }

// ValidationError reports a value that violates the parameter's schema.
type ValidationError struct {
	Key        string
	Value      any
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %v for parameter %s: %s", e.Value, e.Key, e.Constraint)
}

// Kind classifies the error.
func (e *ValidationError) Kind() errkind.Kind { return errkind.Value }

// DisabledExplicitParameterError reports an explicitly set parameter whose
// depends-on conditions are unmet at finalization.
type DisabledExplicitParameterError struct {
	Key  string
	Path string
}

func (e *DisabledExplicitParameterError) Error() string {
	name := e.Key
	if e.Path != "" {
		name = e.Path + "." + e.Key
	}
	return fmt.Sprintf("parameter %s was set but is disabled by its depends-on conditions and would not be used", name)
}

// Kind classifies the error.
func (e *DisabledExplicitParameterError) Kind() errkind.Kind { return errkind.DependencyConflict }
