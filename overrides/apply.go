package overrides

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/parser/lexer"

	"github.com/kfrey-idm/emod-api-sub000/node"
	"github.com/kfrey-idm/emod-api-sub000/schema"
)

// ErrInvalidAssignment is returned for assignments without a key.
var ErrInvalidAssignment = errors.New("assignment must have the form KEY=VALUE")

// Apply sets every parameter of doc on n as an explicit assignment. Keys the
// node declares are set as a whole, even when their value is an object;
// other objects are treated as groups and descended into. Keys are visited
// in lexical order.
func Apply(n *node.Node, doc map[string]any) error {
	for _, key := range schema.SortedKeys(doc) {
		if key == DefaultConfigPathKey {
			continue
		}
		value := doc[key]
		if !n.Has(key) {
			if group, ok := value.(map[string]any); ok {
				if err := Apply(n, group); err != nil {
					return err
				}
				continue
			}
		}
		if err := n.Set(key, value); err != nil {
			return fmt.Errorf("override %s: %w", key, err)
		}
	}
	return nil
}

// ParseAssignment splits "KEY=VALUE". A VALUE that is a JSON-style literal
// (a number, a boolean, a quoted string, or a list or object of those) keeps
// its type. Everything else, such as a bare enum name, a date or an
// arithmetic expression, is taken verbatim as a string.
func ParseAssignment(assignment string) (string, any, error) {
	key, raw, found := strings.Cut(assignment, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", nil, fmt.Errorf("%q: %w", assignment, ErrInvalidAssignment)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return key, "", nil
	}
	if value, ok := literal(raw); ok {
		return key, value, nil
	}
	return key, raw, nil
}

var plainNumber = regexp.MustCompile(`^(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

// literal parses raw as a constant. Numbers must be written the way JSON
// writes them, so "007", "1_000" or "0x1F" are not numbers.
func literal(raw string) (any, bool) {
	tokens, err := lexer.Lex(file.NewSource(raw))
	if err != nil {
		return nil, false
	}
	for _, token := range tokens {
		if token.Kind == lexer.Number && !plainNumber.MatchString(token.Value) {
			return nil, false
		}
	}
	tree, err := parser.Parse(raw)
	if err != nil {
		return nil, false
	}
	return constant(tree.Node)
}

func constant(n ast.Node) (any, bool) {
	switch v := n.(type) {
	case *ast.IntegerNode:
		return v.Value, true
	case *ast.FloatNode:
		return v.Value, true
	case *ast.BoolNode:
		return v.Value, true
	case *ast.StringNode:
		return v.Value, true
	case *ast.UnaryNode:
		if v.Operator != "-" {
			return nil, false
		}
		switch operand := v.Node.(type) {
		case *ast.IntegerNode:
			return -operand.Value, true
		case *ast.FloatNode:
			return -operand.Value, true
		}
	case *ast.ArrayNode:
		out := make([]any, 0, len(v.Nodes))
		for _, elem := range v.Nodes {
			value, ok := constant(elem)
			if !ok {
				return nil, false
			}
			out = append(out, value)
		}
		return out, true
	case *ast.MapNode:
		out := make(map[string]any, len(v.Pairs))
		for _, p := range v.Pairs {
			pair, ok := p.(*ast.PairNode)
			if !ok {
				return nil, false
			}
			key, ok := pair.Key.(*ast.StringNode)
			if !ok {
				return nil, false
			}
			value, ok := constant(pair.Value)
			if !ok {
				return nil, false
			}
			out[key.Value] = value
		}
		return out, true
	}
	return nil, false
}

// ParseAssignments parses a list of assignments into a document suitable for
// Apply. Later assignments to the same key win.
func ParseAssignments(assignments []string) (map[string]any, error) {
	out := make(map[string]any, len(assignments))
	for _, assignment := range assignments {
		key, value, err := ParseAssignment(assignment)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}
