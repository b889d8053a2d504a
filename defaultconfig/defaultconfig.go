// Package defaultconfig builds the default simulation configuration described
// by the config section of a schema and reads and writes configuration
// documents of the form {"parameters": {...}}.
package defaultconfig

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kfrey-idm/emod-api-sub000/node"
	"github.com/kfrey-idm/emod-api-sub000/resolve"
	"github.com/kfrey-idm/emod-api-sub000/schema"
)

const (
	// ParametersKey holds the parameter map of a configuration document.
	ParametersKey = "parameters"
	// SchemaKey holds the embedded schema of a default configuration.
	SchemaKey = "schema"
)

// ErrNoParameters is returned when a document has no parameters object.
var ErrNoParameters = errors.New("configuration has no parameters object")

// ErrNoSchemaNode is returned when a default configuration carries no
// embedded schema to validate against.
var ErrNoSchemaNode = errors.New("configuration has no embedded schema under parameters")

// Config is a finalized configuration document.
type Config map[string]any

// Parameters returns the parameter map.
func (c Config) Parameters() map[string]any {
	params, _ := c[ParametersKey].(map[string]any)
	return params
}

type builder struct {
	model    string
	resolver *resolve.Resolver
	logger   zerolog.Logger
}

// Option customises FromSchema.
type Option func(*builder)

// WithModel selects the simulation type. Simulation_Type is set to model and
// parameters that declare a required value for it start at that value.
func WithModel(model string) Option {
	return func(b *builder) {
		b.model = strings.TrimSpace(model)
	}
}

// WithResolver overrides the resolver used for parameters of complex type.
func WithResolver(r *resolve.Resolver) Option {
	return func(b *builder) {
		b.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *builder) {
		b.logger = logger
	}
}

// FromSchema returns a node holding every parameter of the schema's config
// groups at its default value.
func FromSchema(doc schema.Document, opts ...Option) (*node.Node, error) {
	b := &builder{logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.resolver == nil {
		b.resolver = resolve.New(doc, resolve.WithLogger(b.logger))
	}

	groups := doc.ConfigGroups()
	if groups == nil {
		return nil, fmt.Errorf("schema has no %s section", schema.ConfigKey)
	}

	n := node.New(map[string]any{})
	for _, group := range schema.SortedKeys(groups) {
		params, ok := groups[group].(map[string]any)
		if !ok {
			continue
		}
		for _, param := range schema.SortedKeys(params) {
			if param == schema.KeyClass {
				continue
			}
			blob, ok := params[param].(map[string]any)
			if !ok {
				continue
			}
			value, descriptor, err := b.parameterDefault(blob)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", param, err)
			}
			n.DefineSchema(param, descriptor)
			n.Define(param, value)
		}
	}

	if b.model != "" {
		if err := n.Set(node.SimulationType, b.model); err != nil {
			return nil, err
		}
	}
	b.logger.Debug().Int("parameters", n.Len()).Str("model", b.model).Msg("default configuration built")
	return n, nil
}

// parameterDefault returns the default value for one parameter and the
// descriptor to validate it against. Keyed-by-name parameters such as drug
// tables are wrappers with a single entry describing their values.
func (b *builder) parameterDefault(blob map[string]any) (any, any, error) {
	desc, _ := schema.DescriptorOf(blob)
	if b.model != "" {
		if required, ok := desc.RequiredSimTypes[b.model]; ok {
			value, err := node.CopyValue(required)
			return value, blob, err
		}
	}
	switch {
	case desc.HasDefault:
		value, err := node.CopyValue(desc.Default)
		return value, blob, err
	case strings.Contains(desc.Type, "Vector"):
		return []any{}, blob, nil
	case len(blob) == 1:
		for _, inner := range blob {
			return map[string]any{}, inner, nil
		}
	}
	value, err := b.resolver.InstantiateDefault(desc.Type)
	if err != nil {
		return nil, nil, err
	}
	return value, blob, nil
}

// Build runs set against n and finalizes the result. A nil finalizer uses
// the defaults.
func Build(n *node.Node, set func(*node.Node) error, finalizer *node.Finalizer) (Config, error) {
	if set != nil {
		if err := set(n); err != nil {
			return nil, fmt.Errorf("set parameters: %w", err)
		}
	}
	if finalizer == nil {
		finalizer = node.NewFinalizer()
	}
	params, err := finalizer.Finalize(n)
	if err != nil {
		return nil, err
	}
	return Config{ParametersKey: params}, nil
}

// Encode writes a live default configuration. With withSchema the node's
// schema is embedded so that Decode can restore validation.
func Encode(w io.Writer, n *node.Node, withSchema bool) error {
	params := make(map[string]any, n.Len()+1)
	for _, key := range n.Keys() {
		value, err := n.Get(key)
		if err != nil {
			return err
		}
		params[key] = value
	}
	if withSchema {
		params[SchemaKey] = n.Schema()
	}
	return Write(w, Config{ParametersKey: params})
}

// Decode reads a default configuration written with an embedded schema and
// returns it as a live node.
func Decode(r io.Reader) (*node.Node, error) {
	var raw map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	params, ok := raw[ParametersKey].(map[string]any)
	if !ok {
		return nil, ErrNoParameters
	}
	blob, ok := params[SchemaKey].(map[string]any)
	if !ok {
		return nil, ErrNoSchemaNode
	}
	n := node.New(blob)
	for _, key := range schema.SortedKeys(params) {
		if key == SchemaKey {
			continue
		}
		n.Define(key, params[key])
	}
	return n, nil
}

// Load decodes the default configuration stored at path.
func Load(path string) (*node.Node, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open default configuration: %w", err)
	}
	defer file.Close()
	n, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// Write encodes cfg as indented JSON with sorted keys.
func Write(w io.Writer, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	return nil
}

// WriteFile writes cfg to path.
func WriteFile(path string, cfg Config) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(file, cfg); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
