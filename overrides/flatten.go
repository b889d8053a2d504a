package overrides

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kfrey-idm/emod-api-sub000/defaultconfig"
	"github.com/kfrey-idm/emod-api-sub000/schema"
)

// DefaultConfigPathKey names the default configuration an override document
// builds on.
const DefaultConfigPathKey = "Default_Config_Path"

const networkParamsByProperty = "STI_Network_Params_By_Property"

// KeyedNodes are parameters whose children are keyed by a name, such as a
// species or drug, rather than being parameter groups.
var KeyedNodes = []string{
	"Vector_Species_Params",
	"Malaria_Drug_Params",
	"TB_Drug_Params",
	"HIV_Drug_Params",
	networkParamsByProperty,
	"TBHIV_Drug_Params",
}

var (
	// ErrNilReference is returned when Flatten is given no document.
	ErrNilReference = errors.New("reference document must not be nil")
	// ErrNoDefaultConfigPath is returned when an override document does not
	// name its default configuration.
	ErrNoDefaultConfigPath = errors.New("override document has no " + DefaultConfigPathKey)
)

// Flatten copies the leaf parameters of ref into flat. Nested groups are
// collapsed; keyed nodes keep their name level. Values already in flat win,
// so overrides are flattened before the defaults they override. An embedded
// schema is skipped.
func Flatten(ref, flat map[string]any) error {
	if ref == nil {
		return ErrNilReference
	}
	for _, key := range schema.SortedKeys(ref) {
		if key == defaultconfig.SchemaKey {
			continue
		}
		value := ref[key]
		if isKeyedNode(key) {
			if err := flattenKeyed(key, value, flat); err != nil {
				return err
			}
			continue
		}
		if group, ok := value.(map[string]any); ok {
			if err := Flatten(group, flat); err != nil {
				return err
			}
			continue
		}
		if _, exists := flat[key]; !exists {
			flat[key] = value
		}
	}
	return nil
}

func flattenKeyed(key string, value any, flat map[string]any) error {
	entries, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("%s must be an object, got %T", key, value)
	}
	target, exists := flat[key].(map[string]any)
	if !exists {
		if _, present := flat[key]; present {
			return fmt.Errorf("%s already holds a %T", key, flat[key])
		}
		target = make(map[string]any)
		flat[key] = target
	} else if key == networkParamsByProperty {
		if _, ok := target["NONE"]; !ok {
			return nil
		}
	}
	for _, name := range schema.SortedKeys(entries) {
		params, isMap := entries[name].(map[string]any)
		if !isMap {
			if _, present := target[name]; !present {
				target[name] = entries[name]
			}
			continue
		}
		dst, ok := target[name].(map[string]any)
		if !ok {
			dst = make(map[string]any)
			target[name] = dst
		}
		for param, v := range params {
			if _, present := dst[param]; !present {
				dst[param] = v
			}
		}
	}
	return nil
}

func isKeyedNode(key string) bool {
	for _, k := range KeyedNodes {
		if k == key {
			return true
		}
	}
	return false
}

// Option customises FlattenFile.
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	workDir string
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithWorkDir sets the fallback directory for a relative
// Default_Config_Path. It defaults to the process working directory.
func WithWorkDir(dir string) Option {
	return func(o *options) {
		o.workDir = dir
	}
}

// FlattenFile merges the override document at path with the default
// configuration it names. A relative Default_Config_Path is resolved against
// the override document's directory first and the working directory second.
func FlattenFile(path string, opts ...Option) (defaultconfig.Config, error) {
	o := options{logger: zerolog.Nop(), workDir: "."}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	doc, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	flat := make(map[string]any)
	if err := Flatten(doc, flat); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	rawPath, ok := flat[DefaultConfigPathKey].(string)
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrNoDefaultConfigPath)
	}
	defaultPath := strings.TrimSpace(rawPath)
	if defaultPath != rawPath {
		o.logger.Warn().Str("value", rawPath).Msg("Default_Config_Path has leading or trailing whitespace; trimming")
	}
	resolved := resolveDefaultPath(filepath.Dir(path), o.workDir, defaultPath)

	defaults, err := LoadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("default configuration %s: %w", defaultPath, err)
	}
	if err := Flatten(defaults, flat); err != nil {
		return nil, fmt.Errorf("%s: %w", resolved, err)
	}
	delete(flat, DefaultConfigPathKey)

	o.logger.Debug().Str("overrides", path).Str("defaults", resolved).Int("parameters", len(flat)).Msg("configuration flattened")
	return defaultconfig.Config{defaultconfig.ParametersKey: flat}, nil
}

func resolveDefaultPath(docDir, workDir, target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	candidate := filepath.Join(docDir, target)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return filepath.Join(workDir, target)
}
