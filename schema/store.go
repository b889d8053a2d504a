package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kfrey-idm/emod-api-sub000/errkind"
	"github.com/kfrey-idm/emod-api-sub000/telemetry"
)

// ErrNoSource is returned when neither a path nor a document is supplied.
var ErrNoSource = errors.New("a schema path or schema document must be specified")

// SchemaNotFoundError reports a schema path that does not exist.
type SchemaNotFoundError struct {
	Path string
}

func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("no schema file found at %s", e.Path)
}

// Kind classifies the error.
func (e *SchemaNotFoundError) Kind() errkind.Kind { return errkind.Resource }

// Store caches the most recently requested schema document. A request for a
// different source replaces the cached document. Nodes built from an earlier
// document keep their own schema subtrees and are unaffected by a swap.
type Store struct {
	mu        sync.RWMutex
	path      string
	identity  uintptr
	doc       Document
	logger    zerolog.Logger
	collector telemetry.Collector
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the logger used for cache diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithTelemetry installs a telemetry collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(s *Store) {
		if collector != nil {
			s.collector = collector
		}
	}
}

// NewStore creates an empty schema store.
func NewStore(opts ...Option) *Store {
	s := &Store{logger: zerolog.Nop(), collector: telemetry.Noop()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get returns the schema for source, which is either a file path or an
// already decoded document.
func (s *Store) Get(source any) (Document, error) {
	switch v := source.(type) {
	case nil:
		return nil, ErrNoSource
	case string:
		if v == "" {
			return nil, ErrNoSource
		}
		return s.Load(v)
	case Document:
		if v == nil {
			return nil, ErrNoSource
		}
		return s.Use(v), nil
	case map[string]any:
		if v == nil {
			return nil, ErrNoSource
		}
		return s.Use(Document(v)), nil
	default:
		return nil, fmt.Errorf("unsupported schema source %T", source)
	}
}

// Load returns the document stored at path, decoding it unless it is the
// currently cached source.
func (s *Store) Load(path string) (Document, error) {
	if path == "" {
		return nil, ErrNoSource
	}
	s.mu.RLock()
	if s.doc != nil && s.path == path {
		doc := s.doc
		s.mu.RUnlock()
		s.collector.IncSchemaCacheHit(path)
		return doc, nil
	}
	s.mu.RUnlock()

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &SchemaNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("open schema %s: %w", path, err)
	}
	defer file.Close()

	doc, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	s.mu.Lock()
	s.path = path
	s.identity = 0
	s.doc = doc
	s.mu.Unlock()

	s.collector.IncSchemaLoad(path)
	s.logger.Debug().Str("source", path).Int("sections", len(doc)).Msg("schema loaded")
	return doc, nil
}

// Use caches an in-memory document. Passing the cached document again is a
// cache hit; any other document replaces the cache.
func (s *Store) Use(doc Document) Document {
	id := identityOf(doc)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc != nil && s.path == "" && s.identity == id {
		s.collector.IncSchemaCacheHit("memory")
		return s.doc
	}
	s.path = ""
	s.identity = id
	s.doc = doc
	s.collector.IncSchemaLoad("memory")
	s.logger.Debug().Int("sections", len(doc)).Msg("in-memory schema cached")
	return doc
}

// Current returns the cached document, if any.
func (s *Store) Current() (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc, s.doc != nil
}

// Source returns the cached file path; empty for in-memory documents.
func (s *Store) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Invalidate drops the cached document.
func (s *Store) Invalidate() {
	s.mu.Lock()
	previous := s.path
	s.path = ""
	s.identity = 0
	s.doc = nil
	s.mu.Unlock()
	s.logger.Debug().Str("source", previous).Msg("schema cache invalidated")
}

func identityOf(doc Document) uintptr {
	if doc == nil {
		return 0
	}
	return reflect.ValueOf(doc).Pointer()
}
