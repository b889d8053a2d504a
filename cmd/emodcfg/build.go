package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/kfrey-idm/emod-api-sub000/defaultconfig"
	"github.com/kfrey-idm/emod-api-sub000/internal/config"
	"github.com/kfrey-idm/emod-api-sub000/node"
	"github.com/kfrey-idm/emod-api-sub000/overrides"
	"github.com/kfrey-idm/emod-api-sub000/resolve"
	"github.com/kfrey-idm/emod-api-sub000/schema"
	"github.com/kfrey-idm/emod-api-sub000/telemetry"
)

// builder turns a tool configuration into a finalized configuration
// document. The schema store is kept across builds so watch mode only
// re-reads the schema after invalidating it.
type builder struct {
	cfg       *config.Config
	store     *schema.Store
	logger    zerolog.Logger
	collector telemetry.Collector
}

func newBuilder(cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector) *builder {
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &builder{
		cfg:       cfg,
		store:     schema.NewStore(schema.WithLogger(logger), schema.WithTelemetry(collector)),
		logger:    logger,
		collector: collector,
	}
}

func (b *builder) build() (defaultconfig.Config, error) {
	doc, err := b.store.Load(b.cfg.Schema)
	if err != nil {
		return nil, err
	}
	assignments, err := b.assignments()
	if err != nil {
		return nil, err
	}
	finalizer := node.NewFinalizer(
		node.WithLogger(b.logger),
		node.WithTelemetry(b.collector),
		node.WithSchemaWarnings(b.cfg.SchemaWarnings),
	)
	resolver := resolve.New(doc, resolve.WithLogger(b.logger))

	if b.cfg.Class != "" {
		n, err := resolver.Instantiate(b.cfg.Class)
		if err != nil {
			return nil, err
		}
		if err := overrides.Apply(n, assignments); err != nil {
			return nil, err
		}
		out, err := finalizer.Finalize(n)
		if err != nil {
			return nil, err
		}
		return defaultconfig.Config(out), nil
	}

	n, err := defaultconfig.FromSchema(doc,
		defaultconfig.WithModel(b.cfg.Model),
		defaultconfig.WithResolver(resolver),
		defaultconfig.WithLogger(b.logger),
	)
	if err != nil {
		return nil, err
	}
	return defaultconfig.Build(n, func(n *node.Node) error {
		for _, file := range b.cfg.Overrides {
			values, err := overrides.LoadFile(file)
			if err != nil {
				return err
			}
			if err := overrides.Apply(n, values); err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			b.logger.Debug().Str("file", file).Msg("overrides applied")
		}
		return overrides.Apply(n, assignments)
	}, finalizer)
}

func (b *builder) assignments() (map[string]any, error) {
	raw := make([]string, 0, len(b.cfg.Set))
	for key, value := range b.cfg.Set {
		raw = append(raw, key+"="+value)
	}
	sort.Strings(raw)
	return overrides.ParseAssignments(raw)
}

// buildAndWrite builds the configuration and writes it to the configured
// output, or stdout when none is set.
func (b *builder) buildAndWrite() error {
	out, err := b.build()
	if err != nil {
		return err
	}
	if err := writeOutput(b.cfg.Output, out); err != nil {
		return err
	}
	b.logger.Info().Str("output", outputName(b.cfg.Output)).Int("parameters", countParameters(out)).Msg("configuration written")
	return nil
}

func writeOutput(path string, out defaultconfig.Config) error {
	if path == "" || path == "-" {
		return defaultconfig.Write(os.Stdout, out)
	}
	return defaultconfig.WriteFile(path, out)
}

func outputName(path string) string {
	if path == "" {
		return "-"
	}
	return path
}

func countParameters(out defaultconfig.Config) int {
	if params := out.Parameters(); params != nil {
		return len(params)
	}
	return len(out)
}
