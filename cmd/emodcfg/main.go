// Command emodcfg builds simulation configuration files from a model schema,
// optional override documents and KEY=VALUE assignments.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kfrey-idm/emod-api-sub000/errkind"
	"github.com/kfrey-idm/emod-api-sub000/internal/config"
	"github.com/kfrey-idm/emod-api-sub000/internal/logging"
	"github.com/kfrey-idm/emod-api-sub000/internal/reload"
	"github.com/kfrey-idm/emod-api-sub000/overrides"
	"github.com/kfrey-idm/emod-api-sub000/telemetry"
)

const metricsPath = "/metrics"

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

type cliFlags struct {
	configPath    string
	schema        string
	model         string
	class         string
	out           string
	flatten       string
	watch         bool
	interval      time.Duration
	metricsListen string
	overrides     stringList
	set           stringList
}

func main() {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to the tool configuration file")
	flag.StringVar(&f.schema, "schema", "", "Path to the schema document")
	flag.StringVar(&f.model, "model", "", "Simulation type of the generated configuration")
	flag.StringVar(&f.class, "class", "", "Build the default of a single schema type instead of a configuration")
	flag.StringVar(&f.out, "out", "", "Output file; stdout when empty")
	flag.StringVar(&f.flatten, "flatten", "", "Merge an override document with its Default_Config_Path and exit")
	flag.BoolVar(&f.watch, "watch", false, "Rebuild whenever the schema or override files change")
	flag.DurationVar(&f.interval, "interval", 0, "Polling interval in watch mode")
	flag.StringVar(&f.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
	flag.Var(&f.overrides, "override", "Override document (repeatable)")
	flag.Var(&f.set, "set", "KEY=VALUE assignment (repeatable)")
	flag.Parse()

	cfg, err := loadConfig(f)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	if f.flatten != "" {
		if err := flatten(f.flatten, cfg.Output, logger); err != nil {
			fail(logger, cleanup, err, "failed to flatten overrides")
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		fail(logger, cleanup, err, "invalid configuration")
	}

	collector := newTelemetryCollector(cfg.Telemetry, logger)
	b := newBuilder(cfg, logger, collector)

	if !cfg.Watch.Enabled {
		if err := b.buildAndWrite(); err != nil {
			fail(logger, cleanup, err, "failed to build configuration")
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Telemetry.Listen != "" {
		go serveMetrics(ctx, cfg.Telemetry.Listen, logger)
	}
	if err := runWatch(ctx, f, b); err != nil && !errors.Is(err, context.Canceled) {
		fail(logger, cleanup, err, "watch stopped")
	}
}

func fail(logger zerolog.Logger, cleanup func(), err error, msg string) {
	logger.Error().Err(err).Str("kind", string(errkind.KindOf(err))).Msg(msg)
	cleanup()
	os.Exit(1)
}

// loadConfig reads the configuration file, if any, and lets explicitly
// given flags override it.
func loadConfig(f cliFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.Load(f.configPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, f); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, f cliFlags) error {
	if f.schema != "" {
		cfg.Schema = f.schema
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.class != "" {
		cfg.Class = f.class
	}
	if f.out != "" {
		cfg.Output = f.out
	}
	if f.watch {
		cfg.Watch.Enabled = true
	}
	if f.interval > 0 {
		cfg.Watch.Interval = config.Duration{Duration: f.interval}
	}
	if f.metricsListen != "" {
		cfg.Telemetry.Listen = f.metricsListen
	}
	cfg.Overrides = append(cfg.Overrides, f.overrides...)
	for _, assignment := range f.set {
		key, value, found := strings.Cut(assignment, "=")
		if !found || strings.TrimSpace(key) == "" {
			return fmt.Errorf("-set %q: %w", assignment, overrides.ErrInvalidAssignment)
		}
		if cfg.Set == nil {
			cfg.Set = make(map[string]string)
		}
		cfg.Set[strings.TrimSpace(key)] = value
	}
	return nil
}

func flatten(path, output string, logger zerolog.Logger) error {
	out, err := overrides.FlattenFile(path, overrides.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := writeOutput(output, out); err != nil {
		return err
	}
	logger.Info().Str("overrides", path).Str("output", outputName(output)).Int("parameters", countParameters(out)).Msg("overrides flattened")
	return nil
}

func newTelemetryCollector(cfg config.TelemetryConfig, logger zerolog.Logger) telemetry.Collector {
	if cfg.Listen == "" {
		return telemetry.Noop()
	}
	collector, err := telemetry.NewPrometheusCollector(nil)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		return telemetry.Noop()
	}
	return collector
}

func serveMetrics(ctx context.Context, listen string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Str("listen", listen).Str("path", metricsPath).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}

// runWatch builds once and then rebuilds whenever a source file changes. A
// changed tool configuration file is re-read before rebuilding. Build errors
// are logged and the previous output is left in place.
func runWatch(ctx context.Context, f cliFlags, b *builder) error {
	logger := b.logger
	if err := b.buildAndWrite(); err != nil {
		logger.Error().Err(err).Str("kind", string(errkind.KindOf(err))).Msg("build failed; waiting for changes")
	}

	watcher, err := reload.NewWatcher(b.cfg)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	logger.Info().Strs("files", watcher.Files()).Dur("interval", b.cfg.WatchInterval()).Msg("watching for changes")

	ticker := time.NewTicker(b.cfg.WatchInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			changes, err := watcher.Check()
			if err != nil {
				logger.Error().Err(err).Msg("failed to check for changes")
				continue
			}
			if len(changes) == 0 {
				continue
			}
			for _, file := range changes {
				b.collector.IncHotReload(file)
			}
			logger.Info().Strs("files", changes).Msg("sources changed; rebuilding")

			if f.configPath != "" && contains(changes, b.cfg.Source) {
				cfg, err := loadConfig(f)
				if err != nil {
					logger.Error().Err(err).Msg("failed to reload configuration")
				} else {
					b.cfg = cfg
				}
			}
			b.store.Invalidate()
			if err := b.buildAndWrite(); err != nil {
				logger.Error().Err(err).Str("kind", string(errkind.KindOf(err))).Msg("rebuild failed")
			}
			if err := watcher.Update(b.cfg); err != nil {
				logger.Error().Err(err).Msg("failed to update watcher state")
			}
		}
	}
}

func contains(paths []string, target string) bool {
	if target == "" {
		return false
	}
	if abs, err := filepath.Abs(target); err == nil {
		target = abs
	}
	for _, path := range paths {
		if path == target {
			return true
		}
	}
	return false
}
