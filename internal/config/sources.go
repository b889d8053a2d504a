package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// SourceFiles returns the absolute, de-duplicated and sorted paths of the
// files a run reads: the configuration file, the schema and every override
// document. Directories are skipped.
func SourceFiles(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	candidates := append([]string{cfg.Source, cfg.Schema}, cfg.Overrides...)
	paths := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			candidate = abs
		}
		paths = append(paths, candidate)
	}
	slices.Sort(paths)
	return slices.Compact(paths)
}
