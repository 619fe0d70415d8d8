package targets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"warf/config"

	"go.uber.org/zap"
)

// SourcePath is the file scanned for fuzz entry points, relative to the root directory.
const SourcePath = "targets/src/lib.rs"

// a target is any `pub fn fuzz_<name>(` in the source file
var entryPointRe = regexp.MustCompile(`pub fn fuzz_(\w+)\(`)

// Registry discovers fuzz targets. Every call reads the source again; nothing is cached.
type Registry struct {
	source string
	logger *zap.Logger
}

func NewRegistry(appConfig *config.AppConfig, logger *zap.Logger) *Registry {
	return &Registry{
		source: filepath.Join(appConfig.RootDir, SourcePath),
		logger: logger,
	}
}

// Source returns the path of the scanned file.
func (r *Registry) Source() string {
	return r.source
}

// Discover returns the target names in the order they appear in the source.
// Duplicates are kept.
func (r *Registry) Discover() ([]string, error) {
	content, err := os.ReadFile(r.source)
	if err != nil {
		return nil, &DiscoveryError{Path: r.source, Err: err}
	}

	names := ParseTargets(string(content))
	if len(names) == 0 {
		return nil, &DiscoveryError{Path: r.source}
	}
	r.logger.Debug("discovered fuzz targets", zap.String("source", r.source), zap.Strings("targets", names))
	return names, nil
}

// Validate checks name against a fresh discovery and returns the discovered set.
func (r *Registry) Validate(name string) ([]string, error) {
	names, err := r.Discover()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		suggestion, _ := Suggest(name, names)
		return nil, &UnknownTargetError{Name: name, Suggestion: suggestion}
	}
	return names, nil
}

// ParseTargets extracts every entry point name from source, first to last.
func ParseTargets(source string) []string {
	matches := entryPointRe.FindAllStringSubmatch(source, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

type DiscoveryError struct {
	Path string
	Err  error // nil when the file was read but had no entry points
}

func (e *DiscoveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no fuzz targets found in %s", e.Path)
	}
	return fmt.Sprintf("unable to read %s: %v", e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

type UnknownTargetError struct {
	Name       string
	Suggestion string // empty when nothing is close enough
}

func (e *UnknownTargetError) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("don't know target `%s`", e.Name)
	}
	return fmt.Sprintf("don't know target `%s`. Did you mean `%s`?", e.Name, e.Suggestion)
}
