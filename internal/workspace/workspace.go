package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"warf/config"
	"warf/internal/utils"

	"go.uber.org/zap"
)

const (
	// Placeholder is replaced by the target name in harness templates.
	Placeholder = "###TARGET###"

	TargetsDir   = "targets"
	WorkspaceDir = "workspace"
)

// Materializer builds the ephemeral workspace tree under <root>/workspace.
// It assumes a single warf process works on a given root at a time.
type Materializer struct {
	root         string
	skipExisting []string
	logger       *zap.Logger
}

func NewMaterializer(appConfig *config.AppConfig, logger *zap.Logger) *Materializer {
	return &Materializer{
		root:         appConfig.RootDir,
		skipExisting: appConfig.SkipExisting,
		logger:       logger,
	}
}

// Root returns the directory holding the static definitions.
func (m *Materializer) Root() string {
	return m.root
}

// Dir returns the top-level workspace directory.
func (m *Materializer) Dir() string {
	return filepath.Join(m.root, WorkspaceDir)
}

// SeedDir returns the shared seed corpus directory, creating it if needed.
func (m *Materializer) SeedDir() (string, error) {
	dir := filepath.Join(m.Dir(), "corpora", "wasm")
	if err := m.MkdirAll(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// PrepareTargetTree copies <root>/targets into the workspace. Files already present in the
// workspace are overwritten unless their path matches one of the skip-existing patterns.
func (m *Materializer) PrepareTargetTree() error {
	from := filepath.Join(m.root, TargetsDir)
	to := filepath.Join(m.Dir(), TargetsDir)
	if err := utils.CopyDir(from, to, m.keepExisting); err != nil {
		return &IOError{Op: "copy", Path: from, Err: err}
	}
	m.logger.Debug("target tree copied", zap.String("from", from), zap.String("to", to))
	return nil
}

// keepExisting reports whether any segment of rel matches a skip-existing pattern.
func (m *Materializer) keepExisting(rel string) bool {
	for _, segment := range strings.Split(rel, "/") {
		for _, pattern := range m.skipExisting {
			if ok, _ := filepath.Match(pattern, segment); ok {
				return true
			}
		}
	}
	return false
}

// Tree describes the part of a static definition directory copied into a work directory.
type Tree struct {
	DefinitionDir string
	WorkDir       string
	Files         []string // slash separated, relative to DefinitionDir
}

// PrepareBackendTree creates the work directory with its src/ subdirectory and copies the tree files.
func (m *Materializer) PrepareBackendTree(tree Tree) error {
	if err := m.MkdirAll(filepath.Join(tree.WorkDir, "src")); err != nil {
		return err
	}
	for _, file := range tree.Files {
		rel := filepath.FromSlash(file)
		if err := m.CopyFile(filepath.Join(tree.DefinitionDir, rel), filepath.Join(tree.WorkDir, rel)); err != nil {
			return err
		}
	}
	return nil
}

// InstantiateHarness writes the template at templatePath to outPath with every
// Placeholder replaced by target. Nothing else in the template is interpreted.
func (m *Materializer) InstantiateHarness(templatePath, outPath, target string) error {
	template, err := os.ReadFile(templatePath)
	if err != nil {
		return &IOError{Op: "read template", Path: templatePath, Err: err}
	}
	if err := m.MkdirAll(filepath.Dir(outPath)); err != nil {
		return err
	}

	source := strings.ReplaceAll(string(template), Placeholder, target)
	if err := os.WriteFile(outPath, []byte(source), 0644); err != nil {
		return &IOError{Op: "write harness", Path: outPath, Err: err}
	}
	m.logger.Debug("harness created", zap.String("target", target), zap.String("path", outPath))
	return nil
}

// ResetDir removes dir with its content and creates it again empty.
func (m *Materializer) ResetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return &IOError{Op: "remove", Path: dir, Err: err}
	}
	return m.MkdirAll(dir)
}

func (m *Materializer) MkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &IOError{Op: "create", Path: dir, Err: err}
	}
	return nil
}

func (m *Materializer) CopyFile(src, dst string) error {
	if err := m.MkdirAll(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := utils.CopyFile(src, dst); err != nil {
		return &IOError{Op: "copy", Path: src, Err: err}
	}
	return nil
}

// IOError is a filesystem failure while materializing the workspace.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("unable to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
