package migrate

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mandelsoft/vfs/pkg/vfs"
)

// Validation error codes reported by ValidateStructure.
const (
	ValidationInvalidFilename = "invalid-filename"
	ValidationOrphanedDown    = "orphaned-down"
	ValidationNameMismatch    = "name-mismatch"
)

// ValidationError describes a structural problem with the migrations
// directory tree. Structural errors are detected before any database
// interaction and never mutate anything.
type ValidationError struct {
	Path    string
	Code    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Discovery scans a migrations directory tree for versioned SQL change-sets.
type Discovery struct {
	fs     vfs.FileSystem
	logger *slog.Logger
}

// NewDiscovery returns a Discovery over the given filesystem.
func NewDiscovery(fsys vfs.FileSystem, logger *slog.Logger) *Discovery {
	return &Discovery{fs: fsys, logger: logger.With("component", "discovery")}
}

// Discover scans basePath for migration files, pairs up and down files, and
// returns a flat list of valid migration records in ascending version order.
// Files that fail structural validation are silently excluded; use
// ValidateStructure to surface them. If moduleFilter is non-empty, only that
// module's migrations are returned.
func (d *Discovery) Discover(basePath, moduleFilter string) ([]*File, error) {
	pairs, _, err := d.scan(basePath, moduleFilter)
	if err != nil {
		return nil, err
	}

	var files []*File
	for _, p := range pairs {
		if p.up == nil {
			// Orphaned down file; surfaced by ValidateStructure.
			continue
		}
		if p.down != nil && p.down.Name != p.up.Name {
			continue
		}
		p.up.HasDown = p.down != nil
		files = append(files, p.up)
		if p.down != nil {
			files = append(files, p.down)
		}
	}

	SortFiles(files)

	d.logger.Debug("discovered migrations",
		"base_path", basePath, "module_filter", moduleFilter, "count", len(files))

	return files, nil
}

// ReadFile reads and parses a single migration file. The module is derived
// from the file's parent directory name.
func (d *Discovery) ReadFile(path string) (*File, error) {
	parsed, err := ParseFilename(filepath.Base(path))
	if err != nil {
		return nil, err
	}

	content, err := vfs.ReadFile(d.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed reading migration file '%s': %w", path, err)
	}

	dir := DirectionUp
	if parsed.Down {
		dir = DirectionDown
	}

	return &File{
		Version:   parsed.Version,
		Name:      parsed.Name,
		Module:    filepath.Base(filepath.Dir(path)),
		Content:   string(content),
		Checksum:  Checksum(content),
		Direction: dir,
	}, nil
}

// ListModules returns the names of all module directories under basePath, in
// lexicographic order.
func (d *Discovery) ListModules(basePath string) ([]string, error) {
	entries, err := vfs.ReadDir(d.fs, basePath)
	if err != nil {
		return nil, fmt.Errorf("failed reading migrations directory '%s': %w", basePath, err)
	}

	var modules []string
	for _, entry := range entries {
		if entry.IsDir() {
			modules = append(modules, entry.Name())
		}
	}
	sort.Strings(modules)

	return modules, nil
}

// ValidateStructure checks the migrations directory tree for structural
// problems: filenames that don't match the naming convention, orphaned down
// files, and up/down pairs whose names differ.
func (d *Discovery) ValidateStructure(basePath string) ([]ValidationError, error) {
	pairs, verrs, err := d.scan(basePath, "")
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		p := pairs[key]
		switch {
		case p.up == nil && p.down != nil:
			verrs = append(verrs, ValidationError{
				Path: p.downPath,
				Code: ValidationOrphanedDown,
				Message: fmt.Sprintf("down migration '%s' has no corresponding up migration",
					filepath.Base(p.downPath)),
			})
		case p.up != nil && p.down != nil && p.up.Name != p.down.Name:
			verrs = append(verrs, ValidationError{
				Path: p.downPath,
				Code: ValidationNameMismatch,
				Message: fmt.Sprintf("down migration name '%s' doesn't match up migration name '%s'",
					p.down.Name, p.up.Name),
			})
		}
	}

	return verrs, nil
}

// pair groups the up and down files of a single (module, version).
type pair struct {
	up, down         *File
	upPath, downPath string
}

// scan enumerates migration files exactly two levels deep ({module}/{file})
// under basePath, keeping only *.sql files, and groups them by
// (module, version). Parse failures are collected as validation errors.
func (d *Discovery) scan(basePath, moduleFilter string) (map[string]*pair, []ValidationError, error) {
	entries, err := vfs.ReadDir(d.fs, basePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed reading migrations directory '%s': %w", basePath, err)
	}

	pairs := make(map[string]*pair)
	var verrs []ValidationError

	for _, moduleEntry := range entries {
		if !moduleEntry.IsDir() {
			continue
		}
		module := moduleEntry.Name()
		if moduleFilter != "" && module != moduleFilter {
			continue
		}

		moduleDir := filepath.Join(basePath, module)
		files, err := vfs.ReadDir(d.fs, moduleDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed reading module directory '%s': %w", moduleDir, err)
		}

		for _, entry := range files {
			// Only files exactly two levels deep are considered.
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
				continue
			}

			path := filepath.Join(moduleDir, entry.Name())
			f, err := d.ReadFile(path)
			if err != nil {
				verrs = append(verrs, ValidationError{
					Path:    path,
					Code:    ValidationInvalidFilename,
					Message: err.Error(),
				})
				continue
			}

			key := fmt.Sprintf("%s/%s", module, f.Version)
			p, ok := pairs[key]
			if !ok {
				p = &pair{}
				pairs[key] = p
			}
			if f.Direction == DirectionDown {
				p.down, p.downPath = f, path
			} else {
				p.up, p.upPath = f, path
			}
		}
	}

	return pairs, verrs, nil
}
