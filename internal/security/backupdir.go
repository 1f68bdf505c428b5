package security

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrPathEscapes  = errors.New("path escapes backup directory")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
)

// BackupExt is the extension given to backup files
const BackupExt = ".duit"

// Dir provides file operations confined to one directory using the os.Root
// API. Backups are read and written only through it.
type Dir struct {
	root *os.Root
	path string
}

// OpenDir creates the directory if needed and opens it as a root
func OpenDir(path string) (*Dir, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup directory: %w", err)
	}
	return &Dir{root: root, path: absPath}, nil
}

// Close releases the root
func (d *Dir) Close() error {
	if d.root != nil {
		return d.root.Close()
	}
	return nil
}

// Path returns the absolute directory path
func (d *Dir) Path() string {
	return d.path
}

// ValidateAndNormalize validates a user-provided name and returns it cleaned
// and slash-separated. It rejects:
// - Empty names
// - Absolute paths
// - Names that escape the directory (using ..)
// - Windows reserved names (CON, NUL, etc.)
func (d *Dir) ValidateAndNormalize(name string) (string, error) {
	if name == "" {
		return "", ErrEmptyPath
	}

	if !filepath.IsLocal(name) {
		if filepath.IsAbs(name) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, name)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}

	cleanPath := filepath.Clean(name)
	if !filepath.IsLocal(cleanPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, cleanPath)
	}

	relPath, err := filepath.Rel(d.path, filepath.Join(d.path, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}

	return filepath.ToSlash(relPath), nil
}

// WriteFile writes data to name inside the directory with 0600 permissions
func (d *Dir) WriteFile(name string, data []byte) error {
	clean, err := d.ValidateAndNormalize(filepath.FromSlash(name))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	f, err := d.root.OpenFile(filepath.FromSlash(clean), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads name from inside the directory
func (d *Dir) ReadFile(name string) ([]byte, error) {
	clean, err := d.ValidateAndNormalize(filepath.FromSlash(name))
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	f, err := d.root.Open(filepath.FromSlash(clean))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Stat stats name inside the directory
func (d *Dir) Stat(name string) (os.FileInfo, error) {
	clean, err := d.ValidateAndNormalize(filepath.FromSlash(name))
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return d.root.Stat(filepath.FromSlash(clean))
}

// List returns the backup files in the directory, oldest name first
func (d *Dir) List() ([]string, error) {
	entries, err := fs.ReadDir(d.root.FS(), ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), BackupExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
