// Package workdir manages a room's on-disk scratch directory.
package workdir

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PrajwalMundargi/codetogether-backend/internal/tree"
)

// ErrBadPath is returned for paths that escape the working directory.
var ErrBadPath = errors.New("path escapes working directory")

// Dir is a room's working directory under the OS temp directory.
type Dir struct {
	root string
}

// New creates (if needed) the working directory for a room code.
func New(parent, roomCode string) (*Dir, error) {
	root := filepath.Join(parent, "compiler_"+roomCode)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the absolute directory path.
func (d *Dir) Root() string { return d.root }

func (d *Dir) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrBadPath, rel)
	}
	abs := filepath.Join(d.root, filepath.FromSlash(rel))
	if abs != d.root && !strings.HasPrefix(abs, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrBadPath, rel)
	}
	return abs, nil
}

// WriteFile writes content to rel, creating parent directories. The write
// is elided when the on-disk bytes already match, so a no-op update never
// produces a watcher event. Reports whether bytes were written.
func (d *Dir) WriteFile(rel, content string) (bool, error) {
	abs, err := d.resolve(rel)
	if err != nil {
		return false, err
	}
	if existing, err := os.ReadFile(abs); err == nil && bytes.Equal(existing, []byte(content)) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return false, fmt.Errorf("ensure parent: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", rel, err)
	}
	return true, nil
}

// ReadFile returns the current on-disk content of rel.
func (d *Dir) ReadFile(rel string) (string, error) {
	abs, err := d.resolve(rel)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MakeDir recursively creates a directory; idempotent.
func (d *Dir) MakeDir(rel string) error {
	abs, err := d.resolve(rel)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o755)
}

// Remove deletes rel, recursively for directories. Not-found is ignored.
func (d *Dir) Remove(rel string) error {
	abs, err := d.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// Rename moves source to target, ensuring the target parent exists.
func (d *Dir) Rename(source, target string) error {
	src, err := d.resolve(source)
	if err != nil {
		return err
	}
	dst, err := d.resolve(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("ensure target parent: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", source, target, err)
	}
	return nil
}

// Apply performs one tree side effect on disk. It reports whether the
// effect actually modified the filesystem.
func (d *Dir) Apply(e tree.Effect) (bool, error) {
	switch e.Kind {
	case tree.EffectWriteFile:
		return d.WriteFile(e.Path, e.Content)
	case tree.EffectMakeDir:
		return true, d.MakeDir(e.Path)
	case tree.EffectRemove:
		return true, d.Remove(e.Path)
	case tree.EffectRename:
		return true, d.Rename(e.Path, e.To)
	default:
		return false, fmt.Errorf("unknown effect kind %d", e.Kind)
	}
}

// Cleanup removes the entire working directory.
func (d *Dir) Cleanup() error {
	return os.RemoveAll(d.root)
}
