// Package tree implements the in-memory file tree for a single room.
//
// The tree is a flat mapping from slash-separated relative paths to nodes,
// kept in insertion order. Folder operations work by prefix scan. Mutating
// operations return side-effect descriptors that the caller applies to the
// room's working directory; the tree itself never touches the disk.
package tree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PrajwalMundargi/codetogether-backend/pkg/models"
)

var (
	ErrNotFound = errors.New("item not found")
	ErrExists   = errors.New("item already exists")
	ErrLastFile = errors.New("cannot delete the last file")
	ErrIntoSelf = errors.New("cannot move a folder into itself")
	ErrNotAFile = errors.New("not a file")
	ErrBadPath  = errors.New("invalid path")
)

// EffectKind identifies a working-directory side effect.
type EffectKind int

const (
	EffectWriteFile EffectKind = iota
	EffectMakeDir
	EffectRemove
	EffectRename
)

// Effect describes one side effect a mutation requires on disk.
type Effect struct {
	Kind    EffectKind
	Path    string
	To      string // rename target
	Content string // file writes
	IsDir   bool
}

// Tree holds the nodes of one room in insertion order.
type Tree struct {
	nodes map[string]*models.FileNode
	order []string
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{nodes: make(map[string]*models.FileNode)}
}

// ValidPath reports whether p is a well-formed relative path.
func ValidPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// Extension returns the lower-cased extension of a path's leaf, or "".
func Extension(p string) string {
	leaf := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		leaf = p[i+1:]
	}
	i := strings.LastIndex(leaf, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(leaf[i+1:])
}

// Get returns the node at path.
func (t *Tree) Get(path string) (*models.FileNode, bool) {
	n, ok := t.nodes[path]
	return n, ok
}

// Len returns the total node count.
func (t *Tree) Len() int { return len(t.order) }

// FileCount returns the number of file nodes.
func (t *Tree) FileCount() int {
	count := 0
	for _, p := range t.order {
		if t.nodes[p].IsFile() {
			count++
		}
	}
	return count
}

// FirstFile returns the earliest-inserted file path, or "".
func (t *Tree) FirstFile() string {
	for _, p := range t.order {
		if t.nodes[p].IsFile() {
			return p
		}
	}
	return ""
}

// Snapshot returns a deep copy of the path→node mapping for fan-out.
func (t *Tree) Snapshot() map[string]*models.FileNode {
	out := make(map[string]*models.FileNode, len(t.nodes))
	for p, n := range t.nodes {
		out[p] = n.Clone()
	}
	return out
}

func (t *Tree) insert(path string, n *models.FileNode) {
	t.nodes[path] = n
	t.order = append(t.order, path)
}

func (t *Tree) remove(path string) {
	delete(t.nodes, path)
	for i, p := range t.order {
		if p == path {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// rekey renames a node in place, preserving its insertion position.
func (t *Tree) rekey(oldPath, newPath string) {
	n := t.nodes[oldPath]
	delete(t.nodes, oldPath)
	t.nodes[newPath] = n
	for i, p := range t.order {
		if p == oldPath {
			t.order[i] = newPath
			return
		}
	}
}

// CreateFile inserts a file node with default content for its extension.
func (t *Tree) CreateFile(path string) (*models.FileNode, []Effect, error) {
	if !ValidPath(path) {
		return nil, nil, fmt.Errorf("%w: %q", ErrBadPath, path)
	}
	if _, ok := t.nodes[path]; ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrExists, path)
	}
	ext := Extension(path)
	n := &models.FileNode{
		Type:      models.TypeFile,
		Content:   DefaultContent(ext),
		Extension: ext,
	}
	t.insert(path, n)
	return n, []Effect{{Kind: EffectWriteFile, Path: path, Content: n.Content}}, nil
}

// CreateFolder inserts a folder node.
func (t *Tree) CreateFolder(path string) ([]Effect, error) {
	if !ValidPath(path) {
		return nil, fmt.Errorf("%w: %q", ErrBadPath, path)
	}
	if _, ok := t.nodes[path]; ok {
		return nil, fmt.Errorf("%w: %q", ErrExists, path)
	}
	t.insert(path, &models.FileNode{Type: models.TypeFolder, Expanded: true})
	return []Effect{{Kind: EffectMakeDir, Path: path, IsDir: true}}, nil
}

// Delete removes a node; folders lose every descendant. Returns the node
// type for the fan-out event. Deleting the last remaining file fails.
func (t *Tree) Delete(path string) (string, []Effect, error) {
	n, ok := t.nodes[path]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	if n.IsFile() && t.FileCount() == 1 {
		return "", nil, ErrLastFile
	}
	if n.IsFolder() {
		prefix := path + "/"
		for _, p := range append([]string(nil), t.order...) {
			if strings.HasPrefix(p, prefix) {
				t.remove(p)
			}
		}
	}
	t.remove(path)
	return n.Type, []Effect{{Kind: EffectRemove, Path: path, IsDir: n.IsFolder()}}, nil
}

// Rename moves a node to a new path. For folders every descendant is
// re-keyed in the same step. The returned map holds every old→new path
// pair for active-file tracking.
func (t *Tree) Rename(oldPath, newPath string) (string, map[string]string, []Effect, error) {
	n, ok := t.nodes[oldPath]
	if !ok {
		return "", nil, nil, fmt.Errorf("%w: %q", ErrNotFound, oldPath)
	}
	if !ValidPath(newPath) {
		return "", nil, nil, fmt.Errorf("%w: %q", ErrBadPath, newPath)
	}
	if _, ok := t.nodes[newPath]; ok {
		return "", nil, nil, fmt.Errorf("%w: %q", ErrExists, newPath)
	}

	moves := map[string]string{oldPath: newPath}
	if n.IsFolder() {
		prefix := oldPath + "/"
		for _, p := range t.order {
			if strings.HasPrefix(p, prefix) {
				moves[p] = newPath + "/" + p[len(prefix):]
			}
		}
	}
	for from, to := range moves {
		t.rekey(from, to)
	}
	if n.IsFile() {
		n.Extension = Extension(newPath)
	}
	effects := []Effect{{Kind: EffectRename, Path: oldPath, To: newPath, IsDir: n.IsFolder()}}
	return n.Type, moves, effects, nil
}

// Move relocates a node to targetPath. Moving a folder below itself fails.
func (t *Tree) Move(sourcePath, targetPath, kind string) (string, map[string]string, []Effect, error) {
	if kind == models.TypeFolder && strings.HasPrefix(targetPath, sourcePath+"/") {
		return "", nil, nil, ErrIntoSelf
	}
	return t.Rename(sourcePath, targetPath)
}

// Toggle flips a folder's expanded view hint.
func (t *Tree) Toggle(path string) (bool, error) {
	n, ok := t.nodes[path]
	if !ok || !n.IsFolder() {
		return false, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	n.Expanded = !n.Expanded
	return n.Expanded, nil
}

// SetContent replaces a file's content unconditionally.
func (t *Tree) SetContent(path, content string) ([]Effect, error) {
	n, ok := t.nodes[path]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	if !n.IsFile() {
		return nil, fmt.Errorf("%w: %q", ErrNotAFile, path)
	}
	n.Content = content
	return []Effect{{Kind: EffectWriteFile, Path: path, Content: content}}, nil
}

// Upsert inserts or updates a file node from a disk-originated change.
// It reports whether anything changed.
func (t *Tree) Upsert(path, content string) (created, changed bool) {
	if n, ok := t.nodes[path]; ok {
		if !n.IsFile() || n.Content == content {
			return false, false
		}
		n.Content = content
		return false, true
	}
	t.insert(path, &models.FileNode{
		Type:      models.TypeFile,
		Content:   content,
		Extension: Extension(path),
	})
	return true, true
}

// InsertFolder inserts a folder node from a disk-originated change.
func (t *Tree) InsertFolder(path string) bool {
	if _, ok := t.nodes[path]; ok {
		return false
	}
	t.insert(path, &models.FileNode{Type: models.TypeFolder, Expanded: true})
	return true
}
