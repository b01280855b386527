// Package room owns the in-memory state of materialized rooms: the file
// tree, the on-disk working directory, the filesystem watcher, and the
// per-user active-file tracker.
//
// Every room has a single serialization domain (its mutex). Tree
// mutations and active-file updates happen under it; disk side effects
// and hub fan-out happen after it is released. Cross-room locks do not
// exist.
package room

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/PrajwalMundargi/codetogether-backend/internal/hub"
	"github.com/PrajwalMundargi/codetogether-backend/internal/logging"
	"github.com/PrajwalMundargi/codetogether-backend/internal/metrics"
	"github.com/PrajwalMundargi/codetogether-backend/internal/syncgate"
	"github.com/PrajwalMundargi/codetogether-backend/internal/tree"
	"github.com/PrajwalMundargi/codetogether-backend/internal/watcher"
	"github.com/PrajwalMundargi/codetogether-backend/internal/workdir"
	"github.com/PrajwalMundargi/codetogether-backend/pkg/models"
	"github.com/PrajwalMundargi/codetogether-backend/pkg/protocol"
)

// DefaultFile seeds every freshly materialized room.
const DefaultFile = "main.js"

// Room is one materialized room.
type Room struct {
	Code string

	mu     sync.Mutex
	tree   *tree.Tree
	dir    *workdir.Dir
	watch  *watcher.Watcher
	active map[string]string // userID → path

	arbiter *syncgate.Arbiter
	hub     *hub.Hub
}

// Root returns the absolute working directory path.
func (r *Room) Root() string { return r.dir.Root() }

// Files returns a deep copy of the file mapping.
func (r *Room) Files() map[string]*models.FileNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Snapshot()
}

// FileContent returns the in-memory content of a file.
func (r *Room) FileContent(path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.tree.Get(path)
	if !ok {
		return "", fmt.Errorf("%w: %q", tree.ErrNotFound, path)
	}
	if !n.IsFile() {
		return "", fmt.Errorf("%w: %q", tree.ErrNotAFile, path)
	}
	return n.Content, nil
}

// ActiveFile returns a user's active file path, or "".
func (r *Room) ActiveFile(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[userID]
}

// ActivateFirst points a user at the first file in insertion order and
// returns it.
func (r *Room) ActivateFirst(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	first := r.tree.FirstFile()
	r.active[userID] = first
	return first
}

// SwitchFile sets a user's active file and returns its content.
func (r *Room) SwitchFile(userID, path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.tree.Get(path)
	if !ok || !n.IsFile() {
		return "", fmt.Errorf("%w: %q", tree.ErrNotFound, path)
	}
	r.active[userID] = path
	return n.Content, nil
}

// ForgetUser drops a user's active-file entry on leave.
func (r *Room) ForgetUser(userID string) {
	r.mu.Lock()
	delete(r.active, userID)
	r.mu.Unlock()
}

// applyEffects performs disk side effects under editor-origin arbiter
// tokens. Effects whose path is claimed by the terminal side are dropped;
// that side already owns the change.
func (r *Room) applyEffects(effects []tree.Effect) error {
	var firstErr error
	for _, e := range effects {
		origin := syncgate.OriginEditor
		if e.IsDir {
			origin = syncgate.OriginEditorFolder
		}
		if !r.arbiter.Claim(origin, r.Code, e.Path) {
			continue
		}
		if _, err := r.dir.Apply(e); err != nil {
			logging.Error("workdir side effect failed",
				zap.String("room", r.Code),
				zap.String("path", e.Path),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Room) trackTreeSize() {
	metrics.SetTreeNodes(r.Code, r.tree.Len())
}

// CreateFile adds a file with default content and fans the change out.
func (r *Room) CreateFile(path string) error {
	r.mu.Lock()
	_, effects, err := r.tree.CreateFile(path)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.trackTreeSize()
	snapshot := r.tree.Snapshot()
	r.mu.Unlock()

	if err := r.applyEffects(effects); err != nil {
		// Tree stays authoritative; the next write retries.
		logging.Warn("create-file disk write failed", zap.String("room", r.Code), zap.Error(err))
	}
	r.hub.Broadcast(r.Code, protocol.EventFileCreated, protocol.FileCreated{FileName: path})
	r.hub.Broadcast(r.Code, protocol.EventFilesUpdate, snapshot)
	return nil
}

// CreateFolder adds a folder and fans the change out.
func (r *Room) CreateFolder(path string) error {
	r.mu.Lock()
	effects, err := r.tree.CreateFolder(path)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.trackTreeSize()
	snapshot := r.tree.Snapshot()
	r.mu.Unlock()

	if err := r.applyEffects(effects); err != nil {
		logging.Warn("create-folder mkdir failed", zap.String("room", r.Code), zap.Error(err))
	}
	r.hub.Broadcast(r.Code, protocol.EventFolderCreated, protocol.FolderCreated{FolderPath: path})
	r.hub.Broadcast(r.Code, protocol.EventFilesUpdate, snapshot)
	return nil
}

// DeleteItem removes a node (folders recursively), reassigns active files
// that pointed into the deleted subtree, and fans the change out.
func (r *Room) DeleteItem(path string) error {
	r.mu.Lock()
	kind, effects, err := r.tree.Delete(path)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	reassigned := r.reassignActiveLocked(path, kind == models.TypeFolder)
	r.trackTreeSize()
	snapshot := r.tree.Snapshot()
	r.mu.Unlock()

	if err := r.applyEffects(effects); err != nil {
		logging.Warn("delete disk removal failed", zap.String("room", r.Code), zap.Error(err))
	}
	r.hub.Broadcast(r.Code, protocol.EventItemDeleted, protocol.ItemDeleted{ItemPath: path, Type: kind})
	r.hub.Broadcast(r.Code, protocol.EventFilesUpdate, snapshot)
	r.notifyActive(reassigned)
	return nil
}

// reassignActiveLocked moves users whose active file fell inside a
// deleted path onto the first remaining file. Caller holds r.mu.
func (r *Room) reassignActiveLocked(deleted string, isFolder bool) map[string]string {
	moved := make(map[string]string)
	for userID, p := range r.active {
		hit := p == deleted
		if !hit && isFolder {
			hit = len(p) > len(deleted) && p[:len(deleted)+1] == deleted+"/"
		}
		if hit {
			first := r.tree.FirstFile()
			r.active[userID] = first
			moved[userID] = first
		}
	}
	return moved
}

func (r *Room) notifyActive(moved map[string]string) {
	for userID, p := range moved {
		r.hub.SendTo(userID, protocol.EventActiveFileChanged, protocol.ActiveFileChanged{FileName: p})
	}
}

// relocate implements rename and move: re-key the tree, rename on disk
// (rolling the tree back on failure), shift active files, fan out. The
// payload callback receives the node type for the outbound event.
func (r *Room) relocate(oldPath, newPath, kind string, event string, payload func(nodeType string) any) error {
	r.mu.Lock()
	var (
		nodeType string
		moves    map[string]string
		effects  []tree.Effect
		err      error
	)
	if kind == "" {
		nodeType, moves, effects, err = r.tree.Rename(oldPath, newPath)
	} else {
		nodeType, moves, effects, err = r.tree.Move(oldPath, newPath, kind)
	}
	if err != nil {
		r.mu.Unlock()
		return err
	}

	// Shift active files that follow the renamed path.
	reassigned := make(map[string]string)
	for userID, p := range r.active {
		if to, ok := moves[p]; ok {
			r.active[userID] = to
			reassigned[userID] = to
		}
	}
	snapshot := r.tree.Snapshot()
	r.mu.Unlock()

	if diskErr := r.applyEffects(effects); diskErr != nil {
		// Roll the logical rename back so tree and disk stay aligned.
		r.mu.Lock()
		if _, _, _, rbErr := r.tree.Rename(newPath, oldPath); rbErr != nil {
			logging.Error("rename rollback failed",
				zap.String("room", r.Code), zap.Error(rbErr))
		}
		for userID, p := range r.active {
			if p == newPath || (len(p) > len(newPath) && p[:len(newPath)+1] == newPath+"/") {
				r.active[userID] = oldPath + p[len(newPath):]
			}
		}
		r.mu.Unlock()
		return fmt.Errorf("rename failed on disk: %w", diskErr)
	}

	r.hub.Broadcast(r.Code, event, payload(nodeType))
	r.hub.Broadcast(r.Code, protocol.EventFilesUpdate, snapshot)
	r.notifyActive(reassigned)
	return nil
}

// RenameItem renames a file or folder.
func (r *Room) RenameItem(oldPath, newPath string) error {
	return r.relocate(oldPath, newPath, "", protocol.EventItemRenamed, func(nodeType string) any {
		return protocol.ItemRenamed{OldPath: oldPath, NewPath: newPath, Type: nodeType}
	})
}

// MoveItem relocates a file or folder to a new path.
func (r *Room) MoveItem(sourcePath, targetPath, itemType string) error {
	return r.relocate(sourcePath, targetPath, itemType, protocol.EventItemMoved, func(string) any {
		return protocol.ItemMoved{SourcePath: sourcePath, TargetPath: targetPath, ItemType: itemType}
	})
}

// ToggleFolder flips a folder's expanded hint and fans it out.
func (r *Room) ToggleFolder(path string) error {
	r.mu.Lock()
	expanded, err := r.tree.Toggle(path)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.hub.Broadcast(r.Code, protocol.EventFolderToggled,
		protocol.FolderToggled{FolderPath: path, IsExpanded: expanded})
	return nil
}

// CodeChange replaces a file's content, writes it through to disk, and
// delivers the new content to every other member viewing that file.
func (r *Room) CodeChange(userID, path, content string) error {
	r.mu.Lock()
	effects, err := r.tree.SetContent(path, content)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	viewers := make([]string, 0, len(r.active))
	for uid, p := range r.active {
		if uid != userID && p == path {
			viewers = append(viewers, uid)
		}
	}
	r.mu.Unlock()

	if err := r.applyEffects(effects); err != nil {
		logging.Warn("code-change disk write failed",
			zap.String("room", r.Code), zap.String("path", path), zap.Error(err))
	}
	for _, uid := range viewers {
		r.hub.SendTo(uid, protocol.EventFileContentUpdate,
			protocol.FileContentUpdate{FileName: path, Content: content})
	}
	return nil
}

// FlushFile writes a file's current in-memory content to disk, bypassing
// the arbiter. Used before run commands so the shell sees fresh bytes.
func (r *Room) FlushFile(path string) error {
	content, err := r.FileContent(path)
	if err != nil {
		return err
	}
	// Claim an editor token so the resulting watcher event is not echoed
	// back into the tree.
	r.arbiter.Claim(syncgate.OriginEditor, r.Code, path)
	_, err = r.dir.WriteFile(path, content)
	return err
}

// seed creates the default file for a fresh room. It runs before the
// watcher starts, so the disk write needs no arbiter token.
func (r *Room) seed() error {
	r.mu.Lock()
	_, effects, err := r.tree.CreateFile(DefaultFile)
	if err != nil && !errors.Is(err, tree.ErrExists) {
		r.mu.Unlock()
		return err
	}
	r.trackTreeSize()
	r.mu.Unlock()
	for _, e := range effects {
		if _, err := r.dir.Apply(e); err != nil {
			return err
		}
	}
	return nil
}
