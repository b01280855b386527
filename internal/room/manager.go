package room

import (
	"errors"
	"sync"
	"time"

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

// Manager materializes and releases room runtimes.
type Manager struct {
	workRoot  string
	stability time.Duration
	arbiter   *syncgate.Arbiter
	hub       *hub.Hub

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewManager creates the room manager. workRoot is the parent directory
// for per-room working directories; stability is the watcher debounce
// window (zero picks the default).
func NewManager(workRoot string, stability time.Duration, arb *syncgate.Arbiter, h *hub.Hub) *Manager {
	return &Manager{
		workRoot:  workRoot,
		stability: stability,
		arbiter:   arb,
		hub:       h,
		rooms:     make(map[string]*Room),
	}
}

// Get returns an already materialized room.
func (m *Manager) Get(code string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	return r, ok
}

// Materialize returns the runtime for a room, creating the working
// directory, the default file, and the watcher on first access.
func (m *Manager) Materialize(code string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.materializeLocked(code)
}

// Enter materializes the room and adds the member to it in one step, so
// an Enter can never land on a runtime a concurrent Leave is tearing
// down.
func (m *Manager) Enter(code string, c *hub.Client) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.materializeLocked(code)
	if err != nil {
		return nil, err
	}
	m.hub.Join(code, c)
	return r, nil
}

// Leave removes a member from a room; the last one out tears the runtime
// down. Returns the remaining member count.
func (m *Manager) Leave(code, userID string) int {
	m.mu.Lock()
	remaining := m.hub.Leave(code, userID)
	var r *Room
	if remaining == 0 {
		r = m.rooms[code]
		delete(m.rooms, code)
		metrics.SetRoomsActive(len(m.rooms))
	}
	m.mu.Unlock()
	if r != nil {
		m.teardown(r)
	}
	return remaining
}

// materializeLocked creates the runtime on first access. Caller holds m.mu.
func (m *Manager) materializeLocked(code string) (*Room, error) {
	if r, ok := m.rooms[code]; ok {
		return r, nil
	}

	dir, err := workdir.New(m.workRoot, code)
	if err != nil {
		return nil, err
	}
	r := &Room{
		Code:    code,
		tree:    tree.New(),
		dir:     dir,
		active:  make(map[string]string),
		arbiter: m.arbiter,
		hub:     m.hub,
	}
	if err := r.seed(); err != nil {
		dir.Cleanup()
		return nil, err
	}

	// Watch only after the seed write so it produces no event.
	w, err := watcher.New(dir.Root(), m.stability)
	if err != nil {
		dir.Cleanup()
		return nil, err
	}
	r.watch = w
	go m.syncLoop(r)

	m.rooms[code] = r
	metrics.SetRoomsActive(len(m.rooms))
	logging.Info("room materialized",
		zap.String("room", code), zap.String("dir", dir.Root()))
	return r, nil
}

// Release tears a room down if it has no members. The membership check
// runs under the same mutex Enter and Leave use, so a member who got in
// first keeps the runtime alive.
func (m *Manager) Release(code string) {
	m.mu.Lock()
	if m.hub.MemberCount(code) > 0 {
		m.mu.Unlock()
		return
	}
	r, ok := m.rooms[code]
	if ok {
		delete(m.rooms, code)
		metrics.SetRoomsActive(len(m.rooms))
	}
	m.mu.Unlock()
	if ok {
		m.teardown(r)
	}
}

// ReleaseAll tears down every room regardless of membership (shutdown).
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.rooms = make(map[string]*Room)
	metrics.SetRoomsActive(0)
	m.mu.Unlock()
	for _, r := range rooms {
		m.teardown(r)
	}
}

// teardown stops the watcher and removes the working directory.
func (m *Manager) teardown(r *Room) {
	r.watch.Close()
	if err := r.dir.Cleanup(); err != nil {
		logging.Warn("workdir cleanup failed", zap.String("room", r.Code), zap.Error(err))
	}
	metrics.DropRoom(r.Code)
	logging.Info("room released", zap.String("room", r.Code))
}

// syncLoop feeds stabilized filesystem events into the room, so files
// created or changed by shell commands show up in every member's tree.
func (m *Manager) syncLoop(r *Room) {
	for {
		select {
		case ev := <-r.watch.Events():
			m.applyFSEvent(r, ev)
		case <-r.watch.Done():
			return
		}
	}
}

func (m *Manager) applyFSEvent(r *Room, ev watcher.Event) {
	switch ev.Op {
	case watcher.OpMkdir:
		if !m.arbiter.Claim(syncgate.OriginTerminalFolder, r.Code, ev.Path) {
			return
		}
		r.mu.Lock()
		created := r.tree.InsertFolder(ev.Path)
		r.trackTreeSize()
		snapshot := r.tree.Snapshot()
		r.mu.Unlock()
		if !created {
			return
		}
		r.hub.Broadcast(r.Code, protocol.EventFolderCreated, protocol.FolderCreated{FolderPath: ev.Path})
		r.hub.Broadcast(r.Code, protocol.EventFilesUpdate, snapshot)

	case watcher.OpWrite:
		content, err := r.dir.ReadFile(ev.Path)
		if err != nil {
			return
		}
		if !m.arbiter.Claim(syncgate.OriginTerminal, r.Code, ev.Path) {
			return
		}
		r.mu.Lock()
		_, changed := r.tree.Upsert(ev.Path, content)
		r.trackTreeSize()
		snapshot := r.tree.Snapshot()
		r.mu.Unlock()
		if !changed {
			return
		}
		r.hub.Broadcast(r.Code, protocol.EventFilesUpdate, snapshot)
		r.hub.Broadcast(r.Code, protocol.EventFileSynced,
			protocol.FileSynced{FileName: ev.Path, Content: content})

	case watcher.OpRemove:
		// fsnotify does not say whether the removed path was a directory;
		// the tree does.
		r.mu.Lock()
		node, ok := r.tree.Get(ev.Path)
		r.mu.Unlock()
		if !ok {
			return
		}
		origin := syncgate.OriginTerminal
		if node.IsFolder() {
			origin = syncgate.OriginTerminalFolder
		}
		if !m.arbiter.Claim(origin, r.Code, ev.Path) {
			return
		}

		r.mu.Lock()
		kind, _, err := r.tree.Delete(ev.Path)
		if errors.Is(err, tree.ErrLastFile) {
			content := node.Content
			r.mu.Unlock()
			// Rooms always keep at least one file; put it back on disk.
			if _, werr := r.dir.WriteFile(ev.Path, content); werr != nil {
				logging.Warn("last-file restore failed",
					zap.String("room", r.Code), zap.String("path", ev.Path), zap.Error(werr))
			}
			return
		}
		if err != nil {
			r.mu.Unlock()
			return
		}
		reassigned := r.reassignActiveLocked(ev.Path, kind == models.TypeFolder)
		r.trackTreeSize()
		snapshot := r.tree.Snapshot()
		r.mu.Unlock()

		r.hub.Broadcast(r.Code, protocol.EventItemDeleted, protocol.ItemDeleted{ItemPath: ev.Path, Type: kind})
		r.hub.Broadcast(r.Code, protocol.EventFilesUpdate, snapshot)
		r.notifyActive(reassigned)
	}
}
