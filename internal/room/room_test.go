package room

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/PrajwalMundargi/codetogether-backend/internal/hub"
	"github.com/PrajwalMundargi/codetogether-backend/internal/syncgate"
	"github.com/PrajwalMundargi/codetogether-backend/internal/tree"
	"github.com/PrajwalMundargi/codetogether-backend/pkg/protocol"
)

const testStability = 30 * time.Millisecond

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	f.frames = append(f.frames, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error { return nil }

// waitEvent polls the recorded frames for an event by name.
func (f *fakeConn) waitEvent(t *testing.T, event string) protocol.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		f.mu.Lock()
		for _, frame := range f.frames {
			var env protocol.Envelope
			if err := json.Unmarshal(frame, &env); err == nil && env.Event == event {
				f.mu.Unlock()
				return env
			}
		}
		f.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", event)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestManager(t *testing.T) (*Manager, *hub.Hub) {
	t.Helper()
	h := hub.New()
	arb := syncgate.New(100 * time.Millisecond)
	m := NewManager(t.TempDir(), testStability, arb, h)
	t.Cleanup(m.ReleaseAll)
	return m, h
}

func joinMember(t *testing.T, h *hub.Hub, roomCode, userID string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	c := hub.NewClient(userID, userID, conn)
	go c.Run()
	h.Join(roomCode, c)
	return conn
}

func TestMaterializeSeedsDefaultFile(t *testing.T) {
	m, _ := newTestManager(t)
	r, err := m.Materialize("SEED01")
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	files := r.Files()
	n, ok := files[DefaultFile]
	if !ok {
		t.Fatalf("default file missing, have %v", files)
	}
	if n.Content != "// start typing...\n" {
		t.Errorf("default content = %q", n.Content)
	}

	onDisk, err := os.ReadFile(filepath.Join(r.Root(), DefaultFile))
	if err != nil {
		t.Fatalf("default file not on disk: %v", err)
	}
	if string(onDisk) != n.Content {
		t.Errorf("disk content = %q", onDisk)
	}
}

func TestMaterializeIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	r1, err := m.Materialize("SAME01")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := m.Materialize("SAME01")
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Error("second materialize returned a different runtime")
	}
}

func TestCreateFileWritesDiskAndBroadcasts(t *testing.T) {
	m, h := newTestManager(t)
	r, _ := m.Materialize("ROOM01")
	conn := joinMember(t, h, "ROOM01", "u1")

	if err := r.CreateFile("src/app.py"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	conn.waitEvent(t, protocol.EventFileCreated)
	conn.waitEvent(t, protocol.EventFilesUpdate)

	if _, err := os.Stat(filepath.Join(r.Root(), "src", "app.py")); err != nil {
		t.Errorf("file not on disk: %v", err)
	}
}

func TestDeleteLastFileRejected(t *testing.T) {
	m, _ := newTestManager(t)
	r, _ := m.Materialize("ROOM02")
	if err := r.DeleteItem(DefaultFile); !errors.Is(err, tree.ErrLastFile) {
		t.Errorf("got %v, want ErrLastFile", err)
	}
}

func TestRenameShiftsActiveFile(t *testing.T) {
	m, h := newTestManager(t)
	r, _ := m.Materialize("ROOM03")
	conn := joinMember(t, h, "ROOM03", "u1")

	if got := r.ActivateFirst("u1"); got != DefaultFile {
		t.Fatalf("ActivateFirst = %q", got)
	}
	if err := r.RenameItem(DefaultFile, "index.js"); err != nil {
		t.Fatalf("RenameItem: %v", err)
	}
	if got := r.ActiveFile("u1"); got != "index.js" {
		t.Errorf("active file = %q, want index.js", got)
	}

	env := conn.waitEvent(t, protocol.EventActiveFileChanged)
	var payload protocol.ActiveFileChanged
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.FileName != "index.js" {
		t.Errorf("active-file-changed payload = %s", env.Data)
	}

	if _, err := os.Stat(filepath.Join(r.Root(), "index.js")); err != nil {
		t.Errorf("renamed file not on disk: %v", err)
	}
}

func TestCodeChangeNotifiesViewers(t *testing.T) {
	m, h := newTestManager(t)
	r, _ := m.Materialize("ROOM04")
	joinMember(t, h, "ROOM04", "author")
	viewer := joinMember(t, h, "ROOM04", "viewer")

	r.ActivateFirst("author")
	r.ActivateFirst("viewer")

	if err := r.CodeChange("author", DefaultFile, "let x = 1\n"); err != nil {
		t.Fatalf("CodeChange: %v", err)
	}

	env := viewer.waitEvent(t, protocol.EventFileContentUpdate)
	var payload protocol.FileContentUpdate
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Content != "let x = 1\n" {
		t.Errorf("content = %q", payload.Content)
	}

	onDisk, _ := os.ReadFile(filepath.Join(r.Root(), DefaultFile))
	if string(onDisk) != "let x = 1\n" {
		t.Errorf("disk content = %q", onDisk)
	}
}

func TestShellWriteSyncsIntoTree(t *testing.T) {
	m, h := newTestManager(t)
	r, _ := m.Materialize("ROOM05")
	conn := joinMember(t, h, "ROOM05", "u1")

	// Simulate a shell command writing a new file into the workdir.
	path := filepath.Join(r.Root(), "output.txt")
	if err := os.WriteFile(path, []byte("generated\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	env := conn.waitEvent(t, protocol.EventFileSynced)
	var payload protocol.FileSynced
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.FileName != "output.txt" || payload.Content != "generated\n" {
		t.Errorf("file-synced payload = %+v", payload)
	}

	if _, err := r.FileContent("output.txt"); err != nil {
		t.Errorf("synced file missing from tree: %v", err)
	}
}

func TestShellMkdirSyncsIntoTree(t *testing.T) {
	m, h := newTestManager(t)
	r, _ := m.Materialize("ROOM06")
	conn := joinMember(t, h, "ROOM06", "u1")

	if err := os.Mkdir(filepath.Join(r.Root(), "build"), 0o755); err != nil {
		t.Fatal(err)
	}

	env := conn.waitEvent(t, protocol.EventFolderCreated)
	var payload protocol.FolderCreated
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.FolderPath != "build" {
		t.Errorf("folder-created payload = %s", env.Data)
	}
}

func TestShellDeleteOfLastFileRestoresIt(t *testing.T) {
	m, _ := newTestManager(t)
	r, _ := m.Materialize("ROOM07")
	path := filepath.Join(r.Root(), DefaultFile)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	// The room must put its only file back on disk.
	deadline := time.After(3 * time.Second)
	for {
		if b, err := os.ReadFile(path); err == nil {
			if string(b) != "// start typing...\n" {
				t.Errorf("restored content = %q", b)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("last file was never restored on disk")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if _, err := r.FileContent(DefaultFile); err != nil {
		t.Errorf("last file missing from tree: %v", err)
	}
}

func TestShellDeleteRemovesFromTree(t *testing.T) {
	m, h := newTestManager(t)
	r, _ := m.Materialize("ROOM08")
	conn := joinMember(t, h, "ROOM08", "u1")

	if err := r.CreateFile("temp.txt"); err != nil {
		t.Fatal(err)
	}
	conn.waitEvent(t, protocol.EventFileCreated)

	// Let the editor-origin arbiter token lapse before the shell delete.
	time.Sleep(150 * time.Millisecond)

	if err := os.Remove(filepath.Join(r.Root(), "temp.txt")); err != nil {
		t.Fatal(err)
	}
	env := conn.waitEvent(t, protocol.EventItemDeleted)
	var payload protocol.ItemDeleted
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ItemPath != "temp.txt" {
		t.Errorf("item-deleted payload = %s", env.Data)
	}
	if _, err := r.FileContent("temp.txt"); err == nil {
		t.Error("deleted file still in tree")
	}
}

func TestReleaseRemovesWorkdir(t *testing.T) {
	m, _ := newTestManager(t)
	r, _ := m.Materialize("ROOM09")
	root := r.Root()

	m.Release("ROOM09")

	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("workdir survived release")
	}
	if _, ok := m.Get("ROOM09"); ok {
		t.Error("room still registered after release")
	}
}

func TestEnterBlocksConcurrentRelease(t *testing.T) {
	m, h := newTestManager(t)
	conn := &fakeConn{}
	c := hub.NewClient("u1", "u1", conn)
	go c.Run()

	r, err := m.Enter("ROOM11", c)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if !h.IsMember("ROOM11", "u1") {
		t.Fatal("Enter did not add the member")
	}

	// A release racing the join must leave the occupied runtime alone.
	m.Release("ROOM11")
	if _, ok := m.Get("ROOM11"); !ok {
		t.Fatal("room released while it still had a member")
	}
	if _, err := os.Stat(r.Root()); err != nil {
		t.Fatalf("workdir gone while room occupied: %v", err)
	}

	if n := m.Leave("ROOM11", "u1"); n != 0 {
		t.Fatalf("Leave = %d, want 0", n)
	}
	if _, ok := m.Get("ROOM11"); ok {
		t.Error("room still registered after last leave")
	}
	if _, err := os.Stat(r.Root()); !os.IsNotExist(err) {
		t.Error("workdir survived last leave")
	}
}

func TestLeaveKeepsRuntimeForRemainingMembers(t *testing.T) {
	m, _ := newTestManager(t)
	c1 := hub.NewClient("u1", "u1", &fakeConn{})
	c2 := hub.NewClient("u2", "u2", &fakeConn{})
	go c1.Run()
	go c2.Run()

	r, err := m.Enter("ROOM12", c1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Enter("ROOM12", c2); err != nil {
		t.Fatal(err)
	}

	if n := m.Leave("ROOM12", "u1"); n != 1 {
		t.Fatalf("Leave = %d, want 1", n)
	}
	if _, ok := m.Get("ROOM12"); !ok {
		t.Error("room torn down with a member still inside")
	}
	if _, err := os.Stat(r.Root()); err != nil {
		t.Errorf("workdir gone with a member still inside: %v", err)
	}
}

func TestSwitchFileUnknownPath(t *testing.T) {
	m, _ := newTestManager(t)
	r, _ := m.Materialize("ROOM10")
	if _, err := r.SwitchFile("u1", "ghost.js"); err == nil {
		t.Error("switch to missing file should fail")
	}
	content, err := r.SwitchFile("u1", DefaultFile)
	if err != nil || content == "" {
		t.Errorf("SwitchFile = (%q, %v)", content, err)
	}
}
