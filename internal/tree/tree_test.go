package tree

import (
	"errors"
	"testing"

	"github.com/PrajwalMundargi/codetogether-backend/pkg/models"
)

func TestValidPath(t *testing.T) {
	valid := []string{"main.js", "src/app.py", "a/b/c.txt", "no-ext", "dir.name/file"}
	for _, p := range valid {
		if !ValidPath(p) {
			t.Errorf("ValidPath(%q) = false, want true", p)
		}
	}
	invalid := []string{"", "/abs", "trailing/", "a//b", "./x", "a/../b", ".."}
	for _, p := range invalid {
		if ValidPath(p) {
			t.Errorf("ValidPath(%q) = true, want false", p)
		}
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"main.js":        "js",
		"src/app.PY":     "py",
		"noext":          "",
		"dir.v2/file":    "",
		"archive.tar.gz": "gz",
	}
	for path, want := range cases {
		if got := Extension(path); got != want {
			t.Errorf("Extension(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestCreateFileDefaultContent(t *testing.T) {
	tr := New()
	n, effects, err := tr.CreateFile("main.js")
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if n.Content != "// start typing...\n" {
		t.Errorf("content = %q", n.Content)
	}
	if n.Extension != "js" {
		t.Errorf("extension = %q", n.Extension)
	}
	if len(effects) != 1 || effects[0].Kind != EffectWriteFile || effects[0].Path != "main.js" {
		t.Errorf("unexpected effects %+v", effects)
	}

	if _, _, err := tr.CreateFile("main.js"); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate create: got %v, want ErrExists", err)
	}
	if _, _, err := tr.CreateFile("/abs.js"); !errors.Is(err, ErrBadPath) {
		t.Errorf("bad path: got %v, want ErrBadPath", err)
	}
}

func TestDeleteLastFile(t *testing.T) {
	tr := New()
	tr.CreateFile("main.js")
	if _, _, err := tr.Delete("main.js"); !errors.Is(err, ErrLastFile) {
		t.Fatalf("got %v, want ErrLastFile", err)
	}

	tr.CreateFile("other.py")
	kind, effects, err := tr.Delete("main.js")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if kind != models.TypeFile {
		t.Errorf("kind = %q", kind)
	}
	if len(effects) != 1 || effects[0].Kind != EffectRemove {
		t.Errorf("unexpected effects %+v", effects)
	}
	if tr.FileCount() != 1 {
		t.Errorf("FileCount = %d, want 1", tr.FileCount())
	}
}

func TestDeleteFolderRecursive(t *testing.T) {
	tr := New()
	tr.CreateFile("keep.js")
	tr.CreateFolder("src")
	tr.CreateFile("src/a.js")
	tr.CreateFile("src/deep/b.js")
	tr.CreateFolder("srcother")
	tr.CreateFile("srcother/c.js")

	kind, _, err := tr.Delete("src")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if kind != models.TypeFolder {
		t.Errorf("kind = %q", kind)
	}
	for _, gone := range []string{"src", "src/a.js", "src/deep/b.js"} {
		if _, ok := tr.Get(gone); ok {
			t.Errorf("%q survived folder delete", gone)
		}
	}
	// Sibling with the same name prefix is untouched.
	if _, ok := tr.Get("srcother/c.js"); !ok {
		t.Error("srcother/c.js was removed")
	}
}

func TestRenameFolderRekeysDescendants(t *testing.T) {
	tr := New()
	tr.CreateFile("main.js")
	tr.CreateFolder("src")
	tr.CreateFile("src/a.js")
	tr.CreateFile("src/sub/b.js")

	kind, moves, effects, err := tr.Rename("src", "lib")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if kind != models.TypeFolder {
		t.Errorf("kind = %q", kind)
	}
	want := map[string]string{
		"src":          "lib",
		"src/a.js":     "lib/a.js",
		"src/sub/b.js": "lib/sub/b.js",
	}
	for from, to := range want {
		if moves[from] != to {
			t.Errorf("moves[%q] = %q, want %q", from, moves[from], to)
		}
		if _, ok := tr.Get(to); !ok {
			t.Errorf("node %q missing after rename", to)
		}
		if _, ok := tr.Get(from); ok {
			t.Errorf("node %q still present after rename", from)
		}
	}
	if len(effects) != 1 || effects[0].Kind != EffectRename || !effects[0].IsDir {
		t.Errorf("unexpected effects %+v", effects)
	}
}

func TestRenameFileUpdatesExtension(t *testing.T) {
	tr := New()
	tr.CreateFile("script.js")
	if _, _, _, err := tr.Rename("script.js", "script.py"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	n, _ := tr.Get("script.py")
	if n.Extension != "py" {
		t.Errorf("extension = %q, want py", n.Extension)
	}
}

func TestRenameCollisionAndMissing(t *testing.T) {
	tr := New()
	tr.CreateFile("a.js")
	tr.CreateFile("b.js")
	if _, _, _, err := tr.Rename("a.js", "b.js"); !errors.Is(err, ErrExists) {
		t.Errorf("got %v, want ErrExists", err)
	}
	if _, _, _, err := tr.Rename("nope.js", "x.js"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMoveFolderIntoItself(t *testing.T) {
	tr := New()
	tr.CreateFile("main.js")
	tr.CreateFolder("src")
	tr.CreateFile("src/a.js")
	if _, _, _, err := tr.Move("src", "src/nested", models.TypeFolder); !errors.Is(err, ErrIntoSelf) {
		t.Errorf("got %v, want ErrIntoSelf", err)
	}
	// A file named like the folder prefix is fine.
	if _, _, _, err := tr.Move("main.js", "src/main.js", models.TypeFile); err != nil {
		t.Errorf("file move: %v", err)
	}
}

func TestToggle(t *testing.T) {
	tr := New()
	tr.CreateFolder("src")
	expanded, err := tr.Toggle("src")
	if err != nil || expanded {
		t.Fatalf("Toggle = (%v, %v), want (false, nil)", expanded, err)
	}
	expanded, _ = tr.Toggle("src")
	if !expanded {
		t.Error("second toggle should re-expand")
	}
	tr.CreateFile("a.js")
	if _, err := tr.Toggle("a.js"); !errors.Is(err, ErrNotFound) {
		t.Errorf("toggle on file: got %v, want ErrNotFound", err)
	}
}

func TestUpsert(t *testing.T) {
	tr := New()
	created, changed := tr.Upsert("gen.txt", "hello")
	if !created || !changed {
		t.Fatalf("first upsert = (%v, %v)", created, changed)
	}
	created, changed = tr.Upsert("gen.txt", "hello")
	if created || changed {
		t.Errorf("identical upsert = (%v, %v), want no-op", created, changed)
	}
	created, changed = tr.Upsert("gen.txt", "world")
	if created || !changed {
		t.Errorf("content upsert = (%v, %v)", created, changed)
	}
	n, _ := tr.Get("gen.txt")
	if n.Content != "world" || n.Extension != "txt" {
		t.Errorf("node = %+v", n)
	}
}

func TestFirstFileSkipsFolders(t *testing.T) {
	tr := New()
	tr.CreateFolder("src")
	if got := tr.FirstFile(); got != "" {
		t.Errorf("FirstFile on folder-only tree = %q", got)
	}
	tr.CreateFile("z.js")
	tr.CreateFile("a.js")
	if got := tr.FirstFile(); got != "z.js" {
		t.Errorf("FirstFile = %q, want insertion order z.js", got)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	tr := New()
	tr.CreateFile("main.js")
	snap := tr.Snapshot()
	snap["main.js"].Content = "mutated"
	n, _ := tr.Get("main.js")
	if n.Content == "mutated" {
		t.Error("snapshot shares node memory with the tree")
	}
}

func TestDefaultContentPerExtension(t *testing.T) {
	if got := DefaultContent("py"); got == "" {
		t.Error("py default content empty")
	}
	if got := DefaultContent("zig"); got != "// New file\n" {
		t.Errorf("unknown extension default = %q", got)
	}
}
