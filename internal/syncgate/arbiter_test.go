package syncgate

import (
	"testing"
	"time"
)

func TestClaimSuppressesOpposite(t *testing.T) {
	a := New(50 * time.Millisecond)
	if !a.Claim(OriginEditor, "ROOM", "main.js") {
		t.Fatal("first editor claim should succeed")
	}
	if a.Claim(OriginTerminal, "ROOM", "main.js") {
		t.Error("terminal claim should be suppressed by live editor token")
	}
	if a.Claim(OriginTerminalFolder, "ROOM", "main.js") {
		t.Error("terminal-folder claim should be suppressed by live editor token")
	}
}

func TestSameOriginNotSuppressed(t *testing.T) {
	a := New(50 * time.Millisecond)
	a.Claim(OriginEditor, "ROOM", "main.js")
	if !a.Claim(OriginEditor, "ROOM", "main.js") {
		t.Error("same-origin claim should pass")
	}
}

func TestClaimScopedByRoomAndPath(t *testing.T) {
	a := New(50 * time.Millisecond)
	a.Claim(OriginEditor, "ROOM", "main.js")
	if !a.Claim(OriginTerminal, "OTHER", "main.js") {
		t.Error("different room should not be suppressed")
	}
	if !a.Claim(OriginTerminal, "ROOM", "other.js") {
		t.Error("different path should not be suppressed")
	}
}

func TestTokenExpires(t *testing.T) {
	a := New(20 * time.Millisecond)
	a.Claim(OriginEditor, "ROOM", "main.js")

	deadline := time.After(time.Second)
	for {
		if a.Claim(OriginTerminal, "ROOM", "main.js") {
			return
		}
		select {
		case <-deadline:
			t.Fatal("terminal claim never succeeded after token TTL")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFolderVariantsOppose(t *testing.T) {
	a := New(50 * time.Millisecond)
	a.Claim(OriginEditorFolder, "ROOM", "src")
	if a.Claim(OriginTerminal, "ROOM", "src") {
		t.Error("terminal claim should be suppressed by editor-folder token")
	}
	if a.Claim(OriginTerminalFolder, "ROOM", "src") {
		t.Error("terminal-folder claim should be suppressed by editor-folder token")
	}
}

func TestHeld(t *testing.T) {
	a := New(50 * time.Millisecond)
	if a.Held(OriginEditor, "ROOM", "x") {
		t.Error("Held before any claim")
	}
	a.Claim(OriginEditor, "ROOM", "x")
	if !a.Held(OriginEditor, "ROOM", "x") {
		t.Error("Held after claim")
	}
}
