// Package syncgate breaks the reflection loop between editor-originated and
// shell-originated writes to the same path.
//
// Each side claims a short-lived token before writing. A claim fails while
// the opposite side holds a live token for the same room and path, which
// means the opposite side already owns that change and echoing it back
// would ping-pong forever. Tokens expire on their own; write echoes that
// outlive a token are still caught by the content diff on both sides, so
// the tokens mainly guard the remove and mkdir echoes, which fire with no
// stabilization delay.
package syncgate

import (
	"sync"
	"time"

	"github.com/PrajwalMundargi/codetogether-backend/internal/metrics"
)

// Origin identifies which side of the sync performs a write.
type Origin string

const (
	OriginEditor         Origin = "editor"
	OriginTerminal       Origin = "terminal"
	OriginEditorFolder   Origin = "editor-folder"
	OriginTerminalFolder Origin = "terminal-folder"
)

// opposites maps each origin to the origins whose live tokens suppress it.
var opposites = map[Origin][]Origin{
	OriginEditor:         {OriginTerminal, OriginTerminalFolder},
	OriginEditorFolder:   {OriginTerminal, OriginTerminalFolder},
	OriginTerminal:       {OriginEditor, OriginEditorFolder},
	OriginTerminalFolder: {OriginEditor, OriginEditorFolder},
}

// DefaultTTL is how long a claimed token suppresses the opposite side.
const DefaultTTL = 300 * time.Millisecond

// Arbiter owns the active sync-token set.
type Arbiter struct {
	mu     sync.Mutex
	tokens map[string]struct{}
	ttl    time.Duration
}

// New creates an arbiter. A zero ttl selects DefaultTTL.
func New(ttl time.Duration) *Arbiter {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Arbiter{
		tokens: make(map[string]struct{}),
		ttl:    ttl,
	}
}

func key(origin Origin, room, path string) string {
	return string(origin) + "-" + room + "-" + path
}

// Claim attempts to take the write for (room, path) on behalf of origin.
// It returns false when the opposite side holds a live token, in which
// case the caller must drop the operation. On success the token is
// recorded and cleared automatically after the TTL.
func (a *Arbiter) Claim(origin Origin, room, path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, opp := range opposites[origin] {
		if _, held := a.tokens[key(opp, room, path)]; held {
			metrics.RecordSyncSuppressed(string(origin))
			return false
		}
	}

	k := key(origin, room, path)
	a.tokens[k] = struct{}{}
	time.AfterFunc(a.ttl, func() {
		a.mu.Lock()
		delete(a.tokens, k)
		a.mu.Unlock()
	})
	return true
}

// Held reports whether a token for (origin, room, path) is currently live.
func (a *Arbiter) Held(origin Origin, room, path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.tokens[key(origin, room, path)]
	return ok
}
