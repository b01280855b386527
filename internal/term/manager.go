// Package term manages per-user interactive shell sessions on
// pseudo-terminals pinned to a room's working directory.
package term

import (
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/PrajwalMundargi/codetogether-backend/internal/logging"
	"github.com/PrajwalMundargi/codetogether-backend/internal/metrics"
)

const (
	defaultCols = 80
	defaultRows = 30

	// respawnDelay is how long after an unexpected shell exit a fresh one
	// is started for the same user.
	respawnDelay = time.Second
)

// exitBanner is written to the owning user when their shell dies.
const exitBanner = "\r\n\x1b[1;31mTerminal session ended\x1b[0m\r\n"

// Options configures a Manager.
type Options struct {
	// Shell overrides the platform default shell.
	Shell string
	// Output delivers shell output to the single owning user.
	Output func(userID string, data []byte)
	// StillMember gates respawn: a shell is only restarted while its
	// owner still belongs to the room.
	StillMember func(userID, room string) bool
	// RespawnDelay overrides the default respawn delay (tests).
	RespawnDelay time.Duration
}

// Session is one user's shell process.
type Session struct {
	userID string
	room   string
	dir    string
	cmd    *exec.Cmd
	ptmx   *os.File
	cols   uint16
	rows   uint16
	killed bool
}

// Manager owns every live PTY session, keyed by user ID. A session is
// never shared between users, even within the same room.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     Options
}

// NewManager creates a PTY manager.
func NewManager(opts Options) *Manager {
	if opts.Shell == "" {
		opts.Shell = defaultShell()
	}
	if opts.RespawnDelay == 0 {
		opts.RespawnDelay = respawnDelay
	}
	if opts.Output == nil {
		opts.Output = func(string, []byte) {}
	}
	if opts.StillMember == nil {
		opts.StillMember = func(string, string) bool { return false }
	}
	return &Manager{
		sessions: make(map[string]*Session),
		opts:     opts,
	}
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	return "bash"
}

// Spawn starts a shell for a user in the room's working directory. A user
// that already has a session keeps it.
func (m *Manager) Spawn(userID, room, dir string) error {
	m.mu.Lock()
	if _, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return nil
	}

	cmd := exec.Command(m.opts.Shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"FORCE_COLOR=1",
	)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: defaultCols, Rows: defaultRows}); err != nil {
		logging.Debug("initial pty resize failed", zap.Error(err))
	}

	s := &Session{
		userID: userID,
		room:   room,
		dir:    dir,
		cmd:    cmd,
		ptmx:   ptmx,
		cols:   defaultCols,
		rows:   defaultRows,
	}
	m.sessions[userID] = s
	metrics.SetPTYSessionsActive(len(m.sessions))
	m.mu.Unlock()

	logging.Info("shell spawned",
		zap.String("user", userID),
		zap.String("room", room),
		zap.String("shell", m.opts.Shell))

	go m.reader(s)
	return nil
}

// reader pumps shell output to the owning user until the shell exits.
func (m *Manager) reader(s *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			m.opts.Output(s.userID, out)
		}
		if err != nil {
			break
		}
	}
	_ = s.cmd.Wait()
	m.handleExit(s)
}

// handleExit removes a dead session and schedules a respawn unless the
// session was killed on purpose or the owner has left the room.
func (m *Manager) handleExit(s *Session) {
	m.mu.Lock()
	if m.sessions[s.userID] != s {
		// Already replaced or removed.
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.userID)
	metrics.SetPTYSessionsActive(len(m.sessions))
	killed := s.killed
	m.mu.Unlock()

	if killed {
		return
	}

	logging.Warn("shell exited unexpectedly",
		zap.String("user", s.userID), zap.String("room", s.room))
	m.opts.Output(s.userID, []byte(exitBanner))

	time.AfterFunc(m.opts.RespawnDelay, func() {
		if !m.opts.StillMember(s.userID, s.room) {
			return
		}
		if err := m.Spawn(s.userID, s.room, s.dir); err != nil {
			logging.Error("shell respawn failed",
				zap.String("user", s.userID), zap.Error(err))
			return
		}
		metrics.RecordPTYRespawn()
	})
}

func (m *Manager) session(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// HasSession reports whether a user has a live shell.
func (m *Manager) HasSession(userID string) bool {
	_, ok := m.session(userID)
	return ok
}

// Write forwards raw input bytes to a user's shell.
func (m *Manager) Write(userID string, data []byte) error {
	s, ok := m.session(userID)
	if !ok {
		return ErrNoSession
	}
	_, err := s.ptmx.Write(data)
	return err
}

// ExecuteCommand types a command line into the shell followed by CR.
func (m *Manager) ExecuteCommand(userID, commandLine string) error {
	return m.Write(userID, []byte(commandLine+"\r"))
}

// Interrupt sends ^C through the controlling terminal, delivering SIGINT
// to the foreground process group.
func (m *Manager) Interrupt(userID string) error {
	return m.Write(userID, []byte{0x03})
}

// Resize changes the terminal geometry. Transient errors are swallowed.
func (m *Manager) Resize(userID string, cols, rows int) {
	s, ok := m.session(userID)
	if !ok {
		return
	}
	if cols <= 0 || rows <= 0 {
		return
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		logging.Debug("pty resize failed", zap.String("user", userID), zap.Error(err))
		return
	}
	m.mu.Lock()
	s.cols, s.rows = uint16(cols), uint16(rows)
	m.mu.Unlock()
}

// RunFile types the compile/execute command for a file into the shell.
func (m *Manager) RunFile(userID, path string) error {
	commandLine, err := CommandFor(path)
	if err != nil {
		return err
	}
	return m.ExecuteCommand(userID, commandLine)
}

// Kill terminates a user's shell without triggering a respawn.
func (m *Manager) Kill(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		s.killed = true
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.ptmx.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
