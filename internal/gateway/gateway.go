// Package gateway terminates WebSocket sessions and dispatches the event
// protocol onto the room, terminal, and auth layers.
//
// Each connection reads frames serially, so two events from the same
// client can never race each other; cross-client races are handled by the
// per-room serialization in the room package.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/PrajwalMundargi/codetogether-backend/internal/hub"
	"github.com/PrajwalMundargi/codetogether-backend/internal/logging"
	"github.com/PrajwalMundargi/codetogether-backend/internal/metrics"
	"github.com/PrajwalMundargi/codetogether-backend/internal/room"
	"github.com/PrajwalMundargi/codetogether-backend/internal/roomauth"
	"github.com/PrajwalMundargi/codetogether-backend/internal/term"
	"github.com/PrajwalMundargi/codetogether-backend/internal/tree"
	"github.com/PrajwalMundargi/codetogether-backend/pkg/protocol"
)

// Gateway upgrades HTTP requests and runs the per-connection event loop.
type Gateway struct {
	ctx      context.Context
	hub      *hub.Hub
	rooms    *room.Manager
	terms    *term.Manager
	auth     *roomauth.Service
	tokens   *roomauth.TokenIssuer
	upgrader websocket.Upgrader
}

// New creates a gateway. ctx bounds store operations issued on behalf of
// connections and should outlive them.
func New(ctx context.Context, h *hub.Hub, rooms *room.Manager, terms *term.Manager,
	auth *roomauth.Service, tokens *roomauth.TokenIssuer) *Gateway {
	return &Gateway{
		ctx:    ctx,
		hub:    h,
		rooms:  rooms,
		terms:  terms,
		auth:   auth,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; room
			// passwords are the access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// session is the per-connection state. Mutated only by the read loop.
type session struct {
	client *hub.Client
	room   string
}

func (s *session) userID() string { return s.client.ID }

// ServeHTTP upgrades the connection and runs its event loop to completion.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := &session{client: hub.NewClient(uuid.NewString(), "", conn)}
	metrics.AddWSConnection(1)
	g.hub.Register(sess.client)
	go sess.client.Run()

	logging.Info("client connected", zap.String("user", sess.userID()))
	g.readLoop(conn, sess)
	g.disconnect(sess)
}

func (g *Gateway) readLoop(conn *websocket.Conn, sess *session) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("connection read failed",
					zap.String("user", sess.userID()), zap.Error(err))
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			g.sendError(sess, "malformed frame")
			continue
		}
		metrics.RecordWSEvent(env.Event)
		g.dispatch(sess, &env)
	}
}

// disconnect tears down everything the connection owned: its shell, its
// room membership, and — when it was the last member — the room runtime.
func (g *Gateway) disconnect(sess *session) {
	sess.client.Close()
	metrics.AddWSConnection(-1)

	userID := sess.userID()
	if sess.room != "" {
		g.terms.Kill(userID)
		if r, ok := g.rooms.Get(sess.room); ok {
			r.ForgetUser(userID)
		}
		// Leave and the last-member teardown are one atomic step inside
		// the room manager, so a concurrent join cannot land on a runtime
		// that is mid-release.
		g.rooms.Leave(sess.room, userID)
		g.hub.Broadcast(sess.room, protocol.EventUserLeft,
			protocol.UserLeft{Username: sess.client.Username, UserID: userID})
	}
	g.hub.Unregister(userID)
	logging.Info("client disconnected", zap.String("user", userID))
}

// ─── Dispatch ───────────────────────────────────────────────────────────────

func (g *Gateway) dispatch(sess *session, env *protocol.Envelope) {
	switch env.Event {
	case protocol.EventCreateRoom:
		g.handleCreateRoom(sess, env)
	case protocol.EventJoinRoom:
		g.handleJoinRoom(sess, env)
	case protocol.EventResumeSession:
		g.handleResumeSession(sess, env)
	case protocol.EventGetFiles:
		g.handleGetFiles(sess, env)
	case protocol.EventGetFileContent:
		g.handleGetFileContent(sess, env)
	case protocol.EventSwitchFile:
		g.handleSwitchFile(sess, env)
	case protocol.EventCodeChange:
		g.handleCodeChange(sess, env)
	case protocol.EventCreateFile:
		g.handleCreateFile(sess, env)
	case protocol.EventCreateFolder:
		g.handleCreateFolder(sess, env)
	case protocol.EventDeleteItem:
		g.handleDeleteItem(sess, env)
	case protocol.EventRenameItem:
		g.handleRenameItem(sess, env)
	case protocol.EventMoveItem:
		g.handleMoveItem(sess, env)
	case protocol.EventToggleFolder:
		g.handleToggleFolder(sess, env)
	case protocol.EventTerminalInit:
		g.handleTerminalInit(sess, env)
	case protocol.EventTerminalInput:
		g.handleTerminalInput(sess, env)
	case protocol.EventTerminalResize:
		g.handleTerminalResize(sess, env)
	case protocol.EventExecuteCommand:
		g.handleExecuteCommand(sess, env)
	case protocol.EventClearTerminal:
		g.handleClearTerminal(sess, env)
	case protocol.EventKillProcess:
		g.handleKillProcess(sess, env)
	case protocol.EventRunFile, protocol.EventSaveAndRun:
		g.handleRunFile(sess, env)
	case protocol.EventGetWorkingDirectory:
		g.handleGetWorkingDirectory(sess, env)
	default:
		g.sendError(sess, "unknown event: "+env.Event)
	}
}

// opAck is the generic mutation acknowledgement.
type opAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ack replies to a frame that requested acknowledgement.
func (g *Gateway) ack(sess *session, env *protocol.Envelope, data any) {
	if env.ID == 0 {
		return
	}
	frame, err := protocol.Encode(protocol.EventAck, env.ID, data)
	if err != nil {
		logging.Error("ack encode failed", zap.Error(err))
		return
	}
	_ = sess.client.SendRaw(frame)
}

// ackOp acks a mutation with success or the error message, and mirrors
// failures onto the file-error event for clients that do not track acks.
func (g *Gateway) ackOp(sess *session, env *protocol.Envelope, err error) {
	if err == nil {
		g.ack(sess, env, opAck{Success: true})
		return
	}
	g.sendError(sess, err.Error())
	g.ack(sess, env, opAck{Success: false, Error: err.Error()})
}

func (g *Gateway) sendError(sess *session, msg string) {
	_ = sess.client.Send(protocol.EventFileError, protocol.FileError{Message: msg})
}

func decode[T any](env *protocol.Envelope) (*T, error) {
	req := new(T)
	if len(env.Data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(env.Data, req); err != nil {
		return nil, errors.New("malformed payload for " + env.Event)
	}
	return req, nil
}

// roomFor resolves a room-scoped request, enforcing membership.
func (g *Gateway) roomFor(sess *session, code string) (*room.Room, error) {
	if code == "" || sess.room != code {
		return nil, errors.New("not a member of room " + code)
	}
	r, ok := g.rooms.Get(code)
	if !ok {
		return nil, roomauth.ErrRoomNotFound
	}
	return r, nil
}

// ─── Room lifecycle ─────────────────────────────────────────────────────────

// enterRoom materializes the room, registers membership, spawns the
// member's shell, picks the active file, and issues a resume token.
func (g *Gateway) enterRoom(sess *session, code, username string) (*room.Room, string, string, error) {
	sess.client.Username = username
	r, err := g.rooms.Enter(code, sess.client)
	if err != nil {
		return nil, "", "", err
	}
	sess.room = code

	// The shell starts with the membership; a join failure above means no
	// stray PTY. Editing still works if the spawn itself fails.
	if err := g.terms.Spawn(sess.userID(), code, r.Root()); err != nil {
		logging.Warn("shell spawn at join failed",
			zap.String("room", code), zap.String("user", sess.userID()), zap.Error(err))
	}

	active := r.ActivateFirst(sess.userID())
	token, err := g.tokens.Issue(code, sess.userID(), username)
	if err != nil {
		return nil, "", "", err
	}
	g.hub.BroadcastExcept(code, sess.userID(), protocol.EventUserJoined,
		protocol.UserJoined{Username: username, UserID: sess.userID()})
	logging.Info("user joined room",
		zap.String("room", code),
		zap.String("user", sess.userID()),
		zap.String("username", username))
	return r, active, token, nil
}

func (g *Gateway) handleCreateRoom(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.CreateRoomRequest](env)
	if err != nil {
		g.ack(sess, env, protocol.CreateRoomAck{Error: err.Error()})
		return
	}
	if sess.room != "" {
		g.ack(sess, env, protocol.CreateRoomAck{Error: "already in a room"})
		return
	}
	code, err := g.auth.CreateRoom(g.ctx, req.Password)
	if err != nil {
		logging.Error("room create failed", zap.Error(err))
		g.ack(sess, env, protocol.CreateRoomAck{Error: "could not create room"})
		return
	}
	if _, _, token, err := g.enterRoom(sess, code, req.Username); err != nil {
		g.ack(sess, env, protocol.CreateRoomAck{Error: err.Error()})
	} else {
		_ = sess.client.Send(protocol.EventRoomCreated, protocol.RoomCreated{RoomCode: code})
		g.ack(sess, env, protocol.CreateRoomAck{Success: true, RoomCode: code, SessionToken: token})
	}
}

func (g *Gateway) handleJoinRoom(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.JoinRoomRequest](env)
	if err != nil {
		g.ack(sess, env, protocol.JoinRoomAck{Error: err.Error()})
		return
	}
	if sess.room != "" {
		g.ack(sess, env, protocol.JoinRoomAck{Error: "already in a room"})
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.RoomCode))
	if err := g.auth.Authenticate(g.ctx, code, req.Password); err != nil {
		g.ack(sess, env, protocol.JoinRoomAck{Error: err.Error()})
		return
	}
	r, active, token, err := g.enterRoom(sess, code, req.Username)
	if err != nil {
		g.ack(sess, env, protocol.JoinRoomAck{Error: err.Error()})
		return
	}
	g.ack(sess, env, protocol.JoinRoomAck{
		Success:      true,
		Files:        r.Files(),
		ActiveFile:   active,
		SessionToken: token,
	})
}

func (g *Gateway) handleResumeSession(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.ResumeSessionRequest](env)
	if err != nil {
		g.ack(sess, env, protocol.JoinRoomAck{Error: err.Error()})
		return
	}
	if sess.room != "" {
		g.ack(sess, env, protocol.JoinRoomAck{Error: "already in a room"})
		return
	}
	claims, err := g.tokens.Verify(req.SessionToken)
	if err != nil {
		g.ack(sess, env, protocol.JoinRoomAck{Error: err.Error()})
		return
	}
	if err := g.auth.Exists(g.ctx, claims.RoomCode); err != nil {
		g.ack(sess, env, protocol.JoinRoomAck{Error: err.Error()})
		return
	}
	// Reattach under the original identity so membership collapses onto
	// the previous entry instead of ghosting a second user. The entry
	// under the throwaway connection ID must go first.
	g.hub.Unregister(sess.client.ID)
	sess.client.ID = claims.UserID
	g.hub.Register(sess.client)
	r, active, token, err := g.enterRoom(sess, claims.RoomCode, claims.Username)
	if err != nil {
		g.ack(sess, env, protocol.JoinRoomAck{Error: err.Error()})
		return
	}
	g.ack(sess, env, protocol.JoinRoomAck{
		Success:      true,
		Files:        r.Files(),
		ActiveFile:   active,
		SessionToken: token,
	})
}

// ─── File tree ──────────────────────────────────────────────────────────────

func (g *Gateway) handleGetFiles(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.RoomRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ack(sess, env, protocol.FilesAck{Files: r.Files()})
}

func (g *Gateway) handleGetFileContent(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.FileRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	content, err := r.FileContent(req.FileName)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ack(sess, env, protocol.FileContentAck{Content: content})
}

func (g *Gateway) handleSwitchFile(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.FileRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	content, err := r.SwitchFile(sess.userID(), req.FileName)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	_ = sess.client.Send(protocol.EventFileContentUpdate,
		protocol.FileContentUpdate{FileName: req.FileName, Content: content})
	_ = sess.client.Send(protocol.EventActiveFileChanged,
		protocol.ActiveFileChanged{FileName: req.FileName})
	g.ack(sess, env, protocol.FileContentAck{Content: content})
}

func (g *Gateway) handleCodeChange(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.CodeChangeRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, r.CodeChange(sess.userID(), req.FileName, req.Code))
}

// childPath joins an optional parent folder with a leaf name.
func childPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func (g *Gateway) handleCreateFile(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.CreateFileRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, r.CreateFile(childPath(req.ParentFolder, req.FileName)))
}

func (g *Gateway) handleCreateFolder(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.CreateFolderRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, r.CreateFolder(childPath(req.ParentFolder, req.FolderName)))
}

func (g *Gateway) handleDeleteItem(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.DeleteItemRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	err = r.DeleteItem(req.ItemPath)
	if errors.Is(err, tree.ErrLastFile) {
		err = errors.New("cannot delete the last file in the room")
	}
	g.ackOp(sess, env, err)
}

func (g *Gateway) handleRenameItem(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.RenameItemRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, r.RenameItem(req.OldPath, req.NewPath))
}

func (g *Gateway) handleMoveItem(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.MoveItemRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, r.MoveItem(req.SourcePath, req.TargetPath, req.ItemType))
}

func (g *Gateway) handleToggleFolder(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.ToggleFolderRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, r.ToggleFolder(req.FolderPath))
}

// ─── Terminal ───────────────────────────────────────────────────────────────

func (g *Gateway) handleTerminalInit(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.RoomRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, g.terms.Spawn(sess.userID(), r.Code, r.Root()))
}

func (g *Gateway) handleTerminalInput(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.TerminalInputRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	if _, err := g.roomFor(sess, req.RoomCode); err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, g.terms.Write(sess.userID(), []byte(req.Input)))
}

func (g *Gateway) handleTerminalResize(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.TerminalResizeRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	if _, err := g.roomFor(sess, req.RoomCode); err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.terms.Resize(sess.userID(), req.Cols, req.Rows)
	g.ack(sess, env, opAck{Success: true})
}

func (g *Gateway) handleExecuteCommand(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.ExecuteCommandRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	if _, err := g.roomFor(sess, req.RoomCode); err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, g.terms.ExecuteCommand(sess.userID(), req.Command))
}

func (g *Gateway) handleClearTerminal(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.RoomRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	if _, err := g.roomFor(sess, req.RoomCode); err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, g.terms.ExecuteCommand(sess.userID(), "clear"))
}

func (g *Gateway) handleKillProcess(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.RoomRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	if _, err := g.roomFor(sess, req.RoomCode); err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ackOp(sess, env, g.terms.Interrupt(sess.userID()))
}

// handleRunFile runs a file in the user's shell. The in-memory content is
// flushed to disk first: the on-disk bytes may trail the tree when the
// arbiter dropped an editor write, and the shell reads the disk.
func (g *Gateway) handleRunFile(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.RunFileRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	path := req.FileName
	if path == "" {
		path = r.ActiveFile(sess.userID())
	}
	if path == "" {
		g.ackOp(sess, env, errors.New("no file to run"))
		return
	}
	if err := r.FlushFile(path); err != nil {
		g.ackOp(sess, env, err)
		return
	}
	if !g.terms.HasSession(sess.userID()) {
		if err := g.terms.Spawn(sess.userID(), r.Code, r.Root()); err != nil {
			g.ackOp(sess, env, err)
			return
		}
	}
	g.ackOp(sess, env, g.terms.RunFile(sess.userID(), path))
}

func (g *Gateway) handleGetWorkingDirectory(sess *session, env *protocol.Envelope) {
	req, err := decode[protocol.RoomRequest](env)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	r, err := g.roomFor(sess, req.RoomCode)
	if err != nil {
		g.ackOp(sess, env, err)
		return
	}
	g.ack(sess, env, protocol.WorkingDirectoryAck{WorkingDirectory: r.Root()})
}
