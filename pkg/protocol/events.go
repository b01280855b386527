// Package protocol defines the WebSocket event names and payload types.
package protocol

import (
	"encoding/json"

	"github.com/PrajwalMundargi/codetogether-backend/pkg/models"
)

// Inbound event names (client → server).
const (
	EventCreateRoom          = "create-room"
	EventJoinRoom            = "join-room"
	EventResumeSession       = "resume-session"
	EventGetFiles            = "get-files"
	EventGetFileContent      = "get-file-content"
	EventSwitchFile          = "switch-file"
	EventCodeChange          = "code-change"
	EventCreateFile          = "create-file"
	EventCreateFolder        = "create-folder"
	EventDeleteItem          = "delete-item"
	EventRenameItem          = "rename-item"
	EventMoveItem            = "move-item"
	EventToggleFolder        = "toggle-folder"
	EventTerminalInit        = "terminal-init"
	EventTerminalInput       = "terminal-input"
	EventTerminalResize      = "terminal-resize"
	EventExecuteCommand      = "execute-command"
	EventClearTerminal       = "clear-terminal"
	EventKillProcess         = "kill-process"
	EventRunFile             = "run-file"
	EventSaveAndRun          = "save-and-run"
	EventGetWorkingDirectory = "get-working-directory"
)

// Outbound event names (server → client).
const (
	EventAck               = "ack"
	EventFilesUpdate       = "files-update"
	EventFileContentUpdate = "file-content-update"
	EventActiveFileChanged = "active-file-changed"
	EventFileCreated       = "file-created"
	EventFolderCreated     = "folder-created"
	EventFileSynced        = "file-synced"
	EventItemDeleted       = "item-deleted"
	EventItemRenamed       = "item-renamed"
	EventItemMoved         = "item-moved"
	EventFolderToggled     = "folder-toggled"
	EventFileError         = "file-error"
	EventTerminalOutput    = "terminal-output"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventRoomCreated       = "room-created"
)

// Envelope is the wire frame multiplexing named events over one connection.
// A nonzero ID on an inbound frame requests an ack; the server replies with
// an "ack" frame carrying the same ID.
type Envelope struct {
	Event string          `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an event frame.
func Encode(event string, id uint64, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, ID: id, Data: raw})
}

// ─── Inbound payloads ───────────────────────────────────────────────────────

type CreateRoomRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type JoinRoomRequest struct {
	Username string `json:"username"`
	RoomCode string `json:"roomCode"`
	Password string `json:"password"`
}

type ResumeSessionRequest struct {
	SessionToken string `json:"sessionToken"`
}

type RoomRequest struct {
	RoomCode string `json:"roomCode"`
}

type FileRequest struct {
	RoomCode string `json:"roomCode"`
	FileName string `json:"fileName"`
}

type CodeChangeRequest struct {
	RoomCode string `json:"roomCode"`
	FileName string `json:"fileName"`
	Code     string `json:"code"`
}

type CreateFileRequest struct {
	RoomCode     string `json:"roomCode"`
	FileName     string `json:"fileName"`
	ParentFolder string `json:"parentFolder,omitempty"`
}

type CreateFolderRequest struct {
	RoomCode     string `json:"roomCode"`
	FolderName   string `json:"folderName"`
	ParentFolder string `json:"parentFolder,omitempty"`
}

type DeleteItemRequest struct {
	RoomCode string `json:"roomCode"`
	ItemPath string `json:"itemPath"`
}

type RenameItemRequest struct {
	RoomCode string `json:"roomCode"`
	OldPath  string `json:"oldPath"`
	NewPath  string `json:"newPath"`
}

type MoveItemRequest struct {
	RoomCode   string `json:"roomCode"`
	SourcePath string `json:"sourcePath"`
	TargetPath string `json:"targetPath"`
	ItemType   string `json:"itemType"`
}

type ToggleFolderRequest struct {
	RoomCode   string `json:"roomCode"`
	FolderPath string `json:"folderPath"`
}

type TerminalInputRequest struct {
	RoomCode string `json:"roomCode"`
	Input    string `json:"input"`
}

type TerminalResizeRequest struct {
	RoomCode string `json:"roomCode"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
}

type ExecuteCommandRequest struct {
	RoomCode string `json:"roomCode"`
	Command  string `json:"command"`
}

type RunFileRequest struct {
	RoomCode string `json:"roomCode"`
	FileName string `json:"fileName,omitempty"`
}

// ─── Ack payloads ───────────────────────────────────────────────────────────

type CreateRoomAck struct {
	Success      bool   `json:"success"`
	RoomCode     string `json:"roomCode,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
	Error        string `json:"error,omitempty"`
}

type JoinRoomAck struct {
	Success      bool                        `json:"success"`
	Files        map[string]*models.FileNode `json:"files,omitempty"`
	ActiveFile   string                      `json:"activeFile,omitempty"`
	SessionToken string                      `json:"sessionToken,omitempty"`
	Error        string                      `json:"error,omitempty"`
}

type FilesAck struct {
	Files map[string]*models.FileNode `json:"files"`
}

type FileContentAck struct {
	Content string `json:"content"`
}

type WorkingDirectoryAck struct {
	WorkingDirectory string `json:"workingDirectory"`
}

// ─── Outbound payloads ──────────────────────────────────────────────────────

type FileContentUpdate struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

type ActiveFileChanged struct {
	FileName string `json:"fileName"`
}

type FileCreated struct {
	FileName string `json:"fileName"`
}

type FolderCreated struct {
	FolderPath string `json:"folderPath"`
}

type FileSynced struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

type ItemDeleted struct {
	ItemPath string `json:"itemPath"`
	Type     string `json:"type"`
}

type ItemRenamed struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
	Type    string `json:"type"`
}

type ItemMoved struct {
	SourcePath string `json:"sourcePath"`
	TargetPath string `json:"targetPath"`
	ItemType   string `json:"itemType"`
}

type FolderToggled struct {
	FolderPath string `json:"folderPath"`
	IsExpanded bool   `json:"isExpanded"`
}

type FileError struct {
	Message string `json:"message"`
}

type UserJoined struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type UserLeft struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type RoomCreated struct {
	RoomCode string `json:"roomCode"`
}
