// Package models contains data types shared between the server and clients.
package models

// Node types.
const (
	TypeFile   = "file"
	TypeFolder = "folder"
)

// FileNode represents a file or folder in a room's virtual file tree.
// Nodes are keyed by their slash-separated path relative to the room's
// working directory, so the struct itself carries no path.
type FileNode struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Extension string `json:"extension,omitempty"`
	Expanded  bool   `json:"isExpanded,omitempty"`
}

// IsFile reports whether the node is a file.
func (n *FileNode) IsFile() bool { return n.Type == TypeFile }

// IsFolder reports whether the node is a folder.
func (n *FileNode) IsFolder() bool { return n.Type == TypeFolder }

// Clone returns a copy of the node.
func (n *FileNode) Clone() *FileNode {
	c := *n
	return &c
}
