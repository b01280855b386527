// Package roomstore persists the room-code → password-hash mapping.
//
// Persisted rooms carry a TTL; expired rows behave as absent. File
// contents are never persisted — only the room record survives a restart.
package roomstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCodeTaken is returned on a room-code collision.
	ErrCodeTaken = errors.New("room code already taken")
	// ErrNotFound is returned for unknown or expired rooms.
	ErrNotFound = errors.New("room not found")
)

// Room is one persisted room record.
type Room struct {
	Code         string
	PasswordHash string
	CreatedAt    time.Time
}

// Store is the persistence interface the rest of the system sees.
type Store interface {
	Create(ctx context.Context, code, passwordHash string) error
	Lookup(ctx context.Context, code string) (*Room, error)
	Close() error
}
