// Package roomauth creates rooms and checks room passwords. Passwords
// never leave this package in plaintext; the rest of the system only
// sees an authenticated user-id/room-code pair.
package roomauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/PrajwalMundargi/codetogether-backend/internal/logging"
	"github.com/PrajwalMundargi/codetogether-backend/internal/metrics"
	"github.com/PrajwalMundargi/codetogether-backend/internal/roomstore"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrBadPassword  = errors.New("incorrect room password")
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6

	// bcryptCost matches the cost the room passwords were historically
	// hashed with; changing it invalidates nothing but slows creates.
	bcryptCost = 10

	// createAttempts bounds regeneration on code collisions.
	createAttempts = 5
)

// Service implements room creation and password checks on top of a Store.
type Service struct {
	store roomstore.Store
}

// New creates the service.
func New(store roomstore.Store) *Service {
	return &Service{store: store}
}

// GenerateCode returns a random 6-character upper-case alphanumeric code.
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// CreateRoom allocates a fresh room code and persists the hashed
// password. Collisions with existing codes regenerate and retry.
func (s *Service) CreateRoom(ctx context.Context, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		err = s.store.Create(ctx, code, string(hash))
		if err == nil {
			logging.Info("room created", zap.String("room", code))
			return code, nil
		}
		if errors.Is(err, roomstore.ErrCodeTaken) {
			logging.Debug("room code collision, regenerating", zap.String("room", code))
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("exhausted %d room code attempts", createAttempts)
}

// Exists reports whether a room is still live, without checking the
// password. Used for token-based session resume.
func (s *Service) Exists(ctx context.Context, code string) error {
	_, err := s.store.Lookup(ctx, code)
	if errors.Is(err, roomstore.ErrNotFound) {
		return ErrRoomNotFound
	}
	return err
}

// Authenticate verifies a room password against the stored hash.
func (s *Service) Authenticate(ctx context.Context, code, password string) error {
	room, err := s.store.Lookup(ctx, code)
	if errors.Is(err, roomstore.ErrNotFound) {
		metrics.RecordAuthAttempt(false)
		return ErrRoomNotFound
	}
	if err != nil {
		metrics.RecordAuthAttempt(false)
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(password)); err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Warn("join failed: bad password", zap.String("room", code))
		return ErrBadPassword
	}
	metrics.RecordAuthAttempt(true)
	return nil
}
