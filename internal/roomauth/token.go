package roomauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBadToken is returned for invalid or expired session tokens.
var ErrBadToken = errors.New("invalid session token")

// sessionTokenLifetime matches the persisted room TTL: a resume token is
// useless once the room record has expired anyway.
const sessionTokenLifetime = 24 * time.Hour

// SessionClaims are embedded in resume tokens issued at join time so a
// dropped client can reattach without re-sending the room password.
type SessionClaims struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies room session tokens.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates an issuer from the configured secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// Issue signs a session token for an authenticated user in a room.
func (t *TokenIssuer) Issue(roomCode, userID, username string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		RoomCode: roomCode,
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "codetogether",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify parses and validates a session token.
func (t *TokenIssuer) Verify(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrBadToken
	}
	return claims, nil
}
