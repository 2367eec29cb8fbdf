package core

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"github.com/google/uuid"
)

// Token is an unguessable bearer secret granting one role in one room.
type Token string

// 192 bits of entropy; collisions are not defended against beyond that.
const tokenBytes = 24

// NewToken draws a fresh random token.
func NewToken() Token {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic("token entropy unavailable: " + err.Error())
	}
	return Token(hex.EncodeToString(buf))
}

// Matches compares in constant time so token checks leak no timing signal.
func (t Token) Matches(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(t), []byte(candidate)) == 1
}

// NewRoomID returns a fresh opaque room identifier.
func NewRoomID() string {
	return uuid.NewString()
}
