// Package session keeps server-side login state keyed by an opaque id that
// travels in a cookie.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"tablestore/internal/model"
)

var ErrNotFound = errors.New("session_not_found")

type Session struct {
	ID        string        `json:"id"`
	AccountID string        `json:"accountId"`
	User      model.Account `json:"user"`
	CreatedAt time.Time     `json:"createdAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Store persists sessions. Get returns ErrNotFound for missing and expired
// sessions alike; Delete of a missing session is not an error.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// NewID returns a URL-safe random session id with 256 bits of entropy.
func NewID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
