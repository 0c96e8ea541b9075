// Package broker abstracts credential storage and verification behind a
// single interface with delegated-HTTP, SQL, and accept-any implementations.
package broker

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by entry lookups for unknown users.
var ErrNotFound = errors.New("entry not found")

// Entry is one user's credential record.
type Entry struct {
	AccessToken string    `json:"accessToken,omitempty"`
	ServerID    string    `json:"serverId,omitempty"`
	UUID        uuid.UUID `json:"uuid"`
	Username    string    `json:"username"`
}

// Provider authenticates users and stores their session bindings. Entry
// lookups must be total for every successfully authenticated user.
type Provider interface {
	// Auth verifies the credentials and returns the user's uuid. The ip is
	// informational (audit / limiting on the delegated side).
	Auth(ctx context.Context, login, password, ip string) (uuid.UUID, error)

	// Entry returns the record for id.
	Entry(ctx context.Context, id uuid.UUID) (Entry, error)

	// EntryByName returns the record for username.
	EntryByName(ctx context.Context, username string) (Entry, error)

	// SetAccessToken binds a fresh access token to the entry, invalidating
	// the previous one.
	SetAccessToken(ctx context.Context, id uuid.UUID, token string) error

	// SetServerID records the server a session is joining.
	SetServerID(ctx context.Context, id uuid.UUID, serverID string) error
}
