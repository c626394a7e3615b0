// Package session owns the client credentials and their refresh.
package session

import (
	"context"
	"errors"
	"net/http"
)

// Credentials is the persisted session state. ExpiresHint is opaque:
// expiry is only discovered by a rejected request.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId,omitempty"`
	ExpiresHint  string `json:"expiresIn,omitempty"`
}

// Store persists credentials on the device.
type Store interface {
	// Load returns nil credentials when nothing is stored.
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, c *Credentials) error
	// Clear removes all session data in one step.
	Clear(ctx context.Context) error
}

// Authenticator talks to the auth endpoints of the backend.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*Credentials, error)
	Refresh(ctx context.Context, refreshToken string) (*Credentials, error)
	Logout(ctx context.Context, c Credentials) error
}

// Authorizer attaches credentials to outbound requests and recovers from
// credential rejections.
type Authorizer interface {
	Authorize(req *http.Request) (string, error)
	HandleRejection(ctx context.Context, usedToken string, resend func(ctx context.Context) error) error
}

// ErrRejected is returned by a resend function when the retried request
// was rejected for its credentials again.
var ErrRejected = errors.New("session: credentials rejected")
