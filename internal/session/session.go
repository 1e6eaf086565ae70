// Package session issues, rotates and revokes refresh sessions. Sessions
// rooted at one login form a chain; each rotation supersedes the live node
// with a child, and replaying a superseded secret revokes the whole chain.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

// State of one node. Every state but Active is terminal.
type State string

const (
	StateActive   State = "active"
	StateReplaced State = "replaced"
	StateRevoked  State = "revoked"
	StateExpired  State = "expired"
)

// Session is one refresh credential. The raw secret is never stored.
type Session struct {
	ID         string
	ChainID    string
	ParentID   string
	ReplacedBy string
	Generation int

	UserID    string
	TenantID  tenant.ID
	DeviceID  string
	TokenHash string

	IssuedAt     time.Time
	ExpiresAt    time.Time
	ReplacedAt   *time.Time
	RevokedAt    *time.Time
	RevokeReason string
	RequestedBy  string
}

// StateAt derives the node state at now.
func (s Session) StateAt(now time.Time) State {
	switch {
	case s.RevokedAt != nil:
		return StateRevoked
	case s.ReplacedBy != "":
		return StateReplaced
	case !now.Before(s.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}

// Live reports whether the node may still be rotated.
func (s Session) Live(now time.Time) bool { return s.StateAt(now) == StateActive }

// Scope selects which part of a chain a revocation covers.
type Scope int

const (
	// ScopeChain revokes every node from the root.
	ScopeChain Scope = iota
	// ScopeFromNode revokes the node and everything issued after it.
	ScopeFromNode
)

// Revocation reasons.
const (
	ReasonLogout         = "logout"
	ReasonReuseDetected  = "reuse_detected"
	ReasonDeviceMismatch = "device_mismatch"
	ReasonAdmin          = "admin"
	ReasonOrphaned       = "principal_missing"
)

// Revocation describes why and on whose behalf a chain is revoked.
type Revocation struct {
	Reason      string
	RequestedBy string
	Scope       Scope
}

var (
	// ErrRefreshInvalid means unknown or expired: the client must log in again.
	ErrRefreshInvalid = errors.New("session: refresh credential invalid")
	// ErrRefreshReused means a superseded or revoked secret was presented; the
	// chain has been revoked.
	ErrRefreshReused = errors.New("session: refresh credential reused")
	// ErrRotationConflict means a concurrent rotation on the same device won.
	ErrRotationConflict = errors.New("session: concurrent rotation")

	// ErrNotFound is returned by repositories for unknown keys.
	ErrNotFound = errors.New("session: not found")
	// ErrConflict is returned by Repository.Replace when the parent is no longer live.
	ErrConflict = errors.New("session: parent no longer live")
)

// Repository is the session arena. Replace must be atomic: either the child
// exists and the parent points at it, or neither change is visible.
type Repository interface {
	Create(ctx context.Context, s Session) error
	ByID(ctx context.Context, id string) (Session, error)
	ByHash(ctx context.Context, tokenHash string) (Session, error)
	// Replace inserts child and marks parentID replaced, guarded on the parent
	// being unreplaced, unrevoked and unexpired at at. Returns ErrConflict otherwise.
	Replace(ctx context.Context, parentID string, child Session, at time.Time) error
	// RevokeChain marks unrevoked nodes of chainID with generation >= fromGeneration.
	RevokeChain(ctx context.Context, chainID string, fromGeneration int, rev Revocation, at time.Time) (int, error)
	// Chain returns the chain ordered by generation.
	Chain(ctx context.Context, chainID string) ([]Session, error)
	// DeleteExpired removes chains whose every node expired before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

const secretBytes = 32

// newSecret returns a base64url secret and its storage hash.
func newSecret() (string, string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("session: entropy: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	return secret, HashSecret(secret), nil
}

// HashSecret is the one-way digest stored for a secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
