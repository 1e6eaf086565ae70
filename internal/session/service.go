package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/audit"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/ids"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

const (
	defaultTTL    = 14 * 24 * time.Hour
	revokeTimeout = 5 * time.Second
)

// Service implements the refresh session store on top of a Repository.
type Service struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithTTL configures refresh session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueRequest starts a new chain for one login on one device.
type IssueRequest struct {
	UserID   string
	TenantID tenant.ID
	DeviceID string
}

// RotateRequest presents a secret for rotation.
type RotateRequest struct {
	Secret   string
	DeviceID string
	// TenantID, when set, must match the session's tenant.
	TenantID tenant.ID
}

// Issued is a freshly minted secret. Secret is handed to the client once.
type Issued struct {
	Secret  string
	Session Session
}

// Issue creates a root session.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (Issued, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.UserID == "" || req.DeviceID == "" || req.TenantID.IsZero() {
		return Issued{}, errors.New("session: user, tenant and device are required")
	}
	id := ids.New()
	secret, hash, err := newSecret()
	if err != nil {
		return Issued{}, err
	}
	now := s.now().UTC()
	sess := Session{
		ID:        id,
		ChainID:   id,
		UserID:    req.UserID,
		TenantID:  req.TenantID,
		DeviceID:  req.DeviceID,
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return Issued{}, fmt.Errorf("session: create: %w", err)
	}
	_ = audit.LogEvent(ctx, audit.SessionIssued, map[string]any{"session_id": sess.ID, "device_id": sess.DeviceID})
	return Issued{Secret: secret, Session: sess}, nil
}

// Rotate supersedes the live session behind req.Secret with a child and
// returns the child's secret.
func (s *Service) Rotate(ctx context.Context, req RotateRequest) (Issued, error) {
	cur, err := s.lookup(ctx, req.Secret)
	if err != nil {
		obs.ObserveRotation("invalid")
		return Issued{}, err
	}
	now := s.now().UTC()

	if !now.Before(cur.ExpiresAt) {
		obs.ObserveRotation("invalid")
		return Issued{}, ErrRefreshInvalid
	}
	if !cur.Live(now) {
		return Issued{}, s.reused(ctx, cur, ReasonReuseDetected)
	}
	if cur.DeviceID != strings.TrimSpace(req.DeviceID) || (!req.TenantID.IsZero() && cur.TenantID != req.TenantID) {
		return Issued{}, s.reused(ctx, cur, ReasonDeviceMismatch)
	}

	secret, hash, err := newSecret()
	if err != nil {
		return Issued{}, err
	}
	child := Session{
		ID:         ids.New(),
		ChainID:    cur.ChainID,
		ParentID:   cur.ID,
		Generation: cur.Generation + 1,
		UserID:     cur.UserID,
		TenantID:   cur.TenantID,
		DeviceID:   cur.DeviceID,
		TokenHash:  hash,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}

	err = s.repo.Replace(ctx, cur.ID, child, now)
	switch {
	case errors.Is(err, ErrConflict):
		return Issued{}, s.lostRace(ctx, cur, req.DeviceID)
	case err != nil:
		obs.ObserveRotation("error")
		return Issued{}, fmt.Errorf("session: replace: %w", err)
	}

	obs.ObserveRotation("rotated")
	_ = audit.LogEvent(ctx, audit.SessionRotated, map[string]any{
		"session_id": child.ID,
		"parent_id":  cur.ID,
		"chain_id":   child.ChainID,
		"generation": child.Generation,
	})
	return Issued{Secret: secret, Session: child}, nil
}

// lostRace decides between ordinary contention from the same client and an
// attacker racing the legitimate holder.
func (s *Service) lostRace(ctx context.Context, cur Session, deviceID string) error {
	parent, err := s.repo.ByID(ctx, cur.ID)
	if err != nil {
		obs.ObserveRotation("error")
		return fmt.Errorf("session: reload parent: %w", err)
	}
	if parent.RevokedAt == nil && parent.ReplacedBy == "" {
		// Expired between lookup and replace.
		obs.ObserveRotation("invalid")
		return ErrRefreshInvalid
	}
	if parent.RevokedAt == nil {
		winner, err := s.repo.ByID(ctx, parent.ReplacedBy)
		if err != nil {
			obs.ObserveRotation("error")
			return fmt.Errorf("session: reload winner: %w", err)
		}
		if winner.RevokedAt == nil && winner.DeviceID == strings.TrimSpace(deviceID) {
			obs.ObserveRotation("conflict")
			return ErrRotationConflict
		}
	}
	return s.reused(ctx, parent, ReasonReuseDetected)
}

// reused revokes the whole chain of node and reports ErrRefreshReused. The
// revocation outlives the caller's context.
func (s *Service) reused(ctx context.Context, node Session, reason string) error {
	obs.ObserveRotation("reused")
	obs.ObserveReuse()

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
	defer cancel()
	n, err := s.repo.RevokeChain(rctx, node.ChainID, 0, Revocation{Reason: reason, RequestedBy: "system"}, s.now().UTC())

	obs.From(ctx).Warn("refresh credential reuse",
		obs.SessionID(node.ID),
		obs.ChainID(node.ChainID),
		obs.UserID(node.UserID),
		obs.Reason(reason),
		zap.Int("revoked", n),
	)
	_ = audit.LogEvent(ctx, audit.ReuseDetected, map[string]any{
		"session_id": node.ID,
		"chain_id":   node.ChainID,
		"reason":     reason,
		"revoked":    n,
	})
	if err != nil {
		return fmt.Errorf("%w: revoke chain: %v", ErrRefreshReused, err)
	}
	return ErrRefreshReused
}

// RevokeChain revokes the chain holding sessionID according to rev.Scope.
func (s *Service) RevokeChain(ctx context.Context, sessionID string, rev Revocation) (int, error) {
	node, err := s.repo.ByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	from := 0
	if rev.Scope == ScopeFromNode {
		from = node.Generation
	}
	if rev.Reason == "" {
		rev.Reason = ReasonAdmin
	}
	n, err := s.repo.RevokeChain(ctx, node.ChainID, from, rev, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("session: revoke chain: %w", err)
	}
	_ = audit.LogEvent(ctx, audit.ChainRevoked, map[string]any{
		"session_id":   node.ID,
		"chain_id":     node.ChainID,
		"reason":       rev.Reason,
		"requested_by": rev.RequestedBy,
		"revoked":      n,
	})
	return n, nil
}

// ValidateForAccess returns the live session behind secret. A superseded or
// revoked one revokes its chain before ErrRefreshReused is returned.
func (s *Service) ValidateForAccess(ctx context.Context, secret string) (Session, error) {
	cur, err := s.lookup(ctx, secret)
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	if !now.Before(cur.ExpiresAt) {
		return Session{}, ErrRefreshInvalid
	}
	if !cur.Live(now) {
		return Session{}, s.reused(ctx, cur, ReasonReuseDetected)
	}
	return cur, nil
}

// Get returns one session by id.
func (s *Service) Get(ctx context.Context, id string) (Session, error) {
	return s.repo.ByID(ctx, id)
}

// Chain returns the chain holding sessionID, root first.
func (s *Service) Chain(ctx context.Context, sessionID string) ([]Session, error) {
	node, err := s.repo.ByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.repo.Chain(ctx, node.ChainID)
}

func (s *Service) lookup(ctx context.Context, secret string) (Session, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return Session{}, ErrRefreshInvalid
	}
	sess, err := s.repo.ByHash(ctx, HashSecret(secret))
	switch {
	case errors.Is(err, ErrNotFound):
		return Session{}, ErrRefreshInvalid
	case err != nil:
		return Session{}, fmt.Errorf("session: lookup: %w", err)
	}
	return sess, nil
}
