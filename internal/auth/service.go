// Package auth ties refresh sessions, the people directory and the token
// issuer together at the login and refresh boundary.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/policy"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/session"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/token"
)

var (
	// ErrUnauthorized means the caller must authenticate again.
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrInvalidInput = errors.New("auth: invalid input")
)

// TokenPair is returned to the client after login or refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshSecret    string
	RefreshExpiresAt time.Time
	SessionID        string
}

// Service issues access credentials for sessions whose principal is still a
// member of the session's tenant.
type Service struct {
	sessions *session.Service
	issuer   *token.Issuer
	people   policy.Directory
}

func NewService(sessions *session.Service, issuer *token.Issuer, people policy.Directory) (*Service, error) {
	if sessions == nil || issuer == nil || people == nil {
		return nil, errors.New("auth: sessions, issuer and people directory are required")
	}
	return &Service{sessions: sessions, issuer: issuer, people: people}, nil
}

// Login starts a chain for a user whose credentials were already checked.
func (s *Service) Login(ctx context.Context, tenantID tenant.ID, userID, deviceID string) (TokenPair, error) {
	if tenantID.IsZero() || strings.TrimSpace(userID) == "" || strings.TrimSpace(deviceID) == "" {
		return TokenPair{}, ErrInvalidInput
	}
	person, err := s.person(ctx, tenantID, userID)
	if err != nil {
		return TokenPair{}, err
	}
	issued, err := s.sessions.Issue(ctx, session.IssueRequest{
		UserID:   person.UserID,
		TenantID: tenantID,
		DeviceID: deviceID,
	})
	if err != nil {
		return TokenPair{}, err
	}
	return s.mint(person, issued)
}

// Refresh rotates the presented secret and mints an access credential with
// the roles the person holds now. Session errors pass through unchanged.
func (s *Service) Refresh(ctx context.Context, tenantID tenant.ID, deviceID, secret string) (TokenPair, error) {
	issued, err := s.sessions.Rotate(ctx, session.RotateRequest{
		Secret:   secret,
		DeviceID: deviceID,
		TenantID: tenantID,
	})
	if err != nil {
		return TokenPair{}, err
	}

	sess := issued.Session
	person, err := s.person(ctx, sess.TenantID, sess.UserID)
	if errors.Is(err, ErrUnauthorized) {
		if _, rerr := s.sessions.RevokeChain(ctx, sess.ID, session.Revocation{
			Reason:      session.ReasonOrphaned,
			RequestedBy: "system",
			Scope:       session.ScopeChain,
		}); rerr != nil {
			obs.From(ctx).Error("revoke orphaned chain", obs.ChainID(sess.ChainID), obs.Err(rerr))
		}
		return TokenPair{}, err
	}
	if err != nil {
		return TokenPair{}, err
	}
	return s.mint(person, issued)
}

// Logout revokes the presented session and everything issued after it.
func (s *Service) Logout(ctx context.Context, tenantID tenant.ID, deviceID, secret string) error {
	sess, err := s.sessions.ValidateForAccess(ctx, secret)
	if err != nil {
		return err
	}
	if sess.DeviceID != strings.TrimSpace(deviceID) || (!tenantID.IsZero() && sess.TenantID != tenantID) {
		return ErrUnauthorized
	}
	_, err = s.sessions.RevokeChain(ctx, sess.ID, session.Revocation{
		Reason:      session.ReasonLogout,
		RequestedBy: sess.UserID,
		Scope:       session.ScopeFromNode,
	})
	return err
}

// Authenticate verifies a bearer access credential.
func (s *Service) Authenticate(raw string) (Principal, error) {
	claims, err := s.issuer.Verify(raw)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return Principal{
		UserID:   claims.Subject,
		TenantID: tenant.ID(claims.TenantID),
		Roles:    claims.Roles,
	}, nil
}

func (s *Service) person(ctx context.Context, tenantID tenant.ID, userID string) (policy.Person, error) {
	p, err := s.people.Person(ctx, tenantID, userID)
	switch {
	case errors.Is(err, policy.ErrPersonNotFound):
		return policy.Person{}, fmt.Errorf("%w: not a member of tenant", ErrUnauthorized)
	case err != nil:
		return policy.Person{}, fmt.Errorf("auth: load person: %w", err)
	}
	return p, nil
}

func (s *Service) mint(p policy.Person, issued session.Issued) (TokenPair, error) {
	cred, err := s.issuer.Issue(p.UserID, issued.Session.TenantID, p.Roles, 0)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      cred.Token,
		AccessExpiresAt:  cred.ExpiresAt,
		RefreshSecret:    issued.Secret,
		RefreshExpiresAt: issued.Session.ExpiresAt,
		SessionID:        issued.Session.ID,
	}, nil
}
