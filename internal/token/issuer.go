// Package token mints and verifies short-lived access credentials.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

const (
	AlgHS256 = "HS256"
	AlgRS256 = "RS256"

	defaultTTL     = 15 * time.Minute
	minSecretBytes = 32
	clockSkew      = 5 * time.Second
)

var (
	// ErrMissingSigningMaterial is fatal at startup.
	ErrMissingSigningMaterial = errors.New("token: signing material is not configured")
	ErrInvalidToken           = errors.New("token: invalid token")
)

// Config is process-wide signing configuration.
type Config struct {
	Algorithm     string
	Secret        string
	PrivateKeyPEM string
	PublicKeyPEM  string
	KeyID         string
	Issuer        string
	Audience      string
	TTL           time.Duration
}

// Claims carried by an access credential.
type Claims struct {
	TenantID string   `json:"tid"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Credential is a signed access token and its expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Issuer signs access credentials. It keeps no per-token state.
type Issuer struct {
	method  jwt.SigningMethod
	signKey any
	verKey  any
	keyID   string
	issuer  string
	aud     string
	ttl     time.Duration
	now     func() time.Time
}

// Option tweaks an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer validates cfg. Missing or unusable keys are an error, never a
// silently disabled issuer.
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	iss := &Issuer{
		keyID:  strings.TrimSpace(cfg.KeyID),
		issuer: strings.TrimSpace(cfg.Issuer),
		aud:    strings.TrimSpace(cfg.Audience),
		ttl:    cfg.TTL,
		now:    time.Now,
	}
	if iss.issuer == "" || iss.aud == "" {
		return nil, errors.New("token: issuer and audience are required")
	}
	if iss.ttl <= 0 {
		iss.ttl = defaultTTL
	}

	switch strings.ToUpper(strings.TrimSpace(cfg.Algorithm)) {
	case "", AlgHS256:
		secret := []byte(strings.TrimSpace(cfg.Secret))
		if len(secret) == 0 {
			return nil, ErrMissingSigningMaterial
		}
		if len(secret) < minSecretBytes {
			return nil, fmt.Errorf("token: HS256 secret must be at least %d bytes", minSecretBytes)
		}
		iss.method, iss.signKey, iss.verKey = jwt.SigningMethodHS256, secret, secret
	case AlgRS256:
		if strings.TrimSpace(cfg.PrivateKeyPEM) == "" || strings.TrimSpace(cfg.PublicKeyPEM) == "" {
			return nil, ErrMissingSigningMaterial
		}
		priv, pub, err := loadKeyPair(cfg.PrivateKeyPEM, cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		iss.method, iss.signKey, iss.verKey = jwt.SigningMethodRS256, priv, pub
	default:
		return nil, fmt.Errorf("token: unsupported algorithm %q", cfg.Algorithm)
	}

	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// TTL is the default credential lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a credential for userID in tenantID. A non-positive ttl uses the
// configured default.
func (i *Issuer) Issue(userID string, tenantID tenant.ID, roles []string, ttl time.Duration) (Credential, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Credential{}, errors.New("token: subject is required")
	}
	if tenantID.IsZero() {
		return Credential{}, errors.New("token: tenant is required")
	}
	if ttl <= 0 {
		ttl = i.ttl
	}

	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := Claims{
		TenantID: tenantID.String(),
		Roles:    dedupeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.aud},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(i.method, claims)
	if i.keyID != "" {
		tok.Header["kid"] = i.keyID
	}
	signed, err := tok.SignedString(i.signKey)
	if err != nil {
		return Credential{}, fmt.Errorf("token: sign: %w", err)
	}
	return Credential{Token: signed, ExpiresAt: exp}, nil
}

// Verify checks signature, algorithm, issuer, audience and lifetime.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return i.verKey, nil
	},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.aud),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.TenantID) == "" || claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// dedupeRoles drops blanks and duplicates. Case is significant.
func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
