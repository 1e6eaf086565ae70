package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
)

// Source says which input produced a resolution.
type Source string

const (
	SourceClaim Source = "claim"
	SourceHost  Source = "host"
)

// Origin is what the inbound request tells us about its tenant.
type Origin struct {
	// Host is the request hostname, optionally with a port.
	Host string
	// Claim is the tenant claim of an already-authenticated credential, if any.
	Claim string
}

// Resolver maps an Origin to a tenant. An explicit claim wins over the hostname.
type Resolver struct {
	dir         Directory
	baseDomains []string
}

// NewResolver builds a resolver stripping any of baseDomains from hostnames.
func NewResolver(dir Directory, baseDomains ...string) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("tenant: directory is required")
	}
	domains := make([]string, 0, len(baseDomains))
	for _, d := range baseDomains {
		d = normalizeHost(d)
		if d != "" {
			domains = append(domains, d)
		}
	}
	// Longest suffix first so "hr.example.com" beats "example.com".
	sort.Slice(domains, func(i, j int) bool { return len(domains[i]) > len(domains[j]) })
	return &Resolver{dir: dir, baseDomains: domains}, nil
}

// Resolve returns the tenant for origin, ErrTenantNotFound, or a wrapped ErrDirectoryUnavailable.
func (r *Resolver) Resolve(ctx context.Context, origin Origin) (ID, Source, error) {
	if claim := strings.TrimSpace(origin.Claim); claim != "" {
		t, err := r.dir.ByID(ctx, ID(claim))
		return r.finish(t, SourceClaim, err)
	}
	slug, ok := r.Slug(origin.Host)
	if !ok {
		obs.ObserveTenantResolution(string(SourceHost), "not_found")
		return "", SourceHost, ErrTenantNotFound
	}
	t, err := r.dir.BySlug(ctx, slug)
	return r.finish(t, SourceHost, err)
}

func (r *Resolver) finish(t Tenant, src Source, err error) (ID, Source, error) {
	switch {
	case errors.Is(err, ErrNotFound):
		obs.ObserveTenantResolution(string(src), "not_found")
		return "", src, ErrTenantNotFound
	case err != nil:
		obs.ObserveTenantResolution(string(src), "error")
		return "", src, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	case t.ID.IsZero():
		obs.ObserveTenantResolution(string(src), "not_found")
		return "", src, ErrTenantNotFound
	}
	obs.ObserveTenantResolution(string(src), "ok")
	return t.ID, src, nil
}

// Slug extracts the tenant slug from host: the single label left after
// stripping a configured base domain.
func (r *Resolver) Slug(host string) (string, bool) {
	host = normalizeHost(host)
	if host == "" {
		return "", false
	}
	for _, base := range r.baseDomains {
		if !strings.HasSuffix(host, "."+base) {
			continue
		}
		label := strings.TrimSuffix(host, "."+base)
		if label == "" || strings.Contains(label, ".") {
			return "", false
		}
		return label, true
	}
	return "", false
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
