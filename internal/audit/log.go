// Package audit writes security events (session lifecycle, denials) to a
// dedicated structured log stream.
package audit

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

// Event names.
const (
	SessionIssued   = "session.issued"
	SessionRotated  = "session.rotated"
	ChainRevoked    = "session.chain_revoked"
	ReuseDetected   = "session.reuse_detected"
	PolicyDenied    = "authz.policy_denied"
	ModuleNotActive = "authz.module_not_active"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorKey
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithActor attaches the authenticated user id.
func WithActor(ctx context.Context, userID string) context.Context {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, userID)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// LogEvent writes an audit entry enriched with request, tenant and actor.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zf := make([]zap.Field, 0, len(fields)+4)
	zf = append(zf, zap.String("event", event))
	if rid := stringFrom(ctx, requestIDKey); rid != "" {
		zf = append(zf, obs.RequestID(rid))
	}
	if tid, ok := tenant.FromContext(ctx); ok {
		zf = append(zf, obs.TenantID(tid.String()))
	}
	if uid := stringFrom(ctx, actorKey); uid != "" {
		zf = append(zf, obs.UserID(uid))
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}

	obs.L().Named("audit").Info("audit", zf...)
	return nil
}
