package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

func TestLogEvent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := obs.SetLogger(zap.New(core))
	defer restore()

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithActor(ctx, "user-42")
	ctx = tenant.WithTenant(ctx, "tenant-a")

	require.NoError(t, LogEvent(ctx, ReuseDetected, map[string]any{"chain_id": "c-1", "revoked": 3}))

	entries := logs.All()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "audit", e.LoggerName)
	fields := e.ContextMap()
	assert.Equal(t, ReuseDetected, fields["event"])
	assert.Equal(t, "req-123", fields["request_id"])
	assert.Equal(t, "user-42", fields["user_id"])
	assert.Equal(t, "tenant-a", fields["tenant_id"])
	assert.Equal(t, "c-1", fields["chain_id"])
	assert.EqualValues(t, 3, fields["revoked"])
}

func TestLogEventRequiresName(t *testing.T) {
	assert.Error(t, LogEvent(context.Background(), "  ", nil))
}

func TestEmptyValuesAreNotAttached(t *testing.T) {
	ctx := WithActor(WithRequestID(context.Background(), ""), " ")
	assert.Empty(t, stringFrom(ctx, requestIDKey))
	assert.Empty(t, stringFrom(ctx, actorKey))
}
