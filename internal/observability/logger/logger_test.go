package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithActor(ctx, "ops@example.com")
	WithContext(ctx, base).Info("billing")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "ops@example.com", fields["actor"])
		_, hasTrace := fields["trace_id"]
		assert.False(t, hasTrace)
	}
}

func TestWithContextWithoutFieldsReturnsBase(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, WithContext(context.Background(), base))
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "SELECT", operationFromSQL("select * from billing_cycles"))
	assert.Equal(t, "DELETE", operationFromSQL("  delete from audit_logs"))
	assert.Equal(t, "INSERT", operationFromSQL(" (INSERT INTO seats VALUES (1))"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}
