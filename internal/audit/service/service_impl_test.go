package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/seatbill/internal/audit/domain"
	"github.com/smallbiznis/seatbill/internal/audit/repository"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/observability/logger"
	"github.com/smallbiznis/seatbill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &auditdomain.AuditLog{})
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestRecordResolvesActorFromContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := logger.WithRequestID(logger.WithActor(context.Background(), "ops@example.com"), "req-1")

	require.NoError(t, svc.Record(ctx, nil, auditdomain.Entry{
		Action:     "seat.long_leave_declared",
		TargetType: "employee_license",
		TargetID:   "42",
		Metadata:   map[string]any{"leave_type": "MEDICAL"},
	}))

	logs, err := svc.List(context.Background(), auditdomain.ListFilter{TargetType: "employee_license", TargetID: "42"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeOperator), logs[0].ActorType)
	require.NotNil(t, logs[0].ActorID)
	assert.Equal(t, "ops@example.com", *logs[0].ActorID)
	assert.Equal(t, "req-1", logs[0].Metadata["request_id"])
	assert.Equal(t, "MEDICAL", logs[0].Metadata["leave_type"])
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)
	require.NoError(t, svc.Record(context.Background(), nil, auditdomain.Entry{Action: "cycle.generated"}))

	logs, err := svc.List(context.Background(), auditdomain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), logs[0].ActorType)
	assert.Equal(t, "unknown", logs[0].TargetType)
	assert.Nil(t, logs[0].ActorID)
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Record(context.Background(), nil, auditdomain.Entry{Action: "  "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestRecordInsideTransactionRollsBack(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_ = db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Record(ctx, tx, auditdomain.Entry{Action: "payment.completed"}))
		return assert.AnError
	})

	logs, err := svc.List(ctx, auditdomain.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}
