package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatbill/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Create(txn).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentTransaction, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.PaymentTransaction, error) {
	return r.findOne(ctx, db, "payment_reference = ?", reference)
}

func (r *repo) FindSuccessor(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentTransaction, error) {
	return r.findOne(ctx, db, "supersedes_id = ?", id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := db.WithContext(ctx).Where(query, args...).Limit(1).Find(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) ListOpenByAdjustment(ctx context.Context, db *gorm.DB, adjustmentID snowflake.ID) ([]domain.PaymentTransaction, error) {
	var txns []domain.PaymentTransaction
	err := db.WithContext(ctx).
		Where("adjustment_id = ? AND status IN ?", adjustmentID, []domain.Status{domain.StatusPending, domain.StatusProcessing}).
		Order("id ASC").
		Find(&txns).Error
	return txns, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.PaymentTransaction, error) {
	stmt := db.WithContext(ctx).Model(&domain.PaymentTransaction{})
	if filter.BillingCycleID != nil {
		stmt = stmt.Where("billing_cycle_id = ?", *filter.BillingCycleID)
	}
	if filter.AdjustmentID != nil {
		stmt = stmt.Where("adjustment_id = ?", *filter.AdjustmentID)
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		stmt = stmt.Where("status = ?", strings.ToUpper(status))
	}

	var txns []domain.PaymentTransaction
	if err := stmt.Order("id ASC").Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// Transition applies change only while the row still holds change.From, so
// concurrent callers cannot both move the same transaction.
func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, change domain.StatusChange) (bool, error) {
	updates := map[string]any{
		"status":     change.To,
		"updated_at": change.At,
	}
	switch change.To {
	case domain.StatusProcessing:
		updates["processing_at"] = change.At
	case domain.StatusCompleted:
		updates["completed_at"] = change.At
	case domain.StatusFailed:
		updates["failed_at"] = change.At
		updates["failure_reason"] = change.FailureReason
	case domain.StatusCancelled:
		updates["cancelled_at"] = change.At
	case domain.StatusRefunded:
		updates["refunded_at"] = change.At
	}

	res := db.WithContext(ctx).
		Model(&domain.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, change.From).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, payment_reference,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.PaymentReference,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payment_reference,
			payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
