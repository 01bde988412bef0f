package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatbill/pkg/errkind"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusRefunded},
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentTransaction is one payment attempt for a billing cycle and one of its
// adjustments. A retry creates a new row that supersedes the failed one.
type PaymentTransaction struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	TenantID         snowflake.ID    `gorm:"not null;index" json:"tenant_id"`
	BillingCycleID   snowflake.ID    `gorm:"not null;index" json:"billing_cycle_id"`
	AdjustmentID     snowflake.ID    `gorm:"not null;index" json:"adjustment_id"`
	AmountUSD        decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount_usd"`
	AmountLocal      decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount_local"`
	Currency         string          `gorm:"type:char(3);not null" json:"currency"`
	ExchangeRate     decimal.Decimal `gorm:"type:numeric(18,8);not null" json:"exchange_rate"`
	PaymentMethod    string          `gorm:"type:text;not null" json:"payment_method"`
	PaymentReference string          `gorm:"type:text;not null;uniqueIndex:ux_payment_transactions_reference" json:"payment_reference"`
	Status           Status          `gorm:"type:text;not null;index" json:"status"`
	FailureReason    *string         `gorm:"type:text" json:"failure_reason,omitempty"`
	Attempt          int             `gorm:"not null;default:1" json:"attempt"`
	SupersedesID     *snowflake.ID   `json:"supersedes_id,omitempty"`
	InitiatedAt      time.Time       `gorm:"not null" json:"initiated_at"`
	ProcessingAt     *time.Time      `json:"processing_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	FailedAt         *time.Time      `json:"failed_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

// EventRecord is an inbound payment provider callback, stored once per
// provider event id.
type EventRecord struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider         string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID  string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType        string         `json:"event_type" gorm:"type:text;not null"`
	PaymentReference string         `json:"payment_reference" gorm:"type:text;not null;index"`
	Payload          datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt       time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt      *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentProcessing = "payment_processing"
	EventTypePaymentSucceeded  = "payment_succeeded"
	EventTypePaymentFailed     = "payment_failed"
	EventTypeRefunded          = "refunded"
)

// ProviderEvent is the canonical form of a payment provider callback.
type ProviderEvent struct {
	Provider         string    `json:"provider"`
	ProviderEventID  string    `json:"provider_event_id"`
	Type             string    `json:"type"`
	PaymentReference string    `json:"payment_reference"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// OpenRequest describes a new PENDING transaction.
type OpenRequest struct {
	TenantID       snowflake.ID
	BillingCycleID snowflake.ID
	AdjustmentID   snowflake.ID
	AmountUSD      decimal.Decimal
	AmountLocal    decimal.Decimal
	Currency       string
	ExchangeRate   decimal.Decimal
	PaymentMethod  string
	Attempt        int
	SupersedesID   *snowflake.ID
}

// ReferenceGenerator issues unique, human-quotable payment references.
type ReferenceGenerator interface {
	Next(ctx context.Context) (string, error)
}

// StatusChange is a conditional status update. Only the timestamp columns
// named by the target status are written.
type StatusChange struct {
	From          Status
	To            Status
	At            time.Time
	FailureReason *string
}

type ListFilter struct {
	BillingCycleID *snowflake.ID
	AdjustmentID   *snowflake.ID
	Status         Status
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentTransaction, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*PaymentTransaction, error)
	FindSuccessor(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentTransaction, error)
	ListOpenByAdjustment(ctx context.Context, db *gorm.DB, adjustmentID snowflake.ID) ([]PaymentTransaction, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]PaymentTransaction, error)
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, change StatusChange) (bool, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

// Opener creates PENDING transactions inside a caller's transaction.
type Opener interface {
	Open(ctx context.Context, tx *gorm.DB, req OpenRequest) (*PaymentTransaction, error)
	CancelOpenForAdjustment(ctx context.Context, tx *gorm.DB, adjustmentID snowflake.ID) error
}

type Service interface {
	Opener
	Get(ctx context.Context, id string) (*PaymentTransaction, error)
	List(ctx context.Context, filter ListFilter) ([]PaymentTransaction, error)
	StartProcessing(ctx context.Context, id string) (*PaymentTransaction, error)
	Complete(ctx context.Context, id string) (*PaymentTransaction, error)
	Fail(ctx context.Context, id string, reason string) (*PaymentTransaction, error)
	Cancel(ctx context.Context, id string) (*PaymentTransaction, error)
	Refund(ctx context.Context, id string) (*PaymentTransaction, error)
	Retry(ctx context.Context, id string) (*PaymentTransaction, error)
	HandleProviderEvent(ctx context.Context, event ProviderEvent, payload []byte) (*PaymentTransaction, error)
}

var (
	ErrInvalidID             = errkind.New(errkind.Validation, "invalid_payment_transaction_id")
	ErrInvalidAmount         = errkind.New(errkind.Validation, "invalid_amount")
	ErrInvalidCurrency       = errkind.New(errkind.Validation, "invalid_currency")
	ErrInvalidPaymentMethod  = errkind.New(errkind.Validation, "invalid_payment_method")
	ErrMissingFailureReason  = errkind.New(errkind.Validation, "missing_failure_reason")
	ErrInvalidEvent          = errkind.New(errkind.Validation, "invalid_payment_event")
	ErrInvalidPayload        = errkind.New(errkind.Validation, "invalid_payment_payload")
	ErrNotFound              = errkind.New(errkind.NotFound, "payment_transaction_not_found")
	ErrEventAlreadyProcessed = errkind.New(errkind.Conflict, "payment_event_already_processed")
	ErrAlreadyRetried        = errkind.New(errkind.Conflict, "payment_already_retried")
	ErrInvalidTransition     = errkind.New(errkind.InvalidState, "invalid_payment_transition")
	ErrRetryNotAllowed       = errkind.New(errkind.InvalidState, "payment_retry_not_allowed")
	ErrAttemptsExhausted     = errkind.New(errkind.InvalidState, "payment_attempts_exhausted")
)
