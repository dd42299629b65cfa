package reconciliation

import (
	"time"

	"gorm.io/datatypes"
)

type PurchaseStatus string

const (
	PurchasePending  PurchaseStatus = "pending"
	PurchasePaid     PurchaseStatus = "paid"
	PurchaseRefunded PurchaseStatus = "refunded"
	PurchaseExpired  PurchaseStatus = "expired"
)

// Purchase is written only by the webhook pipeline. One row per checkout
// session, and per payment intent once it is known.
type Purchase struct {
	ID                    string         `gorm:"column:id;primaryKey" json:"id"`
	BuyerID               string         `gorm:"column:buyer_id;index" json:"buyer_id"`
	CreatorID             string         `gorm:"column:creator_id;index" json:"creator_id"`
	ContentID             string         `gorm:"column:content_id" json:"content_id"`
	ExternalSessionID     string         `gorm:"column:external_session_id;not null;uniqueIndex" json:"external_session_id"`
	ExternalTransactionID *string        `gorm:"column:external_transaction_id;uniqueIndex" json:"external_transaction_id,omitempty"`
	AmountCents           int64          `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency              string         `gorm:"column:currency;type:varchar(3)" json:"currency"`
	Status                PurchaseStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	BuyerEmail            string         `gorm:"column:buyer_email" json:"buyer_email,omitempty"`
	LinkedBookingID       *string        `gorm:"column:linked_booking_id" json:"linked_booking_id,omitempty"`
	// PinnedBookingID is the booking a booking-payment checkout was issued
	// for. Linkage retries must target it rather than search.
	PinnedBookingID       *string        `gorm:"column:pinned_booking_id" json:"pinned_booking_id,omitempty"`
	PaidAt                *time.Time     `gorm:"column:paid_at;index" json:"paid_at,omitempty"`
	RefundedAt            *time.Time     `gorm:"column:refunded_at" json:"refunded_at,omitempty"`
	CreatedAt             time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Purchase) TableName() string { return "purchases" }

type Outcome string

const (
	OutcomeReceived  Outcome = "received"
	OutcomeProcessed Outcome = "processed"
	OutcomeReplay    Outcome = "replay"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// WebhookEvent is the audit trail of verified deliveries. It is never read
// to decide whether to process an event.
type WebhookEvent struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Provider    string         `gorm:"column:provider;type:varchar(32)"`
	Type        string         `gorm:"column:type;index"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb"`
	Outcome     Outcome        `gorm:"column:outcome;type:varchar(16)"`
	Error       string         `gorm:"column:error"`
	Deliveries  int            `gorm:"column:deliveries;not null"`
	ReceivedAt  time.Time      `gorm:"column:received_at"`
	ProcessedAt *time.Time     `gorm:"column:processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// InstallmentSchedule tracks an installment subscription until the buyer
// has paid Months invoices and the subscription is cancelled.
type InstallmentSchedule struct {
	SubscriptionID   string     `gorm:"column:subscription_id;primaryKey" json:"subscription_id"`
	BookingPaymentID string     `gorm:"column:booking_payment_id;index" json:"booking_payment_id"`
	Months           int        `gorm:"column:months;not null" json:"months"`
	CanceledAt       *time.Time `gorm:"column:canceled_at" json:"canceled_at,omitempty"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (InstallmentSchedule) TableName() string { return "installment_schedules" }

// InstallmentInvoice is one paid invoice of a schedule, keyed by the
// processor's invoice id so redeliveries count once.
type InstallmentInvoice struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	SubscriptionID string    `gorm:"column:subscription_id;not null;index" json:"subscription_id"`
	AmountCents    int64     `gorm:"column:amount_cents;not null" json:"amount_cents"`
	PaidAt         time.Time `gorm:"column:paid_at" json:"paid_at"`
}

func (InstallmentInvoice) TableName() string { return "installment_invoices" }

func Models() []any {
	return []any{&Purchase{}, &WebhookEvent{}, &InstallmentSchedule{}, &InstallmentInvoice{}}
}
