package booking

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusBooked    Status = "booked"
	StatusCompleted Status = "completed"
)

// Booking is a reserved call. LinkedPaymentID is set once, by linkage.
type Booking struct {
	ID                string            `gorm:"column:id;primaryKey" json:"id"`
	ContentID         string            `gorm:"column:content_id;index" json:"content_id"`
	BuyerID           string            `gorm:"column:buyer_id;not null;index:idx_bookings_buyer_creator,priority:1" json:"buyer_id"`
	CreatorID         string            `gorm:"column:creator_id;not null;index:idx_bookings_buyer_creator,priority:2" json:"creator_id"`
	Status            Status            `gorm:"column:status;type:varchar(16);not null" json:"status"`
	LinkedPaymentID   *string           `gorm:"column:linked_payment_id" json:"linked_payment_id,omitempty"`
	ExternalSessionID *string           `gorm:"column:external_session_id;uniqueIndex" json:"external_session_id,omitempty"`
	Metadata          datatypes.JSONMap `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }

type PlanType string

const (
	PlanFull        PlanType = "full"
	PlanInstallment PlanType = "installment"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentLinkSent PaymentStatus = "link_sent"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
)

// BookingPayment is a payment-link record for a booking. At most one row
// exists per (booking, plan type); retries re-seed it.
type BookingPayment struct {
	ID                     string        `gorm:"column:id;primaryKey" json:"id"`
	BookingID              string        `gorm:"column:booking_id;not null;uniqueIndex:idx_booking_payments_booking_plan,priority:1" json:"booking_id"`
	PlanType               PlanType      `gorm:"column:plan_type;type:varchar(16);not null;uniqueIndex:idx_booking_payments_booking_plan,priority:2" json:"plan_type"`
	InstallmentMonths      *int          `gorm:"column:installment_months" json:"installment_months,omitempty"`
	Status                 PaymentStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	AmountTotalCents       int64         `gorm:"column:amount_total_cents;not null" json:"amount_total_cents"`
	InstallmentAmountCents *int64        `gorm:"column:installment_amount_cents" json:"installment_amount_cents,omitempty"`
	PlatformFeeCents       int64         `gorm:"column:platform_fee_cents;not null" json:"platform_fee_cents"`
	Currency               string        `gorm:"column:currency;type:varchar(3)" json:"currency"`
	ExternalSessionID      *string       `gorm:"column:external_session_id;index" json:"external_session_id,omitempty"`
	LinkURL                *string       `gorm:"column:link_url" json:"link_url,omitempty"`
	LinkSentAt             *time.Time    `gorm:"column:link_sent_at" json:"link_sent_at,omitempty"`
	PaidAt                 *time.Time    `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt              time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (BookingPayment) TableName() string { return "booking_payments" }

func Models() []any {
	return []any{&Booking{}, &BookingPayment{}}
}
