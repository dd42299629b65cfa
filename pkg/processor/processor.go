package processor

import (
	"context"
	"fmt"
)

// Event types the reconciliation pipeline understands.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutExpired        = "checkout.session.expired"
	EventChargeRefunded         = "charge.refunded"
	EventInvoicePaid            = "invoice.paid"
)

// Metadata keys stamped on checkout sessions.
const (
	MetaFlow             = "flow"
	MetaBookingID        = "booking_id"
	MetaBookingPaymentID = "booking_payment_id"
	MetaContentID        = "content_id"
	MetaCreatorID        = "creator_id"
	MetaBuyerID          = "buyer_id"
	MetaPlanType         = "plan_type"

	FlowBookingReservation = "booking_reservation"
	FlowBookingPayment     = "booking_payment"
)

// MetaInstallmentMonths is stamped on installment subscriptions; the
// subscription is cancelled once that many invoices are paid.
const MetaInstallmentMonths = "installment_months"

// Processor is the external payment processor.
type Processor interface {
	CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)
	VerifyEvent(payload []byte, signature string) (*Event, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

type CheckoutRequest struct {
	Title       string
	Currency    string
	AmountCents int64
	// Months > 0 bills AmountCents monthly; 0 is a one-time charge.
	Months         int
	IdempotencyKey string
	Metadata       map[string]string
}

type CheckoutLink struct {
	SessionID string
	URL       string
}

type Event struct {
	ID      string
	Type    string
	Session *Session
	Charge  *Charge
	Invoice *Invoice
	Raw     []byte
}

type Session struct {
	ID              string
	PaymentIntentID string
	PaymentStatus   string
	Mode            string
	AmountTotal     int64
	Currency        string
	CustomerEmail   string
	ClientReference string
	Metadata        map[string]string
}

func (s *Session) Paid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

type Charge struct {
	ID              string
	PaymentIntentID string
	AmountRefunded  int64
}

// Invoice is a paid subscription invoice. Metadata is the subscription's
// metadata as of the invoice.
type Invoice struct {
	ID             string
	SubscriptionID string
	AmountPaid     int64
	Metadata       map[string]string
}

// Error is a failed processor call. StatusCode is the processor's HTTP
// status, zero when the request never got an answer.
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("processor: %d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("processor: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClientError reports whether the processor rejected the request itself.
func (e *Error) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
