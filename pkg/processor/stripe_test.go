package processor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func newTestStripe() *Stripe {
	return NewStripe("sk_test_123", testSecret, "https://example.com/ok", "https://example.com/cancel")
}

func TestVerifyCheckoutCompleted(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"object": "checkout.session",
			"payment_status": "paid",
			"payment_intent": "pi_1",
			"amount_total": 5000,
			"currency": "usd",
			"mode": "payment",
			"metadata": {"content_id": "content_1", "buyer_id": "buyer_1"}
		}}
	}`)

	evt, err := newTestStripe().VerifyEvent(payload, SignPayload(payload, testSecret, time.Now()))
	require.NoError(t, err)
	require.Equal(t, "evt_1", evt.ID)
	require.Equal(t, EventCheckoutCompleted, evt.Type)
	require.NotNil(t, evt.Session)
	require.Equal(t, "cs_1", evt.Session.ID)
	require.Equal(t, "pi_1", evt.Session.PaymentIntentID)
	require.Equal(t, int64(5000), evt.Session.AmountTotal)
	require.True(t, evt.Session.Paid())
	require.Equal(t, "content_1", evt.Session.Metadata[MetaContentID])
}

func TestVerifyChargeRefunded(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"object": "event",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "object": "charge", "payment_intent": "pi_1", "amount_refunded": 5000}}
	}`)

	evt, err := newTestStripe().VerifyEvent(payload, SignPayload(payload, testSecret, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, evt.Charge)
	require.Equal(t, "pi_1", evt.Charge.PaymentIntentID)
}

func TestVerifyInvoicePaid(t *testing.T) {
	payload := []byte(`{
		"id": "evt_3",
		"object": "event",
		"type": "invoice.paid",
		"data": {"object": {
			"id": "in_1",
			"object": "invoice",
			"subscription": "sub_1",
			"amount_paid": 2500,
			"subscription_details": {"metadata": {"installment_months": "3", "booking_payment_id": "bp_1"}}
		}}
	}`)

	evt, err := newTestStripe().VerifyEvent(payload, SignPayload(payload, testSecret, time.Now()))
	require.NoError(t, err)
	require.Equal(t, EventInvoicePaid, evt.Type)
	require.NotNil(t, evt.Invoice)
	require.Equal(t, "in_1", evt.Invoice.ID)
	require.Equal(t, "sub_1", evt.Invoice.SubscriptionID)
	require.Equal(t, int64(2500), evt.Invoice.AmountPaid)
	require.Equal(t, "3", evt.Invoice.Metadata[MetaInstallmentMonths])
	require.Equal(t, "bp_1", evt.Invoice.Metadata[MetaBookingPaymentID])
}

func TestCheckoutParamsInstallments(t *testing.T) {
	params := newTestStripe().checkoutParams(CheckoutRequest{
		Title:       "Session",
		Currency:    "usd",
		AmountCents: 2500,
		Months:      3,
		Metadata:    map[string]string{MetaBookingPaymentID: "bp_1"},
	})

	require.Equal(t, "subscription", *params.Mode)
	require.NotNil(t, params.LineItems[0].PriceData.Recurring)
	require.NotNil(t, params.SubscriptionData)
	require.Equal(t, "3", params.SubscriptionData.Metadata[MetaInstallmentMonths])
	require.Equal(t, "bp_1", params.SubscriptionData.Metadata[MetaBookingPaymentID])
}

func TestCheckoutParamsOneTime(t *testing.T) {
	params := newTestStripe().checkoutParams(CheckoutRequest{
		Title:       "Session",
		Currency:    "usd",
		AmountCents: 5000,
	})

	require.Equal(t, "payment", *params.Mode)
	require.Nil(t, params.SubscriptionData)
	require.Nil(t, params.LineItems[0].PriceData.Recurring)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"id": "evt_3", "object": "event", "type": "charge.refunded", "data": {"object": {}}}`)

	_, err := newTestStripe().VerifyEvent(payload, SignPayload(payload, "whsec_other", time.Now()))
	require.True(t, errors.Is(err, ErrSignature))

	_, err = newTestStripe().VerifyEvent(payload, "")
	require.True(t, errors.Is(err, ErrSignature))
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id": "evt_4", "object": "event", "type": "charge.refunded", "data": {"object": {}}}`)

	_, err := newTestStripe().VerifyEvent(payload, SignPayload(payload, testSecret, time.Now().Add(-time.Hour)))
	require.True(t, errors.Is(err, ErrSignature))
}

func TestErrorClassification(t *testing.T) {
	require.True(t, (&Error{StatusCode: 402}).ClientError())
	require.False(t, (&Error{StatusCode: 500}).ClientError())
	require.False(t, (&Error{}).ClientError())
}
