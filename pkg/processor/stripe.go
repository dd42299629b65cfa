package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"creator-booking/pkg/config"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("processor", fx.Provide(ProvideStripe))

var ErrSignature = errors.New("processor: invalid event signature")

type Stripe struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

func ProvideStripe(cfg *config.Config) Processor {
	return NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL)
}

func NewStripe(secretKey, webhookSecret, successURL, cancelURL string) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)

	return &Stripe{
		api:           api,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
	}
}

func (s *Stripe) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	params := s.checkoutParams(req)
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, wrapError(err)
	}

	return &CheckoutLink{SessionID: sess.ID, URL: sess.URL}, nil
}

// checkoutParams builds the session request. Installment plans become a
// monthly subscription carrying MetaInstallmentMonths, which the webhook
// pipeline reads to cancel it after the last installment.
func (s *Stripe) checkoutParams(req CheckoutRequest) *stripe.CheckoutSessionParams {
	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(req.Currency),
		UnitAmount: stripe.Int64(req.AmountCents),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(req.Title),
		},
	}

	mode := stripe.CheckoutSessionModePayment
	if req.Months > 0 {
		mode = stripe.CheckoutSessionModeSubscription
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval:      stripe.String(string(stripe.PriceRecurringIntervalMonth)),
			IntervalCount: stripe.Int64(1),
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: priceData,
			Quantity:  stripe.Int64(1),
		}},
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Months > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetaInstallmentMonths: strconv.Itoa(req.Months)},
		}
		for k, v := range req.Metadata {
			params.SubscriptionData.Metadata[k] = v
		}
	}
	return params
}

// CancelSubscription ends a subscription immediately, without proration.
func (s *Stripe) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{
		Prorate: stripe.Bool(false),
	}
	params.Context = ctx

	if _, err := s.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return wrapError(err)
	}
	return nil
}

func wrapError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &Error{StatusCode: se.HTTPStatusCode, Message: se.Msg, Err: err}
	}
	return &Error{Message: err.Error(), Err: err}
}

func (s *Stripe) VerifyEvent(payload []byte, signature string) (*Event, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrSignature)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type), Raw: payload}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded, EventCheckoutExpired:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Session = sessionFromStripe(&cs)
	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		out.Charge = &Charge{ID: ch.ID, AmountRefunded: ch.AmountRefunded}
		if ch.PaymentIntent != nil {
			out.Charge.PaymentIntentID = ch.PaymentIntent.ID
		}
	case EventInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		out.Invoice = invoiceFromStripe(&inv)
	}

	return out, nil
}

func sessionFromStripe(cs *stripe.CheckoutSession) *Session {
	sess := &Session{
		ID:              cs.ID,
		PaymentStatus:   string(cs.PaymentStatus),
		Mode:            string(cs.Mode),
		AmountTotal:     cs.AmountTotal,
		Currency:        string(cs.Currency),
		ClientReference: cs.ClientReferenceID,
		Metadata:        cs.Metadata,
	}
	if cs.PaymentIntent != nil {
		sess.PaymentIntentID = cs.PaymentIntent.ID
	}
	if cs.CustomerDetails != nil {
		sess.CustomerEmail = cs.CustomerDetails.Email
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]string{}
	}
	return sess
}

func invoiceFromStripe(inv *stripe.Invoice) *Invoice {
	out := &Invoice{ID: inv.ID, AmountPaid: inv.AmountPaid, Metadata: map[string]string{}}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
		for k, v := range inv.Subscription.Metadata {
			out.Metadata[k] = v
		}
	}
	if inv.SubscriptionDetails != nil {
		for k, v := range inv.SubscriptionDetails.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
