package paymentlink

import (
	"context"
	"errors"
	"fmt"

	"creator-booking/pkg/config"
	"creator-booking/pkg/errutil"
	"creator-booking/pkg/logger"
	"creator-booking/pkg/metrics"
	"creator-booking/pkg/processor"
	"creator-booking/services/booking"
	"creator-booking/services/catalog"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultPlatformFeeBps = 1200
	DefaultMinChargeCents = 50
)

type ContentLookup interface {
	GetContent(ctx context.Context, contentID string) (*catalog.ContentItem, error)
}

type Issuer struct {
	bookings  *booking.Service
	content   ContentLookup
	processor processor.Processor

	feeBps    int64
	minCharge int64
}

type IssuerParams struct {
	fx.In
	Bookings  *booking.Service
	Catalog   *catalog.Service
	Processor processor.Processor
	Config    *config.Config `optional:"true"`
}

func ProvideIssuer(p IssuerParams) *Issuer {
	i := NewIssuer(p.Bookings, p.Catalog, p.Processor)
	if p.Config != nil {
		if p.Config.Booking.PlatformFeeBps > 0 {
			i.feeBps = p.Config.Booking.PlatformFeeBps
		}
		if p.Config.Booking.MinChargeCents > 0 {
			i.minCharge = p.Config.Booking.MinChargeCents
		}
	}
	return i
}

func NewIssuer(bookings *booking.Service, content ContentLookup, proc processor.Processor) *Issuer {
	return &Issuer{
		bookings:  bookings,
		content:   content,
		processor: proc,
		feeBps:    DefaultPlatformFeeBps,
		minCharge: DefaultMinChargeCents,
	}
}

type IssuedLink struct {
	URL     string                  `json:"url"`
	Payment *booking.BookingPayment `json:"payment"`
}

// quote is what a plan charges for a booking.
type quote struct {
	total       int64
	charge      int64
	months      *int
	installment *int64
	fee         int64
}

// Issue seeds the booking's payment row for plan and asks the processor for
// a checkout link. The row stays pending when the processor call fails.
func (i *Issuer) Issue(ctx context.Context, callerID, bookingID string, plan Plan) (*IssuedLink, error) {
	if callerID == "" {
		return nil, errutil.Unauthorized("authentication required", nil)
	}

	b, err := i.bookings.GetOwned(ctx, callerID, bookingID)
	if err != nil {
		return nil, err
	}

	item, err := i.content.GetContent(ctx, b.ContentID)
	if err != nil {
		return nil, errutil.Internal("failed to load booking content", err)
	}
	if item == nil || !item.Priced() {
		return nil, errutil.ValidationFailed("booking content has no priced product", nil)
	}

	q, err := i.quote(item.PriceCents, plan)
	if err != nil {
		metrics.PaymentLinks.WithLabelValues(string(plan.Type()), "rejected").Inc()
		return nil, err
	}

	log := logger.FromContext(ctx).With(
		zap.String("booking_id", b.ID),
		zap.String("plan_type", string(plan.Type())),
	)

	payment, err := i.bookings.SeedPayment(ctx, &booking.BookingPayment{
		BookingID:              b.ID,
		PlanType:               plan.Type(),
		InstallmentMonths:      q.months,
		AmountTotalCents:       q.total,
		InstallmentAmountCents: q.installment,
		PlatformFeeCents:       q.fee,
		Currency:               item.Currency,
	})
	if err != nil {
		return nil, err
	}

	req := processor.CheckoutRequest{
		Title:          item.Title,
		Currency:       item.Currency,
		AmountCents:    q.charge,
		IdempotencyKey: fmt.Sprintf("%s-%d", payment.ID, payment.UpdatedAt.UnixNano()),
		Metadata: map[string]string{
			processor.MetaFlow:             processor.FlowBookingPayment,
			processor.MetaBookingID:        b.ID,
			processor.MetaBookingPaymentID: payment.ID,
			processor.MetaContentID:        b.ContentID,
			processor.MetaCreatorID:        b.CreatorID,
			processor.MetaBuyerID:          b.BuyerID,
			processor.MetaPlanType:         string(plan.Type()),
		},
	}
	if q.months != nil {
		req.Months = *q.months
	}

	link, err := i.processor.CreateCheckoutLink(ctx, req)
	if err != nil {
		metrics.PaymentLinks.WithLabelValues(string(plan.Type()), "failed").Inc()
		log.Error("payment link creation failed", zap.String("booking_payment_id", payment.ID), zap.Error(err))
		return nil, processorError(err)
	}

	sent, err := i.bookings.MarkLinkSent(ctx, payment.ID, link.URL, link.SessionID)
	if err != nil || sent == nil {
		log.Warn("failed to record sent payment link", zap.String("booking_payment_id", payment.ID), zap.Error(err))
		sent = payment
	}

	metrics.PaymentLinks.WithLabelValues(string(plan.Type()), "sent").Inc()
	return &IssuedLink{URL: link.URL, Payment: sent}, nil
}

func (i *Issuer) quote(total int64, plan Plan) (*quote, error) {
	if total < i.minCharge {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("amount %d is below the minimum charge of %d", total, i.minCharge), nil)
	}

	q := &quote{total: total, charge: total, fee: PlatformFee(total, i.feeBps)}

	switch p := plan.(type) {
	case FullPlan:
	case InstallmentPlan:
		if p.Months < MinInstallmentMonths || p.Months > MaxInstallmentMonths {
			return nil, errutil.ValidationFailed(
				fmt.Sprintf("installment_months must be between %d and %d", MinInstallmentMonths, MaxInstallmentMonths), nil,
				errutil.WithDetails(errutil.Detail{Field: "installment_months", Message: "out of range"}))
		}

		per := total / int64(p.Months)
		if per < i.minCharge {
			return nil, errutil.ValidationFailed(
				fmt.Sprintf("each installment would be %d, below the minimum of %d; use at most %d months",
					per, i.minCharge, total/i.minCharge), nil,
				errutil.WithDetails(errutil.Detail{Field: "installment_months", Message: "too many installments for this amount"}))
		}

		months := p.Months
		q.months = &months
		q.installment = &per
		q.charge = per
	default:
		return nil, errutil.ValidationFailed("unsupported plan", nil)
	}

	return q, nil
}

// PlatformFee is bps of total, rounded half up. It is bookkeeping only and
// never changes what the buyer pays.
func PlatformFee(total, bps int64) int64 {
	return (total*bps + 5000) / 10000
}

// processorError keeps the processor's status when it rejected the request
// and reports anything else as an internal failure.
func processorError(err error) error {
	var perr *processor.Error
	if errors.As(err, &perr) && perr.ClientError() {
		return errutil.BadRequest("payment processor rejected the request", err,
			errutil.WithHTTPStatus(perr.StatusCode))
	}
	return errutil.Internal("failed to create payment link", err)
}
