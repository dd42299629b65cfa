package linkage

import (
	"context"
	"time"

	"creator-booking/pkg/config"
	"creator-booking/pkg/db/option"
	"creator-booking/pkg/logger"
	"creator-booking/pkg/metrics"
	"creator-booking/pkg/repository"
	"creator-booking/services/booking"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultWindow     = 14 * 24 * time.Hour
	DefaultCandidates = 8
)

// Input identifies a freshly paid purchase. It is also the payload of the
// linkage retry task.
type Input struct {
	PurchaseID string `json:"purchase_id"`
	BuyerID    string `json:"buyer_id"`
	CreatorID  string `json:"creator_id"`
	ContentID  string `json:"content_id,omitempty"`
	// BookingID pins the link to one booking, as for payment links issued
	// against a known booking.
	BookingID string `json:"booking_id,omitempty"`
}

type Resolver struct {
	db       *gorm.DB
	bookings repository.Repository[booking.Booking]

	window     time.Duration
	candidates int
	now        func() time.Time
}

type ResolverParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config `optional:"true"`
}

func NewResolver(p ResolverParams) *Resolver {
	r := &Resolver{
		db:         p.DB,
		bookings:   repository.ProvideStore[booking.Booking](p.DB),
		window:     DefaultWindow,
		candidates: DefaultCandidates,
		now:        time.Now,
	}
	if p.Config != nil {
		if p.Config.Booking.LinkageWindow > 0 {
			r.window = p.Config.Booking.LinkageWindow
		}
		if p.Config.Booking.LinkageCandidates > 0 {
			r.candidates = p.Config.Booking.LinkageCandidates
		}
	}
	return r
}

// Link attaches the purchase to the open booking that most likely produced
// it and returns that booking, or nil when nothing qualifies. A booking is
// linked at most once.
func (r *Resolver) Link(ctx context.Context, in Input) (*booking.Booking, error) {
	if in.PurchaseID == "" || in.BuyerID == "" || in.CreatorID == "" {
		metrics.Linkages.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	log := logger.FromContext(ctx).With(
		zap.String("purchase_id", in.PurchaseID),
		zap.String("buyer_id", in.BuyerID),
		zap.String("creator_id", in.CreatorID),
	)

	linked, err := r.bookings.FindOne(ctx, &booking.Booking{LinkedPaymentID: &in.PurchaseID})
	if err != nil {
		return nil, err
	}
	if linked != nil {
		metrics.Linkages.WithLabelValues("replay").Inc()
		return linked, nil
	}

	if in.BookingID != "" {
		pinned, err := r.bookings.FindOne(ctx, &booking.Booking{ID: in.BookingID},
			option.ApplyOperator(option.Condition{Field: "linked_payment_id", Operator: option.IsNull}),
		)
		if err != nil {
			return nil, err
		}
		if pinned == nil {
			metrics.Linkages.WithLabelValues("unmatched").Inc()
			return nil, nil
		}
		return r.attach(ctx, log, in.PurchaseID, []*booking.Booking{pinned})
	}

	open, err := r.bookings.Find(ctx, &booking.Booking{BuyerID: in.BuyerID, CreatorID: in.CreatorID},
		option.ApplyOperator(option.Condition{Field: "linked_payment_id", Operator: option.IsNull}),
		option.WithSortBy(
			option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"},
			option.QuerySortBy{SortBy: "id", OrderBy: "desc", Allow: map[string]bool{"id": true}},
		),
		option.WithLimit(r.candidates),
	)
	if err != nil {
		return nil, err
	}

	b, err := r.attach(ctx, log, in.PurchaseID, rank(open, in.ContentID, r.now().Add(-r.window)))
	if err == nil && b == nil {
		log.Debug("no open booking to link", zap.Int("candidates", len(open)))
	}
	return b, err
}

// attach links the purchase to the first candidate still unlinked.
func (r *Resolver) attach(ctx context.Context, log *zap.Logger, purchaseID string, candidates []*booking.Booking) (*booking.Booking, error) {
	for _, b := range candidates {
		res := r.db.WithContext(ctx).Model(&booking.Booking{}).
			Where("id = ? AND linked_payment_id IS NULL", b.ID).
			Updates(map[string]any{
				"linked_payment_id": purchaseID,
				"status":            booking.StatusCompleted,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// linked by a concurrent delivery
			continue
		}

		b.LinkedPaymentID = &purchaseID
		b.Status = booking.StatusCompleted
		r.linkPurchase(ctx, log, purchaseID, b.ID)

		metrics.Linkages.WithLabelValues("linked").Inc()
		log.Info("purchase linked to booking", zap.String("booking_id", b.ID))
		return b, nil
	}

	metrics.Linkages.WithLabelValues("unmatched").Inc()
	return nil, nil
}

// rank orders the in-window candidates: same content first, then the rest,
// each group newest first as fetched.
func rank(open []*booking.Booking, contentID string, cutoff time.Time) []*booking.Booking {
	var same, rest []*booking.Booking
	for _, b := range open {
		if b.CreatedAt.Before(cutoff) {
			continue
		}
		if contentID != "" && b.ContentID == contentID {
			same = append(same, b)
		} else {
			rest = append(rest, b)
		}
	}
	return append(same, rest...)
}

// linkPurchase records the reverse reference. Older schemas lack the column,
// so failures are only logged.
func (r *Resolver) linkPurchase(ctx context.Context, log *zap.Logger, purchaseID, bookingID string) {
	err := r.db.WithContext(ctx).Table("purchases").
		Where("id = ?", purchaseID).
		Update("linked_booking_id", bookingID).Error
	if err != nil {
		log.Warn("failed to record booking on purchase", zap.String("booking_id", bookingID), zap.Error(err))
	}
}
