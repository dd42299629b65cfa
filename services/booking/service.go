package booking

import (
	"context"
	"time"

	"creator-booking/pkg/db"
	"creator-booking/pkg/db/option"
	"creator-booking/pkg/db/pagination"
	"creator-booking/pkg/errutil"
	"creator-booking/pkg/gen"
	"creator-booking/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	ids      gen.IDGenerator
	bookings repository.Repository[Booking]
	payments repository.Repository[BookingPayment]

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		ids:      gen.NewIDGenerator(p.Node),
		bookings: repository.ProvideStore[Booking](p.DB),
		payments: repository.ProvideStore[BookingPayment](p.DB),
		now:      time.Now,
	}
}

// CreateReservation inserts a booking keyed by its checkout session. A
// replayed session is reported as created=false with no error.
func (s *Service) CreateReservation(ctx context.Context, b *Booking) (bool, error) {
	if b.ID == "" {
		b.ID = s.ids.NewID()
	}
	if b.Status == "" {
		b.Status = StatusBooked
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC()
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_session_id"}}, DoNothing: true}).
		Create(b)
	if res.Error != nil {
		if db.IsDuplicateKey(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Booking, error) {
	return s.bookings.FindOne(ctx, &Booking{ID: id})
}

// GetOwned loads a booking the caller created.
func (s *Service) GetOwned(ctx context.Context, callerID, id string) (*Booking, error) {
	b, err := s.bookings.FindOne(ctx, &Booking{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to load booking", err)
	}
	if b == nil {
		return nil, errutil.NotFound("booking not found", nil)
	}
	if b.CreatorID != callerID {
		return nil, errutil.Forbidden("booking belongs to another creator", nil)
	}
	return b, nil
}

// List returns the creator's bookings newest first.
func (s *Service) List(ctx context.Context, creatorID string, p pagination.Pagination) ([]*Booking, *pagination.PageInfo, error) {
	p = p.Normalize()
	rows, err := s.bookings.Find(ctx, &Booking{CreatorID: creatorID}, option.ApplyPagination(p))
	if err != nil {
		return nil, nil, errutil.Internal("failed to list bookings", err)
	}

	rows, info := pagination.BuildCursorPageInfo(rows, p.Limit, func(b *Booking) pagination.Cursor {
		return pagination.Cursor{CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339Nano), ID: b.ID}
	})
	return rows, info, nil
}

// Delete removes the booking and its payment-link rows together.
func (s *Service) Delete(ctx context.Context, callerID, id string) error {
	if _, err := s.GetOwned(ctx, callerID, id); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("booking_id = ?", id).Delete(&BookingPayment{}).Error; err != nil {
			return err
		}
		return s.bookings.WithTrx(tx).Delete(ctx, id)
	})
	if err != nil {
		return errutil.Internal("failed to delete booking", err)
	}
	return nil
}

func (s *Service) Payments(ctx context.Context, bookingID string) ([]*BookingPayment, error) {
	return s.payments.Find(ctx, &BookingPayment{BookingID: bookingID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
	)
}

func (s *Service) GetPayment(ctx context.Context, id string) (*BookingPayment, error) {
	return s.payments.FindOne(ctx, &BookingPayment{ID: id})
}

// SeedPayment upserts the pending row for (booking, plan). An existing
// unpaid row keeps its id and is reset to pending with the new amounts; a
// paid row is left alone and reported as a conflict.
func (s *Service) SeedPayment(ctx context.Context, in *BookingPayment) (*BookingPayment, error) {
	row := *in
	row.ID = s.ids.NewID()
	row.Status = PaymentPending
	row.ExternalSessionID = nil
	row.LinkURL = nil
	row.LinkSentAt = nil
	row.PaidAt = nil
	row.UpdatedAt = s.now()

	var out *BookingPayment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "booking_id"}, {Name: "plan_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"installment_months", "status", "amount_total_cents", "installment_amount_cents",
				"platform_fee_cents", "currency", "external_session_id", "link_url", "link_sent_at", "updated_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Neq{Column: clause.Column{Table: "booking_payments", Name: "status"}, Value: PaymentPaid},
			}},
		}).Create(&row).Error; err != nil {
			return err
		}

		var err error
		out, err = s.payments.WithTrx(tx).FindOne(ctx, &BookingPayment{BookingID: in.BookingID, PlanType: in.PlanType})
		return err
	})
	if err != nil {
		return nil, errutil.Internal("failed to seed booking payment", err)
	}
	if out == nil {
		return nil, errutil.Internal("booking payment missing after seed", nil)
	}
	if out.Status == PaymentPaid {
		return nil, errutil.Conflict("booking is already paid with this plan", nil)
	}
	return out, nil
}

// MarkLinkSent moves a pending row to link_sent. A row that already moved on
// is left untouched.
func (s *Service) MarkLinkSent(ctx context.Context, paymentID, url, sessionID string) (*BookingPayment, error) {
	now := s.now()
	updates := map[string]any{
		"status":       PaymentLinkSent,
		"link_url":     url,
		"link_sent_at": now,
	}
	if sessionID != "" {
		updates["external_session_id"] = sessionID
	}

	if err := s.db.WithContext(ctx).Model(&BookingPayment{}).
		Where("id = ? AND status = ?", paymentID, PaymentPending).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.payments.FindOne(ctx, &BookingPayment{ID: paymentID})
}

// MarkPaid is idempotent; it reports whether this call made the transition.
func (s *Service) MarkPaid(ctx context.Context, paymentID, sessionID string) (bool, error) {
	now := s.now()
	updates := map[string]any{"status": PaymentPaid, "paid_at": now}
	if sessionID != "" {
		updates["external_session_id"] = sessionID
	}

	res := s.db.WithContext(ctx).Model(&BookingPayment{}).
		Where("id = ? AND status <> ?", paymentID, PaymentPaid).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// MarkFailed only touches rows that are still waiting on the buyer.
func (s *Service) MarkFailed(ctx context.Context, paymentID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&BookingPayment{}).
		Where("id = ? AND status IN ?", paymentID, []PaymentStatus{PaymentPending, PaymentLinkSent}).
		Update("status", PaymentFailed)
	return res.RowsAffected > 0, res.Error
}
