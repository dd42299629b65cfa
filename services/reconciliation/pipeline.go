package reconciliation

import (
	"context"
	"errors"
	"time"

	"creator-booking/pkg/db"
	"creator-booking/pkg/errutil"
	"creator-booking/pkg/gen"
	"creator-booking/pkg/logger"
	"creator-booking/pkg/metrics"
	"creator-booking/pkg/processor"
	"creator-booking/pkg/repository"
	"creator-booking/pkg/task"
	"creator-booking/services/booking"
	"creator-booking/services/catalog"
	"creator-booking/services/linkage"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errConflictingPurchase is an insert that lost to a row keyed by the same
// payment intent under another session. Redelivery resolves it by intent.
var errConflictingPurchase = errors.New("reconciliation: purchase conflicts on transaction id")

type ContentLookup interface {
	GetContent(ctx context.Context, contentID string) (*catalog.ContentItem, error)
}

type Linker interface {
	Link(ctx context.Context, in linkage.Input) (*booking.Booking, error)
}

type Pipeline struct {
	db        *gorm.DB
	ids       gen.IDGenerator
	processor processor.Processor
	bookings  *booking.Service
	content   ContentLookup
	linker    Linker
	enqueuer  task.Enqueuer

	purchases repository.Repository[Purchase]
	now       func() time.Time
}

type PipelineParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Processor processor.Processor
	Bookings  *booking.Service
	Catalog   *catalog.Service
	Linker    *linkage.Resolver
	Enqueuer  task.Enqueuer `optional:"true"`
}

func ProvidePipeline(p PipelineParams) *Pipeline {
	return NewPipeline(p.DB, p.Node, p.Processor, p.Bookings, p.Catalog, p.Linker, p.Enqueuer)
}

func NewPipeline(
	db *gorm.DB,
	node *snowflake.Node,
	proc processor.Processor,
	bookings *booking.Service,
	content ContentLookup,
	linker Linker,
	enqueuer task.Enqueuer,
) *Pipeline {
	return &Pipeline{
		db:        db,
		ids:       gen.NewIDGenerator(node),
		processor: proc,
		bookings:  bookings,
		content:   content,
		linker:    linker,
		enqueuer:  enqueuer,
		purchases: repository.ProvideStore[Purchase](db),
		now:       time.Now,
	}
}

// Handle verifies and applies one processor delivery. Deliveries are
// at-least-once, so every write below is keyed on an external id and a
// replay converges to the same rows. The returned error is a SignatureInvalid
// for unverifiable payloads and an Internal error when a critical write
// failed and the processor should redeliver.
func (p *Pipeline) Handle(ctx context.Context, payload []byte, signature string) error {
	evt, err := p.processor.VerifyEvent(payload, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unverified", "rejected").Inc()
		return errutil.SignatureInvalid("invalid webhook signature", err)
	}

	log := logger.FromContext(ctx).With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))
	ctx = logger.WithLogger(ctx, log)
	p.audit(ctx, evt)

	var outcome Outcome
	switch evt.Type {
	case processor.EventCheckoutCompleted, processor.EventCheckoutAsyncSucceeded:
		outcome, err = p.checkoutCompleted(ctx, evt.Session)
	case processor.EventCheckoutExpired:
		outcome, err = p.checkoutExpired(ctx, evt.Session)
	case processor.EventChargeRefunded:
		outcome, err = p.chargeRefunded(ctx, evt.Charge)
	case processor.EventInvoicePaid:
		outcome, err = p.invoicePaid(ctx, evt.Invoice)
	default:
		log.Info("ignoring unhandled webhook event")
		outcome = OutcomeIgnored
	}

	if err != nil {
		log.Error("webhook processing failed", zap.Error(err))
		p.finish(ctx, evt.ID, OutcomeFailed, err)
		metrics.WebhookEvents.WithLabelValues(evt.Type, string(OutcomeFailed)).Inc()
		return errutil.Internal("failed to process webhook event", err)
	}

	p.finish(ctx, evt.ID, outcome, nil)
	metrics.WebhookEvents.WithLabelValues(evt.Type, string(outcome)).Inc()
	return nil
}

func (p *Pipeline) checkoutCompleted(ctx context.Context, s *processor.Session) (Outcome, error) {
	if s == nil || s.ID == "" {
		return OutcomeIgnored, nil
	}

	if s.Metadata[processor.MetaFlow] == processor.FlowBookingReservation {
		return p.reserveBooking(ctx, s)
	}

	purchase, outcome, err := p.recordPurchase(ctx, s)
	if err != nil {
		return OutcomeFailed, err
	}
	if purchase == nil || purchase.Status != PurchasePaid {
		return outcome, nil
	}

	if paymentID := s.Metadata[processor.MetaBookingPaymentID]; paymentID != "" {
		if _, err := p.bookings.MarkPaid(ctx, paymentID, s.ID); err != nil {
			return OutcomeFailed, err
		}
	}

	if outcome == OutcomeProcessed {
		p.link(ctx, purchase)
	}
	return outcome, nil
}

// recordPurchase applies a completed session to the purchases table:
// replay by session id, adopt a row known by payment intent, or insert.
func (p *Pipeline) recordPurchase(ctx context.Context, s *processor.Session) (*Purchase, Outcome, error) {
	log := logger.FromContext(ctx).With(zap.String("session_id", s.ID))
	status := PurchasePending
	if s.Paid() {
		status = PurchasePaid
	}

	existing, err := p.purchases.FindOne(ctx, &Purchase{ExternalSessionID: s.ID})
	if err != nil {
		return nil, OutcomeFailed, err
	}
	if existing != nil {
		if existing.Status == PurchasePending && status == PurchasePaid {
			return p.markPaid(ctx, existing.ID, s)
		}
		log.Debug("purchase already recorded", zap.String("purchase_id", existing.ID))
		return existing, OutcomeReplay, nil
	}

	if s.PaymentIntentID != "" {
		byTxn, err := p.purchases.FindOne(ctx, &Purchase{ExternalTransactionID: &s.PaymentIntentID})
		if err != nil {
			return nil, OutcomeFailed, err
		}
		if byTxn != nil {
			switch {
			case byTxn.Status == PurchaseRefunded:
				return byTxn, OutcomeReplay, nil
			case status == PurchasePaid:
				return p.markPaid(ctx, byTxn.ID, s)
			case byTxn.Status == PurchasePending:
				return p.adoptSession(ctx, byTxn, s)
			default:
				return byTxn, OutcomeReplay, nil
			}
		}
	}

	row, err := p.purchaseFromSession(ctx, s, status)
	if err != nil {
		return nil, OutcomeFailed, err
	}

	res := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil && !db.IsDuplicateKey(res.Error) {
		return nil, OutcomeFailed, res.Error
	}
	if res.Error != nil || res.RowsAffected == 0 {
		// a concurrent delivery inserted first
		winner, err := p.purchases.FindOne(ctx, &Purchase{ExternalSessionID: s.ID})
		if err != nil {
			return nil, OutcomeFailed, err
		}
		if winner == nil {
			return nil, OutcomeFailed, errConflictingPurchase
		}
		return winner, OutcomeReplay, nil
	}

	log.Info("purchase recorded", zap.String("purchase_id", row.ID), zap.String("status", string(row.Status)))
	return row, OutcomeProcessed, nil
}

func (p *Pipeline) markPaid(ctx context.Context, purchaseID string, s *processor.Session) (*Purchase, Outcome, error) {
	now := p.now()
	updates := map[string]any{
		"status":              PurchasePaid,
		"external_session_id": s.ID,
		"amount_cents":        s.AmountTotal,
		"paid_at":             now,
	}
	if s.Currency != "" {
		updates["currency"] = s.Currency
	}
	if s.PaymentIntentID != "" {
		updates["external_transaction_id"] = s.PaymentIntentID
	}
	if pinned := pinnedBooking(s); pinned != nil {
		updates["pinned_booking_id"] = *pinned
	}

	if err := p.purchases.Update(ctx, purchaseID, updates); err != nil {
		return nil, OutcomeFailed, err
	}

	row, err := p.purchases.FindOne(ctx, &Purchase{ID: purchaseID})
	if err != nil {
		return nil, OutcomeFailed, err
	}
	logger.FromContext(ctx).Info("purchase marked paid", zap.String("purchase_id", purchaseID))
	return row, OutcomeProcessed, nil
}

// adoptSession moves a pending purchase onto a newer unpaid session for the
// same payment intent. It stays pending until the payment is captured.
func (p *Pipeline) adoptSession(ctx context.Context, row *Purchase, s *processor.Session) (*Purchase, Outcome, error) {
	if row.ExternalSessionID == s.ID {
		return row, OutcomeReplay, nil
	}

	updates := map[string]any{"external_session_id": s.ID}
	if pinned := pinnedBooking(s); pinned != nil {
		updates["pinned_booking_id"] = *pinned
	}
	res := p.db.WithContext(ctx).Model(&Purchase{}).
		Where("id = ? AND status = ?", row.ID, PurchasePending).
		Updates(updates)
	if res.Error != nil {
		return nil, OutcomeFailed, res.Error
	}

	out, err := p.purchases.FindOne(ctx, &Purchase{ID: row.ID})
	if err != nil {
		return nil, OutcomeFailed, err
	}
	logger.FromContext(ctx).Info("pending purchase moved to new session",
		zap.String("purchase_id", row.ID),
		zap.String("session_id", s.ID),
	)
	return out, OutcomeProcessed, nil
}

// pinnedBooking returns the booking a booking-payment session was issued for.
func pinnedBooking(s *processor.Session) *string {
	if s.Metadata[processor.MetaBookingPaymentID] == "" {
		return nil
	}
	id := s.Metadata[processor.MetaBookingID]
	if id == "" {
		return nil
	}
	return &id
}

func (p *Pipeline) purchaseFromSession(ctx context.Context, s *processor.Session, status PurchaseStatus) (*Purchase, error) {
	meta := s.Metadata
	row := &Purchase{
		ID:                p.ids.NewID(),
		BuyerID:           firstNonEmpty(meta[processor.MetaBuyerID], s.ClientReference),
		CreatorID:         meta[processor.MetaCreatorID],
		ContentID:         meta[processor.MetaContentID],
		ExternalSessionID: s.ID,
		AmountCents:       s.AmountTotal,
		Currency:          s.Currency,
		Status:            status,
		BuyerEmail:        s.CustomerEmail,
		PinnedBookingID:   pinnedBooking(s),
	}
	if s.PaymentIntentID != "" {
		txn := s.PaymentIntentID
		row.ExternalTransactionID = &txn
	}
	if status == PurchasePaid {
		now := p.now()
		row.PaidAt = &now
	}

	if row.CreatorID == "" {
		creatorID, err := p.creatorOf(ctx, row.ContentID)
		if err != nil {
			return nil, err
		}
		row.CreatorID = creatorID
	}
	return row, nil
}

func (p *Pipeline) creatorOf(ctx context.Context, contentID string) (string, error) {
	if contentID == "" {
		return "", nil
	}
	item, err := p.content.GetContent(ctx, contentID)
	if err != nil || item == nil {
		return "", err
	}
	return item.CreatorID, nil
}

// reserveBooking turns a zero-amount reservation checkout into a booking.
func (p *Pipeline) reserveBooking(ctx context.Context, s *processor.Session) (Outcome, error) {
	log := logger.FromContext(ctx).With(zap.String("session_id", s.ID))
	meta := s.Metadata

	creatorID := meta[processor.MetaCreatorID]
	if creatorID == "" {
		var err error
		if creatorID, err = p.creatorOf(ctx, meta[processor.MetaContentID]); err != nil {
			return OutcomeFailed, err
		}
	}
	buyerID := firstNonEmpty(meta[processor.MetaBuyerID], s.ClientReference)
	if creatorID == "" || buyerID == "" {
		log.Warn("reservation checkout without creator or buyer",
			zap.String("creator_id", creatorID),
			zap.String("buyer_id", buyerID),
		)
		return OutcomeIgnored, nil
	}

	sessionID := s.ID
	md := datatypes.JSONMap{}
	for k, v := range meta {
		md[k] = v
	}
	if s.CustomerEmail != "" {
		md["customer_email"] = s.CustomerEmail
	}

	created, err := p.bookings.CreateReservation(ctx, &booking.Booking{
		ContentID:         meta[processor.MetaContentID],
		BuyerID:           buyerID,
		CreatorID:         creatorID,
		ExternalSessionID: &sessionID,
		Metadata:          md,
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if !created {
		return OutcomeReplay, nil
	}

	log.Info("booking reserved", zap.String("creator_id", creatorID), zap.String("buyer_id", buyerID))
	return OutcomeProcessed, nil
}

func (p *Pipeline) checkoutExpired(ctx context.Context, s *processor.Session) (Outcome, error) {
	if s == nil || s.ID == "" {
		return OutcomeIgnored, nil
	}

	res := p.db.WithContext(ctx).Model(&Purchase{}).
		Where("external_session_id = ? AND status = ?", s.ID, PurchasePending).
		Update("status", PurchaseExpired)
	if res.Error != nil {
		return OutcomeFailed, res.Error
	}
	touched := res.RowsAffected > 0

	if paymentID := s.Metadata[processor.MetaBookingPaymentID]; paymentID != "" {
		failed, err := p.bookings.MarkFailed(ctx, paymentID)
		if err != nil {
			return OutcomeFailed, err
		}
		touched = touched || failed
	}

	if !touched {
		return OutcomeReplay, nil
	}
	return OutcomeProcessed, nil
}

// chargeRefunded marks the purchase for the charge's payment intent. An
// unknown intent is logged and acknowledged.
func (p *Pipeline) chargeRefunded(ctx context.Context, ch *processor.Charge) (Outcome, error) {
	log := logger.FromContext(ctx)
	if ch == nil || ch.PaymentIntentID == "" {
		log.Warn("refund without payment intent")
		return OutcomeIgnored, nil
	}

	res := p.db.WithContext(ctx).Model(&Purchase{}).
		Where("external_transaction_id = ? AND status <> ?", ch.PaymentIntentID, PurchaseRefunded).
		Updates(map[string]any{"status": PurchaseRefunded, "refunded_at": p.now()})
	if res.Error != nil {
		return OutcomeFailed, res.Error
	}
	if res.RowsAffected > 0 {
		log.Info("purchase refunded", zap.String("payment_intent", ch.PaymentIntentID))
		return OutcomeProcessed, nil
	}

	known, err := p.purchases.Count(ctx, &Purchase{ExternalTransactionID: &ch.PaymentIntentID})
	if err != nil {
		return OutcomeFailed, err
	}
	if known == 0 {
		log.Warn("refund for unknown transaction", zap.String("payment_intent", ch.PaymentIntentID))
		return OutcomeIgnored, nil
	}
	return OutcomeReplay, nil
}

// link runs linkage inline. Its failures never fail the delivery; the
// purchase is queued for a retry instead.
func (p *Pipeline) link(ctx context.Context, purchase *Purchase) {
	in := linkageInput(purchase)

	_, err := p.linker.Link(ctx, in)
	if err == nil {
		return
	}

	log := logger.FromContext(ctx).With(zap.String("purchase_id", purchase.ID))
	log.Warn("linkage failed, scheduling retry", zap.Error(err))
	if p.enqueuer == nil {
		return
	}
	if err := linkage.Enqueue(ctx, p.enqueuer, in); err != nil {
		log.Error("failed to schedule linkage retry", zap.Error(err))
	}
}

func (p *Pipeline) audit(ctx context.Context, evt *processor.Event) {
	payload := datatypes.JSON(evt.Raw)
	if len(payload) == 0 {
		payload = datatypes.JSON("{}")
	}

	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{"deliveries": gorm.Expr("webhook_events.deliveries + 1")}),
	}).Create(&WebhookEvent{
		ID:         evt.ID,
		Provider:   "stripe",
		Type:       evt.Type,
		Payload:    payload,
		Outcome:    OutcomeReceived,
		Deliveries: 1,
		ReceivedAt: p.now(),
	}).Error
	if err != nil {
		logger.FromContext(ctx).Warn("failed to audit webhook event", zap.Error(err))
	}
}

func (p *Pipeline) finish(ctx context.Context, eventID string, outcome Outcome, cause error) {
	now := p.now()
	updates := map[string]any{"outcome": outcome, "processed_at": now, "error": ""}
	if cause != nil {
		updates["error"] = cause.Error()
	}

	err := p.db.WithContext(ctx).Model(&WebhookEvent{}).Where("id = ?", eventID).Updates(updates).Error
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.FromContext(ctx).Warn("failed to record webhook outcome", zap.Error(err))
	}
}

func linkageInput(purchase *Purchase) linkage.Input {
	in := linkage.Input{
		PurchaseID: purchase.ID,
		BuyerID:    purchase.BuyerID,
		CreatorID:  purchase.CreatorID,
		ContentID:  purchase.ContentID,
	}
	if purchase.PinnedBookingID != nil {
		in.BookingID = *purchase.PinnedBookingID
	}
	return in
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
