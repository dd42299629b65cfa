package reconciliation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"creator-booking/pkg/errutil"
	"creator-booking/pkg/middleware"
	"creator-booking/pkg/processor"
	"creator-booking/pkg/taskname"
	"creator-booking/services/booking"
	"creator-booking/services/catalog"
	"creator-booking/services/linkage"
	"creator-booking/services/testutil"
)

const webhookSecret = "whsec_test"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{ID: "task"}, nil
}

// stripeProcessor verifies with the real Stripe code and records
// cancellations instead of calling the API.
type stripeProcessor struct {
	*processor.Stripe
	canceled  []string
	cancelErr error
}

func (s *stripeProcessor) CancelSubscription(_ context.Context, subscriptionID string) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.canceled = append(s.canceled, subscriptionID)
	return nil
}

type linkerFunc func(ctx context.Context, in linkage.Input) (*booking.Booking, error)

func (f linkerFunc) Link(ctx context.Context, in linkage.Input) (*booking.Booking, error) {
	return f(ctx, in)
}

type harness struct {
	db       *gorm.DB
	pipeline *Pipeline
	bookings *booking.Service
	catalog  *catalog.Service
	queue    *fakeEnqueuer
	proc     *stripeProcessor
}

func newHarness(t *testing.T) *harness {
	var models []any
	models = append(models, Models()...)
	models = append(models, booking.Models()...)
	models = append(models, catalog.Models()...)
	db := testutil.NewTestDB(t, models...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	h := &harness{
		db:       db,
		bookings: booking.NewService(booking.ServiceParams{DB: db, Node: node}),
		catalog:  catalog.NewService(catalog.ServiceParams{DB: db}),
		queue:    &fakeEnqueuer{},
	}
	resolver := linkage.NewResolver(linkage.ResolverParams{DB: db})
	h.proc = &stripeProcessor{Stripe: processor.NewStripe("sk_test_123", webhookSecret, "https://example.com/ok", "https://example.com/cancel")}
	h.pipeline = NewPipeline(db, node, h.proc, h.bookings, h.catalog, resolver, h.queue)
	return h
}

func event(t *testing.T, id, typ string, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   typ,
		"data":   map[string]any{"object": object},
	})
	require.NoError(t, err)
	return b
}

func session(id, paymentIntent string, amount int64, metadata map[string]string) map[string]any {
	obj := map[string]any{
		"id":             id,
		"object":         "checkout.session",
		"payment_status": "paid",
		"mode":           "payment",
		"amount_total":   amount,
		"currency":       "usd",
		"metadata":       metadata,
	}
	if paymentIntent != "" {
		obj["payment_intent"] = paymentIntent
	}
	return obj
}

func (h *harness) deliver(t *testing.T, payload []byte) error {
	t.Helper()
	return h.pipeline.Handle(context.Background(), payload, processor.SignPayload(payload, webhookSecret, time.Now()))
}

func (h *harness) purchases(t *testing.T) []Purchase {
	t.Helper()
	var rows []Purchase
	require.NoError(t, h.db.Order("created_at").Find(&rows).Error)
	return rows
}

func buyerMeta() map[string]string {
	return map[string]string{
		processor.MetaBuyerID:   "buyer_1",
		processor.MetaCreatorID: "creator_1",
		processor.MetaContentID: "content_1",
	}
}

func TestReplayedCompletionCreatesOnePurchase(t *testing.T) {
	h := newHarness(t)
	payload := event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, buyerMeta()))

	require.NoError(t, h.deliver(t, payload))
	require.NoError(t, h.deliver(t, payload))

	rows := h.purchases(t)
	require.Len(t, rows, 1)
	require.Equal(t, PurchasePaid, rows[0].Status)
	require.Equal(t, "cs_1", rows[0].ExternalSessionID)
	require.Equal(t, "pi_1", *rows[0].ExternalTransactionID)
	require.EqualValues(t, 5000, rows[0].AmountCents)
	require.NotNil(t, rows[0].PaidAt)

	var audit WebhookEvent
	require.NoError(t, h.db.First(&audit, "id = ?", "evt_1").Error)
	require.Equal(t, 2, audit.Deliveries)
	require.Equal(t, OutcomeReplay, audit.Outcome)
}

func TestCompletionAdoptsRowByTransactionID(t *testing.T) {
	h := newHarness(t)
	txn := "pi_1"
	require.NoError(t, h.db.Create(&Purchase{
		ID:                    "p_old",
		BuyerID:               "buyer_1",
		CreatorID:             "creator_1",
		ExternalSessionID:     "cs_old",
		ExternalTransactionID: &txn,
		AmountCents:           100,
		Currency:              "usd",
		Status:                PurchasePending,
	}).Error)

	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_new", "pi_1", 5000, buyerMeta()))))

	rows := h.purchases(t)
	require.Len(t, rows, 1)
	require.Equal(t, "p_old", rows[0].ID)
	require.Equal(t, PurchasePaid, rows[0].Status)
	require.Equal(t, "cs_new", rows[0].ExternalSessionID)
	require.EqualValues(t, 5000, rows[0].AmountCents)
}

func TestUnpaidCompletionKeepsRowByTransactionIDPending(t *testing.T) {
	h := newHarness(t)
	txn := "pi_1"
	require.NoError(t, h.db.Create(&Purchase{
		ID:                    "p_old",
		BuyerID:               "buyer_1",
		CreatorID:             "creator_1",
		ExternalSessionID:     "cs_old",
		ExternalTransactionID: &txn,
		AmountCents:           100,
		Currency:              "usd",
		Status:                PurchasePending,
	}).Error)
	linked := 0
	h.pipeline.linker = linkerFunc(func(context.Context, linkage.Input) (*booking.Booking, error) {
		linked++
		return nil, nil
	})

	unpaid := session("cs_new", "pi_1", 5000, buyerMeta())
	unpaid["payment_status"] = "unpaid"
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, unpaid)))

	rows := h.purchases(t)
	require.Len(t, rows, 1)
	require.Equal(t, "p_old", rows[0].ID)
	require.Equal(t, PurchasePending, rows[0].Status)
	require.Equal(t, "cs_new", rows[0].ExternalSessionID)
	require.Nil(t, rows[0].PaidAt)
	require.Zero(t, linked)

	// capture on the adopted session promotes the same row
	require.NoError(t, h.deliver(t, event(t, "evt_2", processor.EventCheckoutAsyncSucceeded, session("cs_new", "pi_1", 5000, buyerMeta()))))
	rows = h.purchases(t)
	require.Len(t, rows, 1)
	require.Equal(t, PurchasePaid, rows[0].Status)
	require.Equal(t, 1, linked)
}

func TestUnpaidCompletionDoesNotReopenPaidRow(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, buyerMeta()))))

	unpaid := session("cs_2", "pi_1", 5000, buyerMeta())
	unpaid["payment_status"] = "unpaid"
	require.NoError(t, h.deliver(t, event(t, "evt_2", processor.EventCheckoutCompleted, unpaid)))

	rows := h.purchases(t)
	require.Len(t, rows, 1)
	require.Equal(t, PurchasePaid, rows[0].Status)
	require.Equal(t, "cs_1", rows[0].ExternalSessionID)
}

func TestAsyncPaymentPromotesPendingPurchase(t *testing.T) {
	h := newHarness(t)

	unpaid := session("cs_1", "pi_1", 5000, buyerMeta())
	unpaid["payment_status"] = "unpaid"
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, unpaid)))
	require.Equal(t, PurchasePending, h.purchases(t)[0].Status)

	require.NoError(t, h.deliver(t, event(t, "evt_2", processor.EventCheckoutAsyncSucceeded, session("cs_1", "pi_1", 5000, buyerMeta()))))

	rows := h.purchases(t)
	require.Len(t, rows, 1)
	require.Equal(t, PurchasePaid, rows[0].Status)
}

func TestCompletionDerivesCreatorFromContent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.catalog.SaveContent(context.Background(), &catalog.ContentItem{ID: "content_1", CreatorID: "creator_9"}))

	meta := map[string]string{processor.MetaBuyerID: "buyer_1", processor.MetaContentID: "content_1"}
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, meta))))

	require.Equal(t, "creator_9", h.purchases(t)[0].CreatorID)
}

func TestRefundUnknownTransaction(t *testing.T) {
	h := newHarness(t)
	payload := event(t, "evt_1", processor.EventChargeRefunded, map[string]any{
		"id": "ch_1", "object": "charge", "payment_intent": "pi_unknown", "amount_refunded": 5000,
	})

	require.NoError(t, h.deliver(t, payload))
	require.Empty(t, h.purchases(t))
}

func TestRefundKnownTransaction(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, buyerMeta()))))

	refund := event(t, "evt_2", processor.EventChargeRefunded, map[string]any{
		"id": "ch_1", "object": "charge", "payment_intent": "pi_1", "amount_refunded": 5000,
	})
	require.NoError(t, h.deliver(t, refund))
	require.NoError(t, h.deliver(t, refund))

	rows := h.purchases(t)
	require.Len(t, rows, 1)
	require.Equal(t, PurchaseRefunded, rows[0].Status)
	require.NotNil(t, rows[0].RefundedAt)

	// a late completion replay does not resurrect the purchase
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, buyerMeta()))))
	require.Equal(t, PurchaseRefunded, h.purchases(t)[0].Status)
}

func TestReservationCreatesBookingOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.catalog.SaveContent(ctx, &catalog.ContentItem{ID: "content_1", CreatorID: "creator_1"}))

	meta := map[string]string{
		processor.MetaFlow:      processor.FlowBookingReservation,
		processor.MetaBuyerID:   "buyer_1",
		processor.MetaContentID: "content_1",
	}
	payload := event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_res", "", 0, meta))

	require.NoError(t, h.deliver(t, payload))
	require.NoError(t, h.deliver(t, payload))

	var rows []booking.Booking
	require.NoError(t, h.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, "creator_1", rows[0].CreatorID)
	require.Equal(t, "buyer_1", rows[0].BuyerID)
	require.Equal(t, booking.StatusBooked, rows[0].Status)
	require.Empty(t, h.purchases(t))
}

func TestCompletionLinksOpenBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := &booking.Booking{BuyerID: "buyer_1", CreatorID: "creator_1", ContentID: "content_1"}
	_, err := h.bookings.CreateReservation(ctx, b)
	require.NoError(t, err)

	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, buyerMeta()))))

	purchase := h.purchases(t)[0]
	got, err := h.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusCompleted, got.Status)
	require.Equal(t, purchase.ID, *got.LinkedPaymentID)
	require.NotNil(t, purchase.LinkedBookingID)
	require.Equal(t, b.ID, *purchase.LinkedBookingID)
}

func TestLinkageFailureIsQueued(t *testing.T) {
	h := newHarness(t)
	h.pipeline.linker = linkerFunc(func(context.Context, linkage.Input) (*booking.Booking, error) {
		return nil, errors.New("store hiccup")
	})

	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, buyerMeta()))))

	require.Equal(t, PurchasePaid, h.purchases(t)[0].Status)
	require.Len(t, h.queue.tasks, 1)
	require.Equal(t, taskname.LinkageRun, h.queue.tasks[0].Type())
}

func TestBookingPaymentMarkedPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b := &booking.Booking{BuyerID: "buyer_1", CreatorID: "creator_1", ContentID: "content_1"}
	_, err := h.bookings.CreateReservation(ctx, b)
	require.NoError(t, err)
	pay, err := h.bookings.SeedPayment(ctx, &booking.BookingPayment{BookingID: b.ID, PlanType: booking.PlanFull, AmountTotalCents: 5000, Currency: "usd"})
	require.NoError(t, err)

	meta := buyerMeta()
	meta[processor.MetaFlow] = processor.FlowBookingPayment
	meta[processor.MetaBookingID] = b.ID
	meta[processor.MetaBookingPaymentID] = pay.ID
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_pay", "pi_1", 5000, meta))))

	got, err := h.bookings.GetPayment(ctx, pay.ID)
	require.NoError(t, err)
	require.Equal(t, booking.PaymentPaid, got.Status)
	require.NotNil(t, got.PaidAt)

	linked, err := h.bookings.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, booking.StatusCompleted, linked.Status)
}

func TestExpiredSessionFailsBookingPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pay, err := h.bookings.SeedPayment(ctx, &booking.BookingPayment{BookingID: "b1", PlanType: booking.PlanFull, AmountTotalCents: 5000, Currency: "usd"})
	require.NoError(t, err)

	obj := session("cs_pay", "", 5000, map[string]string{processor.MetaBookingPaymentID: pay.ID})
	obj["payment_status"] = "unpaid"
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutExpired, obj)))

	got, err := h.bookings.GetPayment(ctx, pay.ID)
	require.NoError(t, err)
	require.Equal(t, booking.PaymentFailed, got.Status)
}

func TestUnknownEventAcknowledged(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.deliver(t, event(t, "evt_1", "customer.created", map[string]any{"id": "cus_1", "object": "customer"})))

	var audit WebhookEvent
	require.NoError(t, h.db.First(&audit, "id = ?", "evt_1").Error)
	require.Equal(t, OutcomeIgnored, audit.Outcome)
}

func TestBadSignatureHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	payload := event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, buyerMeta()))

	err := h.pipeline.Handle(context.Background(), payload, processor.SignPayload(payload, "whsec_wrong", time.Now()))
	require.True(t, errutil.IsStatus(err, errutil.StatusSignatureInvalid))

	require.Empty(t, h.purchases(t))
	var audits int64
	require.NoError(t, h.db.Model(&WebhookEvent{}).Count(&audits).Error)
	require.Zero(t, audits)
}

func TestStoreFailureAsksForRedelivery(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Migrator().DropTable(&Purchase{}))

	err := h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, buyerMeta())))
	require.True(t, errutil.IsStatus(err, errutil.StatusInternal))
}

func TestWebhookHandler(t *testing.T) {
	h := newHarness(t)

	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(r, NewHandler(h.pipeline))

	payload := event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, buyerMeta()))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", processor.SignPayload(payload, webhookSecret, time.Now()))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSweepQueuesUnlinkedPurchases(t *testing.T) {
	h := newHarness(t)
	h.pipeline.linker = linkerFunc(func(context.Context, linkage.Input) (*booking.Booking, error) {
		return nil, nil
	})
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_1", "pi_1", 5000, buyerMeta()))))

	q := &fakeEnqueuer{}
	s := NewSweeper(SweeperParams{DB: h.db, Enqueuer: q})
	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, q.tasks, 1)

	var in linkage.Input
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &in))
	require.Equal(t, h.purchases(t)[0].ID, in.PurchaseID)
}

func TestSweepKeepsBookingPaymentPinned(t *testing.T) {
	h := newHarness(t)
	h.pipeline.linker = linkerFunc(func(context.Context, linkage.Input) (*booking.Booking, error) {
		return nil, errors.New("store hiccup")
	})

	ctx := context.Background()
	b := &booking.Booking{BuyerID: "buyer_1", CreatorID: "creator_1", ContentID: "content_1"}
	_, err := h.bookings.CreateReservation(ctx, b)
	require.NoError(t, err)
	pay, err := h.bookings.SeedPayment(ctx, &booking.BookingPayment{BookingID: b.ID, PlanType: booking.PlanFull, AmountTotalCents: 5000, Currency: "usd"})
	require.NoError(t, err)

	meta := buyerMeta()
	meta[processor.MetaFlow] = processor.FlowBookingPayment
	meta[processor.MetaBookingID] = b.ID
	meta[processor.MetaBookingPaymentID] = pay.ID
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventCheckoutCompleted, session("cs_pay", "pi_1", 5000, meta))))

	rows := h.purchases(t)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].PinnedBookingID)
	require.Equal(t, b.ID, *rows[0].PinnedBookingID)

	require.Len(t, h.queue.tasks, 1)
	var inline linkage.Input
	require.NoError(t, json.Unmarshal(h.queue.tasks[0].Payload(), &inline))
	require.Equal(t, b.ID, inline.BookingID)

	q := &fakeEnqueuer{}
	n, err := NewSweeper(SweeperParams{DB: h.db, Enqueuer: q}).Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var swept linkage.Input
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &swept))
	require.Equal(t, rows[0].ID, swept.PurchaseID)
	require.Equal(t, b.ID, swept.BookingID)
}

func invoice(id, subscriptionID string, months string) map[string]any {
	return map[string]any{
		"id":           id,
		"object":       "invoice",
		"subscription": subscriptionID,
		"amount_paid":  2500,
		"subscription_details": map[string]any{
			"metadata": map[string]string{
				processor.MetaInstallmentMonths: months,
				processor.MetaBookingPaymentID:  "bp_1",
			},
		},
	}
}

func TestInstallmentSubscriptionCancelledAfterLastInvoice(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventInvoicePaid, invoice("in_1", "sub_1", "3"))))
	require.NoError(t, h.deliver(t, event(t, "evt_2", processor.EventInvoicePaid, invoice("in_2", "sub_1", "3"))))
	// a redelivered invoice counts once
	require.NoError(t, h.deliver(t, event(t, "evt_2", processor.EventInvoicePaid, invoice("in_2", "sub_1", "3"))))
	require.Empty(t, h.proc.canceled)

	require.NoError(t, h.deliver(t, event(t, "evt_3", processor.EventInvoicePaid, invoice("in_3", "sub_1", "3"))))
	require.Equal(t, []string{"sub_1"}, h.proc.canceled)

	var schedule InstallmentSchedule
	require.NoError(t, h.db.First(&schedule, "subscription_id = ?", "sub_1").Error)
	require.Equal(t, 3, schedule.Months)
	require.Equal(t, "bp_1", schedule.BookingPaymentID)
	require.NotNil(t, schedule.CanceledAt)

	// the final invoice replayed after cancellation does not cancel again
	require.NoError(t, h.deliver(t, event(t, "evt_3", processor.EventInvoicePaid, invoice("in_3", "sub_1", "3"))))
	require.Len(t, h.proc.canceled, 1)

	var invoices int64
	require.NoError(t, h.db.Model(&InstallmentInvoice{}).Where("subscription_id = ?", "sub_1").Count(&invoices).Error)
	require.EqualValues(t, 3, invoices)
}

func TestInstallmentCancelFailureAsksForRedelivery(t *testing.T) {
	h := newHarness(t)
	h.proc.cancelErr = &processor.Error{Message: "connection reset"}

	payload := event(t, "evt_1", processor.EventInvoicePaid, invoice("in_1", "sub_1", "1"))
	err := h.deliver(t, payload)
	require.True(t, errutil.IsStatus(err, errutil.StatusInternal))

	var schedule InstallmentSchedule
	require.NoError(t, h.db.First(&schedule, "subscription_id = ?", "sub_1").Error)
	require.Nil(t, schedule.CanceledAt)

	h.proc.cancelErr = nil
	require.NoError(t, h.deliver(t, payload))
	require.Equal(t, []string{"sub_1"}, h.proc.canceled)
}

func TestInvoiceWithoutInstallmentsIgnored(t *testing.T) {
	h := newHarness(t)
	obj := invoice("in_1", "sub_1", "")
	require.NoError(t, h.deliver(t, event(t, "evt_1", processor.EventInvoicePaid, obj)))
	require.Empty(t, h.proc.canceled)

	var audit WebhookEvent
	require.NoError(t, h.db.First(&audit, "id = ?", "evt_1").Error)
	require.Equal(t, OutcomeIgnored, audit.Outcome)
}
