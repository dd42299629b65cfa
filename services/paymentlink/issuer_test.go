package paymentlink

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"creator-booking/pkg/errutil"
	"creator-booking/pkg/identity"
	"creator-booking/pkg/middleware"
	"creator-booking/pkg/processor"
	"creator-booking/services/booking"
	"creator-booking/services/catalog"
	"creator-booking/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type fakeProcessor struct {
	requests []processor.CheckoutRequest
	err      error
}

func (f *fakeProcessor) CreateCheckoutLink(_ context.Context, req processor.CheckoutRequest) (*processor.CheckoutLink, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &processor.CheckoutLink{SessionID: "cs_link", URL: "https://checkout.example.com/cs_link"}, nil
}

func (f *fakeProcessor) VerifyEvent([]byte, string) (*processor.Event, error) {
	return nil, errors.New("not used")
}

func (f *fakeProcessor) CancelSubscription(context.Context, string) error {
	return errors.New("not used")
}

type fixture struct {
	issuer   *Issuer
	bookings *booking.Service
	proc     *fakeProcessor
	booking  *booking.Booking
}

func newFixture(t *testing.T, price int64) *fixture {
	var models []any
	models = append(models, booking.Models()...)
	models = append(models, catalog.Models()...)
	db := testutil.NewTestDB(t, models...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ctx := context.Background()
	cat := catalog.NewService(catalog.ServiceParams{DB: db})
	require.NoError(t, cat.SaveContent(ctx, &catalog.ContentItem{
		ID:         "content_1",
		CreatorID:  "creator_1",
		Title:      "Coaching call",
		PriceCents: price,
		Currency:   "usd",
	}))

	f := &fixture{
		bookings: booking.NewService(booking.ServiceParams{DB: db, Node: node}),
		proc:     &fakeProcessor{},
	}
	f.issuer = NewIssuer(f.bookings, cat, f.proc)

	f.booking = &booking.Booking{BuyerID: "buyer_1", CreatorID: "creator_1", ContentID: "content_1"}
	_, err = f.bookings.CreateReservation(ctx, f.booking)
	require.NoError(t, err)
	return f
}

func TestPlatformFee(t *testing.T) {
	require.EqualValues(t, 120, PlatformFee(1000, 1200))
	require.EqualValues(t, 144, PlatformFee(1199, 1200)) // 143.88
	require.EqualValues(t, 6, PlatformFee(50, 1200))     // 6.0
	require.EqualValues(t, 1, PlatformFee(5, 1200))      // 0.6
	require.EqualValues(t, 0, PlatformFee(4, 1200))      // 0.48
}

func TestParsePlan(t *testing.T) {
	p, err := ParsePlan("full", nil)
	require.NoError(t, err)
	require.Equal(t, booking.PlanFull, p.Type())

	months := 6
	p, err = ParsePlan("Installment", &months)
	require.NoError(t, err)
	require.Equal(t, InstallmentPlan{Months: 6}, p)

	_, err = ParsePlan("installment", nil)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = ParsePlan("weekly", nil)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
}

func TestIssueFullPlan(t *testing.T) {
	f := newFixture(t, 1000)

	out, err := f.issuer.Issue(context.Background(), "creator_1", f.booking.ID, FullPlan{})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.example.com/cs_link", out.URL)
	require.Equal(t, booking.PaymentLinkSent, out.Payment.Status)
	require.EqualValues(t, 1000, out.Payment.AmountTotalCents)
	require.EqualValues(t, 120, out.Payment.PlatformFeeCents)
	require.Equal(t, "https://checkout.example.com/cs_link", *out.Payment.LinkURL)
	require.Equal(t, "cs_link", *out.Payment.ExternalSessionID)

	require.Len(t, f.proc.requests, 1)
	req := f.proc.requests[0]
	require.EqualValues(t, 1000, req.AmountCents)
	require.Zero(t, req.Months)
	require.Equal(t, out.Payment.ID, req.Metadata[processor.MetaBookingPaymentID])
	require.Equal(t, processor.FlowBookingPayment, req.Metadata[processor.MetaFlow])
	require.Equal(t, "buyer_1", req.Metadata[processor.MetaBuyerID])
}

func TestIssueInstallmentPlan(t *testing.T) {
	f := newFixture(t, 1200)

	out, err := f.issuer.Issue(context.Background(), "creator_1", f.booking.ID, InstallmentPlan{Months: 3})
	require.NoError(t, err)
	require.EqualValues(t, 400, *out.Payment.InstallmentAmountCents)
	require.Equal(t, 3, *out.Payment.InstallmentMonths)
	require.EqualValues(t, 1200, out.Payment.AmountTotalCents)

	req := f.proc.requests[0]
	require.EqualValues(t, 400, req.AmountCents)
	require.Equal(t, 3, req.Months)
}

func TestIssueRejectsSmallInstallments(t *testing.T) {
	f := newFixture(t, 1199)

	_, err := f.issuer.Issue(context.Background(), "creator_1", f.booking.ID, InstallmentPlan{Months: 24})
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
	require.Contains(t, errutil.ToBaseError(err).Message, "at most 23 months")
	require.Empty(t, f.proc.requests)

	rows, err := f.bookings.Payments(context.Background(), f.booking.ID)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestIssueValidations(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, "", f.booking.ID, FullPlan{})
	require.True(t, errutil.IsStatus(err, errutil.StatusUnauthorized))

	_, err = f.issuer.Issue(ctx, "creator_1", "missing", FullPlan{})
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	_, err = f.issuer.Issue(ctx, "creator_2", f.booking.ID, FullPlan{})
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	for _, months := range []int{1, 25} {
		_, err = f.issuer.Issue(ctx, "creator_1", f.booking.ID, InstallmentPlan{Months: months})
		require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed), months)
	}
}

func TestIssueRejectsBelowMinimumAndUnpriced(t *testing.T) {
	for name, price := range map[string]int64{"below_minimum": 49, "unpriced": 0} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, price)
			_, err := f.issuer.Issue(context.Background(), "creator_1", f.booking.ID, FullPlan{})
			require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
		})
	}
}

func TestIssueProcessorFailureKeepsPendingRow(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	f.proc.err = &processor.Error{StatusCode: http.StatusPaymentRequired, Message: "card declined"}
	_, err := f.issuer.Issue(ctx, "creator_1", f.booking.ID, FullPlan{})
	require.Error(t, err)
	require.Equal(t, http.StatusPaymentRequired, errutil.ToBaseError(err).HTTPStatus())

	f.proc.err = &processor.Error{Message: "connection reset"}
	_, err = f.issuer.Issue(ctx, "creator_1", f.booking.ID, FullPlan{})
	require.Equal(t, http.StatusInternalServerError, errutil.ToBaseError(err).HTTPStatus())

	rows, err := f.bookings.Payments(ctx, f.booking.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, booking.PaymentPending, rows[0].Status)

	// a retry reuses the pending row
	f.proc.err = nil
	out, err := f.issuer.Issue(ctx, "creator_1", f.booking.ID, FullPlan{})
	require.NoError(t, err)
	require.Equal(t, rows[0].ID, out.Payment.ID)
	require.Equal(t, booking.PaymentLinkSent, out.Payment.Status)
}

func TestCreateHandler(t *testing.T) {
	f := newFixture(t, 1000)
	lookup := identity.NewJWTLookup("secret", "")

	r := gin.New()
	r.Use(middleware.Error(), middleware.Identity(lookup))
	RegisterRoutes(r, NewHandler(f.issuer))

	token, err := lookup.Issue("creator_1", time.Hour)
	require.NoError(t, err)

	send := func(body string, auth bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/bookings/"+f.booking.ID+"/payment-link", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		if auth {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := send(`{"plan_type":"full"}`, false)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = send(`{"plan_type":"installment","installment_months":24}`, true)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = send(`{"plan_type":"full"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"url":"https://checkout.example.com/cs_link"`)
	require.Contains(t, w.Body.String(), `"status":"link_sent"`)
}
