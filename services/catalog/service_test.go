package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"creator-booking/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	db := testutil.NewTestDB(t, Models()...)
	return NewService(ServiceParams{DB: db})
}

func TestGetContentMissingReturnsNil(t *testing.T) {
	svc := newTestService(t)

	item, err := svc.GetContent(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, item)

	item, err = svc.GetContent(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, item)
}

func TestSaveAndGetContent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	url := "https://cal.example.com/a"

	require.NoError(t, svc.SaveContent(ctx, &ContentItem{ID: "c1", CreatorID: "creator_1", BookingURL: &url, PriceCents: 1500, Currency: "usd"}))

	item, err := svc.GetContent(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "creator_1", item.CreatorID)
	require.Equal(t, url, *item.BookingURL)
	require.True(t, item.Priced())

	item.PriceCents = 0
	require.NoError(t, svc.SaveContent(ctx, item))
	item, err = svc.GetContent(ctx, "c1")
	require.NoError(t, err)
	require.False(t, item.Priced())
}

func TestActiveLegacyClosersOrdering(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	rows := []*LegacyCloser{
		{ID: "l1", CreatorID: "creator_1", DestinationURL: "https://a.example.com", Weight: 2, Active: true, CreatedAt: base},
		{ID: "l2", CreatorID: "creator_1", DestinationURL: "https://b.example.com", Weight: 5, Active: true, CreatedAt: base.Add(time.Minute)},
		{ID: "l3", CreatorID: "creator_1", DestinationURL: "https://c.example.com", Weight: 5, Active: true, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "l4", CreatorID: "creator_1", DestinationURL: "https://d.example.com", Weight: 9, Active: false, CreatedAt: base},
		{ID: "l5", CreatorID: "creator_2", DestinationURL: "https://e.example.com", Weight: 9, Active: true, CreatedAt: base},
	}
	for _, r := range rows {
		require.NoError(t, svc.SaveLegacyCloser(ctx, r))
	}
	got, err := svc.ActiveLegacyClosers(ctx, "creator_1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{"l2", "l3", "l1"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestSaveLegacyCloserKeepsZeroValues(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SaveLegacyCloser(ctx, &LegacyCloser{
		ID:             "l1",
		CreatorID:      "creator_1",
		DestinationURL: "https://a.example.com",
		Weight:         0,
		Active:         false,
	}))

	var stored LegacyCloser
	require.NoError(t, svc.db.First(&stored, "id = ?", "l1").Error)
	require.False(t, stored.Active)
	require.Equal(t, 0, stored.Weight)
	require.False(t, stored.CreatedAt.IsZero())

	got, err := svc.ActiveLegacyClosers(ctx, "creator_1")
	require.NoError(t, err)
	require.Empty(t, got)
}
