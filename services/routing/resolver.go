package routing

import (
	"context"

	"creator-booking/pkg/errutil"
	"creator-booking/pkg/featureflags"
	"creator-booking/pkg/logger"
	"creator-booking/pkg/metrics"
	"creator-booking/pkg/weburl"
	"creator-booking/services/allocation"
	"creator-booking/services/catalog"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Tier string

const (
	TierContentOverride Tier = "content_override"
	TierAllocation      Tier = "allocation"
	TierLegacyCloser    Tier = "legacy_closer"
	TierProfileDefault  Tier = "profile_default"
)

type Request struct {
	CreatorID string
	ContentID string
	ViewerID  string
}

type Destination struct {
	URL      string `json:"url"`
	Tier     Tier   `json:"tier"`
	TargetID string `json:"target_id,omitempty"`
}

type Catalog interface {
	GetContent(ctx context.Context, contentID string) (*catalog.ContentItem, error)
	GetProfile(ctx context.Context, creatorID string) (*catalog.CreatorProfile, error)
	ActiveLegacyClosers(ctx context.Context, creatorID string) ([]*catalog.LegacyCloser, error)
}

type Allocator interface {
	PickAndBump(ctx context.Context, req allocation.PickRequest) (*allocation.BookingTarget, allocation.Decision, error)
}

// resolverFunc is one tier of the chain. ok=false hands over to the next
// tier; an error aborts the chain.
type resolverFunc func(ctx context.Context, req Request) (Destination, bool, error)

type tier struct {
	name    Tier
	resolve resolverFunc
}

type Resolver struct {
	catalog   Catalog
	allocator Allocator
	flags     featureflags.FeatureFlag
	chain     []tier
}

type ResolverParams struct {
	fx.In
	Catalog   *catalog.Service
	Allocator *allocation.Service
	Flags     featureflags.FeatureFlag `optional:"true"`
}

func ProvideResolver(p ResolverParams) *Resolver {
	return NewResolver(p.Catalog, p.Allocator, p.Flags)
}

func NewResolver(c Catalog, a Allocator, flags featureflags.FeatureFlag) *Resolver {
	if flags == nil {
		flags = featureflags.Static{}
	}

	r := &Resolver{catalog: c, allocator: a, flags: flags}
	r.chain = []tier{
		{TierContentOverride, r.contentOverride},
		{TierAllocation, r.allocate},
		{TierLegacyCloser, r.legacyCloser},
		{TierProfileDefault, r.profileDefault},
	}
	return r
}

// Resolve walks the tiers in order and returns the first usable destination.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Destination, error) {
	if req.CreatorID == "" {
		return Destination{}, errutil.ValidationFailed("creator_id is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "creator_id", Message: "is required"}))
	}

	log := logger.FromContext(ctx).With(
		zap.String("creator_id", req.CreatorID),
		zap.String("content_id", req.ContentID),
	)

	for _, t := range r.chain {
		dest, ok, err := t.resolve(ctx, req)
		if err != nil {
			log.Error("booking destination tier failed", zap.String("tier", string(t.name)), zap.Error(err))
			return Destination{}, errutil.Internal("failed to resolve booking destination", err)
		}
		if ok {
			dest.Tier = t.name
			metrics.DestinationResolutions.WithLabelValues(string(t.name)).Inc()
			log.Debug("booking destination resolved", zap.String("tier", string(t.name)), zap.String("target_id", dest.TargetID))
			return dest, nil
		}
	}

	metrics.DestinationResolutions.WithLabelValues("none").Inc()
	return Destination{}, errutil.NoDestination("no booking destination configured", nil)
}

// contentOverride uses the content item's own booking URL verbatim. It only
// applies to content owned by the requested creator and never bumps a counter.
func (r *Resolver) contentOverride(ctx context.Context, req Request) (Destination, bool, error) {
	if req.ContentID == "" {
		return Destination{}, false, nil
	}

	item, err := r.catalog.GetContent(ctx, req.ContentID)
	if err != nil || item == nil {
		return Destination{}, false, err
	}
	if item.CreatorID != req.CreatorID {
		return Destination{}, false, nil
	}

	url, ok := weburl.Usable(item.BookingURL)
	return Destination{URL: url}, ok, nil
}

func (r *Resolver) allocate(ctx context.Context, req Request) (Destination, bool, error) {
	target, _, err := r.allocator.PickAndBump(ctx, allocation.PickRequest{
		CreatorID: req.CreatorID,
		ViewerID:  req.ViewerID,
		Eligible: func(t *allocation.BookingTarget) bool {
			return weburl.Valid(t.DestinationURL)
		},
	})
	if err != nil || target == nil {
		return Destination{}, false, err
	}
	return Destination{URL: target.DestinationURL, TargetID: target.ID}, true, nil
}

func (r *Resolver) legacyCloser(ctx context.Context, req Request) (Destination, bool, error) {
	if !r.flags.Enabled(ctx, req.CreatorID, featureflags.LegacyCloserFallback, true) {
		return Destination{}, false, nil
	}

	rows, err := r.catalog.ActiveLegacyClosers(ctx, req.CreatorID)
	if err != nil {
		return Destination{}, false, err
	}

	for _, row := range rows {
		if url, ok := weburl.Usable(&row.DestinationURL); ok {
			return Destination{URL: url, TargetID: row.ID}, true, nil
		}
	}
	return Destination{}, false, nil
}

func (r *Resolver) profileDefault(ctx context.Context, req Request) (Destination, bool, error) {
	profile, err := r.catalog.GetProfile(ctx, req.CreatorID)
	if err != nil || profile == nil || !profile.BookingURLPublic {
		return Destination{}, false, err
	}

	url, ok := weburl.Usable(profile.BookingURL)
	return Destination{URL: url}, ok, nil
}
