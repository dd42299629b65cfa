package allocation

import (
	"context"
	"errors"
	"strings"
	"time"

	"creator-booking/pkg/config"
	"creator-booking/pkg/db/option"
	"creator-booking/pkg/errutil"
	"creator-booking/pkg/gen"
	"creator-booking/pkg/logger"
	"creator-booking/pkg/metrics"
	"creator-booking/pkg/repository"
	"creator-booking/pkg/weburl"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db      *gorm.DB
	ids     gen.IDGenerator
	targets repository.Repository[BookingTarget]
	routing repository.Repository[RoutingConfig]

	recentWindow int
	now          func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	window := DefaultRecentWindow
	if p.Config != nil && p.Config.Booking.RecentWindow > 0 {
		window = p.Config.Booking.RecentWindow
	}

	return &Service{
		db:           p.DB,
		ids:          gen.NewIDGenerator(p.Node),
		targets:      repository.ProvideStore[BookingTarget](p.DB),
		routing:      repository.ProvideStore[RoutingConfig](p.DB),
		recentWindow: window,
		now:          time.Now,
	}
}

type PickRequest struct {
	CreatorID string
	ViewerID  string
	// Eligible narrows the pool before picking, so a target that cannot be
	// used is never counted.
	Eligible func(*BookingTarget) bool
}

var errTargetGone = errors.New("allocation: picked target no longer active")

// PickAndBump locks the creator's active targets, picks one and bumps its
// counter in the same transaction. Concurrent clicks for a creator queue on
// the row locks, so each sees the previous pick's event and count.
func (s *Service) PickAndBump(ctx context.Context, req PickRequest) (*BookingTarget, Decision, error) {
	var (
		picked   *BookingTarget
		decision Decision
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pool []*BookingTarget
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("creator_id = ? AND active = ?", req.CreatorID, true).
			Order("id").
			Find(&pool).Error; err != nil {
			return err
		}

		if req.Eligible != nil {
			eligible := pool[:0]
			for _, t := range pool {
				if req.Eligible(t) {
					eligible = append(eligible, t)
				}
			}
			pool = eligible
		}

		if len(pool) == 0 {
			return nil
		}

		cfg, err := s.routing.WithTrx(tx).FindOne(ctx, &RoutingConfig{CreatorID: req.CreatorID})
		if err != nil {
			return err
		}

		var recent []string
		if err := tx.Model(&AllocationEvent{}).
			Where("creator_id = ?", req.CreatorID).
			Order("created_at DESC").
			Order("id DESC").
			Limit(s.recentWindow).
			Pluck("target_id", &recent).Error; err != nil {
			return err
		}

		picked, decision = Pick(PickInput{
			CreatorID: req.CreatorID,
			ViewerID:  req.ViewerID,
			Targets:   pool,
			Config:    cfg,
			Recent:    recent,
		})
		if picked == nil {
			return nil
		}

		now := s.now()
		res := tx.Model(&BookingTarget{}).
			Where("id = ? AND active = ?", picked.ID, true).
			Updates(map[string]any{
				"uses_count":   gorm.Expr("uses_count + 1"),
				"last_used_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTargetGone
		}
		picked.UsesCount++
		picked.LastUsedAt = &now

		return tx.Create(&AllocationEvent{
			ID:        s.ids.NewID(),
			CreatorID: req.CreatorID,
			TargetID:  picked.ID,
			ViewerID:  req.ViewerID,
			Mode:      decision.Effective,
			CreatedAt: now,
		}).Error
	})
	if errors.Is(err, errTargetGone) {
		logger.FromContext(ctx).Warn("picked target disappeared during allocation", zap.String("creator_id", req.CreatorID))
		return nil, decision, nil
	}
	if err != nil {
		return nil, decision, err
	}

	if picked != nil {
		metrics.AllocationPicks.WithLabelValues(string(decision.Effective)).Inc()
	}

	return picked, decision, nil
}

// =========================================================
// Creator management
// =========================================================

type TargetInput struct {
	Name           string `json:"name"`
	DestinationURL string `json:"destination_url"`
	Weight         *int   `json:"weight"`
	Active         *bool  `json:"active"`
}

func (in TargetInput) validate(partial bool) error {
	var details []errutil.Detail
	if !partial || in.Name != "" {
		if strings.TrimSpace(in.Name) == "" {
			details = append(details, errutil.Detail{Field: "name", Message: "is required"})
		}
	}
	if !partial || in.DestinationURL != "" {
		if !weburl.Valid(in.DestinationURL) {
			details = append(details, errutil.Detail{Field: "destination_url", Message: "must be an http or https URL"})
		}
	}
	if in.Weight != nil && (*in.Weight < 0 || *in.Weight > maxWeight) {
		details = append(details, errutil.Detail{Field: "weight", Message: "must be between 0 and 100"})
	}
	if len(details) > 0 {
		return errutil.ValidationFailed("invalid booking target", nil, errutil.WithDetails(details...))
	}
	return nil
}

func (s *Service) ListTargets(ctx context.Context, creatorID string) ([]*BookingTarget, error) {
	out, err := s.targets.Find(ctx, &BookingTarget{CreatorID: creatorID},
		option.WithSortBy(option.QuerySortBy{SortBy: "name", OrderBy: "asc", Allow: map[string]bool{"name": true}}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list booking targets", err)
	}
	return out, nil
}

func (s *Service) CreateTarget(ctx context.Context, creatorID string, in TargetInput) (*BookingTarget, error) {
	if err := in.validate(false); err != nil {
		return nil, err
	}

	t := &BookingTarget{
		ID:             s.ids.NewID(),
		CreatorID:      creatorID,
		Name:           strings.TrimSpace(in.Name),
		DestinationURL: strings.TrimSpace(in.DestinationURL),
		Weight:         1,
		Active:         true,
	}
	if in.Weight != nil {
		t.Weight = *in.Weight
	}
	if in.Active != nil {
		t.Active = *in.Active
	}

	if err := s.targets.Create(ctx, t); err != nil {
		return nil, errutil.Internal("failed to create booking target", err)
	}
	return t, nil
}

func (s *Service) getOwnedTarget(ctx context.Context, creatorID, targetID string) (*BookingTarget, error) {
	t, err := s.targets.FindOne(ctx, &BookingTarget{ID: targetID})
	if err != nil {
		return nil, errutil.Internal("failed to load booking target", err)
	}
	if t == nil {
		return nil, errutil.NotFound("booking target not found", nil)
	}
	if t.CreatorID != creatorID {
		return nil, errutil.Forbidden("booking target belongs to another creator", nil)
	}
	return t, nil
}

func (s *Service) UpdateTarget(ctx context.Context, creatorID, targetID string, in TargetInput) (*BookingTarget, error) {
	if err := in.validate(true); err != nil {
		return nil, err
	}

	if _, err := s.getOwnedTarget(ctx, creatorID, targetID); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.Name != "" {
		updates["name"] = strings.TrimSpace(in.Name)
	}
	if in.DestinationURL != "" {
		updates["destination_url"] = strings.TrimSpace(in.DestinationURL)
	}
	if in.Weight != nil {
		updates["weight"] = *in.Weight
	}
	if in.Active != nil {
		updates["active"] = *in.Active
	}

	if len(updates) > 0 {
		if err := s.targets.Update(ctx, targetID, updates); err != nil {
			return nil, errutil.Internal("failed to update booking target", err)
		}
	}

	return s.getOwnedTarget(ctx, creatorID, targetID)
}

// DeleteTarget removes the target and clears it as the routing default.
func (s *Service) DeleteTarget(ctx context.Context, creatorID, targetID string) error {
	if _, err := s.getOwnedTarget(ctx, creatorID, targetID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.targets.WithTrx(tx).Delete(ctx, targetID); err != nil {
			return err
		}
		return tx.Model(&RoutingConfig{}).
			Where("creator_id = ? AND default_target_id = ?", creatorID, targetID).
			Update("default_target_id", nil).Error
	})
	if err != nil {
		return errutil.Internal("failed to delete booking target", err)
	}
	return nil
}

// GetRouting returns the stored config, or single mode when none exists.
func (s *Service) GetRouting(ctx context.Context, creatorID string) (*RoutingConfig, error) {
	cfg, err := s.routing.FindOne(ctx, &RoutingConfig{CreatorID: creatorID})
	if err != nil {
		return nil, errutil.Internal("failed to load routing config", err)
	}
	if cfg == nil {
		return &RoutingConfig{CreatorID: creatorID, Mode: ModeSingle}, nil
	}
	return cfg, nil
}

type RoutingInput struct {
	Mode            string  `json:"mode"`
	DefaultTargetID *string `json:"default_target_id"`
}

func (s *Service) PutRouting(ctx context.Context, creatorID string, in RoutingInput) (*RoutingConfig, error) {
	mode, ok := ParseMode(in.Mode)
	if !ok {
		return nil, errutil.ValidationFailed("invalid routing mode", nil, errutil.WithDetails(errutil.Detail{
			Field:   "mode",
			Message: "must be one of single, round_robin, weighted, sticky",
		}))
	}

	if in.DefaultTargetID != nil && *in.DefaultTargetID != "" {
		if _, err := s.getOwnedTarget(ctx, creatorID, *in.DefaultTargetID); err != nil {
			if errutil.IsStatus(err, errutil.StatusInternal) {
				return nil, err
			}
			return nil, errutil.ValidationFailed("default target must be one of your booking targets", err)
		}
	} else {
		in.DefaultTargetID = nil
	}

	cfg := &RoutingConfig{
		CreatorID:       creatorID,
		Mode:            mode,
		DefaultTargetID: in.DefaultTargetID,
		UpdatedAt:       s.now(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "creator_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mode", "default_target_id", "updated_at"}),
	}).Create(cfg).Error; err != nil {
		return nil, errutil.Internal("failed to save routing config", err)
	}

	return cfg, nil
}
