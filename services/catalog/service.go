package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"creator-booking/pkg/config"
	"creator-booking/pkg/db/option"
	"creator-booking/pkg/logger"
	"creator-booking/pkg/rediskey"
	"creator-booking/pkg/repository"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	content repository.Repository[ContentItem]
	profile repository.Repository[CreatorProfile]
	closer  repository.Repository[LegacyCloser]

	db    *gorm.DB
	cache *redis.Client
	ttl   time.Duration
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config `optional:"true"`
	Redis  *redis.Client  `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	ttl := 30 * time.Second
	if p.Config != nil && p.Config.Redis.CacheTTL > 0 {
		ttl = p.Config.Redis.CacheTTL
	}

	return &Service{
		content: repository.ProvideStore[ContentItem](p.DB),
		profile: repository.ProvideStore[CreatorProfile](p.DB),
		closer:  repository.ProvideStore[LegacyCloser](p.DB),
		db:      p.DB,
		cache:   p.Redis,
		ttl:     ttl,
	}
}

// GetContent returns nil when the item does not exist.
func (s *Service) GetContent(ctx context.Context, contentID string) (*ContentItem, error) {
	if contentID == "" {
		return nil, nil
	}
	return cached(ctx, s, rediskey.BuildContentKey(contentID), func() (*ContentItem, error) {
		return s.content.FindOne(ctx, &ContentItem{ID: contentID})
	})
}

// GetProfile returns nil when the creator has no profile row.
func (s *Service) GetProfile(ctx context.Context, creatorID string) (*CreatorProfile, error) {
	if creatorID == "" {
		return nil, nil
	}
	return cached(ctx, s, rediskey.BuildProfileKey(creatorID), func() (*CreatorProfile, error) {
		return s.profile.FindOne(ctx, &CreatorProfile{UserID: creatorID})
	})
}

// ActiveLegacyClosers returns the creator's active legacy rows, highest
// weight first, ties in insertion order.
func (s *Service) ActiveLegacyClosers(ctx context.Context, creatorID string) ([]*LegacyCloser, error) {
	return s.closer.Find(ctx, &LegacyCloser{CreatorID: creatorID},
		option.ApplyOperator(option.Condition{Field: "active", Operator: option.EQ, Value: true}),
		option.WithSortBy(
			option.QuerySortBy{SortBy: "weight", OrderBy: "desc", Allow: map[string]bool{"weight": true}},
			option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"},
			option.QuerySortBy{SortBy: "id", OrderBy: "asc", Allow: map[string]bool{"id": true}},
		),
	)
}

func (s *Service) SaveContent(ctx context.Context, item *ContentItem) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(item).Error; err != nil {
		return err
	}
	s.evict(ctx, rediskey.BuildContentKey(item.ID))
	return nil
}

func (s *Service) SaveProfile(ctx context.Context, profile *CreatorProfile) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(profile).Error; err != nil {
		return err
	}
	s.evict(ctx, rediskey.BuildProfileKey(profile.UserID))
	return nil
}

// SaveLegacyCloser writes every column, so an inactive or zero-weight row
// is stored as given.
func (s *Service) SaveLegacyCloser(ctx context.Context, closer *LegacyCloser) error {
	return s.db.WithContext(ctx).Select("*").Clauses(clause.OnConflict{UpdateAll: true}).Create(closer).Error
}

// cached reads key from redis and falls back to load on a miss or any cache
// error. Only hits are stored.
func cached[T any](ctx context.Context, s *Service, key string, load func() (*T, error)) (*T, error) {
	if s.cache == nil {
		return load()
	}

	log := logger.FromContext(ctx)
	raw, err := s.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return &v, nil
		}
	case !errors.Is(err, redis.Nil):
		log.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err := load()
	if err != nil || v == nil {
		return v, err
	}

	if b, err := json.Marshal(v); err == nil {
		if err := s.cache.Set(ctx, key, b, s.ttl).Err(); err != nil {
			log.Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return v, nil
}

func (s *Service) evict(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, key).Err(); err != nil {
		logger.FromContext(ctx).Warn("catalog cache evict failed", zap.String("key", key), zap.Error(err))
	}
}
