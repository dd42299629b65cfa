package reconciliation

import (
	"context"
	"errors"
	"time"

	"creator-booking/pkg/config"
	"creator-booking/pkg/task"
	"creator-booking/pkg/taskname"
	"creator-booking/services/linkage"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultSweepInterval = 15 * time.Minute
	sweepBatch           = 200
)

// Sweeper re-queues linkage for paid purchases that never got a booking.
type Sweeper struct {
	db       *gorm.DB
	enqueuer task.Enqueuer

	window   time.Duration
	interval time.Duration
	now      func() time.Time
}

type SweeperParams struct {
	fx.In
	DB       *gorm.DB
	Enqueuer task.Enqueuer
	Config   *config.Config `optional:"true"`
}

func NewSweeper(p SweeperParams) *Sweeper {
	s := &Sweeper{
		db:       p.DB,
		enqueuer: p.Enqueuer,
		window:   linkage.DefaultWindow,
		interval: defaultSweepInterval,
		now:      time.Now,
	}
	if p.Config != nil {
		if p.Config.Booking.LinkageWindow > 0 {
			s.window = p.Config.Booking.LinkageWindow
		}
		if p.Config.Booking.SweepInterval > 0 {
			s.interval = p.Config.Booking.SweepInterval
		}
	}
	return s
}

// StartSweeper ticks for the lifetime of the app. Every replica ticks; the
// unique sweep task keeps one run per interval.
func StartSweeper(lc fx.Lifecycle, s *Sweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Sweeper) run(ctx context.Context) {
	zap.L().Info("[Sweeper] started linkage sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t := asynq.NewTask(taskname.LinkageSweep, nil)
			_, err := s.enqueuer.Enqueue(ctx, t, asynq.Queue(taskname.QueueLow), asynq.Unique(s.interval))
			if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
				zap.L().Error("[Sweeper] failed to enqueue sweep", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Sweeper] stopped")
			return
		}
	}
}

func (s *Sweeper) HandleSweepTask(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	n, err := s.Sweep(ctx)
	if err != nil {
		zap.L().Error("[Sweeper] sweep failed", zap.Error(err))
		return err
	}

	zap.L().Info("[Sweeper] sweep finished", zap.Int("queued", n), zap.Duration("duration", time.Since(start)))
	return nil
}

// Sweep queues a linkage task for every unlinked paid purchase inside the
// linkage window and returns how many it queued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	var rows []*Purchase
	err := s.db.WithContext(ctx).
		Where("status = ? AND linked_booking_id IS NULL AND paid_at >= ?", PurchasePaid, s.now().Add(-s.window)).
		Where("buyer_id <> '' AND creator_id <> ''").
		Order("paid_at DESC").
		Limit(sweepBatch).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range rows {
		in := linkageInput(p)
		g.Go(func() error {
			return linkage.Enqueue(gctx, s.enqueuer, in)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func RegisterSweepHandler(mux *asynq.ServeMux, s *Sweeper) {
	mux.HandleFunc(taskname.LinkageSweep, s.HandleSweepTask)
}
