package linkage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creator-booking/pkg/task"
	"creator-booking/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// NewTask builds the retry task for in. Ids are unique per purchase so a
// burst of failures for the same purchase queues it once.
func NewTask(in Input) (*asynq.Task, error) {
	return task.NewJSONTask(taskname.LinkageRun, in,
		asynq.Queue(taskname.QueueDefault),
		asynq.MaxRetry(8),
		asynq.TaskID("linkage:"+in.PurchaseID),
		asynq.Retention(24*time.Hour),
	)
}

// Enqueue schedules a linkage retry. A task already queued for the purchase
// is not an error.
func Enqueue(ctx context.Context, q task.Enqueuer, in Input) error {
	t, err := NewTask(in)
	if err != nil {
		return err
	}
	if _, err := q.Enqueue(ctx, t); err != nil && !isDuplicateTask(err) {
		return err
	}
	return nil
}

func isDuplicateTask(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

// HandleLinkageTask is the asynq handler for taskname.LinkageRun.
func (r *Resolver) HandleLinkageTask(ctx context.Context, t *asynq.Task) error {
	var in Input
	if err := json.Unmarshal(t.Payload(), &in); err != nil {
		zap.L().Error("invalid linkage payload", zap.Error(err))
		return fmt.Errorf("decode linkage payload: %w", asynq.SkipRetry)
	}

	if _, err := r.Link(ctx, in); err != nil {
		zap.L().Error("linkage task failed", zap.String("purchase_id", in.PurchaseID), zap.Error(err))
		return err
	}
	return nil
}

func RegisterHandlers(mux *asynq.ServeMux, r *Resolver) {
	mux.HandleFunc(taskname.LinkageRun, r.HandleLinkageTask)
}
