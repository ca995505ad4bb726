package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/reconcile"
)

// ErrStillPending asks asynq to run the same poll task again after the next
// backoff delay. It is not counted as a task failure.
var ErrStillPending = errors.New("payment still pending")

// PollQueue is the Redis-backed poll driver. A reference has exactly one poll
// task, and later attempts are asynq retries of it, so polling survives
// restarts, can be spread over several workers and is never doubled by
// tracking the same reference twice.
type PollQueue struct {
	enq     Enqueuer
	poller  reconcile.Poller
	backoff reconcile.Backoff
	log     *zap.Logger
}

func NewPollQueue(enq Enqueuer, poller reconcile.Poller, backoff reconcile.Backoff, log *zap.Logger) *PollQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &PollQueue{enq: enq, poller: poller, backoff: backoff, log: log}
}

func pollTaskID(reference string) string {
	return "poll:" + reference
}

// maxRetry leaves room for every attempt; the handler times out before asynq
// would archive the task.
func (q *PollQueue) maxRetry() int {
	if q.backoff.MaxAttempts > 0 {
		return q.backoff.MaxAttempts
	}
	return 1 << 20
}

// Track schedules the poll task for reference. Tracking a reference whose
// task is still queued or running is a no-op.
func (q *PollQueue) Track(ctx context.Context, reference string) error {
	b, err := json.Marshal(PaymentPollPayload{Reference: reference})
	if err != nil {
		return err
	}
	_, err = q.enq.EnqueueContext(ctx, asynq.NewTask(TaskPaymentPoll, b),
		asynq.Queue(QueuePolls),
		asynq.TaskID(pollTaskID(reference)),
		asynq.ProcessIn(q.backoff.Delay(0)),
		asynq.MaxRetry(q.maxRetry()),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		q.log.Debug("poll already scheduled", zap.String("reference", reference))
		return nil
	}
	return err
}

// Stop is a no-op: a scheduled poll for a terminal transaction finishes on
// its first run without querying the gateway.
func (q *PollQueue) Stop(string) {}

// RetryDelay is the asynq retry schedule for poll tasks; other task types
// keep the default.
func (q *PollQueue) RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	if t.Type() != TaskPaymentPoll {
		return asynq.DefaultRetryDelayFunc(n, err, t)
	}
	var p PaymentPollPayload
	_ = json.Unmarshal(t.Payload(), &p)
	return q.backoff.Delay(p.Attempt + n + 1)
}

// HandlePoll runs one poll attempt. It returns ErrStillPending to be retried
// later, or times the transaction out once the attempts are used up.
func (q *PollQueue) HandlePoll(ctx context.Context, t *asynq.Task) error {
	var p PaymentPollPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode poll payload: %v: %w", err, asynq.SkipRetry)
	}
	retried, _ := asynq.GetRetryCount(ctx)
	attempt := p.Attempt + retried
	log := q.log.With(zap.String("reference", p.Reference), zap.Int("attempt", attempt+1))

	done, err := q.poller.Poll(ctx, p.Reference)
	if done {
		if err != nil {
			log.Warn("polling stopped", zap.Error(err))
		}
		return nil
	}
	if err != nil {
		log.Warn("status poll failed, retrying", zap.Error(err))
	}

	next := attempt + 1
	if q.backoff.Exhausted(next) {
		return q.poller.TimeOut(ctx, p.Reference, next)
	}
	return fmt.Errorf("%s attempt %d: %w", p.Reference, next, ErrStillPending)
}
