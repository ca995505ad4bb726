package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller is the part of the reconciler the poll drivers need.
type Poller interface {
	Poll(ctx context.Context, reference string) (bool, error)
	TimeOut(ctx context.Context, reference string, attempts int) error
}

type pollTask struct {
	cancel context.CancelFunc
}

// Registry runs one cancellable poll goroutine per reference in this process.
type Registry struct {
	base    context.Context
	poller  Poller
	backoff Backoff
	log     *zap.Logger

	mu    sync.Mutex
	tasks map[string]*pollTask
	wg    sync.WaitGroup
}

func NewRegistry(ctx context.Context, poller Poller, backoff Backoff, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		base:    ctx,
		poller:  poller,
		backoff: backoff,
		log:     log,
		tasks:   make(map[string]*pollTask),
	}
}

// Track starts polling reference unless a poll loop already owns it.
func (r *Registry) Track(_ context.Context, reference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[reference]; ok {
		return nil
	}
	ctx, cancel := context.WithCancel(r.base)
	task := &pollTask{cancel: cancel}
	r.tasks[reference] = task
	r.wg.Add(1)
	go r.run(ctx, reference, task)
	return nil
}

// Stop cancels the poll loop for reference, if any.
func (r *Registry) Stop(reference string) {
	r.mu.Lock()
	task, ok := r.tasks[reference]
	if ok {
		delete(r.tasks, reference)
	}
	r.mu.Unlock()
	if ok {
		task.cancel()
	}
}

// Active returns the number of running poll loops.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown cancels every poll loop and waits for them to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for ref, task := range r.tasks {
		task.cancel()
		delete(r.tasks, ref)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Registry) release(reference string, task *pollTask) {
	r.mu.Lock()
	if r.tasks[reference] == task {
		delete(r.tasks, reference)
	}
	r.mu.Unlock()
	task.cancel()
}

func (r *Registry) run(ctx context.Context, reference string, task *pollTask) {
	defer r.wg.Done()
	defer r.release(reference, task)

	log := r.log.With(zap.String("reference", reference))
	attempt := 0
	for ; !r.backoff.Exhausted(attempt); attempt++ {
		timer := time.NewTimer(r.backoff.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		done, err := r.poller.Poll(ctx, reference)
		if done {
			if err != nil {
				log.Warn("polling stopped", zap.Error(err))
			}
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("status poll failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := r.poller.TimeOut(ctx, reference, attempt); err != nil {
		log.Error("mark timed out failed", zap.Error(err))
	}
}
